package browser

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/electwix/db-lens/internal/cache"
	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/navigator"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// RenderSchemas writes one schema per line, marking the active one.
func RenderSchemas(w io.Writer, schemas []string, active string) error {
	var b strings.Builder
	for _, s := range schemas {
		marker := "  "
		if s == active {
			marker = "* "
		}
		b.WriteString(marker + s + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderList writes the visible objects of nav with a cursor marker and a
// count line.
func RenderList(w io.Writer, nav *navigator.Navigator) error {
	tw := newTable(w)
	cursor := nav.Cursor()
	for i, obj := range nav.Items() {
		marker := " "
		if i == cursor {
			marker = ">"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", marker, i, obj.Name, obj.Kind)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, CountLine(nav)+"\n")
	return err
}

// CountLine summarizes the visible list, e.g. "3 tables, 2 other objects in HR".
func CountLine(nav *navigator.Navigator) string {
	tables, others := nav.Counts()
	line := fmt.Sprintf("%d tables, %d other objects in %s", tables, others, nav.Schema())
	if term := nav.SearchTerm(); term != "" {
		line += fmt.Sprintf(" matching %q", term)
	}
	return line
}

// RenderDetail writes the structure and sample rows of a table or view, or
// the source text of any other object.
func RenderDetail(w io.Writer, d navigator.Detail) error {
	if d.Source != nil {
		return RenderSource(w, *d.Source)
	}
	if d.Structure != nil {
		if err := RenderStructure(w, *d.Structure); err != nil {
			return err
		}
	}
	if d.Sample != nil {
		io.WriteString(w, "\n")
		if err := RenderSample(w, *d.Sample); err != nil {
			return err
		}
	}
	return nil
}

// RenderStructure writes the column table of a table or view.
func RenderStructure(w io.Writer, ts catalog.TableStructure) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tLENGTH\tPRECISION\tSCALE\tNULLABLE\tDEFAULT")
	for _, c := range ts.Columns {
		nullable := "N"
		if c.Nullable {
			nullable = "Y"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Name,
			c.DataType,
			optionalInt(c.Length, c.Length > 0),
			optionalPtr(c.Precision),
			optionalPtr(c.Scale),
			nullable,
			optionalString(c.Default),
		)
	}
	return tw.Flush()
}

// RenderSample writes sample rows as a table.
func RenderSample(w io.Writer, s catalog.SampleData) error {
	if len(s.Columns) == 0 {
		_, err := io.WriteString(w, "(no columns)\n")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, strings.Join(s.Columns, "\t"))
	for _, row := range s.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(s.Rows))
	return err
}

// RenderSource writes the source text of a routine, package or trigger.
func RenderSource(w io.Writer, src catalog.Source) error {
	text := strings.TrimRight(src.Text, "\n")
	_, err := fmt.Fprintf(w, "-- %s %s\n%s\n", src.Kind, src.Name, text)
	return err
}

// RenderStats writes the cache counters.
func RenderStats(w io.Writer, s cache.Stats) error {
	tw := newTable(w)
	rows := []struct {
		name  string
		value string
	}{
		{"hits", strconv.FormatInt(s.Hits, 10)},
		{"misses", strconv.FormatInt(s.Misses, 10)},
		{"joins", strconv.FormatInt(s.Joins, 10)},
		{"failures", strconv.FormatInt(s.Failures, 10)},
		{"prefetched", strconv.FormatInt(s.Prefetched, 10)},
		{"prefetch failures", strconv.FormatInt(s.PrefetchFailures, 10)},
		{"discarded", strconv.FormatInt(s.Discarded, 10)},
		{"dropped", strconv.FormatInt(s.Dropped, 10)},
		{"entries", strconv.Itoa(s.Entries)},
		{"queued", strconv.Itoa(s.Queued)},
		{"hit rate", fmt.Sprintf("%.1f%%", s.HitRate()*100)},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.name, r.value)
	}
	return tw.Flush()
}

// RenderValue writes any payload returned by the cache.
func RenderValue(w io.Writer, v any) error {
	switch p := v.(type) {
	case []string:
		return RenderSchemas(w, p, "")
	case []catalog.Object:
		tw := newTable(w)
		for _, obj := range p {
			fmt.Fprintf(tw, "%s\t%s\n", obj.Name, obj.Kind)
		}
		return tw.Flush()
	case catalog.TableStructure:
		return RenderStructure(w, p)
	case catalog.SampleData:
		return RenderSample(w, p)
	case catalog.Source:
		return RenderSource(w, p)
	default:
		_, err := fmt.Fprintf(w, "%v\n", v)
		return err
	}
}

func optionalInt(v int64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func optionalPtr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
