package source

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/electwix/db-lens/internal/catalog"
)

// FormatCell renders a driver value as sample-data text.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return catalog.NullCell
	case string:
		return x
	case []byte:
		if !utf8.Valid(x) {
			return fmt.Sprintf("<binary data: %d bytes>", len(x))
		}
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
		return decimal.NewFromFloat(x).String()
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return strconv.FormatFloat(float64(x), 'g', -1, 32)
		}
		return decimal.NewFromFloat32(x).String()
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return formatTime(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && t.Location() == time.UTC {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339Nano)
}

// ScanSample reads every row of rows into SampleData. It closes rows.
func ScanSample(rows *sql.Rows) (catalog.SampleData, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return catalog.SampleData{}, err
	}
	data := catalog.SampleData{Columns: cols, Rows: [][]string{}}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return catalog.SampleData{}, err
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = FormatCell(v)
		}
		data.Rows = append(data.Rows, row)
	}
	return data, rows.Err()
}

// ParseTypeName splits a declared type such as "NUMERIC(10, 2)" or
// "varchar(40)" into its base name and size arguments. Character types get a
// length; other types get precision and scale.
func ParseTypeName(decl string) (name string, length int64, precision, scale *int64) {
	decl = strings.TrimSpace(decl)
	open := strings.IndexByte(decl, '(')
	if open < 0 || !strings.HasSuffix(decl, ")") {
		return strings.ToUpper(decl), 0, nil, nil
	}
	name = strings.ToUpper(strings.TrimSpace(decl[:open]))

	var args []int64
	for _, part := range strings.Split(decl[open+1:len(decl)-1], ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return strings.ToUpper(decl), 0, nil, nil
		}
		args = append(args, n)
	}

	if isCharType(name) {
		return name, args[0], nil, nil
	}
	precision = &args[0]
	if len(args) > 1 {
		scale = &args[1]
	}
	return name, 0, precision, scale
}

func isCharType(name string) bool {
	return strings.Contains(name, "CHAR") || strings.Contains(name, "TEXT") || strings.Contains(name, "BINARY")
}

// DedupeObjects removes repeated entries, such as overloaded routines, from a
// sorted list.
func DedupeObjects(objs []catalog.Object) []catalog.Object {
	catalog.SortObjects(objs)
	out := objs[:0]
	for _, o := range objs {
		if len(out) > 0 && o == out[len(out)-1] {
			continue
		}
		out = append(out, o)
	}
	return out
}
