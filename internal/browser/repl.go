package browser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/electwix/db-lens/internal/catalog"
)

const helpText = `Commands:
  j, down [N]       move the cursor down and show the object
  k, up [N]         move the cursor up and show the object
  g N               go to item N
  d, detail         show the object under the cursor
  l, list           list the visible objects
  /TERM             search object names; a bare / clears the search
  f KIND,...        filter by kind; a bare f shows every kind
  schema NAME       switch schema
  schemas           list schemas
  show KEY          fetch one key, e.g. TABLE:HR.EMPLOYEES:structure
  r, refresh        reload the list and the current object
  reload            drop everything cached for the schema and reload
  stats             show cache counters
  h, help           show this help
  q, quit           leave
`

// REPLOptions tunes Run.
type REPLOptions struct {
	// Prompt writes "SCHEMA> " before each command.
	Prompt bool
}

// errQuit ends the command loop.
var errQuit = errors.New("quit")

// Run reads commands from in until EOF, q, or ctx is done. Command errors are
// written to out and do not stop the loop.
func (s *Session) Run(ctx context.Context, in io.Reader, out io.Writer, opts REPLOptions) error {
	if err := RenderList(out, s.nav); err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	for {
		if opts.Prompt {
			fmt.Fprintf(out, "%s> ", s.nav.Schema())
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.Exec(ctx, scanner.Text(), out)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// Exec runs one command line.
func (s *Session) Exec(ctx context.Context, line string, out io.Writer) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		s.nav.Search(line[1:])
		return RenderList(out, s.nav)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "j", "down":
		return s.step(ctx, out, arg, 1)
	case "k", "up":
		return s.step(ctx, out, arg, -1)
	case "g":
		i, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("g needs an item number, got %q", arg)
		}
		s.nav.GoTo(i)
		return s.showCurrent(ctx, out)
	case "d", "detail":
		return s.showCurrent(ctx, out)
	case "l", "list":
		return RenderList(out, s.nav)
	case "f":
		var kinds []catalog.Kind
		for _, k := range strings.Split(arg, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, catalog.Kind(k))
			}
		}
		if err := s.nav.SetKinds(kinds...); err != nil {
			return err
		}
		return RenderList(out, s.nav)
	case "schema":
		if arg == "" {
			return errors.New("schema needs a name")
		}
		if err := s.nav.SetSchema(ctx, arg); err != nil {
			return err
		}
		return RenderList(out, s.nav)
	case "schemas":
		schemas, err := s.nav.LoadSchemas(ctx)
		if err != nil {
			return err
		}
		return RenderSchemas(out, schemas, s.nav.Schema())
	case "show":
		key, err := catalog.ParseKey(arg)
		if err != nil {
			return err
		}
		v, err := s.Show(ctx, key)
		if err != nil {
			return err
		}
		return RenderValue(out, v)
	case "r", "refresh":
		if err := s.nav.Refresh(ctx); err != nil {
			return err
		}
		return RenderList(out, s.nav)
	case "reload":
		if err := s.Reload(ctx); err != nil {
			return err
		}
		return RenderList(out, s.nav)
	case "stats":
		return RenderStats(out, s.Stats())
	case "h", "help", "?":
		_, err := io.WriteString(out, helpText)
		return err
	case "q", "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q; type h for help", cmd)
	}
}

func (s *Session) step(ctx context.Context, out io.Writer, arg string, sign int) error {
	n := 1
	if arg != "" {
		var err error
		if n, err = strconv.Atoi(arg); err != nil || n < 1 {
			return fmt.Errorf("invalid step %q", arg)
		}
	}
	s.nav.Move(sign * n)
	return s.showCurrent(ctx, out)
}

func (s *Session) showCurrent(ctx context.Context, out io.Writer) error {
	obj, ok := s.nav.Current()
	if !ok {
		return errors.New("nothing to show")
	}
	fmt.Fprintf(out, "[%d/%d] %s %s\n", s.nav.Cursor()+1, s.nav.Len(), obj.Kind, obj.Name)
	d, err := s.nav.Detail(ctx)
	if err != nil {
		return err
	}
	return RenderDetail(out, d)
}
