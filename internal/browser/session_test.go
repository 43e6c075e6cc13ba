package browser_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/electwix/db-lens/internal/browser"
	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/config"
	"github.com/electwix/db-lens/internal/source"
	_ "github.com/electwix/db-lens/internal/source/builtin"
)

const fixture = `
CREATE TABLE departments (
	id INTEGER PRIMARY KEY,
	name VARCHAR(30) NOT NULL
);
CREATE TABLE employees (
	id INTEGER PRIMARY KEY,
	name VARCHAR(40) NOT NULL,
	salary NUMERIC(10, 2),
	dept_id INTEGER REFERENCES departments(id)
);
CREATE VIEW employee_names AS SELECT id, name FROM employees;
CREATE TRIGGER employees_audit AFTER UPDATE ON employees
BEGIN
	SELECT 1;
END;
INSERT INTO departments (id, name) VALUES (1, 'Research'), (2, 'Sales');
INSERT INTO employees (id, name, salary, dept_id) VALUES
	(1, 'Ada', 5000.5, 1),
	(2, 'Grace', 7200, 1),
	(3, 'Linus', NULL, 2);
`

func writeFixture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hr.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(fixture); err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	return path
}

func fixturePlan(t *testing.T, schema string) config.Plan {
	t.Helper()

	plan, err := config.Resolve(config.Config{
		Connection: config.ConnectionConfig{
			Driver: config.DriverSQLite,
			DSN:    writeFixture(t),
			Schema: schema,
		},
	}, config.LoadOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return plan
}

func startSession(t *testing.T, plan config.Plan) *browser.Session {
	t.Helper()

	ctx := context.Background()
	s, err := browser.Open(ctx, plan, browser.Environment{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func TestStartSelectsFirstSchema(t *testing.T) {
	s := startSession(t, fixturePlan(t, ""))
	nav := s.Navigator()

	if nav.Schema() != "MAIN" {
		t.Fatalf("Schema() = %q, want MAIN", nav.Schema())
	}
	want := []catalog.Object{
		{Kind: catalog.KindTable, Name: "departments"},
		{Kind: catalog.KindView, Name: "employee_names"},
		{Kind: catalog.KindTable, Name: "employees"},
		{Kind: catalog.KindTrigger, Name: "employees_audit"},
	}
	if diff := cmp.Diff(want, nav.Items()); diff != "" {
		t.Fatalf("Items() mismatch (-want +got):\n%s", diff)
	}
	if s.ID().String() == "" {
		t.Fatalf("session has no id")
	}
}

func TestStartConfiguredSchema(t *testing.T) {
	s := startSession(t, fixturePlan(t, "main"))
	nav := s.Navigator()

	if nav.Schema() != "MAIN" {
		t.Fatalf("Schema() = %q, want MAIN", nav.Schema())
	}
	if s.Cache().ActiveSchema() != "MAIN" {
		t.Fatalf("ActiveSchema() = %q, want MAIN", s.Cache().ActiveSchema())
	}
	if nav.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", nav.Len())
	}
}

func TestStartUnknownSchemaFails(t *testing.T) {
	plan := fixturePlan(t, "payroll")
	s, err := browser.Open(context.Background(), plan, browser.Environment{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	err = s.Start(context.Background())
	if !errors.Is(err, source.ErrNotFound) {
		t.Fatalf("Start() error = %v, want ErrNotFound", err)
	}
}

func TestShowFetchesThroughCache(t *testing.T) {
	s := startSession(t, fixturePlan(t, ""))
	ctx := context.Background()

	key, err := catalog.ParseKey("TABLE:main.employees:sample-data")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	for range 2 {
		v, err := s.Show(ctx, key)
		if err != nil {
			t.Fatalf("Show: %v", err)
		}
		data := v.(catalog.SampleData)
		if len(data.Rows) != 3 {
			t.Fatalf("rows = %d, want 3", len(data.Rows))
		}
	}
	if st := s.Stats(); st.Hits < 1 {
		t.Fatalf("Stats() = %+v, want a hit on the second Show", st)
	}
}

func TestReloadDropsSchemaEntries(t *testing.T) {
	s := startSession(t, fixturePlan(t, ""))
	ctx := context.Background()

	sample := catalog.NewKey(catalog.KindTable, "MAIN", "EMPLOYEES", catalog.SelectorSampleData)
	if _, err := s.Show(ctx, sample); err != nil {
		t.Fatalf("Show: %v", err)
	}
	s.Navigator().GoTo(2)

	var out bytes.Buffer
	if err := s.Exec(ctx, "reload", &out); err != nil {
		t.Fatalf("Exec(reload): %v", err)
	}
	if s.Cache().Cached(sample) {
		t.Fatal("sample rows survived reload")
	}
	if !s.Cache().Cached(catalog.SchemasKey()) {
		t.Fatal("schema list was dropped by reload")
	}
	if !s.Cache().Cached(catalog.ObjectsKey("MAIN")) {
		t.Fatal("object list was not reloaded")
	}
	if s.Navigator().Cursor() != 2 {
		t.Fatalf("Cursor() = %d after reload, want 2", s.Navigator().Cursor())
	}
	if !strings.Contains(out.String(), "2 tables, 2 other objects in MAIN") {
		t.Fatalf("reload output = %q", out.String())
	}
}

func TestDetailWarmsNeighbors(t *testing.T) {
	s := startSession(t, fixturePlan(t, ""))
	var out bytes.Buffer

	if err := s.Exec(context.Background(), "d", &out); err != nil {
		t.Fatalf("Exec(d): %v", err)
	}
	next := catalog.NewKey(catalog.KindView, "MAIN", "EMPLOYEE_NAMES", catalog.SelectorStructure)
	deadline := time.Now().Add(2 * time.Second)
	for !s.Cache().Cached(next) {
		if time.Now().After(deadline) {
			t.Fatalf("%s was not prefetched; stats %+v", next, s.Stats())
		}
		time.Sleep(time.Millisecond)
	}

	out.Reset()
	if err := s.Exec(context.Background(), "j", &out); err != nil {
		t.Fatalf("Exec(j): %v", err)
	}
	if st := s.Stats(); st.Hits == 0 {
		t.Fatalf("Stats() = %+v, want the prefetched view to be a hit", st)
	}
}

func TestOpenReportsConnectError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := browser.Open(context.Background(), config.Plan{Driver: config.DriverPostgres}, browser.Environment{
		Open: func(context.Context, string, source.Options) (source.Catalog, error) {
			return nil, boom
		},
	})
	var ce *browser.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("Open() error = %v, want ConnectError", err)
	}
	if !errors.Is(err, boom) || ce.Driver != config.DriverPostgres {
		t.Fatalf("ConnectError = %+v", ce)
	}
}

type closeFailCatalog struct {
	source.Catalog
}

func (closeFailCatalog) Close() error { return errors.New("socket gone") }

func TestCloseReportsCatalogError(t *testing.T) {
	s, err := browser.Open(context.Background(), config.Plan{Driver: config.DriverMySQL}, browser.Environment{
		Open: func(context.Context, string, source.Options) (source.Catalog, error) {
			return closeFailCatalog{}, nil
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = s.Close()
	if err == nil || !strings.Contains(err.Error(), "close catalog: socket gone") {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestStartWithoutSchemas(t *testing.T) {
	s, err := browser.Open(context.Background(), config.Plan{Driver: config.DriverMySQL}, browser.Environment{
		Open: func(context.Context, string, source.Options) (source.Catalog, error) {
			return emptyCatalog{}, nil
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Start(context.Background()); !errors.Is(err, browser.ErrNoSchemas) {
		t.Fatalf("Start() error = %v, want ErrNoSchemas", err)
	}
}

type emptyCatalog struct {
	source.Catalog
}

func (emptyCatalog) ListSchemas(context.Context) ([]string, error) { return nil, nil }
func (emptyCatalog) Close() error                                 { return nil }
