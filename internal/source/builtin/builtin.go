// Package builtin registers the bundled catalog sources.
//
// Import it for its side effect:
//
//	import _ "github.com/electwix/db-lens/internal/source/builtin"
package builtin

import (
	"github.com/electwix/db-lens/internal/source"
	"github.com/electwix/db-lens/internal/source/mysql"
	"github.com/electwix/db-lens/internal/source/postgres"
	"github.com/electwix/db-lens/internal/source/sqlite"
)

//nolint:gochecknoinits // registration on import
func init() {
	RegisterAll()
}

// RegisterAll registers the SQLite, PostgreSQL and MySQL sources.
func RegisterAll() {
	source.Register("sqlite", sqlite.New)
	source.Register("postgres", postgres.New)
	source.Register("postgresql", postgres.New) // alias
	source.Register("mysql", mysql.New)
}
