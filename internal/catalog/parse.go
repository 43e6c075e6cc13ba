package catalog

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// keyExpr is the parsed form of KIND:SCHEMA.NAME[:selector].
type keyExpr struct {
	Kind     []string `parser:"@Ident+ \":\""`
	Schema   string   `parser:"( @Ident"`
	Name     string   `parser:"  \".\" @Ident )?"`
	Selector string   `parser:"( \":\" @Ident )?"`
}

var keyLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t]+`},
	{Name: "Ident", Pattern: `[A-Za-z0-9_$#][A-Za-z0-9_$#\-]*`},
	{Name: "Punct", Pattern: `[:.]`},
})

var keyParser = participle.MustBuild[keyExpr](
	participle.Lexer(keyLexer),
	participle.Elide("Whitespace"),
)

// ParseKey parses the textual form produced by Key.String. The selector may be
// omitted, in which case the default selector for the kind is used. The
// returned key is normalized and validated.
func ParseKey(s string) (Key, error) {
	expr, err := keyParser.ParseString("", strings.TrimSpace(s))
	if err != nil {
		return Key{}, fmt.Errorf("parse key %q: %w", s, err)
	}
	key := NewKey(Kind(strings.Join(expr.Kind, " ")), expr.Schema, expr.Name, Selector(expr.Selector))
	if err := key.Validate(); err != nil {
		return Key{}, fmt.Errorf("parse key %q: %w", s, err)
	}
	return key, nil
}
