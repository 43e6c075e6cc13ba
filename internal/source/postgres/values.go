package postgres

import (
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/source"
)

// formatValue renders a value decoded by pgx. NUMERIC values arrive as
// pgtype.Numeric and are printed through decimal so that no precision is lost.
func formatValue(v any) string {
	switch x := v.(type) {
	case pgtype.Numeric:
		return formatNumeric(x)
	case *pgtype.Numeric:
		if x == nil {
			return catalog.NullCell
		}
		return formatNumeric(*x)
	}
	return source.FormatCell(v)
}

func formatNumeric(n pgtype.Numeric) string {
	switch {
	case !n.Valid:
		return catalog.NullCell
	case n.NaN:
		return "NaN"
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	}
	return toDecimal(n).String()
}

func toDecimal(n pgtype.Numeric) decimal.Decimal {
	i := n.Int
	if i == nil {
		i = new(big.Int)
	}
	return decimal.NewFromBigInt(i, n.Exp)
}
