package model

import (
	"fmt"
	"strings"
	"unicode"
)

// SnakeCase lowercases a display name and replaces runs of non-alphanumeric
// characters with single underscores, so "VAT Rate" becomes "vat_rate".
func SnakeCase(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// EntityTableName returns the side table name for one entity version,
// e.g. ("VAT Rate", 1) -> "vat_rate_v1".
func EntityTableName(name string, version int) string {
	return fmt.Sprintf("%s_v%d", SnakeCase(name), version)
}

// AggregateFunctionName returns the name of the generated SQL aggregate
// function for one entity version, e.g. "get_vat_rate_v1_aggregate".
func AggregateFunctionName(name string, version int) string {
	return fmt.Sprintf("get_%s_v%d_aggregate", SnakeCase(name), version)
}

// QuoteIdentifier double-quotes a SQL identifier, escaping embedded quotes.
// Side table and column names originate in YAML documents, so they are
// always quoted when spliced into generated SQL.
func QuoteIdentifier(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
