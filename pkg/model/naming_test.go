package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"VAT Rate":       "vat_rate",
		"vat rate":       "vat_rate",
		"VAT  Rate":      "vat_rate",
		"Park Calendars": "park_calendars",
		"A-B/C":          "a_b_c",
		"already_snake":  "already_snake",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), "input %q", in)
	}
}

func TestEntityTableName(t *testing.T) {
	assert.Equal(t, "vat_rate_v1", EntityTableName("VAT Rate", 1))
	assert.Equal(t, "park_v2", EntityTableName("Park", 2))
}

func TestAggregateFunctionName(t *testing.T) {
	assert.Equal(t, "get_vat_rate_v1_aggregate", AggregateFunctionName("VAT Rate", 1))
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"vat_rate_v1"`, QuoteIdentifier("vat_rate_v1"))
	assert.Equal(t, `"odd""name"`, QuoteIdentifier(`odd"name`))
}

func TestNewEntityTag(t *testing.T) {
	tag, err := NewEntityTag()
	require.NoError(t, err)
	assert.Len(t, tag, EntityTagLength)
	assert.Regexp(t, "^[0-9a-f]+$", tag)

	other, err := NewEntityTag()
	require.NoError(t, err)
	assert.NotEqual(t, tag, other)
}
