package dsl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdfkit/rdf/pkg/model"
)

const validDocument = `
define entities:
  - name: VAT Rate
    version: 1
    fields:
      - name: type
        type: TEXT
      - name: rate
        type: NUMERIC
    identified_by:
      - type
add projections:
  - name: VAT Rates
    version: 1
    dependencies:
      - entity: VAT Rate
        version: 1
add change set:
  - effective: 2020-04-05T00:00:00Z
    description: Spring 2020 rates
    frames:
      - entity: VAT Rate
        version: 1
        action: POST
        data:
          - type: standard
            rate: 0.10
add hooks:
  - name: sns
    event: VAT Rates Changed
    projection: VAT Rates
    version: 1
`

func TestParseValidDocument(t *testing.T) {
	doc, err := Parse([]byte(validDocument))
	require.NoError(t, err)

	require.Len(t, doc.DefineEntities, 1)
	entity := doc.DefineEntities[0]
	assert.Equal(t, "VAT Rate", entity.Name)
	assert.Equal(t, 1, entity.Version)
	require.Len(t, entity.Fields, 2)
	assert.Equal(t, FieldDef{Name: "rate", Type: "NUMERIC"}, entity.Fields[1])
	assert.Equal(t, []string{"type"}, entity.IdentifiedBy)

	require.Len(t, doc.AddProjections, 1)
	assert.Equal(t, []DependencyDef{{Entity: "VAT Rate", Version: 1}}, doc.AddProjections[0].Dependencies)

	require.Len(t, doc.AddChangeSets, 1)
	cs := doc.AddChangeSets[0]
	assert.Equal(t, time.Date(2020, 4, 5, 0, 0, 0, 0, time.UTC), cs.Effective.UTC())
	require.Len(t, cs.Frames, 1)
	assert.Equal(t, model.ActionPost, cs.Frames[0].Action)
	require.Len(t, cs.Frames[0].Data, 1)
	assert.Equal(t, "standard", cs.Frames[0].Data[0]["type"])

	require.Len(t, doc.AddHooks, 1)
	hook := doc.AddHooks[0]
	assert.Equal(t, "VAT Rates", hook.Projection)
	require.NotNil(t, hook.Version)
	assert.Equal(t, 1, *hook.Version)
}

func problems(t *testing.T, src string) []string {
	t.Helper()
	_, err := Parse([]byte(src))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	out := make([]string, len(verr.Problems))
	for i, p := range verr.Problems {
		out[i] = p.String()
	}
	return out
}

func TestParseUnknownInstruction(t *testing.T) {
	msgs := problems(t, "drop entities:\n  - name: x\n")
	assert.Contains(t, msgs, "/drop_entities is not a recognised instruction")
}

func TestParseMissingEffective(t *testing.T) {
	msgs := problems(t, `
add change set:
  - description: nope
    frames:
      - entity: VAT Rate
        version: 1
        action: POST
        data:
          - type: standard
`)
	assert.Contains(t, msgs, "/add_change_set/0 must have required property 'effective'")
}

func TestParseBadAction(t *testing.T) {
	msgs := problems(t, `
add change set:
  - effective: 2020-04-05T00:00:00Z
    frames:
      - entity: VAT Rate
        version: 1
        action: PUT
        data:
          - type: standard
`)
	assert.Contains(t, msgs, "/add_change_set/0/frames/0/action must be equal to one of the allowed values POST, DELETE")
}

func TestParseFieldsMustBeArray(t *testing.T) {
	msgs := problems(t, `
define entities:
  - name: VAT Rate
    version: 1
    fields: nope
    identified_by:
      - type
`)
	assert.Contains(t, msgs, "/define_entities/0/fields must be a non-empty array")
}

func TestParseIdentifierMustBeDeclared(t *testing.T) {
	msgs := problems(t, `
define entities:
  - name: VAT Rate
    version: 1
    fields:
      - name: rate
        type: NUMERIC
    identified_by:
      - type
`)
	assert.Contains(t, msgs, "/define_entities/0/identified_by/0 must name a declared field, got 'type'")
}

func TestParseDuplicateEntity(t *testing.T) {
	msgs := problems(t, `
define entities:
  - name: VAT Rate
    version: 1
    fields:
      - name: type
        type: TEXT
    identified_by:
      - type
  - name: vat rate
    version: 1
    fields:
      - name: type
        type: TEXT
    identified_by:
      - type
`)
	assert.Contains(t, msgs, "/define_entities/1 duplicates entity 'vat rate' version 1")
}

func TestParseHookVersionRequiresProjection(t *testing.T) {
	msgs := problems(t, `
add hooks:
  - name: sns
    event: Anything Changed
    version: 1
`)
	assert.Contains(t, msgs, "/add_hooks/0/version must not be set without a projection")
}

func TestParseReportsEveryProblem(t *testing.T) {
	msgs := problems(t, `
define entities:
  - version: 0
add hooks:
  - event: x
`)
	assert.Contains(t, msgs, "/define_entities/0 must have required property 'name'")
	assert.Contains(t, msgs, "/define_entities/0/version must be a positive integer")
	assert.Contains(t, msgs, "/define_entities/0 must have required property 'fields'")
	assert.Contains(t, msgs, "/add_hooks/0 must have required property 'name'")
}

func TestParseEmptyDocument(t *testing.T) {
	_, err := Parse([]byte("---\n"))
	require.Error(t, err)
}
