package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdfkit/rdf/pkg/model"
)

func TestGetAggregateLatestStateWins(t *testing.T) {
	s := setupTestStore(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	addChangeSet(t, s, f, base,
		map[string]any{"sku": "a", "amount": 1},
		map[string]any{"sku": "b", "amount": 10},
	)
	latest := addChangeSet(t, s, f, base.AddDate(0, 1, 0), map[string]any{"sku": "a", "amount": 2})

	rows, err := s.GetAggregate(ctx, "Price", 1, latest.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	bySKU := map[any]any{}
	for _, row := range rows {
		bySKU[row["sku"]] = row["amount"]
	}
	assert.EqualValues(t, 2, bySKU["a"])
	assert.EqualValues(t, 10, bySKU["b"])
}

func TestGetAggregatePointInTime(t *testing.T) {
	s := setupTestStore(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	first := addChangeSet(t, s, f, base, map[string]any{"sku": "a", "amount": 1})
	addChangeSet(t, s, f, base.AddDate(0, 1, 0), map[string]any{"sku": "a", "amount": 2})

	rows, err := s.GetAggregate(ctx, "Price", 1, first.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["amount"])
}

func TestGetAggregateDeleteRemovesTuple(t *testing.T) {
	s := setupTestStore(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	addChangeSet(t, s, f, base,
		map[string]any{"sku": "a", "amount": 1},
		map[string]any{"sku": "b", "amount": 10},
	)
	deleted := addFrames(t, s, f, base.AddDate(0, 1, 0), model.ActionDelete, map[string]any{"sku": "a"})

	rows, err := s.GetAggregate(ctx, "Price", 1, deleted.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0]["sku"])
}

func TestGetAggregateSameEffectiveTieBrokenByID(t *testing.T) {
	s := setupTestStore(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	effective := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	addChangeSet(t, s, f, effective, map[string]any{"sku": "a", "amount": 1})
	second := addChangeSet(t, s, f, effective, map[string]any{"sku": "a", "amount": 2})

	rows, err := s.GetAggregate(ctx, "Price", 1, second.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0]["amount"])
}

func TestGetAggregateUnknownEntity(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetAggregate(context.Background(), "Nope", 1, 1)
	assert.ErrorContains(t, err, `unknown entity "Nope" v1`)
}
