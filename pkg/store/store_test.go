package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rdfkit/rdf/pkg/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := New(db, nil)
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

// fixture is a small installation: one entity with a side table, one
// projection depending on it, and one hook on the projection.
type fixture struct {
	entity     model.Entity
	fields     []model.EntityField
	projection model.Projection
	hook       model.Hook
}

func setupFixture(t *testing.T, s *Store) fixture {
	t.Helper()
	db := s.DB()

	f := fixture{}
	f.entity = model.Entity{Name: "Price", Version: 1}
	require.NoError(t, db.Create(&f.entity).Error)

	f.fields = []model.EntityField{
		{EntityID: f.entity.ID, Name: "sku", ColumnType: "TEXT", Identifier: true, Position: 0},
		{EntityID: f.entity.ID, Name: "amount", ColumnType: "NUMERIC", Position: 1},
	}
	require.NoError(t, db.Create(&f.fields).Error)
	require.NoError(t, db.Exec(`CREATE TABLE "price_v1" (
  "sku" TEXT,
  "amount" NUMERIC,
  rdf_frame_id BIGINT PRIMARY KEY REFERENCES fby_data_frame (id)
)`).Error)

	f.projection = model.Projection{Name: "Prices", Version: 1}
	require.NoError(t, db.Create(&f.projection).Error)
	require.NoError(t, db.Create(&model.ProjectionEntity{
		ProjectionID: f.projection.ID,
		EntityID:     f.entity.ID,
	}).Error)

	f.hook = model.Hook{Name: "prices-hook", Event: "Prices Changed", ProjectionID: &f.projection.ID}
	require.NoError(t, db.Create(&f.hook).Error)
	return f
}

// addChangeSet commits one change set with one POST frame per row.
func addChangeSet(t *testing.T, s *Store, f fixture, effective time.Time, rows ...map[string]any) model.ChangeSet {
	t.Helper()
	cs := addFrames(t, s, f, effective, model.ActionPost, rows...)
	return cs
}

func addFrames(t *testing.T, s *Store, f fixture, effective time.Time, action model.FrameAction, rows ...map[string]any) model.ChangeSet {
	t.Helper()
	db := s.DB()
	cs := model.ChangeSet{Effective: effective, Description: fmt.Sprintf("as of %s", effective.Format(time.RFC3339))}
	require.NoError(t, db.Create(&cs).Error)
	for _, row := range rows {
		frame := model.DataFrame{ChangeSetID: cs.ID, EntityID: f.entity.ID, Action: action}
		require.NoError(t, db.Create(&frame).Error)
		require.NoError(t, db.Exec(
			`INSERT INTO "price_v1" (rdf_frame_id, "sku", "amount") VALUES (?, ?, ?)`,
			frame.ID, row["sku"], row["amount"],
		).Error)
	}
	return cs
}
