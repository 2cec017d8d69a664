package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/rdfkit/rdf/pkg/model"
)

// NukeFunc drops the user-visible objects the DSL created: entity side
// tables and their aggregate functions. The framework cannot enumerate
// every object an installation's raw SQL migrations may have added, so the
// caller supplies the routine.
type NukeFunc func(tx *gorm.DB) error

// Reset drops everything the framework owns: first the caller-supplied
// custom objects, then the stored routines and framework tables, including
// the migration bookkeeping. Intended for tests; the caller re-runs
// Bootstrap and the migrations afterwards.
func (s *Store) Reset(ctx context.Context, nuke NukeFunc) error {
	err := s.WithExclusiveTransaction(ctx, func(tx *gorm.DB) error {
		if nuke != nil {
			if err := nuke(tx); err != nil {
				return fmt.Errorf("nuke custom objects: %w", err)
			}
		}
		if s.IsPostgres() {
			for _, stmt := range postgresRoutineDrops {
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("drop storage routine: %w", err)
				}
			}
		}
		tables := model.FrameworkTables()
		// Reverse dependency order so FKs never block the drop.
		for i := len(tables) - 1; i >= 0; i-- {
			if err := tx.Migrator().DropTable(tables[i]); err != nil {
				return fmt.Errorf("drop framework table: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("framework schema dropped")
	return nil
}

// DropEntityObjects is a NukeFunc building block: it drops one entity side
// table and, on postgres, the generated aggregate function.
func (s *Store) DropEntityObjects(tx *gorm.DB, entityName string, entityVersion int) error {
	table := model.EntityTableName(entityName, entityVersion)
	if s.IsPostgres() {
		fn := model.AggregateFunctionName(entityName, entityVersion)
		if err := tx.Exec(fmt.Sprintf("DROP FUNCTION IF EXISTS %s(BIGINT)", model.QuoteIdentifier(fn))).Error; err != nil {
			return fmt.Errorf("drop aggregate function %s: %w", fn, err)
		}
	}
	if err := tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", model.QuoteIdentifier(table))).Error; err != nil {
		return fmt.Errorf("drop side table %s: %w", table, err)
	}
	return nil
}
