package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rdfkit/rdf/pkg/model"
)

// changeLogSelect returns every change set containing at least one data
// frame for any entity the projection depends on, de-duplicated by change
// set id.
const changeLogSelect = `
SELECT DISTINCT cs.id, cs.description, cs.effective, cs.last_modified, cs.entity_tag
FROM fby_change_set cs
JOIN fby_data_frame df ON df.change_set_id = cs.id
JOIN fby_projection_entity pe ON pe.entity_id = df.entity_id
WHERE pe.projection_id = ?`

// GetProjections returns all projections ordered by (name, version).
func (s *Store) GetProjections(ctx context.Context) ([]model.Projection, error) {
	var projections []model.Projection
	err := s.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Order("name, version").Find(&projections).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get projections: %w", err)
	}
	return projections, nil
}

// GetProjection returns one projection by (name, version), or nil when it
// does not exist.
func (s *Store) GetProjection(ctx context.Context, name string, version int) (*model.Projection, error) {
	var projection model.Projection
	err := s.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Where("name = ? AND version = ?", name, version).First(&projection).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get projection %q v%d: %w", name, version, err)
	}
	return &projection, nil
}

// GetChangeLog returns the projection's change sets in
// (effective ASC, id ASC) order.
func (s *Store) GetChangeLog(ctx context.Context, projection *model.Projection) ([]model.ChangeSet, error) {
	var changeSets []model.ChangeSet
	err := s.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Raw(changeLogSelect+" ORDER BY cs.effective ASC, cs.id ASC", projection.ID).
			Scan(&changeSets).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get change log for projection %q v%d: %w", projection.Name, projection.Version, err)
	}
	return changeSets, nil
}

// GetChangeSet returns one change set by id, or nil when it does not exist.
func (s *Store) GetChangeSet(ctx context.Context, id int64) (*model.ChangeSet, error) {
	var changeSet model.ChangeSet
	err := s.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.First(&changeSet, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get change set %d: %w", id, err)
	}
	return &changeSet, nil
}

// GetCurrentChangeSet returns the last entry of the projection's change log
// whose effective date is not in the future, or nil when no change set is
// effective yet.
func (s *Store) GetCurrentChangeSet(ctx context.Context, projection *model.Projection) (*model.ChangeSet, error) {
	var changeSet model.ChangeSet
	found := false
	err := s.WithTransaction(ctx, func(tx *gorm.DB) error {
		result := tx.Raw(
			changeLogSelect+" AND cs.effective <= ? ORDER BY cs.effective DESC, cs.id DESC LIMIT 1",
			projection.ID, time.Now(),
		).Scan(&changeSet)
		found = result.RowsAffected > 0
		return result.Error
	})
	if err != nil {
		return nil, fmt.Errorf("get current change set for projection %q v%d: %w", projection.Name, projection.Version, err)
	}
	if !found {
		return nil, nil
	}
	return &changeSet, nil
}
