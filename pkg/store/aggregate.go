package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/rdfkit/rdf/pkg/model"
)

// AggregateSelect builds the point-in-time aggregate query for one entity
// side table: the latest non-deleted state of each identifier tuple,
// considering only frames whose change set is at or before csRef in
// (effective, id) order. The last frame per tuple wins; a DELETE frame
// removes the tuple. csRef is spliced verbatim so callers can pass either a
// bind placeholder or the parameter name of a generated function.
func AggregateSelect(table string, fields []model.EntityField, csRef string) string {
	var idCols, allCols []string
	for _, f := range fields {
		col := model.QuoteIdentifier(f.Name)
		allCols = append(allCols, col)
		if f.Identifier {
			idCols = append(idCols, col)
		}
	}

	qualify := func(cols []string) []string {
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = "s." + c
		}
		return out
	}

	return fmt.Sprintf(`WITH target AS (
  SELECT effective, id FROM fby_change_set WHERE id = %s
), ranked AS (
  SELECT %s, df.action AS rdf_action,
         ROW_NUMBER() OVER (PARTITION BY %s ORDER BY cs.effective DESC, cs.id DESC, df.id DESC) AS rdf_rank
  FROM %s s
  JOIN fby_data_frame df ON df.id = s.rdf_frame_id
  JOIN fby_change_set cs ON cs.id = df.change_set_id
  CROSS JOIN target t
  WHERE cs.effective < t.effective OR (cs.effective = t.effective AND cs.id <= t.id)
)
SELECT %s FROM ranked WHERE rdf_rank = 1 AND rdf_action <> 'DELETE' ORDER BY %s`,
		csRef,
		strings.Join(qualify(allCols), ", "),
		strings.Join(qualify(idCols), ", "),
		model.QuoteIdentifier(table),
		strings.Join(allCols, ", "),
		strings.Join(idCols, ", "),
	)
}

// GetAggregate evaluates the aggregate of one entity version at a change
// set. It mirrors the generated get_<entity>_v<n>_aggregate SQL function
// and works on every dialect.
func (s *Store) GetAggregate(ctx context.Context, entityName string, entityVersion int, changeSetID int64) ([]map[string]any, error) {
	var rows []map[string]any
	err := s.WithTransaction(ctx, func(tx *gorm.DB) error {
		entity, fields, err := entityWithFields(tx, entityName, entityVersion)
		if err != nil {
			return err
		}
		query := AggregateSelect(model.EntityTableName(entity.Name, entity.Version), fields, "?")
		return tx.Raw(query, changeSetID).Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate %q v%d at change set %d: %w", entityName, entityVersion, changeSetID, err)
	}
	return rows, nil
}

// entityWithFields resolves an entity version and its declared fields in
// declaration order.
func entityWithFields(tx *gorm.DB, name string, version int) (*model.Entity, []model.EntityField, error) {
	var entity model.Entity
	if err := tx.Where("name = ? AND version = ?", name, version).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("unknown entity %q v%d", name, version)
		}
		return nil, nil, err
	}
	var fields []model.EntityField
	if err := tx.Where("entity_id = ?", entity.ID).Order("position").Find(&fields).Error; err != nil {
		return nil, nil, err
	}
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("entity %q v%d has no declared fields", name, version)
	}
	return &entity, fields, nil
}
