package dsl

import (
	"fmt"
	"log/slog"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"

	"github.com/rdfkit/rdf/pkg/model"
	"github.com/rdfkit/rdf/pkg/store"
)

// Compiler turns validated documents into framework rows and entity
// objects. All work happens on the transaction the caller supplies, so a
// migration file is all-or-nothing.
type Compiler struct {
	store  *store.Store
	logger *slog.Logger
}

func NewCompiler(s *store.Store, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{store: s, logger: logger}
}

// Apply executes a document instruction by instruction: entities first so
// later instructions in the same document can reference them, then
// projections, change sets and hooks.
func (c *Compiler) Apply(tx *gorm.DB, doc *Document) error {
	for _, def := range doc.DefineEntities {
		if err := c.defineEntity(tx, def); err != nil {
			return err
		}
	}
	for _, def := range doc.AddProjections {
		if err := c.addProjection(tx, def); err != nil {
			return err
		}
	}
	for _, def := range doc.AddChangeSets {
		if err := c.addChangeSet(tx, def); err != nil {
			return err
		}
	}
	for _, def := range doc.AddHooks {
		if err := c.addHook(tx, def); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) defineEntity(tx *gorm.DB, def EntityDef) error {
	entity := model.Entity{Name: def.Name, Version: def.Version}
	if err := tx.Create(&entity).Error; err != nil {
		if store.IsIntegrityViolation(err) {
			return fmt.Errorf("entity %q v%d is already defined", def.Name, def.Version)
		}
		return fmt.Errorf("define entity %q v%d: %w", def.Name, def.Version, err)
	}

	identifiers := mapset.NewThreadUnsafeSet(def.IdentifiedBy...)
	fields := make([]model.EntityField, len(def.Fields))
	for i, f := range def.Fields {
		fields[i] = model.EntityField{
			EntityID:   entity.ID,
			Name:       f.Name,
			ColumnType: f.Type,
			Identifier: identifiers.Contains(f.Name),
			Position:   i,
		}
	}
	if err := tx.Create(&fields).Error; err != nil {
		return fmt.Errorf("define entity %q v%d fields: %w", def.Name, def.Version, err)
	}

	table := model.EntityTableName(def.Name, def.Version)
	if err := tx.Exec(sideTableDDL(table, fields)).Error; err != nil {
		return fmt.Errorf("create side table %s: %w", table, err)
	}
	if c.store.IsPostgres() {
		fn := model.AggregateFunctionName(def.Name, def.Version)
		if err := tx.Exec(aggregateFunctionDDL(fn, table, fields)).Error; err != nil {
			return fmt.Errorf("create aggregate function %s: %w", fn, err)
		}
	}
	c.logger.Info("entity defined", "entity", def.Name, "version", def.Version, "table", table)
	return nil
}

// sideTableDDL emits the entity side table: the declared columns plus the
// frame key that ties each row to its data frame.
func sideTableDDL(table string, fields []model.EntityField) string {
	cols := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		cols = append(cols, fmt.Sprintf("  %s %s", model.QuoteIdentifier(f.Name), f.ColumnType))
	}
	cols = append(cols, "  rdf_frame_id BIGINT PRIMARY KEY REFERENCES fby_data_frame (id)")
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", model.QuoteIdentifier(table), strings.Join(cols, ",\n"))
}

// aggregateFunctionDDL wraps the aggregate query in a SQL function so any
// client of the database can evaluate the entity at a change set without
// going through this module.
func aggregateFunctionDDL(fn, table string, fields []model.EntityField) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = fmt.Sprintf("%s %s", model.QuoteIdentifier(f.Name), f.ColumnType)
	}
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s(p_change_set_id BIGINT) RETURNS TABLE (%s) AS $$
%s
$$ LANGUAGE sql STABLE`,
		model.QuoteIdentifier(fn),
		strings.Join(cols, ", "),
		store.AggregateSelect(table, fields, "p_change_set_id"),
	)
}

func (c *Compiler) addProjection(tx *gorm.DB, def ProjectionDef) error {
	projection := model.Projection{Name: def.Name, Version: def.Version}
	if err := tx.Create(&projection).Error; err != nil {
		if store.IsIntegrityViolation(err) {
			return fmt.Errorf("projection %q v%d is already defined", def.Name, def.Version)
		}
		return fmt.Errorf("add projection %q v%d: %w", def.Name, def.Version, err)
	}
	for _, dep := range def.Dependencies {
		entity, err := lookupEntity(tx, dep.Entity, dep.Version)
		if err != nil {
			return fmt.Errorf("projection %q v%d: %w", def.Name, def.Version, err)
		}
		edge := model.ProjectionEntity{ProjectionID: projection.ID, EntityID: entity.ID}
		if err := tx.Create(&edge).Error; err != nil {
			if store.IsIntegrityViolation(err) {
				return fmt.Errorf("projection %q v%d depends on %q v%d twice", def.Name, def.Version, dep.Entity, dep.Version)
			}
			return fmt.Errorf("projection %q v%d dependency: %w", def.Name, def.Version, err)
		}
	}
	c.logger.Info("projection added", "projection", def.Name, "version", def.Version, "dependencies", len(def.Dependencies))
	return nil
}

func (c *Compiler) addChangeSet(tx *gorm.DB, def ChangeSetDef) error {
	changeSet := model.ChangeSet{Effective: def.Effective.UTC(), Description: def.Description}
	if err := tx.Create(&changeSet).Error; err != nil {
		return fmt.Errorf("add change set %q: %w", def.Description, err)
	}

	touched := mapset.NewThreadUnsafeSet[string]()
	var notify []model.Entity
	for _, frame := range def.Frames {
		entity, fields, err := lookupEntityFields(tx, frame.Entity, frame.Version)
		if err != nil {
			return fmt.Errorf("change set %q: %w", def.Description, err)
		}
		for _, row := range frame.Data {
			if err := c.insertFrame(tx, changeSet.ID, entity, fields, frame.Action, row); err != nil {
				return fmt.Errorf("change set %q, entity %q v%d: %w", def.Description, frame.Entity, frame.Version, err)
			}
		}
		if touched.Add(fmt.Sprintf("%d", entity.ID)) {
			notify = append(notify, *entity)
		}
	}

	// The postgres trigger on fby_data_frame schedules notifications as
	// frames land. Other dialects do the same work here, still inside the
	// migration transaction.
	if !c.store.IsPostgres() {
		for _, entity := range notify {
			if err := c.store.NotifyEntity(tx, entity.Name, entity.Version); err != nil {
				return err
			}
		}
	}
	c.logger.Info("change set added", "id", changeSet.ID, "effective", changeSet.Effective, "frames", len(def.Frames))
	return nil
}

// insertFrame writes one data frame and its side table row. Every
// identifier field must be present in the row; unknown keys are rejected
// rather than silently dropped.
func (c *Compiler) insertFrame(tx *gorm.DB, changeSetID int64, entity *model.Entity, fields []model.EntityField, action model.FrameAction, row map[string]any) error {
	declared := make(map[string]model.EntityField, len(fields))
	for _, f := range fields {
		declared[f.Name] = f
	}
	for key := range row {
		if _, ok := declared[key]; !ok {
			return fmt.Errorf("unknown field %q", key)
		}
	}
	for _, f := range fields {
		if f.Identifier {
			if _, ok := row[f.Name]; !ok {
				return fmt.Errorf("missing identifier field %q", f.Name)
			}
		}
	}

	frame := model.DataFrame{ChangeSetID: changeSetID, EntityID: entity.ID, Action: action}
	if err := tx.Create(&frame).Error; err != nil {
		return fmt.Errorf("create data frame: %w", err)
	}

	cols := []string{"rdf_frame_id"}
	placeholders := []string{"?"}
	args := []any{frame.ID}
	for _, f := range fields {
		val, ok := row[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, model.QuoteIdentifier(f.Name))
		placeholders = append(placeholders, "?")
		args = append(args, val)
	}
	table := model.EntityTableName(entity.Name, entity.Version)
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		model.QuoteIdentifier(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if err := tx.Exec(stmt, args...).Error; err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (c *Compiler) addHook(tx *gorm.DB, def HookDef) error {
	hook := model.Hook{Name: def.Name, Event: def.Event}
	if def.Projection != "" {
		var projection model.Projection
		err := tx.Where("name = ? AND version = ?", def.Projection, *def.Version).First(&projection).Error
		if err != nil {
			return fmt.Errorf("hook %q: unknown projection %q v%d", def.Name, def.Projection, *def.Version)
		}
		hook.ProjectionID = &projection.ID
	}
	if err := tx.Create(&hook).Error; err != nil {
		if store.IsIntegrityViolation(err) {
			return fmt.Errorf("hook %q for event %q is already defined", def.Name, def.Event)
		}
		return fmt.Errorf("add hook %q: %w", def.Name, err)
	}
	c.logger.Info("hook added", "hook", def.Name, "event", def.Event)
	return nil
}

func lookupEntity(tx *gorm.DB, name string, version int) (*model.Entity, error) {
	var entity model.Entity
	if err := tx.Where("name = ? AND version = ?", name, version).First(&entity).Error; err != nil {
		return nil, fmt.Errorf("unknown entity %q v%d", name, version)
	}
	return &entity, nil
}

func lookupEntityFields(tx *gorm.DB, name string, version int) (*model.Entity, []model.EntityField, error) {
	entity, err := lookupEntity(tx, name, version)
	if err != nil {
		return nil, nil, err
	}
	var fields []model.EntityField
	if err := tx.Where("entity_id = ?", entity.ID).Order("position").Find(&fields).Error; err != nil {
		return nil, nil, err
	}
	return entity, fields, nil
}
