// Package model defines the GORM models for the framework tables.
// All framework tables carry the fby_ prefix; entity side tables are
// created at migration time by the DSL compiler and have no model here.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// FrameAction is the kind of assertion a data frame makes.
type FrameAction string

const (
	ActionPost   FrameAction = "POST"
	ActionDelete FrameAction = "DELETE"
)

// NotificationStatus is the delivery state of a notification.
type NotificationStatus string

const (
	StatusPending NotificationStatus = "PENDING"
	StatusOK      NotificationStatus = "OK"
)

// EntityTagLength is the number of hex characters in a change set entity tag.
const EntityTagLength = 20

// Projection is a named, versioned view binding a set of entity versions
// together for consumers.
type Projection struct {
	ID      int64  `gorm:"primaryKey;column:id" json:"id"`
	Name    string `gorm:"column:name;not null;uniqueIndex:idx_projection_name_version,priority:1" json:"name"`
	Version int    `gorm:"column:version;not null;uniqueIndex:idx_projection_name_version,priority:2" json:"version"`
}

func (Projection) TableName() string { return "fby_projection" }

// Entity is one version of an entity schema.
type Entity struct {
	ID      int64  `gorm:"primaryKey;column:id" json:"id"`
	Name    string `gorm:"column:name;not null;uniqueIndex:idx_entity_name_version,priority:1" json:"name"`
	Version int    `gorm:"column:version;not null;uniqueIndex:idx_entity_name_version,priority:2" json:"version"`
}

func (Entity) TableName() string { return "fby_entity" }

// ProjectionEntity is the many-to-many edge between projections and the
// entity versions they depend on. Deleting a projection removes its edges;
// deleting an entity that still backs a projection is rejected by the FK.
type ProjectionEntity struct {
	ProjectionID int64 `gorm:"primaryKey;column:projection_id;constraint:OnDelete:CASCADE"`
	EntityID     int64 `gorm:"primaryKey;column:entity_id;constraint:OnDelete:RESTRICT"`
}

func (ProjectionEntity) TableName() string { return "fby_projection_entity" }

// ChangeSet is an atomic, effective-dated revision boundary. Rows are
// append-only; once committed they are never mutated.
type ChangeSet struct {
	ID           int64     `gorm:"primaryKey;column:id" json:"id"`
	Description  string    `gorm:"column:description" json:"description,omitempty"`
	Effective    time.Time `gorm:"column:effective;not null;index:idx_change_set_effective" json:"effective"`
	LastModified time.Time `gorm:"column:last_modified;not null" json:"lastModified"`
	EntityTag    string    `gorm:"column:entity_tag;type:char(20);not null" json:"entityTag"`
}

func (ChangeSet) TableName() string { return "fby_change_set" }

// BeforeCreate fills last_modified and entity_tag when the dialect has no
// trigger doing it (the postgres schema installs a BEFORE INSERT trigger
// which overwrites both regardless).
func (cs *ChangeSet) BeforeCreate(_ *gorm.DB) error {
	if cs.LastModified.IsZero() {
		cs.LastModified = time.Now()
	}
	if cs.EntityTag == "" {
		tag, err := NewEntityTag()
		if err != nil {
			return err
		}
		cs.EntityTag = tag
	}
	return nil
}

// NewEntityTag returns 20 hex characters from 10 random bytes. The tag is
// opaque to callers; it is not a content hash.
func NewEntityTag() (string, error) {
	buf := make([]byte, EntityTagLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate entity tag: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DataFrame declares that, inside one change set, the accompanying side
// table row either asserts (POST) or retracts (DELETE) an identified row
// of one entity version.
type DataFrame struct {
	ID          int64       `gorm:"primaryKey;column:id" json:"id"`
	ChangeSetID int64       `gorm:"column:change_set_id;not null;index:idx_data_frame_change_set" json:"changeSetId"`
	EntityID    int64       `gorm:"column:entity_id;not null;index:idx_data_frame_entity" json:"entityId"`
	Action      FrameAction `gorm:"column:action;not null" json:"action"`
}

func (DataFrame) TableName() string { return "fby_data_frame" }

// Hook is a named subscription tying an event to a projection. A NULL
// projection means the hook fires for any projection.
type Hook struct {
	ID           int64  `gorm:"primaryKey;column:id" json:"id"`
	Name         string `gorm:"column:name;not null;uniqueIndex:idx_hook_name_event_projection,priority:1" json:"name"`
	Event        string `gorm:"column:event;not null;uniqueIndex:idx_hook_name_event_projection,priority:2" json:"event"`
	ProjectionID *int64 `gorm:"column:projection_id;uniqueIndex:idx_hook_name_event_projection,priority:3;constraint:OnDelete:CASCADE" json:"projectionId,omitempty"`
}

func (Hook) TableName() string { return "fby_hook" }

// Notification is a durable unit of work to fire one hook for one
// projection. At most one row exists per (hook, projection, status).
type Notification struct {
	ID            int64              `gorm:"primaryKey;column:id" json:"id"`
	HookID        int64              `gorm:"column:hook_id;not null;uniqueIndex:idx_notification_hook_projection_status,priority:1;constraint:OnDelete:CASCADE" json:"hookId"`
	ProjectionID  int64              `gorm:"column:projection_id;not null;uniqueIndex:idx_notification_hook_projection_status,priority:2;constraint:OnDelete:CASCADE" json:"projectionId"`
	ScheduledFor  time.Time          `gorm:"column:scheduled_for;not null;index:idx_notification_scheduled_for" json:"scheduledFor"`
	Attempts      int                `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Status        NotificationStatus `gorm:"column:status;not null;default:PENDING;uniqueIndex:idx_notification_hook_projection_status,priority:3" json:"status"`
	LastAttempted *time.Time         `gorm:"column:last_attempted" json:"lastAttempted,omitempty"`
	LastError     string             `gorm:"column:last_error" json:"lastError,omitempty"`
}

func (Notification) TableName() string { return "fby_notification" }

// EntityField records one declared field of an entity version: its column
// name, declared column type, and whether it is part of the identifier
// tuple. The DSL compiler writes these rows alongside the side table DDL so
// aggregates can be computed without re-reading the migration documents.
type EntityField struct {
	ID         int64  `gorm:"primaryKey;column:id"`
	EntityID   int64  `gorm:"column:entity_id;not null;uniqueIndex:idx_entity_field_entity_name,priority:1;constraint:OnDelete:CASCADE"`
	Name       string `gorm:"column:name;not null;uniqueIndex:idx_entity_field_entity_name,priority:2"`
	ColumnType string `gorm:"column:column_type;not null"`
	Identifier bool   `gorm:"column:identifier;not null;default:false"`
	Position   int    `gorm:"column:position;not null"`
}

func (EntityField) TableName() string { return "fby_entity_field" }

// AppliedMigration is the bookkeeping row recording the provenance of one
// applied migration file.
type AppliedMigration struct {
	Number    int       `gorm:"primaryKey;column:number;autoIncrement:false" json:"number"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	Checksum  string    `gorm:"column:checksum;type:char(64);not null" json:"checksum"`
	AppliedAt time.Time `gorm:"column:applied_at;not null" json:"appliedAt"`
}

func (AppliedMigration) TableName() string { return "fby_migration" }

// FrameworkTables lists every framework model in dependency order, for
// AutoMigrate and for reset.
func FrameworkTables() []any {
	return []any{
		&Projection{},
		&Entity{},
		&ProjectionEntity{},
		&ChangeSet{},
		&DataFrame{},
		&Hook{},
		&Notification{},
		&EntityField{},
		&AppliedMigration{},
	}
}
