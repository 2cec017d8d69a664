package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rdfkit/rdf/pkg/model"
)

// Notification operations wrap the postgres stored routines. On other
// dialects they fall back to equivalent GORM statements so the semantics
// are identical, minus the row locking that only postgres provides.

// ScheduleNotification inserts a PENDING notification for (hook,
// projection), or resets the existing PENDING row so duplicate scheduling
// collapses into a single unit of work.
func (s *Store) ScheduleNotification(tx *gorm.DB, hookID, projectionID int64) error {
	if s.IsPostgres() {
		if err := tx.Exec("SELECT schedule_notification(?, ?)", hookID, projectionID).Error; err != nil {
			return fmt.Errorf("schedule notification: %w", err)
		}
		return nil
	}

	result := tx.Model(&model.Notification{}).
		Where("hook_id = ? AND projection_id = ? AND status = ?", hookID, projectionID, model.StatusPending).
		Updates(map[string]any{
			"scheduled_for": time.Now(),
			"attempts":      0,
			"last_error":    "",
		})
	if result.Error != nil {
		return fmt.Errorf("reschedule notification: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	notification := model.Notification{
		HookID:       hookID,
		ProjectionID: projectionID,
		ScheduledFor: time.Now(),
		Status:       model.StatusPending,
	}
	if err := tx.Create(&notification).Error; err != nil {
		return fmt.Errorf("schedule notification: %w", err)
	}
	return nil
}

// NotifyEntity schedules a notification for every hook matching every
// projection that depends on the entity version; wildcard hooks (NULL
// projection) match all of them. On postgres this work is done by the
// AFTER INSERT trigger on fby_data_frame; callers on other dialects invoke
// it after inserting data frames, inside the same transaction.
func (s *Store) NotifyEntity(tx *gorm.DB, entityName string, entityVersion int) error {
	if s.IsPostgres() {
		if err := tx.Exec("SELECT notify(?, ?)", entityName, entityVersion).Error; err != nil {
			return fmt.Errorf("notify %q v%d: %w", entityName, entityVersion, err)
		}
		return nil
	}

	type target struct {
		HookID       int64
		ProjectionID int64
	}
	var targets []target
	err := tx.Raw(`
		SELECT DISTINCT h.id AS hook_id, pe.projection_id
		FROM fby_projection_entity pe
		JOIN fby_entity e ON e.id = pe.entity_id
		JOIN fby_hook h ON h.projection_id = pe.projection_id OR h.projection_id IS NULL
		WHERE e.name = ? AND e.version = ?`, entityName, entityVersion).
		Scan(&targets).Error
	if err != nil {
		return fmt.Errorf("notify %q v%d: %w", entityName, entityVersion, err)
	}
	for _, t := range targets {
		if err := s.ScheduleNotification(tx, t.HookID, t.ProjectionID); err != nil {
			return err
		}
	}
	return nil
}

// ClaimNext returns one due PENDING notification with fewer than
// maxAttempts attempts, or nil when none is available. On postgres the row
// is locked with FOR UPDATE SKIP LOCKED for the remainder of the enclosing
// transaction, so concurrent dispatchers never process the same row.
func (s *Store) ClaimNext(tx *gorm.DB, maxAttempts int) (*model.Notification, error) {
	var notification model.Notification
	if s.IsPostgres() {
		err := tx.Raw("SELECT * FROM get_next_notification(?)", maxAttempts).Scan(&notification).Error
		if err != nil {
			return nil, fmt.Errorf("claim notification: %w", err)
		}
	} else {
		err := tx.Where("status = ? AND scheduled_for <= ? AND attempts < ?",
			model.StatusPending, time.Now(), maxAttempts).
			Order("scheduled_for ASC").
			Limit(1).
			Find(&notification).Error
		if err != nil {
			return nil, fmt.Errorf("claim notification: %w", err)
		}
	}
	if notification.ID == 0 {
		return nil, nil
	}
	return &notification, nil
}

// PassNotification marks a notification OK and deletes the previous OK row
// for the same (hook, projection), so only the latest success is retained.
func (s *Store) PassNotification(tx *gorm.DB, id int64) error {
	if s.IsPostgres() {
		if err := tx.Exec("SELECT pass_notification(?)", id).Error; err != nil {
			return fmt.Errorf("pass notification %d: %w", id, err)
		}
		return nil
	}

	var notification model.Notification
	if err := tx.First(&notification, "id = ?", id).Error; err != nil {
		return fmt.Errorf("pass notification %d: %w", id, err)
	}
	err := tx.Where("hook_id = ? AND projection_id = ? AND status = ? AND id <> ?",
		notification.HookID, notification.ProjectionID, model.StatusOK, id).
		Delete(&model.Notification{}).Error
	if err != nil {
		return fmt.Errorf("prune superseded notification: %w", err)
	}
	now := time.Now()
	err = tx.Model(&model.Notification{}).Where("id = ?", id).Updates(map[string]any{
		"status":         model.StatusOK,
		"last_attempted": now,
		"last_error":     "",
	}).Error
	if err != nil {
		return fmt.Errorf("pass notification %d: %w", id, err)
	}
	return nil
}

// FailNotification records a delivery failure: bump attempts, keep the row
// PENDING, and reschedule it for nextScheduledFor.
func (s *Store) FailNotification(tx *gorm.DB, id int64, nextScheduledFor time.Time, errText string) error {
	if s.IsPostgres() {
		if err := tx.Exec("SELECT fail_notification(?, ?, ?)", id, nextScheduledFor, errText).Error; err != nil {
			return fmt.Errorf("fail notification %d: %w", id, err)
		}
		return nil
	}

	now := time.Now()
	err := tx.Model(&model.Notification{}).Where("id = ?", id).Updates(map[string]any{
		"attempts":       gorm.Expr("attempts + 1"),
		"scheduled_for":  nextScheduledFor,
		"last_error":     errText,
		"last_attempted": now,
	}).Error
	if err != nil {
		return fmt.Errorf("fail notification %d: %w", id, err)
	}
	return nil
}

// ResolveNotification loads the hook and projection behind a claimed
// notification so the dispatcher can build its event payload.
func (s *Store) ResolveNotification(tx *gorm.DB, notification *model.Notification) (*model.Hook, *model.Projection, error) {
	var hook model.Hook
	if err := tx.First(&hook, "id = ?", notification.HookID).Error; err != nil {
		return nil, nil, fmt.Errorf("resolve hook %d: %w", notification.HookID, err)
	}
	var projection model.Projection
	if err := tx.First(&projection, "id = ?", notification.ProjectionID).Error; err != nil {
		return nil, nil, fmt.Errorf("resolve projection %d: %w", notification.ProjectionID, err)
	}
	return &hook, &projection, nil
}

// DeleteOKOlderThan removes OK notifications last attempted before the
// cutoff. The uniqueness contract already bounds the table to one OK row
// per (hook, projection); the sweep reclaims rows for hooks that have gone
// quiet.
func (s *Store) DeleteOKOlderThan(tx *gorm.DB, cutoff time.Time) (int64, error) {
	result := tx.Where("status = ? AND last_attempted < ?", model.StatusOK, cutoff).
		Delete(&model.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}
