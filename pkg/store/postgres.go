package store

import (
	"context"
	"fmt"
)

// The storage contract on postgres: triggers stamp change sets and fan new
// data frames out to notifications; stored routines own the notification
// queue so that any SQL client observes the same semantics as this module.
var postgresObjects = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE OR REPLACE FUNCTION fby_change_set_defaults() RETURNS TRIGGER AS $$
BEGIN
  NEW.last_modified := now();
  NEW.entity_tag := encode(gen_random_bytes(10), 'hex');
  RETURN NEW;
END;
$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS fby_change_set_defaults ON fby_change_set`,

	`CREATE TRIGGER fby_change_set_defaults
BEFORE INSERT ON fby_change_set
FOR EACH ROW EXECUTE FUNCTION fby_change_set_defaults()`,

	`CREATE OR REPLACE FUNCTION schedule_notification(p_hook_id BIGINT, p_projection_id BIGINT) RETURNS VOID AS $$
BEGIN
  INSERT INTO fby_notification (hook_id, projection_id, scheduled_for, attempts, status)
  VALUES (p_hook_id, p_projection_id, now(), 0, 'PENDING')
  ON CONFLICT (hook_id, projection_id, status)
  DO UPDATE SET scheduled_for = now(), attempts = 0, last_error = NULL;
END;
$$ LANGUAGE plpgsql`,

	`CREATE OR REPLACE FUNCTION notify(p_entity_name TEXT, p_entity_version BIGINT) RETURNS VOID AS $$
DECLARE
  rec RECORD;
BEGIN
  FOR rec IN
    SELECT DISTINCT h.id AS hook_id, pe.projection_id
    FROM fby_projection_entity pe
    JOIN fby_entity e ON e.id = pe.entity_id
    JOIN fby_hook h ON h.projection_id = pe.projection_id OR h.projection_id IS NULL
    WHERE e.name = p_entity_name AND e.version = p_entity_version
  LOOP
    PERFORM schedule_notification(rec.hook_id, rec.projection_id);
  END LOOP;
END;
$$ LANGUAGE plpgsql`,

	`CREATE OR REPLACE FUNCTION fby_data_frame_notify() RETURNS TRIGGER AS $$
DECLARE
  v_name TEXT;
  v_version BIGINT;
BEGIN
  SELECT name, version INTO v_name, v_version FROM fby_entity WHERE id = NEW.entity_id;
  PERFORM notify(v_name, v_version);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS fby_data_frame_notify ON fby_data_frame`,

	`CREATE TRIGGER fby_data_frame_notify
AFTER INSERT ON fby_data_frame
FOR EACH ROW EXECUTE FUNCTION fby_data_frame_notify()`,

	`CREATE OR REPLACE FUNCTION get_next_notification(p_max_attempts INT) RETURNS SETOF fby_notification AS $$
  SELECT *
  FROM fby_notification
  WHERE status = 'PENDING'
    AND scheduled_for <= now()
    AND attempts < p_max_attempts
  ORDER BY scheduled_for ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
$$ LANGUAGE sql`,

	`CREATE OR REPLACE FUNCTION pass_notification(p_id BIGINT) RETURNS VOID AS $$
DECLARE
  v_hook BIGINT;
  v_projection BIGINT;
BEGIN
  SELECT hook_id, projection_id INTO v_hook, v_projection FROM fby_notification WHERE id = p_id;
  DELETE FROM fby_notification
  WHERE hook_id = v_hook AND projection_id = v_projection AND status = 'OK' AND id <> p_id;
  UPDATE fby_notification
  SET status = 'OK', last_attempted = now(), last_error = NULL
  WHERE id = p_id;
END;
$$ LANGUAGE plpgsql`,

	`CREATE OR REPLACE FUNCTION fail_notification(p_id BIGINT, p_scheduled_for TIMESTAMPTZ, p_error TEXT) RETURNS VOID AS $$
BEGIN
  UPDATE fby_notification
  SET attempts = attempts + 1,
      scheduled_for = p_scheduled_for,
      last_error = p_error,
      last_attempted = now()
  WHERE id = p_id;
END;
$$ LANGUAGE plpgsql`,
}

// postgresRoutineDrops removes the stored routines during reset, before the
// framework tables they reference are dropped.
var postgresRoutineDrops = []string{
	`DROP FUNCTION IF EXISTS fail_notification(BIGINT, TIMESTAMPTZ, TEXT)`,
	`DROP FUNCTION IF EXISTS pass_notification(BIGINT)`,
	`DROP FUNCTION IF EXISTS get_next_notification(INT)`,
	`DROP FUNCTION IF EXISTS fby_data_frame_notify() CASCADE`,
	`DROP FUNCTION IF EXISTS notify(TEXT, BIGINT)`,
	`DROP FUNCTION IF EXISTS schedule_notification(BIGINT, BIGINT)`,
	`DROP FUNCTION IF EXISTS fby_change_set_defaults() CASCADE`,
}

func (s *Store) installPostgresObjects(ctx context.Context) error {
	for _, stmt := range postgresObjects {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("install storage routine: %w", err)
		}
	}
	return nil
}
