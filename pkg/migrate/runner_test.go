package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rdfkit/rdf/pkg/model"
	"github.com/rdfkit/rdf/pkg/store"
)

const entityDocument = `
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
`

func setupRunner(t *testing.T) (*store.Store, *Runner) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db, nil)
	require.NoError(t, s.Bootstrap(context.Background()))
	return s, NewRunner(s, nil)
}

func TestScanOrdersByNumber(t *testing.T) {
	fsys := fstest.MapFS{
		"010.third.sql":   {Data: []byte("SELECT 3")},
		"002.second.yaml": {Data: []byte("x")},
		"001.first.sql":   {Data: []byte("SELECT 1")},
		"notes.txt":       {Data: []byte("ignored")},
	}
	files, err := ScanFS(fsys, "test")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{files[0].Number, files[1].Number, files[2].Number})
	assert.Equal(t, "first", files[0].Name)
	assert.Equal(t, KindSQL, files[0].Kind)
	assert.Equal(t, KindYAML, files[1].Kind)
	assert.Len(t, files[0].Checksum, 64)
}

func TestScanRejectsDuplicateNumbers(t *testing.T) {
	fsys := fstest.MapFS{
		"001.first.sql": {Data: []byte("SELECT 1")},
		"1.other.yaml":  {Data: []byte("x")},
	}
	_, err := ScanFS(fsys, "test")
	assert.ErrorContains(t, err, "migration number 1 is used by both")
}

func TestApplyRecordsBookkeeping(t *testing.T) {
	s, r := setupRunner(t)
	files, err := ScanFS(fstest.MapFS{
		"001.vat.yaml": {Data: []byte(entityDocument)},
	}, "test")
	require.NoError(t, err)

	applied, err := r.Apply(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	var record model.AppliedMigration
	require.NoError(t, s.DB().First(&record, "number = ?", 1).Error)
	assert.Equal(t, "vat", record.Name)
	assert.Equal(t, files[0].Checksum, record.Checksum)
	assert.False(t, record.AppliedAt.IsZero())

	var entity model.Entity
	require.NoError(t, s.DB().First(&entity, "name = ?", "VAT Rate").Error)
}

func TestApplyIsIdempotent(t *testing.T) {
	_, r := setupRunner(t)
	files, err := ScanFS(fstest.MapFS{
		"001.vat.yaml": {Data: []byte(entityDocument)},
	}, "test")
	require.NoError(t, err)

	applied, err := r.Apply(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = r.Apply(context.Background(), files)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestApplyDetectsChecksumMismatch(t *testing.T) {
	_, r := setupRunner(t)
	files, err := ScanFS(fstest.MapFS{
		"001.vat.yaml": {Data: []byte(entityDocument)},
	}, "test")
	require.NoError(t, err)
	_, err = r.Apply(context.Background(), files)
	require.NoError(t, err)

	mutated, err := ScanFS(fstest.MapFS{
		"001.vat.yaml": {Data: []byte(entityDocument + "\n# edited\n")},
	}, "test")
	require.NoError(t, err)

	_, err = r.Apply(context.Background(), mutated)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestApplyRunsRawSQL(t *testing.T) {
	s, r := setupRunner(t)
	files, err := ScanFS(fstest.MapFS{
		"001.custom.sql": {Data: []byte("CREATE TABLE custom_lookup (code TEXT PRIMARY KEY)")},
	}, "test")
	require.NoError(t, err)

	_, err = r.Apply(context.Background(), files)
	require.NoError(t, err)
	require.NoError(t, s.DB().Exec("INSERT INTO custom_lookup (code) VALUES ('x')").Error)
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	s, r := setupRunner(t)
	files, err := ScanFS(fstest.MapFS{
		"001.vat.yaml": {Data: []byte(entityDocument)},
		"002.bad.sql":  {Data: []byte("THIS IS NOT SQL")},
		"003.more.sql": {Data: []byte("CREATE TABLE never_created (id INTEGER)")},
	}, "test")
	require.NoError(t, err)

	applied, err := r.Apply(context.Background(), files)
	require.Error(t, err)
	assert.Equal(t, 1, applied)
	assert.ErrorContains(t, err, "migration 002.bad.sql")

	var count int64
	require.NoError(t, s.DB().Model(&model.AppliedMigration{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestApplyRejectsInvalidDocumentBeforeSQL(t *testing.T) {
	s, r := setupRunner(t)
	files, err := ScanFS(fstest.MapFS{
		"001.bad.yaml": {Data: []byte("drop entities:\n  - name: x\n")},
	}, "test")
	require.NoError(t, err)

	_, err = r.Apply(context.Background(), files)
	require.Error(t, err)
	assert.ErrorContains(t, err, "is not a recognised instruction")

	var count int64
	require.NoError(t, s.DB().Model(&model.AppliedMigration{}).Count(&count).Error)
	assert.Zero(t, count)
}
