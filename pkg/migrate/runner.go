package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/rdfkit/rdf/pkg/dsl"
	"github.com/rdfkit/rdf/pkg/model"
	"github.com/rdfkit/rdf/pkg/store"
)

// ErrChecksumMismatch is returned when an already applied migration file no
// longer matches the checksum recorded at apply time.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// Runner applies migration files against a store. Each file runs in its
// own exclusive transaction together with its bookkeeping row, so a failed
// file leaves earlier files applied and the failed one untouched.
type Runner struct {
	store    *store.Store
	compiler *dsl.Compiler
	logger   *slog.Logger
}

func NewRunner(s *store.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    s,
		compiler: dsl.NewCompiler(s, logger),
		logger:   logger,
	}
}

// Run scans dir and applies every file not yet applied, in number order.
// It returns the number of files newly applied.
func (r *Runner) Run(ctx context.Context, dir string) (int, error) {
	files, err := Scan(dir)
	if err != nil {
		return 0, err
	}
	return r.Apply(ctx, files)
}

// Apply runs the given files in order, skipping files already recorded
// with a matching checksum.
func (r *Runner) Apply(ctx context.Context, files []File) (int, error) {
	applied := 0
	for _, file := range files {
		ok, err := r.applyOne(ctx, file)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", file.Path, err)
		}
		if ok {
			applied++
		}
	}
	if applied > 0 {
		r.logger.Info("migrations applied", "count", applied)
	}
	return applied, nil
}

func (r *Runner) applyOne(ctx context.Context, file File) (bool, error) {
	var parsed *dsl.Document
	if file.Kind == KindYAML {
		doc, err := dsl.Parse(file.Contents)
		if err != nil {
			return false, err
		}
		parsed = doc
	}

	applied := false
	err := r.store.WithExclusiveTransaction(ctx, func(tx *gorm.DB) error {
		var existing model.AppliedMigration
		err := tx.Where("number = ?", file.Number).First(&existing).Error
		switch {
		case err == nil:
			if existing.Checksum != file.Checksum {
				return fmt.Errorf("%w: applied as %q with checksum %s", ErrChecksumMismatch, existing.Name, existing.Checksum)
			}
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("read migration bookkeeping: %w", err)
		}

		if parsed != nil {
			if err := r.compiler.Apply(tx, parsed); err != nil {
				return err
			}
		} else {
			if err := tx.Exec(string(file.Contents)).Error; err != nil {
				return fmt.Errorf("execute sql: %w", err)
			}
		}

		record := model.AppliedMigration{
			Number:    file.Number,
			Name:      file.Name,
			Checksum:  file.Checksum,
			AppliedAt: time.Now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		r.logger.Info("migration applied", "number", file.Number, "name", file.Name, "kind", string(file.Kind))
	}
	return applied, nil
}
