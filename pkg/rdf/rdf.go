// Package rdf is the embedding surface of the framework: one value that
// owns the database pool, the migration runner, the event bus and the
// notification dispatcher, with the query operations consumers need.
package rdf

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/rdfkit/rdf/pkg/bus"
	"github.com/rdfkit/rdf/pkg/migrate"
	"github.com/rdfkit/rdf/pkg/model"
	"github.com/rdfkit/rdf/pkg/notify"
	"github.com/rdfkit/rdf/pkg/store"
)

// Config assembles everything an RDF instance needs.
type Config struct {
	Database      store.DatabaseConfig
	Notifications notify.Config
	// Migrations is the directory holding the migration files. Empty
	// means no migrations run at Init.
	Migrations string
	// NukeCustomObjects drops installation-specific objects during Reset,
	// typically built from store.DropEntityObjects.
	NukeCustomObjects store.NukeFunc
	Logger            *slog.Logger
}

// DefaultConfig returns a Config with library defaults everywhere.
func DefaultConfig() Config {
	return Config{
		Database:      store.DefaultDatabaseConfig(),
		Notifications: notify.DefaultConfig(),
	}
}

// RDF is one configured framework instance.
type RDF struct {
	config     Config
	logger     *slog.Logger
	store      *store.Store
	bus        *bus.Bus
	dispatcher *notify.Dispatcher
	runner     *migrate.Runner
}

// New prepares an instance; nothing touches the database until Init.
func New(config Config) *RDF {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RDF{config: config, logger: logger, bus: bus.New()}
}

// NewWithDB builds an instance over an existing GORM handle, which the
// tests use to run against in-memory databases.
func NewWithDB(config Config, db *gorm.DB) *RDF {
	r := New(config)
	r.attach(db)
	return r
}

func (r *RDF) attach(db *gorm.DB) {
	r.store = store.New(db, r.logger)
	r.runner = migrate.NewRunner(r.store, r.logger)
	r.dispatcher = notify.NewDispatcher(r.store, r.bus, r.config.Notifications, r.logger)
}

// Init connects, bootstraps the framework schema under the migration lock,
// and applies any configured migrations.
func (r *RDF) Init(ctx context.Context) error {
	if r.store == nil {
		db, err := store.Open(r.config.Database)
		if err != nil {
			return err
		}
		r.attach(db)
	}
	if err := r.store.Bootstrap(ctx); err != nil {
		return err
	}
	return r.Migrate(ctx)
}

// Migrate applies the configured migration directory.
func (r *RDF) Migrate(ctx context.Context) error {
	if r.config.Migrations == "" {
		return nil
	}
	if _, err := r.runner.Run(ctx, r.config.Migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Start launches the notification dispatcher.
func (r *RDF) Start(ctx context.Context) {
	r.dispatcher.Start(ctx)
}

// Stop drains the dispatcher and closes the pool.
func (r *RDF) Stop(_ context.Context) error {
	if r.dispatcher != nil {
		r.dispatcher.Stop()
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// Reset drops everything the framework owns plus the configured custom
// objects, then bootstraps and re-migrates. Intended for tests.
func (r *RDF) Reset(ctx context.Context) error {
	if err := r.store.Reset(ctx, r.config.NukeCustomObjects); err != nil {
		return err
	}
	if err := r.store.Bootstrap(ctx); err != nil {
		return err
	}
	return r.Migrate(ctx)
}

// Subscribe registers a handler for one hook event. Subscriptions must be
// in place before Start; a notification emitted with no subscriber fails
// delivery and is retried.
func (r *RDF) Subscribe(event string, handler bus.Handler) {
	r.bus.Subscribe(event, handler)
}

// Store exposes the storage layer for callers needing operations the
// façade does not delegate.
func (r *RDF) Store() *store.Store { return r.store }

func (r *RDF) GetProjections(ctx context.Context) ([]model.Projection, error) {
	return r.store.GetProjections(ctx)
}

func (r *RDF) GetProjection(ctx context.Context, name string, version int) (*model.Projection, error) {
	return r.store.GetProjection(ctx, name, version)
}

func (r *RDF) GetChangeLog(ctx context.Context, projection *model.Projection) ([]model.ChangeSet, error) {
	return r.store.GetChangeLog(ctx, projection)
}

func (r *RDF) GetChangeSet(ctx context.Context, id int64) (*model.ChangeSet, error) {
	return r.store.GetChangeSet(ctx, id)
}

func (r *RDF) GetCurrentChangeSet(ctx context.Context, projection *model.Projection) (*model.ChangeSet, error) {
	return r.store.GetCurrentChangeSet(ctx, projection)
}

func (r *RDF) GetAggregate(ctx context.Context, entityName string, entityVersion int, changeSetID int64) ([]map[string]any, error) {
	return r.store.GetAggregate(ctx, entityName, entityVersion, changeSetID)
}

// WithTransaction runs fn inside one database transaction.
func (r *RDF) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.store.WithTransaction(ctx, fn)
}
