package scalpel

import (
	"log/slog"
	"time"

	"github.com/scalpeldb/scalpel/backup"
	"github.com/scalpeldb/scalpel/remove"
)

type config struct {
	log          *slog.Logger
	store        *backup.Store
	gate         remove.Gate
	stageTimeout time.Duration
	maxParallel  int
}

func defaultConfig() *config {
	return &config{
		log:         slog.New(slog.DiscardHandler),
		maxParallel: 4,
	}
}

// Option configures an Engine.
type Option func(*config)

// WithLogger sets the structured logger used by every component. The default
// discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithBackupStore sets the artifact store used by data-preserving removal
// strategies.
func WithBackupStore(store *backup.Store) Option {
	return func(c *config) { c.store = store }
}

// WithStageGate installs a hook invoked before every removal stage
// transition; a veto rolls the removal back.
func WithStageGate(gate remove.Gate) Option {
	return func(c *config) { c.gate = gate }
}

// WithStageTimeout bounds the wall time of each removal stage.
func WithStageTimeout(d time.Duration) Option {
	return func(c *config) { c.stageTimeout = d }
}

// WithMaxParallel caps concurrent operations within a parallel-safe DDL
// batch.
func WithMaxParallel(n int) Option {
	return func(c *config) { c.maxParallel = n }
}
