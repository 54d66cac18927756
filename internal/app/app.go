// Package app wires configuration, storage, embedding providers, and the
// retrieval components into a runnable application.
package app

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibimina/kbengine/internal/agent"
	"github.com/ibimina/kbengine/internal/config"
	"github.com/ibimina/kbengine/internal/ingest"
	"github.com/ibimina/kbengine/internal/kb"
	"github.com/ibimina/kbengine/internal/log"
	"github.com/ibimina/kbengine/internal/resolver"
)

// App holds the initialized application components.
// Create with Setup, release with Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Pool is nil when the memory backend is selected.
	Pool  *pgxpool.Pool
	Store kb.Store

	Embedder kb.Embedder
	Pipeline *ingest.Pipeline
	Resolver *resolver.Resolver
	Facade   *agent.Facade

	cleanups []func() error
}

// Close releases all resources in reverse initialization order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
