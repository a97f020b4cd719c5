// Package modulemanager wires feature modules into the application
// lifecycle: registration at import time, migration and init at startup,
// route mounting, and shutdown in reverse order.
package modulemanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mantonx/chunkstream/internal/logger"
)

// Module is implemented by each feature module.
type Module interface {
	ID() string
	Name() string
	Migrate(db *gorm.DB) error
	Init() error
	RegisterRoutes(router *gin.Engine)
	Shutdown(ctx context.Context) error
}

var (
	mu          sync.Mutex
	registered  []Module
	initialized []Module
)

// Register adds a module to the startup list. Modules call this from their
// init() so a blank import is enough to enable them.
func Register(m Module) {
	mu.Lock()
	defer mu.Unlock()
	registered = append(registered, m)
}

// InitializeAll migrates and initializes every registered module in
// registration order. The first failure aborts startup.
func InitializeAll(db *gorm.DB) error {
	mu.Lock()
	modules := make([]Module, len(registered))
	copy(modules, registered)
	mu.Unlock()

	log := logger.Named("modules")

	for _, m := range modules {
		log.Info("initializing module", "id", m.ID(), "name", m.Name())

		if err := m.Migrate(db); err != nil {
			return fmt.Errorf("module %s migration failed: %w", m.ID(), err)
		}
		if err := m.Init(); err != nil {
			return fmt.Errorf("module %s init failed: %w", m.ID(), err)
		}

		mu.Lock()
		initialized = append(initialized, m)
		mu.Unlock()
	}

	log.Info("all modules initialized", "count", len(modules))
	return nil
}

// RegisterAllRoutes mounts every initialized module's routes on the router.
func RegisterAllRoutes(router *gin.Engine) {
	mu.Lock()
	modules := make([]Module, len(initialized))
	copy(modules, initialized)
	mu.Unlock()

	for _, m := range modules {
		m.RegisterRoutes(router)
	}
}

// ShutdownAll stops initialized modules in reverse order. All modules get a
// chance to stop; the first error is returned.
func ShutdownAll(ctx context.Context) error {
	mu.Lock()
	modules := make([]Module, len(initialized))
	copy(modules, initialized)
	initialized = nil
	mu.Unlock()

	log := logger.Named("modules")
	var firstErr error

	for i := len(modules) - 1; i >= 0; i-- {
		m := modules[i]
		log.Info("shutting down module", "id", m.ID())
		if err := m.Shutdown(ctx); err != nil {
			log.Error("module shutdown failed", "id", m.ID(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
