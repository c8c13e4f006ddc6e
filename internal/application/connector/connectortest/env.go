package connectortest

import (
	"testing"
	"time"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Env wires connector.Services over in-memory stores.
type Env struct {
	Backend  *integration.Backend
	Bindings *BindingStore
	Entities *EntityStore
	Backends *BackendStore
	Jobs     *JobQueue
	Tx       *TxManager
	Remote   *Provider
	Registry *connector.Registry
	Services *connector.Services
	Now      time.Time
}

// NewEnv creates an environment for a backend of the given version. The
// registry is empty unless register fills it.
func NewEnv(t *testing.T, version integration.Version, register func(*connector.Registry) error) *Env {
	t.Helper()

	backend, err := integration.NewBackend("test shop", version, "https://shop.example.com")
	require.NoError(t, err)

	registry := connector.NewRegistry()
	if register != nil {
		require.NoError(t, register(registry))
	}

	env := &Env{
		Backend:  backend,
		Bindings: NewBindingStore(),
		Entities: NewEntityStore(),
		Backends: NewBackendStore(backend),
		Jobs:     NewJobQueue(),
		Tx:       &TxManager{},
		Remote:   NewProvider(),
		Registry: registry,
		Now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.Services = &connector.Services{
		Bindings: env.Bindings,
		Backends: env.Backends,
		Entities: env.Entities,
		Tx:       env.Tx,
		Jobs:     env.Jobs,
		Adapters: env.Remote,
		Registry: registry,
		Writer:   connector.NewEntityWriter(env.Entities),
		Logger:   zap.NewNop(),
		Clock:    FixedClock(env.Now),
	}
	return env
}

// Work returns the environment of model on the test backend.
func (e *Env) Work(model string) *connector.Work {
	return connector.NewWork(e.Services, e.Backend, model)
}

// Sync returns a SyncService over the environment.
func (e *Env) Sync() *connector.SyncService {
	return connector.NewSyncService(e.Services)
}
