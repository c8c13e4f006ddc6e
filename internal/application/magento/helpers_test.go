package magento_test

import (
	"context"
	"testing"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/application/connector/connectortest"
	"github.com/connectorhq/magento-connector/internal/application/magento"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T, version integration.Version, opts ...magento.Option) *connectortest.Env {
	t.Helper()
	return connectortest.NewEnv(t, version, func(reg *connector.Registry) error {
		return magento.Register(reg, opts...)
	})
}

// seed stores an entity of internalModel and a binding of model wrapping it.
// An empty externalID leaves the binding unbound.
func seed(t *testing.T, env *connectortest.Env, model, internalModel, key, externalID string, values, bindingValues integration.Record) (*integration.Entity, *integration.Binding) {
	t.Helper()
	ctx := context.Background()
	entity := integration.NewEntity(internalModel, key, values)
	require.NoError(t, env.Entities.Create(ctx, entity))

	binding, err := integration.NewBinding(model, env.Backend.ID, entity.ID)
	require.NoError(t, err)
	binding.ExternalID = externalID
	binding.SetValues(bindingValues)
	require.NoError(t, env.Bindings.Create(ctx, binding))
	return entity, binding
}

// seedAttributeSet binds the attribute set external id.
func seedAttributeSet(t *testing.T, env *connectortest.Env, externalID string) *integration.Binding {
	t.Helper()
	_, b := seed(t, env, magento.ModelAttributeSet, magento.InternalAttributeSet, "Default", externalID,
		integration.Record{"name": "Default"}, nil)
	return b
}

// simpleProduct is a Magento 2 simple product payload.
func simpleProduct() integration.Record {
	return integration.Record{
		"id":         float64(42),
		"sku":        "ABC123",
		"name":       "Blue mug",
		"price":      19.99,
		"status":     float64(1),
		"type_id":    "simple",
		"visibility": float64(4),
		"weight":     0.5,
		"updated_at": "2024-02-20 10:00:00",
	}
}
