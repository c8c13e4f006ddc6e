package connector_test

import (
	"context"
	"testing"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinder_ToInternal(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registerOptions{})
	binder := env.Work(partnerModel).Binder()

	t.Run("no match returns nil", func(t *testing.T) {
		binding, err := binder.ToInternal(ctx, "404")
		require.NoError(t, err)
		assert.Nil(t, binding)

		entity, err := binder.ToInternalEntity(ctx, "404")
		require.NoError(t, err)
		assert.Nil(t, entity)
	})

	t.Run("empty id is unbound", func(t *testing.T) {
		binding, err := binder.ToInternal(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, binding)
	})

	t.Run("zero is a valid id", func(t *testing.T) {
		entity, seeded := seedPartner(t, env, "0")

		binding, err := binder.ToInternal(ctx, "0")
		require.NoError(t, err)
		require.NotNil(t, binding)
		assert.Equal(t, seeded.ID, binding.ID)

		unwrapped, err := binder.ToInternalEntity(ctx, "0")
		require.NoError(t, err)
		require.NotNil(t, unwrapped)
		assert.Equal(t, entity.ID, unwrapped.ID)

		external, err := binder.ToExternalOf(ctx, entity.ID)
		require.NoError(t, err)
		assert.Equal(t, "0", external)
		assert.Equal(t, "0", binder.ToExternal(binding))
	})

	t.Run("alternate id lookup", func(t *testing.T) {
		_, seeded := seedPartner(t, env, "SKU-1")
		seeded.AltExternalID = "42"

		binding, err := binder.ToInternal(ctx, "42", connector.ByAltExternalID())
		require.NoError(t, err)
		require.NotNil(t, binding)
		assert.Equal(t, seeded.ID, binding.ID)
	})

	t.Run("other backend is not visible", func(t *testing.T) {
		other, err := integration.NewBinding(partnerModel, uuid.New(), uuid.New())
		require.NoError(t, err)
		other.ExternalID = "77"
		require.NoError(t, env.Bindings.Create(ctx, other))

		binding, err := binder.ToInternal(ctx, "77")
		require.NoError(t, err)
		assert.Nil(t, binding)
	})
}

func TestBinder_Bind(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registerOptions{})
	binder := env.Work(partnerModel).Binder()

	t.Run("sets id and sync date", func(t *testing.T) {
		_, binding := seedPartner(t, env, "")
		require.NoError(t, binder.Bind(ctx, "12", binding))
		assert.Equal(t, "12", binding.ExternalID)
		require.NotNil(t, binding.SyncDate)
		assert.True(t, binding.SyncDate.Equal(env.Now))
	})

	t.Run("rejects a different id", func(t *testing.T) {
		_, binding := seedPartner(t, env, "13")
		err := binder.Bind(ctx, "14", binding)
		assert.ErrorIs(t, err, integration.ErrBindingConflict)
		assert.Equal(t, "13", binding.ExternalID)
	})

	t.Run("rejects an id owned by another binding", func(t *testing.T) {
		_, binding := seedPartner(t, env, "")
		err := binder.Bind(ctx, "12", binding)
		assert.ErrorIs(t, err, integration.ErrDuplicateBinding)
		assert.False(t, binding.IsBound())
	})

	t.Run("rejects empty id", func(t *testing.T) {
		_, binding := seedPartner(t, env, "")
		assert.Error(t, binder.Bind(ctx, "", binding))
	})
}
