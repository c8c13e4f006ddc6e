package connector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func janeRecord() integration.Record {
	return integration.Record{
		"id":         "7",
		"name":       "Jane",
		"email":      "jane@example.com",
		"status":     "1",
		"updated_at": "2024-02-01 10:00:00",
	}
}

func TestImporter_CreateThenIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registerOptions{})
	env.Remote.For(partnerModel).Records["7"] = janeRecord()
	sync := env.Sync()

	msg, err := sync.ImportRecord(ctx, env.Backend.ID, partnerModel, "7", false)
	require.NoError(t, err)
	assert.Equal(t, "Record imported with ID 7", msg)

	bindings := env.Bindings.All(partnerModel)
	require.Len(t, bindings, 1)
	binding := bindings[0]
	assert.Equal(t, "7", binding.ExternalID)
	assert.Equal(t, "1", binding.Value("status"))
	require.NotNil(t, binding.SyncDate)

	entity, err := env.Entities.GetByID(ctx, "res.partner", binding.InternalID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", entity.Values["name"])
	assert.Equal(t, "jane@example.com", entity.Key)
	assert.NotContains(t, entity.Values, "status")

	snapshot, err := binding.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "Jane", snapshot.String("name"))

	writes := env.Entities.Writes
	msg, err = sync.ImportRecord(ctx, env.Backend.ID, partnerModel, "7", false)
	require.NoError(t, err)
	assert.Equal(t, connector.MsgUpToDate, msg)
	assert.Equal(t, writes, env.Entities.Writes)
	assert.Len(t, env.Bindings.All(partnerModel), 1)

	msg, err = sync.ImportRecord(ctx, env.Backend.ID, partnerModel, "7", true)
	require.NoError(t, err)
	assert.Equal(t, "Record updated with ID 7", msg)
	assert.Greater(t, env.Entities.Writes, writes)
	assert.Len(t, env.Bindings.All(partnerModel), 1)
}

func TestImporter_RemoteNewerIsReimported(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registerOptions{})
	remote := env.Remote.For(partnerModel)
	remote.Records["7"] = janeRecord()

	_, err := env.Sync().ImportRecord(ctx, env.Backend.ID, partnerModel, "7", false)
	require.NoError(t, err)

	remote.Records["7"]["name"] = "Jane Doe"
	remote.Records["7"]["updated_at"] = "2024-03-02 08:00:00"

	msg, err := env.Sync().ImportRecord(ctx, env.Backend.ID, partnerModel, "7", false)
	require.NoError(t, err)
	assert.Equal(t, "Record updated with ID 7", msg)

	entities := env.Entities.All("res.partner")
	require.Len(t, entities, 1)
	assert.Equal(t, "Jane Doe", entities[0].Values["name"])
}

func TestImporter_VanishedRecord(t *testing.T) {
	env := newEnv(t, registerOptions{})

	msg, err := env.Sync().ImportRecord(context.Background(), env.Backend.ID, partnerModel, "404", false)
	require.NoError(t, err)
	assert.Equal(t, connector.MsgRecordVanished, msg)
	assert.Empty(t, env.Bindings.All(partnerModel))
}

func TestImporter_MustSkip(t *testing.T) {
	env := newEnv(t, registerOptions{})
	rec := janeRecord()
	rec["status"] = "2"
	env.Remote.For(partnerModel).Records["7"] = rec

	msg, err := env.Sync().ImportRecord(context.Background(), env.Backend.ID, partnerModel, "7", false)
	require.NoError(t, err)
	assert.Equal(t, "Customer is disabled", msg)
	assert.Empty(t, env.Bindings.All(partnerModel))
	assert.Zero(t, env.Entities.Writes)
}

func TestImporter_MissingRelationLeavesNothing(t *testing.T) {
	env := newEnv(t, registerOptions{})
	rec := janeRecord()
	rec["group_id"] = "99"
	env.Remote.For(partnerModel).Records["7"] = rec

	_, err := env.Sync().ImportRecord(context.Background(), env.Backend.ID, partnerModel, "7", false)

	var mappingErr *integration.MappingError
	require.True(t, errors.As(err, &mappingErr))
	assert.Equal(t, "99", mappingErr.ExternalID)
	assert.Empty(t, env.Bindings.All(partnerModel))
	assert.Empty(t, env.Entities.All("res.partner"))
}

func TestImporter_ImportsDependencies(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registerOptions{withDependencies: true})
	rec := janeRecord()
	rec["group_id"] = "99"
	env.Remote.For(partnerModel).Records["7"] = rec
	groups := env.Remote.For(groupModel)
	groups.Records["99"] = integration.Record{"id": "99", "name": "VIP"}

	_, err := env.Sync().ImportRecord(ctx, env.Backend.ID, partnerModel, "7", false)
	require.NoError(t, err)

	group, err := env.Work(groupModel).Binder().ToInternalEntity(ctx, "99")
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, "VIP", group.Values["name"])

	partner, err := env.Work(partnerModel).Binder().ToInternalEntity(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, partner)
	assert.Equal(t, group.ID.String(), partner.Values["category_id"])

	// a bound dependency is not fetched again
	reads := len(groups.Calls)
	require.NoError(t, env.Work(partnerModel).ImportDependency(ctx, "99", groupModel, false))
	assert.Len(t, groups.Calls, reads)
	require.NoError(t, env.Work(partnerModel).ImportDependency(ctx, "99", groupModel, true))
	assert.Greater(t, len(groups.Calls), reads)
}

func TestImporter_MatchesUnboundEntityByKey(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registerOptions{})
	existing := integration.NewEntity("res.partner", "jane@example.com", integration.Record{"name": "J."})
	require.NoError(t, env.Entities.Create(ctx, existing))
	env.Remote.For(partnerModel).Records["7"] = janeRecord()

	_, err := env.Sync().ImportRecord(ctx, env.Backend.ID, partnerModel, "7", false)
	require.NoError(t, err)

	assert.Len(t, env.Entities.All("res.partner"), 1)
	bindings := env.Bindings.All(partnerModel)
	require.Len(t, bindings, 1)
	assert.Equal(t, existing.ID, bindings[0].InternalID)
	assert.Equal(t, "Jane", existing.Values["name"])
}
