package magento_test

import (
	"context"
	"errors"
	"testing"

	"github.com/connectorhq/magento-connector/internal/application/magento"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func magento2Order() integration.Record {
	return integration.Record{
		"entity_id":            float64(100),
		"increment_id":         "000000100",
		"created_at":           "2024-02-20 10:00:00",
		"order_currency_code":  "EUR",
		"customer_email":       "jane@example.com",
		"customer_firstname":   "Jane",
		"customer_lastname":    "Doe",
		"shipping_description": "UPS - Ground",
		"state":                "processing",
		"status":               "processing",
		"items": []any{
			map[string]any{"item_id": float64(1), "sku": "ABC123", "name": "Blue mug", "qty_ordered": float64(2), "price": 19.99, "product_type": "simple"},
			map[string]any{"item_id": float64(2), "parent_item_id": float64(1), "sku": "ABC123", "name": "Blue mug", "qty_ordered": float64(2)},
		},
	}
}

func TestSaleOrderImport_Magento2(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, integration.Version20)
	product, _ := seed(t, env, magento.ModelProduct, magento.InternalProduct, "ABC123", "ABC123",
		integration.Record{"default_code": "ABC123"}, nil)
	env.Remote.For(magento.ModelSaleOrder).Records["100"] = magento2Order()

	_, err := env.Sync().ImportRecord(ctx, env.Backend.ID, magento.ModelSaleOrder, "100", false)
	require.NoError(t, err)

	orders := env.Bindings.All(magento.ModelSaleOrder)
	require.Len(t, orders, 1)
	order := orders[0]
	assert.Equal(t, "100", order.ExternalID)
	assert.Equal(t, "100", order.Value("magento_order_id"))
	assert.Equal(t, "processing", order.Value("magento_state"))

	entities := env.Entities.All(magento.InternalSaleOrder)
	require.Len(t, entities, 1)
	assert.Equal(t, "000000100", entities[0].Values.String("name"))
	assert.Equal(t, "Jane Doe", entities[0].Values.String("partner_name"))
	assert.Equal(t, "EUR", entities[0].Values.String("currency"))

	// the child item rides on its parent line
	lines := env.Bindings.All(magento.ModelSaleOrderLine)
	require.Len(t, lines, 1)
	assert.Equal(t, "1", lines[0].ExternalID)
	assert.Equal(t, "simple", lines[0].Value("product_type"))
	lineEntities := env.Entities.All(magento.InternalSaleOrderLine)
	require.Len(t, lineEntities, 1)
	assert.Equal(t, entities[0].ID.String(), lineEntities[0].Values.String("order_id"))
	assert.Equal(t, product.ID.String(), lineEntities[0].Values.String("product_id"))
	assert.Equal(t, 2.0, lineEntities[0].Values["product_uom_qty"])

	// importing again updates the same lines
	_, err = env.Sync().ImportRecord(ctx, env.Backend.ID, magento.ModelSaleOrder, "100", true)
	require.NoError(t, err)
	assert.Len(t, env.Bindings.All(magento.ModelSaleOrderLine), 1)
	assert.Len(t, env.Entities.All(magento.InternalSaleOrder), 1)
}

func TestSaleOrderImport_Magento17UsesIncrementID(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, integration.Version17)
	product, _ := seed(t, env, magento.ModelProduct, magento.InternalProduct, "ABC123", "42",
		integration.Record{"default_code": "ABC123"}, nil)
	env.Remote.For(magento.ModelSaleOrder).Records["100000001"] = integration.Record{
		"order_id":     "7",
		"increment_id": "100000001",
		"items": []any{
			map[string]any{"item_id": "11", "product_id": "42", "sku": "ABC123", "qty_ordered": "1.0000"},
		},
	}

	_, err := env.Sync().ImportRecord(ctx, env.Backend.ID, magento.ModelSaleOrder, "100000001", false)
	require.NoError(t, err)

	order := env.Bindings.All(magento.ModelSaleOrder)[0]
	assert.Equal(t, "100000001", order.ExternalID)
	assert.Equal(t, "7", order.Value("magento_order_id"))
	lines := env.Entities.All(magento.InternalSaleOrderLine)
	require.Len(t, lines, 1)
	assert.Equal(t, product.ID.String(), lines[0].Values.String("product_id"))
	assert.Equal(t, 1.0, lines[0].Values["product_uom_qty"])
}

func TestSaleOrderImport_ImportsMissingProduct(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, integration.Version20)
	seedAttributeSet(t, env, "4")
	product := simpleProduct()
	product["attribute_set_id"] = float64(4)
	env.Remote.For(magento.ModelProduct).Records["ABC123"] = product
	env.Remote.For(magento.ModelSaleOrder).Records["100"] = magento2Order()

	_, err := env.Sync().ImportRecord(ctx, env.Backend.ID, magento.ModelSaleOrder, "100", false)
	require.NoError(t, err)

	products := env.Bindings.All(magento.ModelProduct)
	require.Len(t, products, 1)
	lines := env.Entities.All(magento.InternalSaleOrderLine)
	require.Len(t, lines, 1)
	assert.Equal(t, products[0].InternalID.String(), lines[0].Values.String("product_id"))
}

func TestSaleOrderImport_UnknownProduct(t *testing.T) {
	env := newEnv(t, integration.Version20)
	order := magento2Order()
	order["items"] = []any{map[string]any{"item_id": float64(1), "sku": "NOPE", "qty_ordered": float64(1)}}
	env.Remote.For(magento.ModelSaleOrder).Records["100"] = order

	_, err := env.Sync().ImportRecord(context.Background(), env.Backend.ID, magento.ModelSaleOrder, "100", false)

	var mappingErr *integration.MappingError
	require.True(t, errors.As(err, &mappingErr), "got %v", err)
	assert.Equal(t, magento.ModelProduct, mappingErr.Model)
	assert.Equal(t, "NOPE", mappingErr.ExternalID)
}

func TestSaleOrderImport_MissingIncrementID(t *testing.T) {
	env := newEnv(t, integration.Version20)
	env.Remote.For(magento.ModelSaleOrder).Records["100"] = integration.Record{"entity_id": float64(100)}

	_, err := env.Sync().ImportRecord(context.Background(), env.Backend.ID, magento.ModelSaleOrder, "100", false)

	var invalid *integration.InvalidDataError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Empty(t, env.Bindings.All(magento.ModelSaleOrder))
}
