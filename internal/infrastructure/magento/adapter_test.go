package magento

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmagento "github.com/connectorhq/magento-connector/internal/application/magento"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// restRequest is one request seen by the fake Magento 2 server.
type restRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

type fakeMagento2 struct {
	t      *testing.T
	mu     sync.Mutex
	seen   []restRequest
	routes map[string]func(body map[string]any) (int, any)
}

func (f *fakeMagento2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.ContentLength > 0 {
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	}
	f.mu.Lock()
	f.seen = append(f.seen, restRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	f.mu.Unlock()

	route, ok := f.routes[r.Method+" "+r.URL.Path]
	if !ok {
		writeJSON(f.t, w, http.StatusNotFound, map[string]any{"message": "Request does not match any route."})
		return
	}
	status, payload := route(body)
	writeJSON(f.t, w, status, payload)
}

func (f *fakeMagento2) last() restRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.seen)
	return f.seen[len(f.seen)-1]
}

func newMagento2Adapter(t *testing.T, model string, routes map[string]func(map[string]any) (int, any)) (*ResourceAdapter, *fakeMagento2) {
	t.Helper()
	fake := &fakeMagento2{t: t, routes: routes}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	provider := NewAdapterProvider(ClientConfig{}, nil)
	adapter, err := provider.Adapter(newBackend(t, integration.Version20, server.URL), model)
	require.NoError(t, err)
	return adapter.(*ResourceAdapter), fake
}

func reply(status int, payload any) func(map[string]any) (int, any) {
	return func(map[string]any) (int, any) { return status, payload }
}

func TestResourceAdapter_Magento2Product(t *testing.T) {
	adapter, fake := newMagento2Adapter(t, appmagento.ModelProduct, map[string]func(map[string]any) (int, any){
		"GET /rest/V1/products/ABC123":  reply(http.StatusOK, map[string]any{"id": 42, "sku": "ABC123", "name": "Mug"}),
		"POST /rest/V1/products":        reply(http.StatusOK, map[string]any{"id": 43, "sku": "NEW-1"}),
		"PUT /rest/V1/products/ABC123":  reply(http.StatusOK, map[string]any{"id": 42, "sku": "ABC123", "name": "Big mug"}),
		"DELETE /rest/V1/products/OLD1": reply(http.StatusOK, true),
	})
	ctx := context.Background()

	record, err := adapter.Read(ctx, "ABC123", nil)
	require.NoError(t, err)
	assert.Equal(t, "Mug", record.String("name"))

	id, err := adapter.Create(ctx, integration.Record{"sku": "NEW-1", "name": "Plate"})
	require.NoError(t, err)
	assert.Equal(t, "43", id)
	assert.Equal(t, map[string]any{"product": map[string]any{"sku": "NEW-1", "name": "Plate"}}, fake.last().Body)

	updated, err := adapter.Update(ctx, "ABC123", integration.Record{"name": "Big mug"})
	require.NoError(t, err)
	assert.Equal(t, "Big mug", updated.String("name"))

	require.NoError(t, adapter.Delete(ctx, "OLD1"))

	_, err = adapter.Read(ctx, "MISSING", nil)
	assert.ErrorIs(t, err, integration.ErrIDMissingInBackend)
}

func TestResourceAdapter_Magento2CreateWithoutID(t *testing.T) {
	adapter, _ := newMagento2Adapter(t, appmagento.ModelCategory, map[string]func(map[string]any) (int, any){
		"POST /rest/V1/categories": reply(http.StatusOK, map[string]any{"name": "Mugs"}),
	})

	_, err := adapter.Create(context.Background(), integration.Record{"name": "Mugs"})
	assert.ErrorIs(t, err, integration.ErrEmptyCreateResult)
}

func TestResourceAdapter_Magento2StockItem(t *testing.T) {
	adapter, fake := newMagento2Adapter(t, appmagento.ModelStockItem, map[string]func(map[string]any) (int, any){
		"GET /rest/V1/stockItems/ABC123":            reply(http.StatusOK, map[string]any{"item_id": 7, "qty": 3}),
		"PUT /rest/V1/products/ABC123/stockItems/7": reply(http.StatusOK, 7),
		"PUT /rest/V1/products/ABC123/stockItems/1": reply(http.StatusOK, 1),
		"GET /rest/V1/stockItems/lowStock":          reply(http.StatusOK, map[string]any{"items": []any{map[string]any{"item_id": 7}}, "total_count": 1}),
	})
	ctx := context.Background()

	record, err := adapter.Read(ctx, "ABC123", nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, record["qty"])

	// the write path carries the item id of the payload
	res, err := adapter.Update(ctx, "ABC123", integration.Record{"item_id": "7", "qty": 5.0})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "/rest/V1/products/ABC123/stockItems/7", fake.last().Path)
	assert.Equal(t, map[string]any{"item_id": "7", "qty": 5.0}, fake.last().Body["stockItem"])

	require.NoError(t, adapter.UpdateInventory(ctx, "ABC123", integration.Record{"qty": 2.0, "is_in_stock": 1}))
	assert.Equal(t, "/rest/V1/products/ABC123/stockItems/1", fake.last().Path)

	ids, err := adapter.Search(ctx, integration.Filters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, ids)
}

func TestResourceAdapter_Magento2Shipment(t *testing.T) {
	adapter, fake := newMagento2Adapter(t, appmagento.ModelPicking, map[string]func(map[string]any) (int, any){
		"POST /rest/V1/order/100/ship": reply(http.StatusOK, "55"),
	})

	id, err := adapter.CreateShipment(context.Background(), integration.ShipmentRequest{
		OrderID:    "100",
		Items:      map[string]float64{"12": 1, "3": 2.5},
		Comment:    "Shipped from Lyon",
		Notify:     true,
		Tracks:     []integration.ShipmentTrack{{Number: "TRK1", Title: "UPS", CarrierCode: "ups"}},
		SourceCode: "src-a",
	})
	require.NoError(t, err)
	assert.Equal(t, "55", id)

	body := fake.last().Body
	assert.Equal(t, true, body["notify"])
	assert.Equal(t, true, body["appendComment"])
	assert.Equal(t, []any{
		map[string]any{"order_item_id": 12.0, "qty": 1.0},
		map[string]any{"order_item_id": 3.0, "qty": 2.5},
	}, body["items"])
	assert.Equal(t, []any{
		map[string]any{"track_number": "TRK1", "title": "UPS", "carrier_code": "ups"},
	}, body["tracks"])
	assert.Equal(t, map[string]any{
		"extension_attributes": map[string]any{"source_code": "src-a"},
	}, body["arguments"])
}

func TestResourceAdapter_Magento2Storeviews(t *testing.T) {
	adapter, _ := newMagento2Adapter(t, appmagento.ModelStoreview, map[string]func(map[string]any) (int, any){
		"GET /rest/V1/store/storeViews": reply(http.StatusOK, []any{
			map[string]any{"id": 0, "code": "admin", "website_id": 0},
			map[string]any{"id": 1, "code": "default", "website_id": 1},
			map[string]any{"id": 2, "code": "fr", "website_id": 1},
		}),
		"GET /rest/V1/store/storeConfigs": reply(http.StatusOK, []any{
			map[string]any{"id": 1, "code": "default", "locale": "en_US"},
			map[string]any{"id": 2, "code": "fr", "locale": "fr_FR"},
		}),
	})
	ctx := context.Background()

	ids, err := adapter.Search(ctx, integration.Filters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	record, err := adapter.Read(ctx, "2", nil)
	require.NoError(t, err)
	assert.Equal(t, "fr", record.String("code"))
	assert.Equal(t, "fr_FR", record.String("locale"))

	_, err = adapter.Read(ctx, "9", nil)
	assert.ErrorIs(t, err, integration.ErrIDMissingInBackend)
}

func TestAdapterProvider_Errors(t *testing.T) {
	provider := NewAdapterProvider(ClientConfig{}, nil)

	_, err := provider.Adapter(newBackend(t, integration.Version20, "https://shop.example.com"), appmagento.ModelSaleOrderLine)
	assert.ErrorIs(t, err, integration.ErrComponentNotFound)

	_, err = provider.Adapter(newBackend(t, integration.Version17, "https://shop.example.com"), appmagento.ModelWarehouse)
	assert.ErrorIs(t, err, integration.ErrCapabilityMissing)

	backend := newBackend(t, integration.Version20, "https://shop.example.com")
	backend.Token = ""
	_, err = provider.Adapter(backend, appmagento.ModelProduct)
	assert.ErrorIs(t, err, ErrConfigMissingToken)
}

func TestAdapterProvider_SharesClients(t *testing.T) {
	provider := NewAdapterProvider(ClientConfig{}, nil)
	backend := newBackend(t, integration.Version20, "https://shop.example.com")

	first, err := provider.Adapter(backend, appmagento.ModelProduct)
	require.NoError(t, err)
	second, err := provider.Adapter(backend, appmagento.ModelCategory)
	require.NoError(t, err)
	assert.Same(t, first.(*ResourceAdapter).rest, second.(*ResourceAdapter).rest)

	// new credentials build a new client
	backend.Token = "rotated"
	third, err := provider.Adapter(backend, appmagento.ModelProduct)
	require.NoError(t, err)
	assert.NotSame(t, first.(*ResourceAdapter).rest, third.(*ResourceAdapter).rest)
}

type v1Call struct {
	Method string
	Args   []any
}

func newMagento1Adapter(t *testing.T, model string, handle func(method string, args []any) string) (*ResourceAdapter, *[]v1Call) {
	t.Helper()
	var calls []v1Call
	_, backend := newFakeMagento1(t, func(method string, args []any) string {
		calls = append(calls, v1Call{Method: method, Args: args})
		return handle(method, args)
	})
	adapter, err := NewAdapterProvider(ClientConfig{}, nil).Adapter(backend, model)
	require.NoError(t, err)
	return adapter.(*ResourceAdapter), &calls
}

func TestResourceAdapter_Magento17Product(t *testing.T) {
	adapter, calls := newMagento1Adapter(t, appmagento.ModelProduct, func(method string, args []any) string {
		switch method {
		case "catalog_product.create":
			return response("<int>55</int>")
		case "catalog_product.info":
			if args[0] == "404" {
				return faultResponse(FaultProductNotExists, "Product not exists.")
			}
			return response("<struct><member><name>product_id</name><value><string>55</string></value></member></struct>")
		case "catalog_product.update":
			return response("<boolean>1</boolean>")
		case "catalog_product.list":
			return response("<array><data><value><struct>" +
				"<member><name>product_id</name><value><string>55</string></value></member>" +
				"</struct></value></data></array>")
		}
		return faultResponse(1, "unexpected "+method)
	})
	ctx := context.Background()

	id, err := adapter.Create(ctx, integration.Record{"type_id": "simple", "attribute_set_id": "4", "sku": "MUG-1", "name": "Mug"})
	require.NoError(t, err)
	assert.Equal(t, "55", id)
	assert.Equal(t, []any{"simple", "4", "MUG-1", map[string]any{
		"type_id": "simple", "attribute_set_id": "4", "sku": "MUG-1", "name": "Mug",
	}}, (*calls)[0].Args)

	_, err = adapter.ReadStoreview(ctx, "55", "2", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"55", "2", "", "id"}, (*calls)[1].Args)

	_, err = adapter.Read(ctx, "404", nil)
	assert.ErrorIs(t, err, integration.ErrIDMissingInBackend)

	data := integration.Record{"name": "Big mug"}
	updated, err := adapter.Update(ctx, "55", data)
	require.NoError(t, err)
	assert.Equal(t, data, updated)
	assert.Equal(t, []any{"55", map[string]any{"name": "Big mug"}, "", "id"}, (*calls)[3].Args)

	from := time.Date(2024, 2, 1, 8, 30, 0, 0, time.UTC)
	ids, err := adapter.Search(ctx, integration.Filters{From: &from, Fields: map[string]string{"type_id": "simple"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"55"}, ids)
	assert.Equal(t, []any{map[string]any{
		"updated_at": map[string]any{"from": "2024-02-01 08:30:00"},
		"type_id":    map[string]any{"eq": "simple"},
	}}, (*calls)[4].Args)
}

func TestResourceAdapter_Magento17Shipment(t *testing.T) {
	adapter, calls := newMagento1Adapter(t, appmagento.ModelPicking, func(method string, _ []any) string {
		switch method {
		case "sales_order_shipment.create":
			return response("<string>200000001</string>")
		case "sales_order_shipment.addTrack":
			return response("<int>9</int>")
		}
		return faultResponse(1, "unexpected "+method)
	})

	id, err := adapter.CreateShipment(context.Background(), integration.ShipmentRequest{
		OrderID: "100000001",
		Items:   map[string]float64{"1": 2},
		Tracks:  []integration.ShipmentTrack{{Number: "TRK1", Title: "UPS", CarrierCode: "ups"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "200000001", id)
	require.Len(t, *calls, 2)
	assert.Equal(t, []any{"100000001", map[string]any{"1": 2.0}, "", false, false}, (*calls)[0].Args)
	assert.Equal(t, []any{"200000001", "ups", "UPS", "TRK1"}, (*calls)[1].Args)
}
