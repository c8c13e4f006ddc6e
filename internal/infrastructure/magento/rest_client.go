package magento

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// remoteTimeFormat is the layout Magento uses for timestamps (UTC).
const remoteTimeFormat = "2006-01-02 15:04:05"

// RESTClient talks to the Magento 2 REST API with an integration access
// token. Paths are relative to rest/V1, or rest/<store code>/V1 when a store
// view is given.
type RESTClient struct {
	location   string
	token      string
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewRESTClient creates a client for a Magento 2 backend.
func NewRESTClient(backend *integration.Backend, cfg ClientConfig, logger *zap.Logger) (*RESTClient, error) {
	if err := validateBackend(backend); err != nil {
		return nil, err
	}
	if backend.Version != integration.Version20 {
		return nil, fmt.Errorf("%w: %s over REST", ErrConfigUnsupportedVersion, backend.Version)
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTClient{
		location:   strings.TrimRight(backend.Location, "/"),
		token:      backend.Token,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg),
		logger:     logger.With(zap.String("backend_id", backend.ID.String())),
	}, nil
}

func newLimiter(cfg ClientConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, cfg.Burst)
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
}

// Get reads path.
func (c *RESTClient) Get(ctx context.Context, path, storeview string, query url.Values) (any, error) {
	return c.Do(ctx, http.MethodGet, path, storeview, query, nil)
}

// Post sends body to path.
func (c *RESTClient) Post(ctx context.Context, path, storeview string, body any) (any, error) {
	return c.Do(ctx, http.MethodPost, path, storeview, nil, body)
}

// Put sends body to path.
func (c *RESTClient) Put(ctx context.Context, path, storeview string, body any) (any, error) {
	return c.Do(ctx, http.MethodPut, path, storeview, nil, body)
}

// Delete deletes path.
func (c *RESTClient) Delete(ctx context.Context, path string) (any, error) {
	return c.Do(ctx, http.MethodDelete, path, "", nil, nil)
}

// Call performs a raw request. method is "<HTTP verb> <path>", e.g.
// "POST order/12/ship", and args the JSON body.
func (c *RESTClient) Call(ctx context.Context, method string, args any) (any, error) {
	verb, path, ok := strings.Cut(method, " ")
	if !ok {
		verb, path = http.MethodGet, method
	}
	return c.Do(ctx, strings.ToUpper(verb), path, "", nil, args)
}

// Do performs one request and decodes the JSON answer. A 404 yields
// ErrIDMissingInBackend, other failures a RemoteFault carrying the Magento
// error message.
func (c *RESTClient) Do(ctx context.Context, method, path, storeview string, query url.Values, body any) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("magento: rate limiter: %w", err)
	}

	endpoint := c.endpoint(path, storeview)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("magento: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("magento: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("magento: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("magento: failed to read response: %w", err)
	}
	c.logger.Debug("magento request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", integration.ErrIDMissingInBackend, errorMessage(raw, path))
	}
	if resp.StatusCode >= 400 {
		return nil, &integration.RemoteFault{Code: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("magento: failed to parse response: %w", err)
	}
	return out, nil
}

func (c *RESTClient) endpoint(path, storeview string) string {
	prefix := c.location + "/rest/V1/"
	if storeview != "" {
		prefix = c.location + "/rest/" + url.PathEscape(storeview) + "/V1/"
	}
	return prefix + strings.TrimLeft(path, "/")
}

// Search pages through a searchCriteria collection and returns the value
// of key for every item.
func (c *RESTClient) Search(ctx context.Context, path, key string, filters integration.Filters) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		query := SearchCriteria(filters)
		query.Set("searchCriteria[pageSize]", strconv.Itoa(c.cfg.PageSize))
		query.Set("searchCriteria[currentPage]", strconv.Itoa(page))

		res, err := c.Get(ctx, path, "", query)
		if err != nil {
			return nil, err
		}
		items, total := searchItems(res)
		for _, item := range items {
			if id := integration.AsString(item[key]); id != "" {
				ids = append(ids, id)
			}
		}
		// Magento repeats the last page once currentPage runs past the end
		if len(items) < c.cfg.PageSize || len(ids) >= total {
			return ids, nil
		}
	}
}

// searchItems reads a search result: either {"items": [...], "total_count"}
// or a bare list.
func searchItems(res any) ([]integration.Record, int) {
	switch val := res.(type) {
	case map[string]any:
		items := asRecords(val["items"])
		total, ok := val["total_count"].(float64)
		if !ok {
			return items, len(items)
		}
		return items, int(total)
	case []any:
		items := asRecords(val)
		return items, len(items)
	default:
		return nil, 0
	}
}

func asRecords(v any) []integration.Record {
	list, _ := v.([]any)
	out := make([]integration.Record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, integration.Record(m))
		}
	}
	return out
}

// SearchCriteria encodes filters as a Magento searchCriteria query. Each
// condition gets its own filter group, so they are ANDed.
func SearchCriteria(filters integration.Filters) url.Values {
	query := url.Values{}
	group := 0
	add := func(field, value, condition string) {
		prefix := fmt.Sprintf("searchCriteria[filter_groups][%d][filters][0]", group)
		query.Set(prefix+"[field]", field)
		query.Set(prefix+"[value]", value)
		query.Set(prefix+"[condition_type]", condition)
		group++
	}
	if filters.From != nil {
		add("updated_at", filters.From.UTC().Format(remoteTimeFormat), "gteq")
	}
	if filters.To != nil {
		add("updated_at", filters.To.UTC().Format(remoteTimeFormat), "lteq")
	}
	for _, field := range sortedKeys(filters.Fields) {
		add(field, filters.Fields[field], "eq")
	}
	return query
}

// errorMessage renders a Magento error body, whose message holds %1 or
// %name placeholders filled from parameters.
func errorMessage(raw []byte, fallback string) string {
	body := gjson.ParseBytes(raw)
	msg := body.Get("message").String()
	if msg == "" {
		return fallback
	}
	params := body.Get("parameters")
	switch {
	case params.IsArray():
		for i, p := range params.Array() {
			msg = strings.ReplaceAll(msg, "%"+strconv.Itoa(i+1), p.String())
		}
	case params.IsObject():
		params.ForEach(func(k, v gjson.Result) bool {
			msg = strings.ReplaceAll(msg, "%"+k.String(), v.String())
			return true
		})
	}
	return msg
}
