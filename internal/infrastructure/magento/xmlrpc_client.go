package magento

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// Magento 1.x API fault codes.
const (
	// FaultSessionExpired asks the client to log in again
	FaultSessionExpired = 5
	// FaultNotExists is raised by most resources when the id is unknown
	FaultNotExists = 100
	// FaultProductNotExists is raised by catalog_product and stock items
	FaultProductNotExists = 101
	// FaultCategoryNotExists is raised by catalog_category
	FaultCategoryNotExists = 102
)

// XMLRPCClient talks to the Magento 1.x API at /index.php/api/xmlrpc. It
// logs in lazily and logs in again once when the session expires.
type XMLRPCClient struct {
	endpoint   string
	username   string
	password   string
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu      sync.Mutex
	session string
}

// NewXMLRPCClient creates a client for a Magento 1.7 backend.
func NewXMLRPCClient(backend *integration.Backend, cfg ClientConfig, logger *zap.Logger) (*XMLRPCClient, error) {
	if err := validateBackend(backend); err != nil {
		return nil, err
	}
	if backend.Version != integration.Version17 {
		return nil, fmt.Errorf("%w: %s over XML-RPC", ErrConfigUnsupportedVersion, backend.Version)
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XMLRPCClient{
		endpoint:   strings.TrimRight(backend.Location, "/") + "/index.php/api/xmlrpc",
		username:   backend.Username,
		password:   backend.Password,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg),
		logger:     logger.With(zap.String("backend_id", backend.ID.String())),
	}, nil
}

// Call runs an API method, e.g. "catalog_product.info". args is the
// positional argument list; a single non-slice value is sent as the only
// argument.
func (c *XMLRPCClient) Call(ctx context.Context, method string, args any) (any, error) {
	switch args.(type) {
	case nil:
		args = []any{}
	case []any:
	default:
		args = []any{args}
	}
	session, err := c.login(ctx, false)
	if err != nil {
		return nil, err
	}
	res, err := c.invoke(ctx, "call", session, method, args)
	var fault *integration.RemoteFault
	if errors.As(err, &fault) && fault.Code == FaultSessionExpired {
		c.logger.Info("magento session expired, logging in again")
		if session, err = c.login(ctx, true); err != nil {
			return nil, err
		}
		res, err = c.invoke(ctx, "call", session, method, args)
	}
	if err != nil {
		return nil, fmt.Errorf("magento: %s: %w", method, err)
	}
	return res, nil
}

func (c *XMLRPCClient) login(ctx context.Context, renew bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != "" && !renew {
		return c.session, nil
	}
	res, err := c.invoke(ctx, "login", c.username, c.password)
	if err != nil {
		return "", fmt.Errorf("magento: login: %w", err)
	}
	session := integration.AsString(res)
	if session == "" {
		return "", errors.New("magento: login returned no session")
	}
	c.session = session
	return session, nil
}

func (c *XMLRPCClient) invoke(ctx context.Context, method string, params ...any) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("magento: rate limiter: %w", err)
	}
	payload, err := encodeCall(method, params...)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("magento: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("magento: failed to read response: %w", err)
	}
	c.logger.Debug("magento call",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode >= 400 {
		return nil, &integration.RemoteFault{Code: resp.StatusCode, Message: resp.Status}
	}
	return decodeResponse(raw)
}
