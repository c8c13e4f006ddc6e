package magento

import (
	"errors"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// defaultMaxResponseSize caps a response body read from Magento (10MB).
const defaultMaxResponseSize = 10 * 1024 * 1024

// ClientConfig tunes the HTTP side of the Magento clients.
type ClientConfig struct {
	// Timeout is the per-request HTTP timeout
	Timeout time.Duration
	// RateLimit is the number of requests per second sent to one backend;
	// zero disables throttling
	RateLimit float64
	// Burst is the number of requests allowed above RateLimit
	Burst int
	// MaxResponseSize caps the bytes read from one response
	MaxResponseSize int64
	// PageSize is the searchCriteria page size used by REST searches
	PageSize int
}

// Errors for client configuration
var (
	ErrConfigMissingLocation    = errors.New("magento: backend location is required")
	ErrConfigMissingToken       = errors.New("magento: access token is required for Magento 2")
	ErrConfigMissingCredentials = errors.New("magento: api username and key are required for Magento 1.7")
	ErrConfigUnsupportedVersion = errors.New("magento: unsupported version")
)

// DefaultClientConfig returns the settings used when none are configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:         30 * time.Second,
		RateLimit:       10,
		Burst:           5,
		MaxResponseSize: defaultMaxResponseSize,
		PageSize:        100,
	}
}

// withDefaults fills zero values from DefaultClientConfig.
func (c ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = def.MaxResponseSize
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	return c
}

// validateBackend checks that backend carries the credentials its
// version needs.
func validateBackend(backend *integration.Backend) error {
	if backend.Location == "" {
		return ErrConfigMissingLocation
	}
	switch backend.Version {
	case integration.Version20:
		if backend.Token == "" {
			return ErrConfigMissingToken
		}
	case integration.Version17:
		if backend.Username == "" || backend.Password == "" {
			return ErrConfigMissingCredentials
		}
	default:
		return ErrConfigUnsupportedVersion
	}
	return nil
}
