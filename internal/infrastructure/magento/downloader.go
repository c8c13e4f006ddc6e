package magento

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// MediaDownloader fetches product media files over plain HTTP.
type MediaDownloader struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxSize    int64
}

// NewMediaDownloader creates a downloader sharing the client settings.
func NewMediaDownloader(cfg ClientConfig) *MediaDownloader {
	cfg = cfg.withDefaults()
	return &MediaDownloader{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg),
		maxSize:    cfg.MaxResponseSize,
	}
}

// Fetch downloads url and returns its body and content type.
func (d *MediaDownloader) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("magento: rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("magento: failed to create request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("magento: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return nil, "", fmt.Errorf("%w: media %s", integration.ErrIDMissingInBackend, url)
	}
	if resp.StatusCode >= 400 {
		return nil, "", &integration.RemoteFault{Code: resp.StatusCode, Message: resp.Status}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize))
	if err != nil {
		return nil, "", fmt.Errorf("magento: failed to read media: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
