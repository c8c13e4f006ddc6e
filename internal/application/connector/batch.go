package connector

import (
	"context"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"go.uber.org/zap"
)

// BatchSummary reports the outcome of a batch import.
type BatchSummary struct {
	// Found is the number of ids returned by the search
	Found int `json:"found"`
	// Enqueued counts newly created import jobs
	Enqueued int `json:"enqueued"`
	// Deduplicated counts ids that collapsed into a pending job
	Deduplicated int `json:"deduplicated"`
	// Imported counts records imported inline
	Imported int `json:"imported"`
}

// String renders the summary as a job result.
func (s *BatchSummary) String() string {
	return fmt.Sprintf("%d records found, %d import jobs enqueued, %d deduplicated, %d imported",
		s.Found, s.Enqueued, s.Deduplicated, s.Imported)
}

// DelayedBatchImporter enqueues one import job per matching record.
type DelayedBatchImporter struct {
	work *Work
}

// NewDelayedBatchImporter creates a delayed batch importer.
func NewDelayedBatchImporter(w *Work) *DelayedBatchImporter {
	return &DelayedBatchImporter{work: w}
}

// Run searches the backend and enqueues the imports.
func (b *DelayedBatchImporter) Run(ctx context.Context, filters integration.Filters) (*BatchSummary, error) {
	ids, err := search(ctx, b.work, filters)
	if err != nil {
		return nil, err
	}
	summary := &BatchSummary{Found: len(ids)}
	for _, id := range ids {
		handle, err := b.work.DelayImport(ctx, id, false)
		if err != nil {
			return summary, fmt.Errorf("enqueue import of %s %s: %w", b.work.Model, id, err)
		}
		if handle.Deduplicated {
			summary.Deduplicated++
		} else {
			summary.Enqueued++
		}
	}
	b.work.Logger().Info("batch import delayed",
		zap.Int("found", summary.Found),
		zap.Int("enqueued", summary.Enqueued),
		zap.Int("deduplicated", summary.Deduplicated),
	)
	return summary, nil
}

// DirectBatchImporter imports every matching record inline, each one in its
// own transaction. Used for small reference tables (websites, store views).
type DirectBatchImporter struct {
	work *Work
}

// NewDirectBatchImporter creates a direct batch importer.
func NewDirectBatchImporter(w *Work) *DirectBatchImporter {
	return &DirectBatchImporter{work: w}
}

// Run searches the backend and imports every record.
func (b *DirectBatchImporter) Run(ctx context.Context, filters integration.Filters) (*BatchSummary, error) {
	ids, err := search(ctx, b.work, filters)
	if err != nil {
		return nil, err
	}
	importer, err := b.work.svc.Registry.Importer(b.work)
	if err != nil {
		return nil, err
	}
	summary := &BatchSummary{Found: len(ids)}
	for _, id := range ids {
		err := b.work.svc.withinTx(ctx, func(ctx context.Context) error {
			_, err := importer.Run(ctx, id, false)
			return err
		})
		if err != nil {
			return summary, fmt.Errorf("import %s %s: %w", b.work.Model, id, err)
		}
		summary.Imported++
	}
	return summary, nil
}

func search(ctx context.Context, w *Work, filters integration.Filters) ([]string, error) {
	adapter, err := w.Adapter()
	if err != nil {
		return nil, err
	}
	ids, err := adapter.Search(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", w.Model, err)
	}
	return ids, nil
}

var (
	_ BatchImporter = (*DelayedBatchImporter)(nil)
	_ BatchImporter = (*DirectBatchImporter)(nil)
)
