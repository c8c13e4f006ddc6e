package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Deleter removes a record from the backend.
type Deleter struct {
	work *Work
}

// NewDeleter creates a deleter.
func NewDeleter(w *Work) *Deleter {
	return &Deleter{work: w}
}

// Run deletes externalID remotely.
func (d *Deleter) Run(ctx context.Context, externalID string) (string, error) {
	if externalID == "" {
		return "", fmt.Errorf("delete %s: empty external id", d.work.Model)
	}
	adapter, err := d.work.Adapter()
	if err != nil {
		return "", err
	}
	if err := adapter.Delete(ctx, externalID); err != nil {
		return "", err
	}
	d.work.Logger().Info("record deleted on backend", zap.String("external_id", externalID))
	return fmt.Sprintf("Record %s deleted on Magento", externalID), nil
}

var _ RecordDeleter = (*Deleter)(nil)
