package connector

import (
	"context"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
)

// Dispatcher runs a deferred job by calling the matching SyncService
// operation with the job's arguments.
type Dispatcher struct {
	sync *SyncService
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(sync *SyncService) *Dispatcher {
	return &Dispatcher{sync: sync}
}

// Dispatch executes job and returns its result message.
func (d *Dispatcher) Dispatch(ctx context.Context, job *integration.Job) (string, error) {
	args := job.Args
	switch job.Operation {
	case integration.OperationImportBatch:
		backendID, err := argUUID(args, "backend_id")
		if err != nil {
			return "", err
		}
		summary, err := d.sync.ImportBatch(ctx, backendID, args.String("model"), integration.Filters{})
		if err != nil {
			return "", err
		}
		return summary.String(), nil

	case integration.OperationImportRecord:
		backendID, err := argUUID(args, "backend_id")
		if err != nil {
			return "", err
		}
		return d.sync.ImportRecord(ctx, backendID, args.String("model"), args.String("external_id"), BoolValue(args["force"]))

	case integration.OperationExportRecord:
		bindingID, err := argUUID(args, "binding_id")
		if err != nil {
			return "", err
		}
		return d.sync.ExportRecord(ctx, bindingID, argStrings(args, "fields"))

	case integration.OperationExportInventory:
		bindingID, err := argUUID(args, "binding_id")
		if err != nil {
			return "", err
		}
		return d.sync.ExportInventory(ctx, bindingID, argStrings(args, "fields"))

	case integration.OperationExportDeleteRecord:
		backendID, err := argUUID(args, "backend_id")
		if err != nil {
			return "", err
		}
		return d.sync.ExportDeleteRecord(ctx, backendID, args.String("model"), args.String("external_id"))

	default:
		return "", fmt.Errorf("%w: %s", integration.ErrUnknownOperation, job.Operation)
	}
}

func argUUID(args integration.Record, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(args.String(key))
	if err != nil {
		return uuid.Nil, &integration.InvalidDataError{Reason: fmt.Sprintf("job argument %s: %v", key, err)}
	}
	return id, nil
}

// argStrings reads a string list; decoded JSON arguments arrive as []any.
func argStrings(args integration.Record, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, integration.AsString(item))
		}
		return out
	default:
		return nil
	}
}
