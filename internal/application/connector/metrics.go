package connector

import "context"

// Outcomes reported to a Recorder.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Recorder receives synchronization counters. telemetry.SyncMetrics
// implements it.
type Recorder interface {
	RecordImport(ctx context.Context, model, outcome string)
	RecordExport(ctx context.Context, model, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordImport(context.Context, string, string) {}
func (nopRecorder) RecordExport(context.Context, string, string) {}
