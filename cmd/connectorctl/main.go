// Command connectorctl drives the Magento connector from a terminal: it
// triggers imports and exports, registers backends and runs a job worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	appintegration "github.com/connectorhq/magento-connector/internal/application/integration"
	"github.com/connectorhq/magento-connector/internal/bootstrap"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Syncer triggers synchronizations inline or through the job queue.
type Syncer interface {
	ImportBatch(ctx context.Context, backendID uuid.UUID, model string, filters integration.Filters) (*connector.BatchSummary, error)
	ImportRecord(ctx context.Context, backendID uuid.UUID, model, externalID string, force bool) (string, error)
	ExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string) (string, error)
	ExportInventory(ctx context.Context, bindingID uuid.UUID, fields []string) (string, error)
	ExportDeleteRecord(ctx context.Context, backendID uuid.UUID, model, externalID string) (string, error)

	DelayImportBatch(ctx context.Context, backendID uuid.UUID, model string) (*integration.JobHandle, error)
	DelayImportRecord(ctx context.Context, backendID uuid.UUID, model, externalID string, force bool) (*integration.JobHandle, error)
	DelayExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string) (*integration.JobHandle, error)
	DelayExportInventory(ctx context.Context, bindingID uuid.UUID) (*integration.JobHandle, error)
	DelayExportDeleteRecord(ctx context.Context, backendID uuid.UUID, model, externalID string) (*integration.JobHandle, error)
}

// BackendManager registers and lists Magento backends.
type BackendManager interface {
	Create(ctx context.Context, req appintegration.CreateBackendRequest) (*integration.Backend, error)
	List(ctx context.Context, activeOnly bool) ([]*integration.Backend, error)
}

// env is what the commands operate on once the connector is up.
type env struct {
	sync     Syncer
	backends BackendManager
	app      *bootstrap.App
	close    func() error
}

// cli carries the state shared by the commands.
type cli struct {
	out    io.Writer
	loadFn func() (*config.Config, error)
	openFn func(ctx context.Context, cfg *config.Config) (*env, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{out: os.Stdout, loadFn: config.Load, openFn: openEnv}
	if err := c.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "connectorctl",
		Short:         "Operate the Magento connector",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)
	root.AddCommand(
		c.importBatchCmd(),
		c.importRecordCmd(),
		c.exportRecordCmd(),
		c.exportDeleteCmd(),
		c.backendCmd(),
		c.workerCmd(),
		c.tokenCmd(),
	)
	return root
}

// withEnv loads the configuration, opens the connector and runs fn.
func (c *cli) withEnv(ctx context.Context, fn func(*env) error) error {
	cfg, err := c.loadFn()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	e, err := c.openFn(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = e.close() }()
	return fn(e)
}

func openEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize connector: %w", err)
	}
	return &env{
		sync:     app.Connector.Sync,
		backends: appintegration.NewBackendService(app.Connector.Services.Backends, app.Logger),
		app:      app,
		close:    func() error { return app.Close(context.Background()) },
	}, nil
}

// print writes v as indented JSON.
func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: must be a UUID", kind, raw)
	}
	return id, nil
}
