package main

import (
	appintegration "github.com/connectorhq/magento-connector/internal/application/integration"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/spf13/cobra"
)

// result is printed by the inline variants of the sync commands
type result struct {
	Result string `json:"result"`
}

func (c *cli) handle(h *integration.JobHandle) error {
	return c.print(appintegration.ToJobHandleResponse(h))
}

func (c *cli) importBatchCmd() *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "import-batch BACKEND_ID MODEL",
		Short: "Import the records of MODEL changed since the last batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backendID, err := parseID("backend id", args[0])
			if err != nil {
				return err
			}
			model := args[1]
			return c.withEnv(cmd.Context(), func(e *env) error {
				if now {
					summary, err := e.sync.ImportBatch(cmd.Context(), backendID, model, integration.Filters{})
					if err != nil {
						return err
					}
					return c.print(summary)
				}
				h, err := e.sync.DelayImportBatch(cmd.Context(), backendID, model)
				if err != nil {
					return err
				}
				return c.handle(h)
			})
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "run the batch inline instead of enqueuing a job")
	return cmd
}

func (c *cli) importRecordCmd() *cobra.Command {
	var now, force bool
	cmd := &cobra.Command{
		Use:   "import-record BACKEND_ID MODEL EXTERNAL_ID",
		Short: "Import one Magento record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			backendID, err := parseID("backend id", args[0])
			if err != nil {
				return err
			}
			model, externalID := args[1], args[2]
			return c.withEnv(cmd.Context(), func(e *env) error {
				if now {
					res, err := e.sync.ImportRecord(cmd.Context(), backendID, model, externalID, force)
					if err != nil {
						return err
					}
					return c.print(result{Result: res})
				}
				h, err := e.sync.DelayImportRecord(cmd.Context(), backendID, model, externalID, force)
				if err != nil {
					return err
				}
				return c.handle(h)
			})
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "import inline instead of enqueuing a job")
	cmd.Flags().BoolVar(&force, "force", false, "import even when the binding is up to date")
	return cmd
}

func (c *cli) exportRecordCmd() *cobra.Command {
	var (
		now       bool
		inventory bool
		fields    []string
	)
	cmd := &cobra.Command{
		Use:   "export-record BINDING_ID",
		Short: "Export the record wrapped by a binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindingID, err := parseID("binding id", args[0])
			if err != nil {
				return err
			}
			return c.withEnv(cmd.Context(), func(e *env) error {
				ctx := cmd.Context()
				switch {
				case now && inventory:
					res, err := e.sync.ExportInventory(ctx, bindingID, fields)
					if err != nil {
						return err
					}
					return c.print(result{Result: res})
				case now:
					res, err := e.sync.ExportRecord(ctx, bindingID, fields)
					if err != nil {
						return err
					}
					return c.print(result{Result: res})
				case inventory:
					h, err := e.sync.DelayExportInventory(ctx, bindingID)
					if err != nil {
						return err
					}
					return c.handle(h)
				default:
					h, err := e.sync.DelayExportRecord(ctx, bindingID, fields)
					if err != nil {
						return err
					}
					return c.handle(h)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "export inline instead of enqueuing a job")
	cmd.Flags().BoolVar(&inventory, "inventory", false, "export the stock quantity only")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "restrict the export to these fields")
	return cmd
}

func (c *cli) exportDeleteCmd() *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "export-delete BACKEND_ID MODEL EXTERNAL_ID",
		Short: "Delete a record in Magento",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			backendID, err := parseID("backend id", args[0])
			if err != nil {
				return err
			}
			model, externalID := args[1], args[2]
			return c.withEnv(cmd.Context(), func(e *env) error {
				if now {
					res, err := e.sync.ExportDeleteRecord(cmd.Context(), backendID, model, externalID)
					if err != nil {
						return err
					}
					return c.print(result{Result: res})
				}
				h, err := e.sync.DelayExportDeleteRecord(cmd.Context(), backendID, model, externalID)
				if err != nil {
					return err
				}
				return c.handle(h)
			})
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "delete inline instead of enqueuing a job")
	return cmd
}
