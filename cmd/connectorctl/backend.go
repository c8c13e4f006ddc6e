package main

import (
	appintegration "github.com/connectorhq/magento-connector/internal/application/integration"
	"github.com/spf13/cobra"
)

func (c *cli) backendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Manage Magento backends",
	}
	cmd.AddCommand(c.backendAddCmd(), c.backendListCmd())
	return cmd
}

func (c *cli) backendAddCmd() *cobra.Command {
	var req appintegration.CreateBackendRequest
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a Magento backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEnv(cmd.Context(), func(e *env) error {
				b, err := e.backends.Create(cmd.Context(), req)
				if err != nil {
					return err
				}
				return c.print(appintegration.ToBackendResponse(b))
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "unique backend name")
	f.StringVar(&req.Version, "version", "2.0", "Magento version (1.7 or 2.0)")
	f.StringVar(&req.Location, "location", "", "base URL of the shop")
	f.StringVar(&req.Username, "username", "", "API user (Magento 1.7)")
	f.StringVar(&req.Password, "password", "", "API key (Magento 1.7)")
	f.StringVar(&req.Token, "token", "", "integration access token (Magento 2)")
	f.StringVar(&req.SyncStrategy, "sync-strategy", "", "magento_first or odoo_first")
	f.StringVar(&req.StockField, "stock-field", "", "internal field exported as stock quantity")
	f.StringVar(&req.DefaultLang, "default-lang", "", "language of untranslated fields")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func (c *cli) backendListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEnv(cmd.Context(), func(e *env) error {
				backends, err := e.backends.List(cmd.Context(), activeOnly)
				if err != nil {
					return err
				}
				return c.print(appintegration.ToBackendResponses(backends))
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only list active backends")
	return cmd
}
