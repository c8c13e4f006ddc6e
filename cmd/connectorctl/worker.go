package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/connectorhq/magento-connector/internal/infrastructure/auth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const stopTimeout = 30 * time.Second

func (c *cli) workerCmd() *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queued jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return c.withEnv(ctx, func(e *env) error {
				if e.app == nil {
					return errors.New("worker needs a database-backed connector")
				}
				cfg := e.app.Config
				log := e.app.Logger
				conn := e.app.Connector

				runner := conn.NewRunner(cfg.Jobs, e.app.Recorder(), log)
				if err := runner.Start(ctx); err != nil {
					return fmt.Errorf("start job runner: %w", err)
				}
				log.Info("Worker started",
					zap.Int("workers", cfg.Jobs.Workers),
					zap.Duration("poll_interval", cfg.Jobs.PollInterval),
				)

				stops := []func(context.Context) error{runner.Stop}
				if withScheduler {
					sched, err := conn.NewScheduler(&cfg.Scheduler, log)
					if err != nil {
						return errors.Join(err, runner.Stop(context.Background()))
					}
					if err := sched.Start(ctx); err != nil {
						return errors.Join(err, runner.Stop(context.Background()))
					}
					stops = append([]func(context.Context) error{sched.Stop}, stops...)
				}

				<-ctx.Done()
				log.Info("Worker stopping")

				stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				var errs []error
				for _, stop := range stops {
					errs = append(errs, stop(stopCtx))
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "also run the periodic batch imports")
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadFn()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			token, expiresAt, err := auth.NewJWTService(cfg.JWT).IssueToken(operator, ttl)
			if err != nil {
				return err
			}
			return c.print(struct {
				Token     string    `json:"token"`
				ExpiresAt time.Time `json:"expires_at"`
			}{token, expiresAt})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: jwt.token_expiration)")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}
