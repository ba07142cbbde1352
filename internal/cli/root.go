// Package cli wires the planforge commands onto the application container.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yungbote/planforge-backend/internal/app"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: app.NewViper()}

	root := &cobra.Command{
		Use:           "planforge",
		Short:         "Learning plan generation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "optional YAML config file")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newWorkerCmd(opts))
	root.AddCommand(newReconcileCmd(opts))
	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newScheduleCmd(opts))
	return root
}

func (o *rootOptions) load(ctx context.Context) (*app.App, error) {
	cfg, err := app.LoadConfig(o.v, o.configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run background generation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			a, err := opts.load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if migrate {
				if err := a.Migrate(); err != nil {
					return err
				}
			}
			return a.RunServer(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "run migrations before serving")
	cmd.Flags().String("addr", "", "listen address (default http.addr)")
	_ = opts.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker pool, or the Temporal worker when temporal.address is set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			a, err := opts.load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.RunWorker(ctx)
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fail generation attempts stuck in progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			a, err := opts.load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.Reconcile(ctx, staleAfter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d attempt(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "age after which an in-progress attempt is stale (default worker.stale_attempt)")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and generation indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	var userRaw string
	cmd := &cobra.Command{
		Use:   "schedule <plan-id>",
		Short: "Print a ready plan's session schedule as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid plan id: %w", err)
			}
			userID, err := uuid.Parse(userRaw)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			a, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			schedule, err := a.Services.Schedules.Get(dbctx.New(cmd.Context()), userID, planID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schedule)
		},
	}
	cmd.Flags().StringVar(&userRaw, "user", "", "owning user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
