package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/churn"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/credit"
	"github.com/railzwaylabs/paygate/internal/metrics"
	"github.com/railzwaylabs/paygate/internal/migration"
	"github.com/railzwaylabs/paygate/internal/notification"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/orglock"
	"github.com/railzwaylabs/paygate/internal/organization"
	"github.com/railzwaylabs/paygate/internal/payment"
	"github.com/railzwaylabs/paygate/internal/redis"
	"github.com/railzwaylabs/paygate/internal/scheduler"
	"github.com/railzwaylabs/paygate/internal/server"
	"github.com/railzwaylabs/paygate/internal/subscription"
	"github.com/railzwaylabs/paygate/internal/webhook"
	"github.com/railzwaylabs/paygate/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "paygate",
		Short:   "Paygate billing webhook engine",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newSchedulerCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(append(coreModules(), server.Module)...).Run()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(append(coreModules(), scheduler.Module)...).Run()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then the server and scheduler together",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			fx.New(append(coreModules(), server.Module, scheduler.Module)...).Run()
			return nil
		},
	}
}

func coreModules() []fx.Option {
	return []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		metrics.Module,
		orglock.Module,
		organization.Module,
		notification.Module,
		payment.Module,
		credit.Module,
		churn.Module,
		subscription.Module,
		webhook.Module,
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func registerSnowflake(cfg config.Config) *snowflake.Node {
	machineID := cfg.MachineID
	if machineID == 0 {
		machineID = 1
	}
	node, err := snowflake.NewNode(machineID)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
