package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/pricing"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/service"
	"github.com/vibast-solutions/ms-go-carwash-payments/config"
)

var (
	workerMode bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Ask the gateway about stale pending invoices",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"reconcile",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunReconcileBatch(ctx)
			},
		)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run expiration-related commands",
}

var expirePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Expire pending intents whose invoice lapsed past the grace period",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"expire_pending",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpirePendingInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunExpirePendingBatch(ctx)
			},
		)
	},
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Run orphaned-intent commands",
}

var orphansRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Attach or fail intents whose invoice creation never completed",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"orphans_recover",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.OrphanRecoveryInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunOrphanRecoveryBatch(ctx)
			},
		)
	},
}

var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "Run commands for webhooks that matched no intent",
}

var deadLettersReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay unmatched webhooks through the reconciliation engine",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"deadletters_replay",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.DeadLetterReplayInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunDeadLetterReplayBatch(ctx)
			},
		)
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll <entityType> <entityId>",
	Short: "Poll the gateway until the entity's payment is terminal",
	Args:  cobra.ExactArgs(2),
	Run:   runPoll,
}

var quoteCmd = &cobra.Command{
	Use:   "quote <base> <vehicleType> [subtype]",
	Short: "Print the amount charged for a base price and vehicle",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runQuote,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(orphansCmd)
	rootCmd.AddCommand(deadLettersCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(quoteCmd)
	expireCmd.AddCommand(expirePendingCmd)
	orphansCmd.AddCommand(orphansRecoverCmd)
	deadLettersCmd.AddCommand(deadLettersReplayCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.PaymentService, ctx context.Context) error,
) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(app.cfg), app.paymentService, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(app.paymentService, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	paymentService *service.PaymentService,
	fn func(s *service.PaymentService, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(paymentService, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(paymentService, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}

func runPoll(cmd *cobra.Command, args []string) {
	entityType, ok := entity.ParseEntityType(args[0])
	if !ok {
		logrus.WithField("entity_type", args[0]).Fatal("entityType must be booking or subscription")
	}

	app, cleanup := mustCreateApplication()
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := app.poller.PollUntilTerminal(ctx, entityType, args[1], 0, 0)
	if err != nil {
		logrus.WithError(err).WithField("entity_id", args[1]).Error("poll_failed")
		return
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s attempts=%d intent=%s\n",
		result.Status, result.Intent.Status, result.Attempts, result.Intent.ID)
}

func runQuote(cmd *cobra.Command, args []string) error {
	base, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid base amount %q: %w", args[0], err)
	}
	if !base.IsPositive() {
		return fmt.Errorf("base amount must be > 0")
	}

	subtype := ""
	if len(args) == 3 {
		subtype = args[2]
	}
	fmt.Fprintln(cmd.OutOrStdout(), pricing.ComputeCharge(base, args[1], subtype).StringFixed(2))
	return nil
}
