package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tagbridge/pkg/config"
	"tagbridge/pkg/cursor"
	"tagbridge/pkg/dispatch"
	"tagbridge/pkg/gateway"
	"tagbridge/pkg/logger"
	"tagbridge/pkg/metrics"
	"tagbridge/pkg/poller"
	"tagbridge/pkg/source/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Telegram to Notion bridge",
	Long:  "Long-polls Telegram, matches each message against the configured hashtag routes, and appends matches to Notion. Serves /healthz, /readyz and /metrics while running.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}

		appLogger, err := logger.Install(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		log := appLogger.With("component", "cmd.run")

		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runBridge(runCtx, cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBridge(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	routes, err := buildRoutes(cfg, log)
	if err != nil {
		return err
	}
	metrics.ActiveRoutes.Set(float64(routes.Len()))

	src, err := telegram.NewSource(cfg.Telegram, log)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(routes, log)
	if err != nil {
		return err
	}

	store, err := openCursorStore(cfg.Poller)
	if err != nil {
		return err
	}
	defer store.Close()

	opts, err := pollerOptions(ctx, cfg, store, src.Name(), log)
	if err != nil {
		return err
	}

	p, err := poller.New(src, dispatcher, opts)
	if err != nil {
		return err
	}

	svc, err := gateway.NewService(cfg.Gateway, p, prometheus.DefaultGatherer, log)
	if err != nil {
		return err
	}

	log.Info("Bridge started", "routes", routes.Len(), "cursor", opts.InitialCursor, "status_addr", svc.Addr())
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("bridge stopped: %w", err)
	}
	log.Info("Bridge stopped", "cursor", p.Cursor())
	return nil
}

// pollerOptions resolves the starting cursor from store, when one is configured, and the
// hard-failure backoff policy.
func pollerOptions(ctx context.Context, cfg *config.Config, store *cursor.Store, sourceName string, log *slog.Logger) (poller.Options, error) {
	opts := poller.Options{
		Timeout: cfg.Telegram.PollTimeout(),
		Log:     log,
	}

	if cfg.Poller.BackoffEnabled() {
		initial, maxDelay := cfg.Poller.BackoffBounds()
		opts.Backoff = poller.HardFailureBackoff(initial, maxDelay)
	}

	if store == nil {
		return opts, nil
	}

	bound := store.For(sourceName)
	start, ok, err := bound.Load(ctx)
	if err != nil {
		return poller.Options{}, fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		opts.InitialCursor = start
	}
	opts.Store = bound
	return opts, nil
}
