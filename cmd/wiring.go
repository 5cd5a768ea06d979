package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tagbridge/pkg/config"
	"tagbridge/pkg/cursor"
	"tagbridge/pkg/destination"
	"tagbridge/pkg/destination/notion"
	"tagbridge/pkg/route"
)

// loadValidConfig loads config.json and rejects it before anything connects.
func loadValidConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// destinationResolver builds destinations for route configs. Notion pages share one
// client so they share its rate limit.
func destinationResolver(cfg *config.Config, log *slog.Logger) route.Resolver {
	var client *notion.Client

	return func(dc config.DestinationConfig) (destination.Destination, error) {
		switch strings.TrimSpace(dc.Type) {
		case notion.DestinationType:
			if client == nil {
				c, err := notion.NewClient(cfg.Notion.Token, cfg.Notion.RequestsPerSecond, log)
				if err != nil {
					return nil, err
				}
				client = c
			}

			page, err := client.Page(dc.PageID)
			if err != nil {
				return nil, err
			}
			return withBreaker(cfg.Destinations, page, log), nil
		default:
			return nil, fmt.Errorf("unsupported destination type %q", dc.Type)
		}
	}
}

func withBreaker(cfg config.DestinationsConfig, dest destination.Destination, log *slog.Logger) destination.Destination {
	if !cfg.CircuitBreaker {
		return dest
	}

	return destination.WithBreaker(dest, destination.BreakerConfig{
		ConsecutiveFailures: uint32(max(cfg.BreakerFailures, 0)),
		OpenTimeout:         time.Duration(cfg.BreakerTimeoutSeconds) * time.Second,
		Log:                 log,
	})
}

func buildRoutes(cfg *config.Config, log *slog.Logger) (*route.Table, error) {
	table, err := route.Build(cfg.Routes, destinationResolver(cfg, log))
	if err != nil {
		return nil, fmt.Errorf("build routes: %w", err)
	}
	return table, nil
}

// openCursorStore returns nil when no cursor_store path is configured.
func openCursorStore(cfg config.PollerConfig) (*cursor.Store, error) {
	if cfg.CursorStore == "" {
		return nil, nil
	}

	store, err := cursor.Open(cfg.CursorStore)
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}
	return store, nil
}
