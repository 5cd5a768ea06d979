package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	envConfigPath       = "TAGBRIDGE_CONFIG"
	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	envNotionToken      = "NOTION_TOKEN"
)

const (
	DefaultPollTimeoutSeconds = 60
	DefaultBackoffInitialMS   = 1000
	DefaultBackoffMaxMS       = 30000
)

// DestinationNotionPage selects the Notion page-append destination.
const DestinationNotionPage = "notion_page"

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Notion       NotionConfig       `json:"notion"`
	Routes       []RouteConfig      `json:"routes"`
	Poller       PollerConfig       `json:"poller"`
	Destinations DestinationsConfig `json:"destinations"`
	Gateway      GatewayConfig      `json:"gateway"`
	Logging      LoggingConfig      `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// TelegramConfig configures the update source.
type TelegramConfig struct {
	Token              string `json:"token"`
	PollTimeoutSeconds int    `json:"poll_timeout_seconds"`
}

// NotionConfig configures the Notion integration shared by all notion_page routes.
type NotionConfig struct {
	Token             string  `json:"token"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// RouteConfig declares one "hashtag -> destination" forwarding rule.
type RouteConfig struct {
	Name        string            `json:"name"`
	Hashtag     string            `json:"hashtag"`
	Destination DestinationConfig `json:"destination"`
}

// DestinationConfig selects and parameterizes one destination.
type DestinationConfig struct {
	Type   string `json:"type"`
	PageID string `json:"page_id"`
}

// PollerConfig tunes the long-poll loop.
type PollerConfig struct {
	// HardFailureBackoff defaults to true; set false to retry hard failures immediately.
	HardFailureBackoff *bool  `json:"hard_failure_backoff,omitempty"`
	BackoffInitialMS   int    `json:"backoff_initial_ms"`
	BackoffMaxMS       int    `json:"backoff_max_ms"`
	CursorStore        string `json:"cursor_store"`
}

// DestinationsConfig holds settings applied to every destination.
type DestinationsConfig struct {
	CircuitBreaker        bool `json:"circuit_breaker"`
	BreakerFailures       int  `json:"breaker_failures"`
	BreakerTimeoutSeconds int  `json:"breaker_timeout_seconds"`
}

// GatewayConfig configures the status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PollTimeout returns the long-poll timeout, defaulting to 60 seconds.
func (c TelegramConfig) PollTimeout() time.Duration {
	if c.PollTimeoutSeconds <= 0 {
		return DefaultPollTimeoutSeconds * time.Second
	}

	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// BackoffEnabled reports whether hard fetch failures are spaced out.
func (c PollerConfig) BackoffEnabled() bool {
	return c.HardFailureBackoff == nil || *c.HardFailureBackoff
}

// BackoffBounds returns the initial and maximum hard-failure delay.
func (c PollerConfig) BackoffBounds() (time.Duration, time.Duration) {
	initial := c.BackoffInitialMS
	if initial <= 0 {
		initial = DefaultBackoffInitialMS
	}
	maxDelay := c.BackoffMaxMS
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMaxMS
	}
	if maxDelay < initial {
		maxDelay = initial
	}

	return time.Duration(initial) * time.Millisecond, time.Duration(maxDelay) * time.Millisecond
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile reads one config file and applies environment overrides.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Validate reports startup misconfiguration that must abort the process before polling.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}

	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", envTelegramBotToken))
	}
	if len(c.Routes) == 0 {
		errs = append(errs, errors.New("at least one route is required"))
	}

	needsNotion := false
	for i, route := range c.Routes {
		label := routeLabel(i, route)
		if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(route.Hashtag), "#")) == "" {
			errs = append(errs, fmt.Errorf("%s: hashtag is required", label))
		}

		switch strings.TrimSpace(route.Destination.Type) {
		case DestinationNotionPage:
			needsNotion = true
			if strings.TrimSpace(route.Destination.PageID) == "" {
				errs = append(errs, fmt.Errorf("%s: destination.page_id is required", label))
			}
		case "":
			errs = append(errs, fmt.Errorf("%s: destination.type is required", label))
		default:
			errs = append(errs, fmt.Errorf("%s: unsupported destination type %q", label, route.Destination.Type))
		}
	}

	if needsNotion && strings.TrimSpace(c.Notion.Token) == "" {
		errs = append(errs, fmt.Errorf("notion.token is required (or set %s)", envNotionToken))
	}

	return errors.Join(errs...)
}

func routeLabel(index int, route RouteConfig) string {
	if name := strings.TrimSpace(route.Name); name != "" {
		return fmt.Sprintf("routes[%d] (%s)", index, name)
	}

	return fmt.Sprintf("routes[%d]", index)
}

// applyEnvOverrides injects credentials from the environment on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Telegram.Token = token
	}

	if token := strings.TrimSpace(os.Getenv(envNotionToken)); token != "" {
		cfg.Notion.Token = token
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is TAGBRIDGE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
