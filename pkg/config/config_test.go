package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfig(t, `{
	  "telegram": {"token": "123:abc", "poll_timeout_seconds": 25},
	  "notion": {"token": "secret_x"},
	  "routes": [
	    {"name": "standup", "hashtag": "#standup", "destination": {"type": "notion_page", "page_id": "p1"}}
	  ],
	  "poller": {"hard_failure_backoff": false, "cursor_store": "/tmp/cursor.db"},
	  "gateway": {"host": "127.0.0.1", "port": 18791},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`)

	t.Setenv("TAGBRIDGE_CONFIG", path)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("NOTION_TOKEN", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Telegram.PollTimeout() != 25*time.Second {
		t.Fatalf("poll timeout = %v, want 25s", cfg.Telegram.PollTimeout())
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Destination.PageID != "p1" {
		t.Fatalf("routes = %+v, want one route to p1", cfg.Routes)
	}
	if cfg.Poller.BackoffEnabled() {
		t.Fatal("hard_failure_backoff = true, want false")
	}
	if cfg.Poller.CursorStore != "/tmp/cursor.db" {
		t.Fatalf("cursor_store = %q, want %q", cfg.Poller.CursorStore, "/tmp/cursor.db")
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" || !cfg.Logging.AddSource {
		t.Fatalf("logging = %+v, want json/debug/add_source", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("TAGBRIDGE_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadFileRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"telegram": `)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverridesCredentials(t *testing.T) {
	path := writeConfig(t, `{"telegram": {"token": "file"}, "notion": {"token": "file"}}`)
	t.Setenv("TELEGRAM_BOT_TOKEN", " env-telegram ")
	t.Setenv("NOTION_TOKEN", "env-notion")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.Telegram.Token != "env-telegram" {
		t.Fatalf("telegram.token = %q, want %q", cfg.Telegram.Token, "env-telegram")
	}
	if cfg.Notion.Token != "env-notion" {
		t.Fatalf("notion.token = %q, want %q", cfg.Notion.Token, "env-notion")
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if got := cfg.Telegram.PollTimeout(); got != 60*time.Second {
		t.Fatalf("default poll timeout = %v, want 60s", got)
	}
	if !cfg.Poller.BackoffEnabled() {
		t.Fatal("expected hard failure backoff enabled by default")
	}

	initial, maxDelay := cfg.Poller.BackoffBounds()
	if initial != time.Second || maxDelay != 30*time.Second {
		t.Fatalf("backoff bounds = (%v, %v), want (1s, 30s)", initial, maxDelay)
	}

	cfg.Poller.BackoffInitialMS = 5000
	cfg.Poller.BackoffMaxMS = 100
	initial, maxDelay = cfg.Poller.BackoffBounds()
	if maxDelay != initial {
		t.Fatalf("max backoff %v should be raised to initial %v", maxDelay, initial)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		Routes: []RouteConfig{
			{Name: "empty", Hashtag: "#", Destination: DestinationConfig{Type: DestinationNotionPage}},
			{Hashtag: "retro", Destination: DestinationConfig{Type: "email"}},
			{Hashtag: "misc"},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	for _, want := range []string{
		"telegram.token is required",
		"routes[0] (empty): hashtag is required",
		"routes[0] (empty): destination.page_id is required",
		`routes[1]: unsupported destination type "email"`,
		"routes[2]: destination.type is required",
		"notion.token is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err.Error(), want)
		}
	}
}

func TestValidateRequiresRoutes(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "123:abc"}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "at least one route") {
		t.Fatalf("Validate = %v, want missing routes error", err)
	}
}
