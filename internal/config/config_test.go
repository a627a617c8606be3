package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: test\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Name != "test" {
		t.Fatalf("expected app name from file, got %q", cfg.App.Name)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Browser.Mode != "rod" {
		t.Fatalf("unexpected driver defaults %+v %+v", cfg.Storage, cfg.Browser)
	}
	if cfg.Batch.PerItemDelay != 3*time.Second || cfg.Batch.MaxRetries != 3 {
		t.Fatalf("unexpected batch defaults %+v", cfg.Batch)
	}
	if cfg.Monitor.HistoryLimit != 100 {
		t.Fatalf("unexpected history limit %d", cfg.Monitor.HistoryLimit)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
storage:
  driver: memory
batch:
  per_item_delay: 500ms
  target_patterns: "/item/\\d+,/p/[a-z]+"
monitor:
  history_limit: 10
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SHOPWATCH_BROWSER_MODE", "http")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("expected memory driver, got %q", cfg.Storage.Driver)
	}
	if cfg.Browser.Mode != "http" {
		t.Fatalf("expected env override of browser mode, got %q", cfg.Browser.Mode)
	}
	if cfg.Batch.PerItemDelay != 500*time.Millisecond {
		t.Fatalf("unexpected per item delay %s", cfg.Batch.PerItemDelay)
	}
	if len(cfg.Batch.TargetPatterns) != 2 {
		t.Fatalf("expected two patterns, got %v", cfg.Batch.TargetPatterns)
	}
	if cfg.Monitor.HistoryLimit != 10 {
		t.Fatalf("unexpected history limit %d", cfg.Monitor.HistoryLimit)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage: StorageConfig{Driver: "sqlite"},
			Browser: BrowserConfig{Mode: "rod"},
			Batch:   BatchConfig{MaxRetries: 3},
			Monitor: MonitorConfig{HistoryLimit: 100, DefaultInterval: 60},
			Export:  ExportConfig{MaxDataPoints: 10},
		}
	}

	cases := map[string]func(*Config){
		"unknown driver":     func(c *Config) { c.Storage.Driver = "redis" },
		"postgres no dsn":    func(c *Config) { c.Storage.Driver = "postgres" },
		"unknown mode":       func(c *Config) { c.Browser.Mode = "selenium" },
		"zero retries":       func(c *Config) { c.Batch.MaxRetries = 0 },
		"negative delay":     func(c *Config) { c.Batch.PerItemDelay = -time.Second },
		"zero history":       func(c *Config) { c.Monitor.HistoryLimit = 0 },
		"telegram no token":  func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.ChatID = 1 },
		"telegram no chat":   func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.BotToken = "x" },
		"zero export points": func(c *Config) { c.Export.MaxDataPoints = 0 },
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 50}}
	if got := cfg.ResolveMaxPoints(0); got != 50 {
		t.Fatalf("expected default 50, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(7); got != 7 {
		t.Fatalf("expected override 7, got %d", got)
	}
}
