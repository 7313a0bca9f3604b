package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tagbatch/tagbatch/internal/scheduler"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		global        string
		project       string
		expectThreads int
		expectOnError string
		expectExts    []string
		expectError   bool
	}{
		{
			name:          "No config files - returns defaults",
			expectThreads: 4,
			expectOnError: "continue",
			expectExts:    []string{".flac"},
		},
		{
			name:          "Global only - overrides threads",
			global:        `{"threads": 8}`,
			expectThreads: 8,
			expectOnError: "continue",
			expectExts:    []string{".flac"},
		},
		{
			name:          "Project overrides global",
			global:        `{"threads": 8, "on_error": "stop_join"}`,
			project:       `{"threads": 2}`,
			expectThreads: 2,
			expectOnError: "stop_join",
			expectExts:    []string{".flac"},
		},
		{
			name:          "List in file replaces default list",
			project:       `{"extensions": [".flac", ".fla"]}`,
			expectThreads: 4,
			expectOnError: "continue",
			expectExts:    []string{".flac", ".fla"},
		},
		{
			name:        "Malformed JSON",
			project:     `{"threads": `,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			globalPath := filepath.Join(dir, "home", "config.json")
			projectPath := filepath.Join(dir, "project", "config.json")
			if tt.global != "" {
				writeFile(t, globalPath, tt.global)
			}
			if tt.project != "" {
				writeFile(t, projectPath, tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			if cfg.Threads != tt.expectThreads {
				t.Errorf("threads = %d, want %d", cfg.Threads, tt.expectThreads)
			}
			if cfg.OnError != tt.expectOnError {
				t.Errorf("on_error = %q, want %q", cfg.OnError, tt.expectOnError)
			}
			if strings.Join(cfg.Extensions, ",") != strings.Join(tt.expectExts, ",") {
				t.Errorf("extensions = %v, want %v", cfg.Extensions, tt.expectExts)
			}
		})
	}
}

func TestLoadKeepsUnsetNestedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"ui": {"max_messages": 2}}`)

	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.UI.MaxMessages != 2 {
		t.Errorf("max_messages = %d, want 2", cfg.UI.MaxMessages)
	}
	if !cfg.UI.EnableCancel {
		t.Error("enable_cancel lost its default")
	}
}

func TestLoadDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeFile(t, filepath.Join(home, ".tagbatch", "config.json"), `{"threads": 3, "on_error": "stop_join"}`)

	project := filepath.Join(t.TempDir(), "project.json")
	writeFile(t, project, `{"threads": 5}`)

	cfg, err := LoadDefault(project)
	if err != nil {
		t.Fatalf("LoadDefault failed: %v", err)
	}
	if cfg.Threads != 5 || cfg.OnError != "stop_join" {
		t.Errorf("merged config = %+v", cfg)
	}
	if want := filepath.Join(home, ".tagbatch", "history.db"); cfg.DatabasePath != want {
		t.Errorf("database path = %q, want %q", cfg.DatabasePath, want)
	}

	writeFile(t, project, `{"database_path": "/data/history.db"}`)
	cfg, err = LoadDefault(project)
	if err != nil {
		t.Fatalf("LoadDefault failed: %v", err)
	}
	if cfg.DatabasePath != "/data/history.db" {
		t.Errorf("database path from file = %q", cfg.DatabasePath)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.PollInterval() != 100*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.GracePeriod() != time.Second {
		t.Errorf("grace period = %v", cfg.GracePeriod())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero threads", func(c *Config) { c.Threads = 0 }, "threads must be positive"},
		{"bad on_error", func(c *Config) { c.OnError = "retry" }, "on_error"},
		{"bad on_cancel", func(c *Config) { c.OnCancel = "" }, "on_cancel"},
		{"zero poll interval", func(c *Config) { c.PollIntervalMS = 0 }, "poll_interval_ms"},
		{"negative grace", func(c *Config) { c.GracePeriodMS = -1 }, "grace_period_ms"},
		{"no extensions", func(c *Config) { c.Extensions = nil }, "extensions must not be empty"},
		{"extension without dot", func(c *Config) { c.Extensions = []string{"flac"} }, "must start with a dot"},
		{"negative messages", func(c *Config) { c.UI.MaxMessages = -1 }, "ui.max_messages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestManagerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threads = 3
	cfg.OnError = "stop_interrupt"
	cfg.GracePeriodMS = 250

	mc, err := cfg.ManagerConfig(nil)
	if err != nil {
		t.Fatalf("ManagerConfig failed: %v", err)
	}
	if mc.ThreadCount != 3 {
		t.Errorf("thread count = %d, want 3", mc.ThreadCount)
	}
	if mc.OnError != scheduler.StopInterrupt {
		t.Errorf("on error = %s, want stop_interrupt", mc.OnError)
	}
	if mc.OnCancel != scheduler.StopJoin {
		t.Errorf("on cancel = %s, want stop_join", mc.OnCancel)
	}
	if mc.GracePeriod != 250*time.Millisecond {
		t.Errorf("grace = %v, want 250ms", mc.GracePeriod)
	}

	cfg.Threads = -1
	if _, err := cfg.ManagerConfig(nil); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestMessageCount(t *testing.T) {
	tests := []struct {
		threads, max, want int
	}{
		{4, 6, 4},
		{8, 6, 6},
		{2, 0, 0},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Threads = tt.threads
		cfg.UI.MaxMessages = tt.max
		if got := cfg.MessageCount(); got != tt.want {
			t.Errorf("threads=%d max=%d: MessageCount() = %d, want %d", tt.threads, tt.max, got, tt.want)
		}
	}
}
