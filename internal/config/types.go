package config

import (
	"time"
)

// UIConfig controls the progress display.
type UIConfig struct {
	MaxMessages  int  `json:"max_messages"`       // Messages shown under the progress bar (capped by threads)
	EnableCancel bool `json:"enable_cancel"`      // Allow esc/ctrl+c to cancel a batch
	Headless     bool `json:"headless,omitempty"` // Log progress instead of drawing it
}

// Config is the top-level configuration.
type Config struct {
	Threads        int      `json:"threads"`                 // Concurrently running tasks
	OnError        string   `json:"on_error"`                // "continue", "stop_join" or "stop_interrupt"
	OnCancel       string   `json:"on_cancel"`               // "stop_join" or "stop_interrupt"
	PollIntervalMS int      `json:"poll_interval_ms"`        // Scheduler poll period
	GracePeriodMS  int      `json:"grace_period_ms"`         // Wait for aborted tasks before join/interrupt
	DatabasePath   string   `json:"database_path,omitempty"` // Batch log; empty uses ~/.tagbatch/history.db
	Extensions     []string `json:"extensions"`              // Audio file extensions to scan
	UI             UIConfig `json:"ui"`
}

// PollInterval returns the poll period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// GracePeriod returns the shutdown grace period as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMS) * time.Millisecond
}
