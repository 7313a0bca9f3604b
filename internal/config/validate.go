package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tagbatch/tagbatch/internal/events"
	"github.com/tagbatch/tagbatch/internal/scheduler"
)

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Threads <= 0 {
		errs = append(errs, fmt.Errorf("threads must be positive, got %d", c.Threads))
	}
	if _, err := scheduler.ParseExecution(c.OnError); err != nil {
		errs = append(errs, fmt.Errorf("on_error: %w", err))
	}
	if _, err := scheduler.ParseExecution(c.OnCancel); err != nil {
		errs = append(errs, fmt.Errorf("on_cancel: %w", err))
	}
	if c.PollIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMS))
	}
	if c.GracePeriodMS < 0 {
		errs = append(errs, fmt.Errorf("grace_period_ms must not be negative, got %d", c.GracePeriodMS))
	}
	if len(c.Extensions) == 0 {
		errs = append(errs, errors.New("extensions must not be empty"))
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("extension %q must start with a dot", ext))
		}
	}
	if c.UI.MaxMessages < 0 {
		errs = append(errs, fmt.Errorf("ui.max_messages must not be negative, got %d", c.UI.MaxMessages))
	}

	return errors.Join(errs...)
}

// ManagerConfig converts the config into scheduler settings.
func (c *Config) ManagerConfig(bus events.Publisher) (scheduler.ManagerConfig, error) {
	if err := c.Validate(); err != nil {
		return scheduler.ManagerConfig{}, err
	}
	onError, _ := scheduler.ParseExecution(c.OnError)
	onCancel, _ := scheduler.ParseExecution(c.OnCancel)

	return scheduler.ManagerConfig{
		ThreadCount: c.Threads,
		OnError:     onError,
		OnCancel:    onCancel,
		GracePeriod: c.GracePeriod(),
		Bus:         bus,
	}, nil
}

// MessageCount returns how many running-task messages a progress view shows:
// the configured maximum capped by the thread count.
func (c *Config) MessageCount() int {
	if c.UI.MaxMessages < c.Threads {
		return c.UI.MaxMessages
	}
	return c.Threads
}
