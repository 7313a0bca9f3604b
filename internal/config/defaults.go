package config

// DefaultConfig returns the built-in configuration: four threads, failures do
// not stop a batch, and cancelling waits for running tasks.
func DefaultConfig() *Config {
	return &Config{
		Threads:        4,
		OnError:        "continue",
		OnCancel:       "stop_join",
		PollIntervalMS: 100,
		GracePeriodMS:  1000,
		Extensions:     []string{".flac"},
		UI: UIConfig{
			MaxMessages:  6,
			EnableCancel: true,
		},
	}
}
