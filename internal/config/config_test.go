package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is scheduler",
			check:  func(c *Config) bool { return c.Mode == "scheduler" },
			expect: "scheduler",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default sort is top",
			check:  func(c *Config) bool { return c.Sort == "top" },
			expect: "top",
		},
		{
			name:   "default batch size",
			check:  func(c *Config) bool { return c.BatchSize == 25 },
			expect: "25",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestValidateRejectsNonUTC(t *testing.T) {
	cfg := &Config{Mode: "scheduler", Sort: "top", BatchSize: 10, TZ: "America/New_York"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-UTC timezone")
	}
}

func TestValidateRejectsTimeFilterWithoutTop(t *testing.T) {
	cfg := &Config{Mode: "scheduler", Sort: "hot", TimeFilter: "week", BatchSize: 10, TZ: "UTC"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for time_filter with sort != top")
	}
}

func TestValidateRejectsBadBatchSize(t *testing.T) {
	cfg := &Config{Mode: "scheduler", Sort: "top", BatchSize: 0, TZ: "UTC"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for batch_size out of range")
	}
	cfg.BatchSize = 101
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for batch_size out of range")
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := &Config{Mode: "scheduler", Sort: "top", TimeFilter: "day", BatchSize: 25, TZ: "UTC"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
