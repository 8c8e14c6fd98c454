package config

import "testing"

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.ListenAddr != ":8000" {
		t.Errorf("ListenAddr: got %s, want :8000", cfg.ListenAddr)
	}
	if cfg.Mode != ModeProxy {
		t.Errorf("Mode: got %s, want proxy", cfg.Mode)
	}
	if !cfg.Failover {
		t.Error("Failover should default to true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s, want info", cfg.LogLevel)
	}
	if cfg.BufferCapacity != 1024 {
		t.Errorf("BufferCapacity: got %d, want 1024", cfg.BufferCapacity)
	}
	if cfg.HealthWindowSize != 100 {
		t.Errorf("HealthWindowSize: got %d, want 100", cfg.HealthWindowSize)
	}
	if cfg.EMAAlpha != 0.1 {
		t.Errorf("EMAAlpha: got %v, want 0.1", cfg.EMAAlpha)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid proxy mode", func(c *Config) { c.TargetURL = "http://backend.local" }, false},
		{"proxy mode without target", func(c *Config) {}, true},
		{"mock mode without target is fine", func(c *Config) { c.Mode = ModeMock }, false},
		{"bad mode", func(c *Config) { c.Mode = "bogus" }, true},
		{"zero buffer capacity", func(c *Config) { c.TargetURL = "x"; c.BufferCapacity = 0 }, true},
		{"alpha out of range", func(c *Config) { c.TargetURL = "x"; c.EMAAlpha = 1.5 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TARGET_URL", "http://example.com")
	t.Setenv("MODE", "mock")
	t.Setenv("FAILOVER", "off")
	t.Setenv("BUFFER_CAPACITY", "2048")
	t.Setenv("HEALTH_WINDOW_SIZE", "50")

	cfg := defaults()
	loadEnv(cfg)

	if cfg.TargetURL != "http://example.com" {
		t.Errorf("TargetURL: got %s", cfg.TargetURL)
	}
	if cfg.Mode != ModeMock {
		t.Errorf("Mode: got %s", cfg.Mode)
	}
	if cfg.Failover {
		t.Error("Failover should be false")
	}
	if cfg.BufferCapacity != 2048 {
		t.Errorf("BufferCapacity: got %d", cfg.BufferCapacity)
	}
	if cfg.HealthWindowSize != 50 {
		t.Errorf("HealthWindowSize: got %d", cfg.HealthWindowSize)
	}
}
