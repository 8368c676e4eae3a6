// ABOUTME: Tests for daemon configuration loading
// ABOUTME: Covers defaults, partial files, strict keys and validation
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auralis.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Engine.Workers != 10 {
		t.Errorf("expected 10 workers, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.SinkPrefix != "auralis_cluster_" {
		t.Errorf("unexpected sink prefix %q", cfg.Engine.SinkPrefix)
	}
	if cfg.Mix.Rate != 48000 || cfg.Mix.Channels != 2 || !cfg.Mix.LatencyCompensate {
		t.Errorf("unexpected mix defaults %+v", cfg.Mix)
	}
	if cfg.Bridge.Port != 8928 || !cfg.Bridge.MDNS {
		t.Errorf("unexpected bridge defaults %+v", cfg.Bridge)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFile_PartialOverride(t *testing.T) {
	path := writeConfig(t, `
engine:
  workers: 4
  noise_apps: [Mutter, gnome-shell]
bridge:
  port: 9000
  mdns: false
mock_devices:
  - description: Garage
  - name: MockAttic
    description: Attic
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Engine.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.SinkPrefix != "auralis_cluster_" {
		t.Errorf("unset keys should keep defaults, got sink prefix %q", cfg.Engine.SinkPrefix)
	}
	if got := strings.Join(cfg.Engine.NoiseApps, ","); got != "Mutter,gnome-shell" {
		t.Errorf("unexpected noise apps %s", got)
	}
	if cfg.Bridge.Port != 9000 || cfg.Bridge.MDNS {
		t.Errorf("unexpected bridge %+v", cfg.Bridge)
	}
	if len(cfg.MockDevices) != 2 || cfg.MockDevices[1].Name != "MockAttic" {
		t.Errorf("unexpected mocks %+v", cfg.MockDevices)
	}
}

func TestLoadFile_Empty(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("empty file should load: %v", err)
	}
	if cfg.Engine.Workers != Default().Engine.Workers {
		t.Error("empty file should yield defaults")
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "engine:\n  wokers: 4\n"))
	if err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
	if !strings.Contains(err.Error(), "wokers") {
		t.Errorf("error should name the bad key, got %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected missing file to fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }, "engine.workers"},
		{"no sink prefix", func(c *Config) { c.Engine.SinkPrefix = "" }, "engine.sink_prefix"},
		{"bad rate", func(c *Config) { c.Mix.Rate = 0 }, "mix.rate"},
		{"bad port", func(c *Config) { c.Bridge.Port = 70000 }, "bridge.port"},
		{"mock without description", func(c *Config) {
			c.MockDevices = []MockDeviceConfig{{Name: "Mock1"}}
		}, "mock_devices[0]"},
		{"mocks without prefix", func(c *Config) {
			c.Engine.MockPrefix = ""
			c.MockDevices = []MockDeviceConfig{{Description: "Garage"}}
		}, "engine.mock_prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Mix.Rate = 0
	cfg.Mix.Channels = 0

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "mix.rate") || !strings.Contains(err.Error(), "mix.channels") {
		t.Errorf("expected both mix errors, got %v", err)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.Engine.Workers = 3
	cfg.MockDevices = []MockDeviceConfig{{Description: "Garage"}}

	ec := cfg.EngineConfig()
	if ec.Workers != 3 || ec.SinkPrefix != "auralis_cluster_" || ec.MockPrefix != "Mock" {
		t.Errorf("unexpected engine config %+v", ec)
	}
	if ec.Mix.Rate != 48000 || ec.Mix.Channels != 2 {
		t.Errorf("unexpected mix %+v", ec.Mix)
	}
	if len(ec.MockDevices) != 1 || ec.MockDevices[0].Description != "Garage" {
		t.Errorf("unexpected mocks %+v", ec.MockDevices)
	}
	if len(ec.Policy.NoiseApps) != 1 || ec.Policy.NoiseApps[0] != "Mutter" {
		t.Errorf("unexpected policy %+v", ec.Policy)
	}
}
