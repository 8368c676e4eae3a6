// ABOUTME: YAML configuration for the Auralis daemon
// ABOUTME: Defaults, file loading with strict field checking, validation and engine mapping
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/Resonate-Protocol/auralis/internal/cluster"
	"github.com/Resonate-Protocol/auralis/internal/dispatch"
	"github.com/Resonate-Protocol/auralis/internal/engine"
	"github.com/Resonate-Protocol/auralis/internal/pulse"
	"github.com/Resonate-Protocol/auralis/internal/registry"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Flags given on the command line
// override values read from the file.
type Config struct {
	// LogFile is where logs are appended.
	// Default: auralis.log
	LogFile string `yaml:"log_file"`

	// Engine configures discovery and command processing.
	Engine EngineConfig `yaml:"engine"`

	// Mix configures the combine sinks built for clusters.
	Mix MixConfig `yaml:"mix"`

	// Bridge configures the WebSocket bridge the UI connects to.
	Bridge BridgeConfig `yaml:"bridge"`

	// MockDevices are silent sinks created at startup so clusters can be
	// exercised without extra hardware.
	MockDevices []MockDeviceConfig `yaml:"mock_devices"`
}

// EngineConfig configures the orchestration engine.
type EngineConfig struct {
	// Workers bounds the number of commands executing at once.
	// Default: 10
	Workers int `yaml:"workers"`

	// EventBuffer is the capacity of the outbound event queue.
	EventBuffer int `yaml:"event_buffer"`

	// CommandBuffer is the capacity of the inbound command queue.
	CommandBuffer int `yaml:"command_buffer"`

	// SinkPrefix names the combine sinks created for clusters.
	// Default: auralis_cluster_
	SinkPrefix string `yaml:"sink_prefix"`

	// ReservedPrefixes are further sink name prefixes never surfaced.
	ReservedPrefixes []string `yaml:"reserved_prefixes"`

	// NoiseApps are application names never surfaced.
	NoiseApps []string `yaml:"noise_apps"`

	// NoiseNames are node name substrings never surfaced (case-insensitive).
	NoiseNames []string `yaml:"noise_names"`

	// MockPrefix names mock sinks; leftovers with this prefix are unloaded
	// at startup.
	// Default: Mock
	MockPrefix string `yaml:"mock_prefix"`
}

// MixConfig holds combine sink parameters.
type MixConfig struct {
	Rate              int  `yaml:"rate"`
	Channels          int  `yaml:"channels"`
	LatencyCompensate bool `yaml:"latency_compensate"`
}

// BridgeConfig configures the UI bridge.
type BridgeConfig struct {
	// Port is the WebSocket listen port.
	// Default: 8928
	Port int `yaml:"port"`

	// Name is the advertised service name. Empty means hostname-auralis.
	Name string `yaml:"name"`

	// MDNS enables advertisement on the local network.
	// Default: true
	MDNS bool `yaml:"mdns"`
}

// MockDeviceConfig describes one mock device.
type MockDeviceConfig struct {
	// Name is the sink name. Empty means MockPrefix followed by a counter.
	Name string `yaml:"name"`

	// Description is the name shown in the UI.
	Description string `yaml:"description"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	policy := registry.DefaultPolicy()
	mix := pulse.DefaultMixParams()
	return &Config{
		LogFile: "auralis.log",
		Engine: EngineConfig{
			Workers:          dispatch.DefaultWorkers,
			EventBuffer:      256,
			CommandBuffer:    64,
			SinkPrefix:       cluster.DefaultSinkPrefix,
			ReservedPrefixes: policy.ReservedPrefixes,
			NoiseApps:        policy.NoiseApps,
			NoiseNames:       policy.NoiseNames,
			MockPrefix:       "Mock",
		},
		Mix: MixConfig{
			Rate:              mix.Rate,
			Channels:          mix.Channels,
			LatencyCompensate: mix.LatencyCompensate,
		},
		Bridge: BridgeConfig{
			Port: 8928,
			MDNS: true,
		},
	}
}

// LoadFile reads a configuration file on top of the defaults. Unknown keys
// are rejected so typos do not silently fall back to defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(c)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers))
	}
	if c.Engine.EventBuffer < 0 || c.Engine.CommandBuffer < 0 {
		errs = append(errs, errors.New("engine buffers must not be negative"))
	}
	if c.Engine.SinkPrefix == "" {
		errs = append(errs, errors.New("engine.sink_prefix is required"))
	}
	if c.Engine.MockPrefix == "" && len(c.MockDevices) > 0 {
		errs = append(errs, errors.New("engine.mock_prefix is required when mock_devices are configured"))
	}
	if c.Mix.Rate <= 0 {
		errs = append(errs, fmt.Errorf("mix.rate must be positive, got %d", c.Mix.Rate))
	}
	if c.Mix.Channels <= 0 {
		errs = append(errs, fmt.Errorf("mix.channels must be positive, got %d", c.Mix.Channels))
	}
	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		errs = append(errs, fmt.Errorf("bridge.port out of range: %d", c.Bridge.Port))
	}
	for i, mock := range c.MockDevices {
		if mock.Description == "" {
			errs = append(errs, fmt.Errorf("mock_devices[%d].description is required", i))
		}
	}

	return errors.Join(errs...)
}

// EngineConfig maps the file configuration onto the engine's.
func (c *Config) EngineConfig() engine.Config {
	mocks := make([]engine.MockDevice, 0, len(c.MockDevices))
	for _, m := range c.MockDevices {
		mocks = append(mocks, engine.MockDevice{Name: m.Name, Description: m.Description})
	}
	return engine.Config{
		Workers:       c.Engine.Workers,
		EventBuffer:   c.Engine.EventBuffer,
		CommandBuffer: c.Engine.CommandBuffer,
		Policy: registry.Policy{
			ReservedPrefixes: c.Engine.ReservedPrefixes,
			NoiseApps:        c.Engine.NoiseApps,
			NoiseNames:       c.Engine.NoiseNames,
		},
		Mix: pulse.MixParams{
			Rate:              c.Mix.Rate,
			Channels:          c.Mix.Channels,
			LatencyCompensate: c.Mix.LatencyCompensate,
		},
		SinkPrefix:  c.Engine.SinkPrefix,
		MockPrefix:  c.Engine.MockPrefix,
		MockDevices: mocks,
	}
}
