package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type telemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	GRPCEndpoint string  `yaml:"grpc_endpoint"`
	HTTPEndpoint string  `yaml:"http_endpoint"`
	TraceRatio   float64 `yaml:"trace_ratio"`
}

type demoConfig struct {
	LogLevel string `yaml:"log_level"`

	Workers int `yaml:"workers"`

	Producers          int           `yaml:"producers"`
	PacketsPerProducer int           `yaml:"packets_per_producer"`
	ChannelCapacity    int           `yaml:"channel_capacity"`
	RejectWhenFull     bool          `yaml:"reject_when_full"`
	ProcessingDelay    time.Duration `yaml:"processing_delay"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`

	Telemetry telemetryConfig `yaml:"telemetry"`
}

func defaultDemoConfig() *demoConfig {
	return &demoConfig{
		LogLevel: "info",

		Workers: 0,

		Producers:          2,
		PacketsPerProducer: 1000,
		ChannelCapacity:    64,
		ProcessingDelay:    50 * time.Microsecond,
		HeartbeatInterval:  100 * time.Millisecond,

		Telemetry: telemetryConfig{
			GRPCEndpoint: "localhost:4317",
			HTTPEndpoint: "localhost:4318",
			TraceRatio:   0.05,
		},
	}
}

// loadDemoConfig reads the YAML file at path on top of the defaults.
// An empty path returns the defaults.
func loadDemoConfig(path string) (*demoConfig, error) {
	cfg := defaultDemoConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, nil
}
