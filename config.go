package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Stream     StreamConfig     `yaml:"stream"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Recording  RecordingConfig  `yaml:"recording"`
	Server     ServerConfig     `yaml:"server"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StreamConfig contains stream discovery and connection settings
type StreamConfig struct {
	Name           string  `yaml:"name"`            // Stream name to connect to
	Type           string  `yaml:"type"`            // Stream type predicate (default "EEG")
	ResolveTimeout float64 `yaml:"resolve_timeout"` // Discovery timeout in seconds (default 5.0)
	Simulated      bool    `yaml:"simulated"`       // Use the built-in simulated source instead of discovery
	SimChannels    int     `yaml:"sim_channels"`    // Simulated source channel count (default 8)
	SimSampleRate  float64 `yaml:"sim_sample_rate"` // Simulated source rate in Hz (default 250)
}

// PipelineConfig contains batching and spectral analysis settings
type PipelineConfig struct {
	BatchIntervalMs   int `yaml:"batch_interval_ms"`   // Display batch tick in ms (default 33)
	FFTWindowSize     int `yaml:"fft_window_size"`     // Sliding window length in samples (default 256)
	FreqMinHz         int `yaml:"freq_min_hz"`         // Lowest output frequency bin (default 1)
	FreqMaxHz         int `yaml:"freq_max_hz"`         // Highest output frequency bin (default 50)
	SyncEvictionDepth int `yaml:"sync_eviction_depth"` // Frame matcher buffer depth before eviction (default 10)
	ChannelCapacity   int `yaml:"channel_capacity"`    // Inter-worker channel capacity (default 65536)
}

// RecordingConfig contains EDF recording settings
type RecordingConfig struct {
	Directory      string  `yaml:"directory"`       // Directory for EDF files (default ".")
	RecordDuration float64 `yaml:"record_duration"` // EDF data record duration in seconds (default 1.0)
	PatientID      string  `yaml:"patient_id"`      // EDF patient identification field
	RecordingInfo  string  `yaml:"recording_info"`  // EDF recording identification field
	AutoStart      bool    `yaml:"auto_start"`      // Open a session as soon as the pipeline starts
}

// ServerConfig contains display websocket server settings
type ServerConfig struct {
	Listen            string `yaml:"listen"`             // Listen address (default ":8073")
	EnableCompression bool   `yaml:"enable_compression"` // Allow clients to request zstd-compressed frames
}

// MQTTConfig contains MQTT status publishing settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`       // e.g. tcp://localhost:1883
	TopicPrefix string `yaml:"topic_prefix"` // default "eegstream"
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
	Interval    int    `yaml:"interval"` // Publish interval in seconds (default 10)
}

// PrometheusConfig contains metrics endpoint settings
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads and validates the YAML configuration file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if config.Pipeline.FreqMinHz < 1 || config.Pipeline.FreqMaxHz < config.Pipeline.FreqMinHz {
		return nil, fmt.Errorf("invalid frequency band %d-%d Hz",
			config.Pipeline.FreqMinHz, config.Pipeline.FreqMaxHz)
	}
	if config.Recording.RecordDuration <= 0 {
		return nil, fmt.Errorf("invalid record duration %.3f", config.Recording.RecordDuration)
	}

	return &config, nil
}

// DefaultConfig returns a configuration with every default applied, used when
// no config file is given.
func DefaultConfig() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Stream.Type == "" {
		c.Stream.Type = "EEG"
	}
	if c.Stream.ResolveTimeout <= 0 {
		c.Stream.ResolveTimeout = 5.0
	}
	if c.Stream.SimChannels <= 0 {
		c.Stream.SimChannels = 8
	}
	if c.Stream.SimSampleRate <= 0 {
		c.Stream.SimSampleRate = 250.0
	}
	if c.Pipeline.BatchIntervalMs <= 0 {
		c.Pipeline.BatchIntervalMs = 33
	}
	if c.Pipeline.FFTWindowSize <= 0 {
		c.Pipeline.FFTWindowSize = 256
	}
	if c.Pipeline.FreqMinHz <= 0 {
		c.Pipeline.FreqMinHz = 1
	}
	if c.Pipeline.FreqMaxHz <= 0 {
		c.Pipeline.FreqMaxHz = 50
	}
	if c.Pipeline.SyncEvictionDepth <= 0 {
		c.Pipeline.SyncEvictionDepth = 10
	}
	if c.Pipeline.ChannelCapacity <= 0 {
		c.Pipeline.ChannelCapacity = 65536
	}
	if c.Recording.Directory == "" {
		c.Recording.Directory = "."
	}
	if c.Recording.RecordDuration <= 0 {
		c.Recording.RecordDuration = 1.0
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8073"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "eegstream"
	}
	if c.MQTT.Interval <= 0 {
		c.MQTT.Interval = 10
	}
}
