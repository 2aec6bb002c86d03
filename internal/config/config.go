// ABOUTME: Configuration for the trackbridge player and publisher
// ABOUTME: Defaults overlaid by an optional YAML file, a .env file and TRACKBRIDGE_* variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration
type Config struct {
	Player    PlayerConfig    `yaml:"player"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PlayerConfig configures the trackbridge player
type PlayerConfig struct {
	Server       string `yaml:"server"` // host:port, empty for mDNS discovery
	Transport    string `yaml:"transport"`
	WHEPEndpoint string `yaml:"whep_endpoint"`
	BearerToken  string `yaml:"bearer_token"`
	Room         string `yaml:"room"`
	Track        string `yaml:"track"`
	Name         string `yaml:"name"`
	Codec        string `yaml:"codec"`
	Volume       int    `yaml:"volume"`
	BufferMs     int    `yaml:"buffer_ms"`
	Output       string `yaml:"output"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogFile      string `yaml:"log_file"`
	NoTUI        bool   `yaml:"no_tui"`
}

// ServerConfig configures the publishing server
type ServerConfig struct {
	Port       int    `yaml:"port"`
	Name       string `yaml:"name"`
	Room       string `yaml:"room"`
	Audio      string `yaml:"audio"` // file path or URL, empty for a test tone
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	MDNS       bool   `yaml:"mdns"`
	Debug      bool   `yaml:"debug"`
	LogFile    string `yaml:"log_file"`
}

// TelemetryConfig configures tracing
type TelemetryConfig struct {
	Exporter     string  `yaml:"exporter"` // stdout, otlp or none
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Player: PlayerConfig{
			Transport: "ws",
			Room:      "main",
			Name:      "Trackbridge Player",
			Codec:     "opus",
			Volume:    100,
			BufferMs:  200,
			Output:    "malgo",
			LogFile:   "trackbridge.log",
		},
		Server: ServerConfig{
			Port:       8927,
			Name:       "Trackbridge Server",
			Room:       "main",
			SampleRate: 48000,
			Channels:   2,
			MDNS:       true,
			LogFile:    "trackbridge-server.log",
		},
		Telemetry: TelemetryConfig{
			Exporter:     "none",
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "development",
		},
	}
}

// Load builds the configuration. yamlPath, when set, must exist; a missing
// envPath is ignored. Variables already in the environment win over the
// .env file.
func Load(yamlPath, envPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", yamlPath, err)
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays TRACKBRIDGE_* variables
func (c *Config) applyEnv() error {
	strs := map[string][]*string{
		"TRACKBRIDGE_SERVER":          {&c.Player.Server},
		"TRACKBRIDGE_TRANSPORT":       {&c.Player.Transport},
		"TRACKBRIDGE_WHEP_ENDPOINT":   {&c.Player.WHEPEndpoint},
		"TRACKBRIDGE_WHEP_TOKEN":      {&c.Player.BearerToken},
		"TRACKBRIDGE_ROOM":            {&c.Player.Room, &c.Server.Room},
		"TRACKBRIDGE_TRACK":           {&c.Player.Track},
		"TRACKBRIDGE_NAME":            {&c.Player.Name},
		"TRACKBRIDGE_CODEC":           {&c.Player.Codec},
		"TRACKBRIDGE_OUTPUT":          {&c.Player.Output},
		"TRACKBRIDGE_METRICS_ADDR":    {&c.Player.MetricsAddr},
		"TRACKBRIDGE_LOG_FILE":        {&c.Player.LogFile},
		"TRACKBRIDGE_SERVER_NAME":     {&c.Server.Name},
		"TRACKBRIDGE_AUDIO":           {&c.Server.Audio},
		"TRACKBRIDGE_SERVER_LOG_FILE": {&c.Server.LogFile},
		"TRACKBRIDGE_TRACE":           {&c.Telemetry.Exporter},
		"OTEL_EXPORTER_OTLP_ENDPOINT": {&c.Telemetry.OTLPEndpoint},
		"ENVIRONMENT":                 {&c.Telemetry.Environment},
	}
	for key, dsts := range strs {
		if v, ok := os.LookupEnv(key); ok {
			for _, dst := range dsts {
				*dst = v
			}
		}
	}

	ints := map[string]*int{
		"TRACKBRIDGE_VOLUME":      &c.Player.Volume,
		"TRACKBRIDGE_BUFFER_MS":   &c.Player.BufferMs,
		"TRACKBRIDGE_PORT":        &c.Server.Port,
		"TRACKBRIDGE_SAMPLE_RATE": &c.Server.SampleRate,
		"TRACKBRIDGE_CHANNELS":    &c.Server.Channels,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: invalid integer %q", key, v)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"TRACKBRIDGE_NO_TUI": &c.Player.NoTUI,
		"TRACKBRIDGE_MDNS":   &c.Server.MDNS,
		"TRACKBRIDGE_DEBUG":  &c.Server.Debug,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: invalid boolean %q", key, v)
			}
			*dst = b
		}
	}

	if v, ok := os.LookupEnv("TRACKBRIDGE_TRACE_SAMPLING"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TRACKBRIDGE_TRACE_SAMPLING: invalid number %q", v)
		}
		c.Telemetry.SamplingRate = f
	}

	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Player.Validate(); err != nil {
		return fmt.Errorf("player config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry config: %w", err)
	}
	return nil
}

// Validate checks player settings
func (p *PlayerConfig) Validate() error {
	switch p.Transport {
	case "ws":
	case "whep":
		if p.WHEPEndpoint == "" {
			return fmt.Errorf("whep transport requires whep_endpoint")
		}
	default:
		return fmt.Errorf("transport must be ws or whep, got %q", p.Transport)
	}

	switch p.Codec {
	case "", "pcm", "opus":
	default:
		return fmt.Errorf("codec must be pcm or opus, got %q", p.Codec)
	}

	switch p.Output {
	case "malgo", "oto", "null":
	default:
		return fmt.Errorf("output must be malgo, oto or null, got %q", p.Output)
	}

	if p.Volume < 0 || p.Volume > 100 {
		return fmt.Errorf("volume must be between 0 and 100, got %d", p.Volume)
	}
	if p.BufferMs <= 0 || p.BufferMs > 5000 {
		return fmt.Errorf("buffer_ms must be between 1 and 5000, got %d", p.BufferMs)
	}
	if p.Room == "" {
		return fmt.Errorf("room is required")
	}
	return nil
}

// Validate checks publisher settings
func (s *ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", s.SampleRate)
	}
	if s.Channels < 1 || s.Channels > 8 {
		return fmt.Errorf("channels must be between 1 and 8, got %d", s.Channels)
	}
	if s.Room == "" {
		return fmt.Errorf("room is required")
	}
	return nil
}

// Validate checks tracing settings
func (t *TelemetryConfig) Validate() error {
	switch t.Exporter {
	case "stdout", "none":
	case "otlp":
		if t.OTLPEndpoint == "" {
			return fmt.Errorf("otlp exporter requires otlp_endpoint")
		}
	default:
		return fmt.Errorf("exporter must be stdout, otlp or none, got %q", t.Exporter)
	}
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %g", t.SamplingRate)
	}
	return nil
}
