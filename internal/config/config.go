package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the transport-stream probe.
type Config struct {
	Capture CaptureConfig `yaml:"capture" mapstructure:"capture"`
	Queue   QueueConfig   `yaml:"queue"   mapstructure:"queue"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Stats   StatsConfig   `yaml:"stats"   mapstructure:"stats"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Events  EventsConfig  `yaml:"events"  mapstructure:"events"`
}

type CaptureConfig struct {
	Device        string `yaml:"device"          mapstructure:"device"`
	PcapFile      string `yaml:"pcap_file"       mapstructure:"pcap_file"`
	Address       string `yaml:"address"         mapstructure:"address"`
	Port          int    `yaml:"port"            mapstructure:"port"`
	Protocol      string `yaml:"protocol"        mapstructure:"protocol"`
	Backend       string `yaml:"backend"         mapstructure:"backend"`
	Promiscuous   bool   `yaml:"promiscuous"     mapstructure:"promiscuous"`
	Immediate     bool   `yaml:"immediate"       mapstructure:"immediate"`
	PacketSize    int    `yaml:"packet_size"     mapstructure:"packet_size"`
	PayloadOffset int    `yaml:"payload_offset"  mapstructure:"payload_offset"`
	Snaplen       int    `yaml:"snaplen"         mapstructure:"snaplen"`
	BufferBytes   int    `yaml:"buffer_bytes"    mapstructure:"buffer_bytes"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" mapstructure:"read_timeout_ms"`
	BatchSize     int    `yaml:"batch_size"      mapstructure:"batch_size"`
}

type QueueConfig struct {
	Size       int  `yaml:"size"         mapstructure:"size"`
	DropOnFull bool `yaml:"drop_on_full" mapstructure:"drop_on_full"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"   mapstructure:"level"`
	File    string `yaml:"file"    mapstructure:"file"`
	Console bool   `yaml:"console" mapstructure:"console"`
}

type StatsConfig struct {
	Enabled           bool   `yaml:"enabled"             mapstructure:"enabled"`
	ReportIntervalSec int    `yaml:"report_interval_sec" mapstructure:"report_interval_sec"`
	ExportFile        string `yaml:"export_file"         mapstructure:"export_file"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen"  mapstructure:"listen"`
}

type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("capture.address", "224.0.0.200")
	v.SetDefault("capture.port", 10000)
	v.SetDefault("capture.protocol", "mpegts")
	v.SetDefault("capture.backend", "pcap")
	v.SetDefault("capture.promiscuous", true)
	v.SetDefault("capture.immediate", false)
	v.SetDefault("capture.packet_size", 188)
	v.SetDefault("capture.payload_offset", 0)
	v.SetDefault("capture.snaplen", 65535)
	v.SetDefault("capture.buffer_bytes", 4*1024*1024)
	v.SetDefault("capture.read_timeout_ms", 100)
	v.SetDefault("capture.batch_size", 64)
	v.SetDefault("queue.size", 4096)
	v.SetDefault("queue.drop_on_full", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.report_interval_sec", 10)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("events.buffer_size", 1024)
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Source:        %s:%d (%s)\n", c.Capture.Address, c.Capture.Port, c.Capture.Protocol))
	sb.WriteString(fmt.Sprintf("  Device:        %s\n", deviceOrAuto(c.Capture.Device)))
	if c.Capture.PcapFile != "" {
		sb.WriteString(fmt.Sprintf("  Replay File:   %s\n", c.Capture.PcapFile))
	}
	sb.WriteString(fmt.Sprintf("  Backend:       %s\n", c.Capture.Backend))
	sb.WriteString(fmt.Sprintf("  Promiscuous:   %v (immediate: %v)\n", c.Capture.Promiscuous, c.Capture.Immediate))
	sb.WriteString(fmt.Sprintf("  Packet Size:   %d (payload offset: %d)\n", c.Capture.PacketSize, c.Capture.PayloadOffset))
	sb.WriteString(fmt.Sprintf("  Snaplen:       %d (buffer: %d bytes)\n", c.Capture.Snaplen, c.Capture.BufferBytes))
	sb.WriteString(fmt.Sprintf("  Read Timeout:  %dms (batch: %d)\n", c.Capture.ReadTimeoutMs, c.Capture.BatchSize))
	sb.WriteString(fmt.Sprintf("  Queue:         %d (drop on full: %v)\n", c.Queue.Size, c.Queue.DropOnFull))
	sb.WriteString(fmt.Sprintf("  Stats:         enabled=%v interval=%ds\n", c.Stats.Enabled, c.Stats.ReportIntervalSec))
	sb.WriteString(fmt.Sprintf("  Metrics:       enabled=%v listen=%s\n", c.Metrics.Enabled, c.Metrics.Listen))
	return sb.String()
}

func deviceOrAuto(device string) string {
	if device == "" {
		return "(auto-select)"
	}
	return device
}
