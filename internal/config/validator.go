package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// Capture address must be a valid IP
	if net.ParseIP(c.Capture.Address) == nil {
		errs = append(errs, fmt.Sprintf("capture.address must be a valid IP address, got %q", c.Capture.Address))
	}

	// Capture port must be valid
	if c.Capture.Port <= 0 || c.Capture.Port > 65535 {
		errs = append(errs, fmt.Sprintf("capture.port must be between 1 and 65535, got %d", c.Capture.Port))
	}

	// Protocol must be known
	if c.Capture.Protocol != "mpegts" && c.Capture.Protocol != "smpte2110" {
		errs = append(errs, fmt.Sprintf("capture.protocol must be 'mpegts' or 'smpte2110', got %q", c.Capture.Protocol))
	}

	// Backend must be known
	if c.Capture.Backend != "pcap" && c.Capture.Backend != "afpacket" {
		errs = append(errs, fmt.Sprintf("capture.backend must be 'pcap' or 'afpacket', got %q", c.Capture.Backend))
	}

	// Packet size must hold at least one TS packet
	if c.Capture.PacketSize < 188 {
		errs = append(errs, fmt.Sprintf("capture.packet_size must be >= 188, got %d", c.Capture.PacketSize))
	}

	// Payload offset cannot be negative
	if c.Capture.PayloadOffset < 0 {
		errs = append(errs, fmt.Sprintf("capture.payload_offset must be >= 0, got %d", c.Capture.PayloadOffset))
	}

	// Snaplen must fit a full datagram of TS packets
	if c.Capture.Snaplen < 188 {
		errs = append(errs, fmt.Sprintf("capture.snaplen must be >= 188, got %d", c.Capture.Snaplen))
	}

	// Read timeout must be positive
	if c.Capture.ReadTimeoutMs <= 0 {
		errs = append(errs, "capture.read_timeout_ms must be > 0")
	}

	// Batch size must be positive
	if c.Capture.BatchSize <= 0 {
		errs = append(errs, "capture.batch_size must be > 0")
	}

	// Queue size must be positive
	if c.Queue.Size <= 0 {
		errs = append(errs, "queue.size must be > 0")
	}

	// Metrics listen address must parse when enabled
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("invalid metrics.listen %q: %v", c.Metrics.Listen, err))
		}
	}

	// Replay file must exist when configured
	if c.Capture.PcapFile != "" {
		if _, err := os.Stat(c.Capture.PcapFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("capture file not found: %s", c.Capture.PcapFile))
		}
	}

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
