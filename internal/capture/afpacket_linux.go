//go:build linux

package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket/afpacket"
	log "github.com/sirupsen/logrus"

	"tsprobe/internal/config"
)

// AfpacketBackend captures through an AF_PACKET TPACKET_V3 ring, the
// path for rates where libpcap's per-packet copy falls behind. BPF
// filtering is skipped; the pipeline's own classifier discards
// off-target traffic.
type AfpacketBackend struct {
	cfg    config.CaptureConfig
	tp     *afpacket.TPacket
	device string
}

// NewAfpacketBackend creates an AF_PACKET backend from the capture config.
func NewAfpacketBackend(cfg config.CaptureConfig) Backend {
	return &AfpacketBackend{cfg: cfg}
}

// Start maps the ring on the configured device.
func (b *AfpacketBackend) Start() error {
	if b.cfg.Device == "" {
		return fmt.Errorf("afpacket backend requires capture.device")
	}
	b.device = b.cfg.Device

	opts := []interface{}{
		afpacket.OptInterface(b.device),
		afpacket.OptFrameSize(2048),
		afpacket.OptPollTimeout(time.Duration(b.cfg.ReadTimeoutMs) * time.Millisecond),
	}
	if b.cfg.BufferBytes > 0 {
		opts = append(opts, afpacket.OptBlockSize(b.cfg.BufferBytes))
	}

	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		return fmt.Errorf("failed to open AF_PACKET ring on %s: %w", b.device, err)
	}
	b.tp = tp
	log.WithField("device", b.device).Info("AF_PACKET capture started")
	return nil
}

// ReceiveBatch drains up to max frames from the ring.
func (b *AfpacketBackend) ReceiveBatch(max int) ([][]byte, error) {
	var batch [][]byte
	for len(batch) < max {
		data, _, err := b.tp.ZeroCopyReadPacketData()
		if err != nil {
			if err == afpacket.ErrTimeout {
				break
			}
			return batch, fmt.Errorf("AF_PACKET read failed: %w", err)
		}
		pkt := make([]byte, len(data))
		copy(pkt, data)
		batch = append(batch, pkt)
	}
	if len(batch) == 0 {
		return nil, ErrTimeout
	}
	return batch, nil
}

// Stop unmaps the ring.
func (b *AfpacketBackend) Stop() {
	if b.tp != nil {
		b.tp.Close()
		b.tp = nil
	}
}

// Stats reads the kernel socket counters.
func (b *AfpacketBackend) Stats() Stats {
	var s Stats
	if b.tp == nil {
		return s
	}
	_, sockStats, err := b.tp.SocketStats()
	if err != nil {
		log.WithError(err).Debug("AF_PACKET stats unavailable")
		return s
	}
	s.Received = uint64(sockStats.Packets())
	s.Dropped = uint64(sockStats.Drops())
	return s
}
