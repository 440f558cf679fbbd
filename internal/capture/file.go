package capture

import (
	"fmt"
	"io"

	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"
)

// FileBackend replays a capture file through the same pipeline as live
// capture. End of file reports as a fatal read error, which shuts the
// loop down cleanly.
type FileBackend struct {
	path   string
	handle *pcap.Handle

	received uint64
}

// NewFileBackend creates a backend replaying path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Start opens the capture file.
func (b *FileBackend) Start() error {
	handle, err := pcap.OpenOffline(b.path)
	if err != nil {
		return fmt.Errorf("failed to open capture file %s: %w", b.path, err)
	}
	b.handle = handle
	log.WithFields(log.Fields{
		"file":      b.path,
		"link_type": handle.LinkType().String(),
	}).Info("Capture file opened")
	return nil
}

// ReceiveBatch reads up to max packets from the file.
func (b *FileBackend) ReceiveBatch(max int) ([][]byte, error) {
	var batch [][]byte
	for len(batch) < max {
		data, _, err := b.handle.ReadPacketData()
		if err != nil {
			if err == io.EOF {
				if len(batch) > 0 {
					return batch, nil
				}
				log.WithField("packets", b.received).Info("Capture file exhausted")
				return nil, io.EOF
			}
			return batch, fmt.Errorf("capture file read failed: %w", err)
		}
		pkt := make([]byte, len(data))
		copy(pkt, data)
		batch = append(batch, pkt)
		b.received++
	}
	return batch, nil
}

// Stop closes the file handle.
func (b *FileBackend) Stop() {
	if b.handle != nil {
		b.handle.Close()
		b.handle = nil
	}
}

// Stats reports the replay count; a file cannot drop.
func (b *FileBackend) Stats() Stats {
	return Stats{Received: b.received}
}
