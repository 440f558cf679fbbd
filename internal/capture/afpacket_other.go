//go:build !linux

package capture

import (
	"fmt"

	"tsprobe/internal/config"
)

// NewAfpacketBackend is a stub on non-Linux platforms; selecting the
// afpacket backend there fails at Start.
func NewAfpacketBackend(cfg config.CaptureConfig) Backend {
	return &afpacketStub{}
}

type afpacketStub struct{}

func (*afpacketStub) Start() error {
	return fmt.Errorf("afpacket backend is only available on linux")
}

func (*afpacketStub) ReceiveBatch(max int) ([][]byte, error) {
	return nil, fmt.Errorf("afpacket backend is only available on linux")
}

func (*afpacketStub) Stop() {}

func (*afpacketStub) Stats() Stats { return Stats{} }
