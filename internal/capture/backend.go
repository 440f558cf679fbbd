// Package capture acquires raw packets off the wire and hands them to
// the analysis pipeline through a bounded queue. Two backends exist
// behind one interface: libpcap for portable userspace capture and
// AF_PACKET for the high-rate kernel ring path on Linux.
package capture

import "errors"

// ErrTimeout is returned by ReceiveBatch when the read timeout expired
// with no packets available. It is a poll signal, not a failure.
var ErrTimeout = errors.New("capture: read timeout")

// Stats is the capture-side packet accounting reported by a backend.
type Stats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	IfDropped uint64 `json:"if_dropped"`
}

// Backend is one packet acquisition mechanism. Start must be called
// before ReceiveBatch; Stop releases the handle and any group
// memberships. Backends are used by a single capture goroutine.
type Backend interface {
	Start() error
	// ReceiveBatch returns up to max packets. An empty poll interval
	// yields ErrTimeout so the caller can check for shutdown.
	ReceiveBatch(max int) ([][]byte, error)
	Stop()
	Stats() Stats
}
