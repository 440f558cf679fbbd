package scte35

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tsprobe/internal/compliance"
	"tsprobe/internal/event"
)

// pcrRepetitionBound is the TR 101 290 maximum interval between PCRs of
// one program.
const pcrRepetitionBound = 40 * time.Millisecond

type pcrCell struct {
	base  int64 // 33-bit 90 kHz PCR base
	valid bool
	at    time.Time
}

// Correlator tracks the last observed PCR per program and computes
// PCR-relative offsets for splice points. Cells are created lazily at
// first PMT sighting and live for the session.
type Correlator struct {
	mu      sync.Mutex
	byProg  map[uint16]*pcrCell // keyed by program (PMT) PID
	events  *event.Bus
	monitor *compliance.Monitor
}

// NewCorrelator creates a Correlator publishing splice events on bus.
// monitor may be nil when compliance feedback is not wanted.
func NewCorrelator(bus *event.Bus, monitor *compliance.Monitor) *Correlator {
	return &Correlator{
		byProg:  make(map[uint16]*pcrCell),
		events:  bus,
		monitor: monitor,
	}
}

// EnsureProgram creates the last-PCR cell for a program PID if missing.
func (c *Correlator) EnsureProgram(programPID uint16) {
	c.mu.Lock()
	if _, ok := c.byProg[programPID]; !ok {
		c.byProg[programPID] = &pcrCell{}
	}
	c.mu.Unlock()
}

// ObservePCR records a PCR base (90 kHz) seen in an adaptation field of
// a packet belonging to programPID, and checks the repetition interval.
func (c *Correlator) ObservePCR(programPID uint16, base int64, at time.Time) {
	c.mu.Lock()
	cell, ok := c.byProg[programPID]
	if !ok {
		cell = &pcrCell{}
		c.byProg[programPID] = cell
	}
	if cell.valid && c.monitor != nil && at.Sub(cell.at) > pcrRepetitionBound {
		c.monitor.RecordPcrRepetitionError()
	}
	cell.base = base
	cell.valid = true
	cell.at = at
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"program_pid": programPID,
		"pcr_base":    base,
	}).Debug("PCR observed")
}

// LastPCR returns the last PCR base seen for a program.
func (c *Correlator) LastPCR(programPID uint16) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell, ok := c.byProg[programPID]
	if !ok || !cell.valid {
		return 0, false
	}
	return cell.base, true
}

// OffsetMs returns the offset in milliseconds between a 90 kHz splice
// time and the last PCR of programPID. A negative raw difference gets
// half the 64-bit range added, a coarse stand-in for true modulo-2^33
// PCR arithmetic kept from the probe this replaces.
func (c *Correlator) OffsetMs(programPID uint16, spliceTime int64) (int64, bool) {
	pcr, ok := c.LastPCR(programPID)
	if !ok {
		return 0, false
	}
	diff := spliceTime - pcr
	if diff < 0 {
		diff += int64(^uint64(0) / 2)
	}
	return diff / 90, true
}

// HandleSection decodes one accumulated splice section from the stream
// on pid (program programPID), correlates any timed program splice point
// against the program's last PCR, and publishes a splice event.
func (c *Correlator) HandleSection(pid, programPID uint16, data []byte) error {
	sec, err := ParseSection(data)
	if err != nil {
		return err
	}

	fields := map[string]string{
		"command":        sec.CommandName(),
		"pts_adjustment": fmt.Sprintf("%d", sec.PTSAdjustment),
	}
	msg := sec.CommandName()

	if si := sec.SpliceInsert; si != nil {
		fields["event_id"] = fmt.Sprintf("%d", si.EventID)
		fields["out_of_network"] = fmt.Sprintf("%v", si.OutOfNetwork)
		if si.BreakDuration != nil {
			fields["break_duration_90khz"] = fmt.Sprintf("%d", si.BreakDuration.Duration)
		}
	}
	if t, ok := sec.TimedSpliceTime(); ok {
		fields["splice_time_90khz"] = fmt.Sprintf("%d", t)
		if offset, ok := c.OffsetMs(programPID, t); ok {
			fields["offset_after_pcr_ms"] = fmt.Sprintf("%d", offset)
			msg = fmt.Sprintf("%s %dms after last PCR", sec.CommandName(), offset)
		}
	}
	for _, d := range sec.Descriptors {
		log.WithFields(log.Fields{
			"pid":        pid,
			"tag":        d.Tag,
			"identifier": d.Identifier,
		}).Debug("Splice descriptor")
	}

	c.events.Publish(event.Event{Kind: event.KindSplice, PID: pid, Message: msg, Fields: fields})
	log.WithFields(log.Fields{"pid": pid, "command": sec.CommandName()}).Info("SCTE-35 splice signal")
	return nil
}
