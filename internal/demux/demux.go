// Package demux parses MPEG-TS structure out of raw packets: PSI tables,
// per-PID filter dispatch, statistics attribution, and PCR tracking.
package demux

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"tsprobe/internal/compliance"
	"tsprobe/internal/scte35"
	"tsprobe/internal/stream"
)

// maxSectionBytes bounds SCTE-35 section accumulation; a section that
// grows past this without completing is malformed and dropped.
const maxSectionBytes = 4096

// Demuxer routes 188-byte TS packets through the per-PID filter set,
// keeping the PID table, compliance counters, and PCR correlator fed.
// It is owned by a single worker; only the Table and Monitor it feeds
// are shared structures.
type Demuxer struct {
	table      *stream.Table
	monitor    *compliance.Monitor
	correlator *scte35.Correlator

	filters  map[uint16]*filterState
	programs map[uint16]uint16 // PMT PID -> program_number
	pmtSeen  bool

	// onVideoPayload receives the payload of every video PES packet for
	// elementary-stream extraction. May be nil.
	onVideoPayload func(pid uint16, payload []byte)
}

// New creates a Demuxer for one session.
func New(table *stream.Table, monitor *compliance.Monitor, correlator *scte35.Correlator, onVideoPayload func(pid uint16, payload []byte)) *Demuxer {
	return &Demuxer{
		table:          table,
		monitor:        monitor,
		correlator:     correlator,
		filters:        make(map[uint16]*filterState),
		programs:       make(map[uint16]uint16),
		onVideoPayload: onVideoPayload,
	}
}

// filter returns the filter state for pid, constructing the default for
// undescribed PIDs (PAT on PID 0, Null elsewhere).
func (d *Demuxer) filter(pid uint16) *filterState {
	if f, ok := d.filters[pid]; ok {
		return f
	}
	f := &filterState{kind: FilterNull}
	if pid == PATPID {
		f.kind = FilterPAT
	}
	d.filters[pid] = f
	return f
}

// ProcessPacket runs one 188-byte TS packet through compliance checks,
// statistics, and its PID's filter. arrival is the capture timestamp.
func (d *Demuxer) ProcessPacket(pkt []byte, arrival time.Time) {
	if len(pkt) < PacketSize {
		return
	}
	d.monitor.CheckP1(pkt)
	d.monitor.CheckP2(pkt)
	if TransportError(pkt) {
		// Header fields past the TEI bit are unreliable; count and drop.
		return
	}

	pid := PID(pkt)
	arrivalMs := uint64(arrival.UnixMilli())
	d.observeStats(pid, pkt, arrivalMs)

	f := d.filter(pid)

	if f.programPID != 0 || f.kind == FilterPMT {
		owner := f.programPID
		if f.kind == FilterPMT {
			owner = pid
		}
		if base, ok := PCR(pkt); ok {
			d.correlator.ObservePCR(owner, base, arrival)
		}
		if DiscontinuityIndicator(pkt) {
			d.monitor.RecordPcrDiscontinuity()
		}
	}

	switch f.kind {
	case FilterPAT:
		d.handlePAT(pkt)
	case FilterPMT:
		d.handlePMT(pid, pkt, arrivalMs)
	case FilterPES:
		d.handlePES(pid, f, pkt)
	case FilterScte35:
		d.handleScte35(pid, f, pkt)
	case FilterPCRWatch, FilterNull:
		// PCR already observed above; nothing else to do.
	}
}

// observeStats attributes the packet to its PID's record. Before any PMT
// has been seen every PID gets a record on first sighting; afterwards
// record creation belongs to PMT classification, so only known PIDs are
// updated.
func (d *Demuxer) observeStats(pid uint16, pkt []byte, arrivalMs uint64) {
	if d.pmtSeen && !d.table.Has(pid) {
		log.WithField("pid", pid).Debug("Packet for unclassified PID")
		return
	}
	cc := ContinuityCounter(pkt)
	before := d.errorCount(pid)
	d.table.Observe(pid, d.table.StreamType(pid), len(pkt), cc, pid != NullPID, arrivalMs)
	if d.errorCount(pid) > before {
		d.monitor.RecordContinuityError()
	}
}

func (d *Demuxer) errorCount(pid uint16) uint32 {
	return d.table.ErrorCount(pid)
}

func (d *Demuxer) handlePAT(pkt []byte) {
	entries := ParsePAT(pkt)
	for _, e := range entries {
		if _, known := d.programs[e.PmtPID]; !known {
			log.WithFields(log.Fields{
				"program_number": e.ProgramNumber,
				"pmt_pid":        e.PmtPID,
			}).Info("Program discovered")
		}
		d.programs[e.PmtPID] = e.ProgramNumber
		d.correlator.EnsureProgram(e.PmtPID)
		pf := d.filter(e.PmtPID)
		pf.kind = FilterPMT
	}
}

func (d *Demuxer) handlePMT(pmtPID uint16, pkt []byte, arrivalMs uint64) {
	if !PUSI(pkt) {
		return
	}
	pmt := ParsePMT(pkt)
	if len(pmt.Entries) == 0 {
		return
	}
	d.pmtSeen = true
	programNumber := d.programs[pmtPID]

	for _, e := range pmt.Entries {
		name := StreamTypeName(e.StreamType)
		d.table.Classify(e.StreamPID, pmtPID, programNumber, name, arrivalMs)

		// Filter construction happens once per PID.
		if f, ok := d.filters[e.StreamPID]; ok && f.kind != FilterNull {
			continue
		}
		f := d.filter(e.StreamPID)
		f.programPID = pmtPID
		switch {
		case e.StreamType == StreamTypeScte35 || e.Scte35Registration:
			f.kind = FilterScte35
			log.WithFields(log.Fields{
				"pid":         e.StreamPID,
				"program_pid": pmtPID,
			}).Info("SCTE-35 stream registered")
		case isPES(e.StreamType):
			f.kind = FilterPES
			f.video = IsVideo(e.StreamType)
		default:
			f.kind = FilterPCRWatch
		}
		log.WithFields(log.Fields{
			"pid":         e.StreamPID,
			"stream_type": name,
			"filter":      f.kind.String(),
		}).Debug("Filter installed")
	}
}

func (d *Demuxer) handlePES(pid uint16, f *filterState, pkt []byte) {
	if !f.video || d.onVideoPayload == nil {
		return
	}
	off, ok := PayloadOffset(pkt)
	if !ok {
		return
	}
	d.onVideoPayload(pid, pkt[off:])
}

func (d *Demuxer) handleScte35(pid uint16, f *filterState, pkt []byte) {
	off, ok := PayloadOffset(pkt)
	if !ok {
		return
	}
	payload := pkt[off:]

	if PUSI(pkt) {
		f.section = append(f.section[:0], payload...)
	} else {
		if f.section == nil {
			return
		}
		f.section = append(f.section, payload...)
	}
	if len(f.section) > maxSectionBytes {
		log.WithField("pid", pid).Error("SCTE-35 section overran bound, dropped")
		f.section = f.section[:0]
		return
	}

	err := d.correlator.HandleSection(pid, f.programPID, f.section)
	switch {
	case err == nil:
		f.section = f.section[:0]
	case errors.Is(err, scte35.ErrShortSection):
		// Wait for continuation packets.
	default:
		log.WithError(err).WithField("pid", pid).Error("SCTE-35 section parse failed, skipped")
		f.section = f.section[:0]
	}
}
