package stream

import (
	"encoding/json"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Table is the per-session PID table. It is the only structure shared
// between pipeline stages; the lock is held only for a single record's
// read-modify-write-insert and never across a blocking operation.
//
// A Table is created at capture start and passed by reference to every
// stage, so nothing leaks across sessions.
type Table struct {
	mu      sync.Mutex
	records map[uint16]*Record
}

// NewTable creates an empty PID table for one capture session.
func NewTable() *Table {
	return &Table{records: make(map[uint16]*Record)}
}

// Update applies fn to the record for pid, creating it first via create
// if the PID has not been seen. fn runs under the table lock and must
// not block.
func (t *Table) Update(pid uint16, create func() *Record, fn func(*Record)) {
	t.mu.Lock()
	rec, ok := t.records[pid]
	if !ok {
		rec = create()
		t.records[pid] = rec
		log.WithFields(log.Fields{
			"pid":         pid,
			"stream_type": rec.StreamType,
		}).Info("Stream record created")
	}
	fn(rec)
	t.mu.Unlock()
}

// Observe folds one packet for pid into the statistics, creating the
// record on first sighting (the no-PMT-yet case: type starts "unknown").
func (t *Table) Observe(pid uint16, streamType string, size int, cc uint8, validateCC bool, arrivalMs uint64) {
	t.Update(pid,
		func() *Record {
			r := NewRecord(pid, streamType, arrivalMs)
			r.ContinuityCounter = cc & 0x0F
			return r
		},
		func(r *Record) {
			r.UpdateStats(size, arrivalMs)
			r.Count++
			if validateCC && pid != 0x1FFF {
				r.SetContinuityCounter(cc)
			}
		})
}

// Classify sets or refreshes the classification of pid from a PMT parse.
// Re-parsing an identical PMT updates the existing record in place; it
// never duplicates.
func (t *Table) Classify(pid, pmtPID, programNumber uint16, streamType string, nowMs uint64) {
	t.Update(pid,
		func() *Record { return NewRecord(pid, streamType, nowMs) },
		func(r *Record) {
			r.StreamType = streamType
			r.PmtPID = pmtPID
			r.ProgramNumber = programNumber
		})
}

// Has reports whether pid already has a record.
func (t *Table) Has(pid uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[pid]
	return ok
}

// ErrorCount returns the cumulative error count for pid (0 if unseen).
func (t *Table) ErrorCount(pid uint16) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[pid]; ok {
		return rec.ErrorCount
	}
	return 0
}

// StreamType returns the current classification for pid, or "unknown".
func (t *Table) StreamType(pid uint16) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[pid]; ok {
		return rec.StreamType
	}
	return "unknown"
}

// Len returns the number of tracked PIDs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Snapshot returns copies of all records ordered by PID.
func (t *Table) Snapshot() []Record {
	t.mu.Lock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		c := *rec
		c.iatDigest = nil
		out = append(out, c)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// MarshalJSON serializes the snapshot, so a Table can be embedded
// directly in exported reports.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}
