package stream

import (
	"time"

	"github.com/influxdata/tdigest"
	log "github.com/sirupsen/logrus"
)

// Record holds the per-PID analysis state. One Record exists per PID (or
// per RTP payload type on the SMPTE 2110 path) for the lifetime of a
// capture session; it is created on first sighting and never torn down.
type Record struct {
	PID           uint16 `json:"pid"`
	PmtPID        uint16 `json:"pmt_pid"`
	ProgramNumber uint16 `json:"program_number"`
	StreamType    string `json:"stream_type"`

	ContinuityCounter uint8 `json:"continuity_counter"`

	// Bitrate in bits/second, derived from cumulative bits over elapsed
	// session time. The avg fields are IIR-smoothed: avg = (avg+new)/2,
	// not a true mean.
	Bitrate    uint32 `json:"bitrate"`
	BitrateMax uint32 `json:"bitrate_max"`
	BitrateMin uint32 `json:"bitrate_min"`
	BitrateAvg uint32 `json:"bitrate_avg"`

	// Inter-arrival time between consecutive packets, in milliseconds.
	IAT    uint64  `json:"iat"`
	IATMax uint64  `json:"iat_max"`
	IATMin uint64  `json:"iat_min"`
	IATAvg uint64  `json:"iat_avg"`
	IATp99 float64 `json:"iat_p99_ms"`

	ErrorCount      uint32 `json:"error_count"`
	LastArrivalTime uint64 `json:"last_arrival_time"`
	StartTime       uint64 `json:"start_time"`
	TotalBits       uint64 `json:"total_bits"`
	Count           uint32 `json:"count"`

	// SMPTE 2110 line metadata, populated only on the RTP path.
	RTPTimestamp         uint32 `json:"rtp_timestamp,omitempty"`
	RTPPayloadType       uint8  `json:"rtp_payload_type,omitempty"`
	RTPLineNumber        uint16 `json:"rtp_line_number,omitempty"`
	RTPLineOffset        uint16 `json:"rtp_line_offset,omitempty"`
	RTPLineLength        uint16 `json:"rtp_line_length,omitempty"`
	RTPFieldID           uint8  `json:"rtp_field_id,omitempty"`
	RTPLineContinuation  uint8  `json:"rtp_line_continuation,omitempty"`
	RTPExtendedSequence  uint16 `json:"rtp_extended_sequence_number,omitempty"`

	iatDigest *tdigest.TDigest
}

// NewRecord creates a Record for a PID first seen at startTime.
func NewRecord(pid uint16, streamType string, startTime uint64) *Record {
	return &Record{
		PID:             pid,
		PmtPID:          0xFFFF,
		StreamType:      streamType,
		StartTime:       startTime,
		LastArrivalTime: startTime,
		iatDigest:       tdigest.NewWithCompression(100),
	}
}

// UpdateStats folds one packet of packetSize bytes arriving at
// arrivalTime (unix milliseconds) into the rolling statistics.
//
// The bitrate is computed from the bits accumulated before this packet,
// and BitrateMin/IATMin are only ever lowered from their zero initial
// value. Both behaviors are inherited from the probe this replaces and
// kept so readings stay comparable.
func (r *Record) UpdateStats(packetSize int, arrivalTime uint64) {
	bits := uint64(packetSize) * 8

	var elapsedMs uint64
	if arrivalTime > r.StartTime {
		elapsedMs = arrivalTime - r.StartTime
	}
	if elapsedMs > 0 {
		elapsedSec := float64(elapsedMs) / 1000.0
		r.Bitrate = uint32(float64(r.TotalBits) / elapsedSec)
		if r.Bitrate > r.BitrateMax {
			r.BitrateMax = r.Bitrate
		}
		if r.Bitrate < r.BitrateMin {
			r.BitrateMin = r.Bitrate
		}
		r.BitrateAvg = (r.BitrateAvg + r.Bitrate) / 2
	}
	r.TotalBits += bits

	var iat uint64
	if arrivalTime > r.LastArrivalTime {
		iat = arrivalTime - r.LastArrivalTime
	}
	r.IAT = iat
	if iat > r.IATMax {
		r.IATMax = iat
	}
	if iat < r.IATMin {
		r.IATMin = iat
	}
	r.IATAvg = (r.IATAvg + iat) / 2
	r.iatDigest.Add(float64(iat), 1)
	r.IATp99 = r.iatDigest.Quantile(0.99)

	r.LastArrivalTime = arrivalTime
}

// SetContinuityCounter validates the 4-bit continuity counter transition
// and records the new value. A transition is valid when the counter
// advanced by exactly one modulo 16 (15 wrapping to 0) or is unchanged
// (duplicate packet); anything else counts as one continuity error.
func (r *Record) SetContinuityCounter(cc uint8) {
	cc &= 0x0F
	prev := r.ContinuityCounter
	r.ContinuityCounter = cc
	if cc == (prev+1)&0x0F || cc == prev {
		return
	}
	r.ErrorCount++
	log.WithFields(log.Fields{
		"pid":      r.PID,
		"previous": prev,
		"current":  cc,
	}).Error("Continuity counter discontinuity")
}

// SetRTPFields populates the SMPTE 2110 line metadata from one RTP packet.
func (r *Record) SetRTPFields(timestamp uint32, payloadType uint8, lineNumber, lineOffset, lineLength uint16, fieldID, continuation uint8, extSeq uint16) {
	r.RTPTimestamp = timestamp
	r.RTPPayloadType = payloadType
	r.RTPLineNumber = lineNumber
	r.RTPLineOffset = lineOffset
	r.RTPLineLength = lineLength
	r.RTPFieldID = fieldID
	r.RTPLineContinuation = continuation
	r.RTPExtendedSequence = extSeq
}

// NowMs returns the current wall clock as unix milliseconds, the time
// base used for all arrival timestamps.
func NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
