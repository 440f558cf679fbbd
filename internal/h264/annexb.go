package h264

import (
	"bytes"

	log "github.com/sirupsen/logrus"

	"tsprobe/internal/event"
)

var (
	startCodeShort = []byte{0x00, 0x00, 0x01}
	startCodeLong  = []byte{0x00, 0x00, 0x00, 0x01}
	zeroRun        = []byte{0x00, 0x00, 0x00}
)

// maxPendingBytes bounds the cross-packet reassembly buffer. On
// overflow the buffer resets to empty and the unconsumed bytes are
// dropped (lossy by policy, same as the demux scratch buffer).
const maxPendingBytes = 64 * 1024

// Extractor is the stateful Annex-B accumulator. Video payload
// fragments are fed in TS-packet order; NAL units that span packets
// reassemble in the pending buffer and dispatch once structurally
// complete. The extractor is owned by a single decode worker.
type Extractor struct {
	ctx     *ParamContext
	events  *event.Bus
	pending []byte

	// Verbose controls logging of the tolerated malformed-header class
	// (forbidden_zero_bit violations).
	Verbose bool

	UnitsExtracted uint64
	UnitsDiscarded uint64
	OverflowResets uint64
}

// NewExtractor creates an Extractor publishing caption events on bus.
func NewExtractor(bus *event.Bus) *Extractor {
	return &Extractor{ctx: NewParamContext(), events: bus}
}

// Context exposes the active parameter-set context.
func (e *Extractor) Context() *ParamContext { return e.ctx }

// Feed appends one video payload fragment and dispatches every NAL unit
// that is now complete.
func (e *Extractor) Feed(payload []byte) {
	if len(e.pending)+len(payload) > maxPendingBytes {
		e.pending = e.pending[:0]
		e.OverflowResets++
		log.Debug("Annex-B pending buffer overflow, reset")
	}
	e.pending = append(e.pending, payload...)

	units, rest := splitUnits(e.pending)
	for _, u := range units {
		e.dispatch(u)
	}
	e.pending = append(e.pending[:0], rest...)
}

// Flush dispatches whatever is buffered as a final unit (stream end).
func (e *Extractor) Flush() {
	units, rest := splitUnits(e.pending)
	for _, u := range units {
		e.dispatch(u)
	}
	if len(rest) > 3 && startCodeAt(rest, 0) > 0 {
		e.dispatch(rest)
	}
	e.pending = e.pending[:0]
}

// startCodeAt returns the start-code length at data[i] (3, 4, or 0).
func startCodeAt(data []byte, i int) int {
	if i+4 <= len(data) && bytes.Equal(data[i:i+4], startCodeLong) {
		return 4
	}
	if i+3 <= len(data) && bytes.Equal(data[i:i+3], startCodeShort) {
		return 3
	}
	return 0
}

// splitUnits walks data for Annex-B delimited units. A unit runs from
// its start code to the next start code or a heuristic boundary: a 0xFF
// padding byte or a zero-byte run, at least one byte into the unit
// body. Units of three bytes or fewer are noise and discarded. Bytes
// that might begin an incomplete unit (or a split start code) are
// returned as rest for the next Feed.
func splitUnits(data []byte) (units [][]byte, rest []byte) {
	pos := 0
	for {
		// Find the next start code, skipping leading noise.
		start := -1
		scLen := 0
		for i := pos; i < len(data); i++ {
			if n := startCodeAt(data, i); n > 0 {
				start, scLen = i, n
				break
			}
		}
		if start < 0 {
			// Keep a possible split start code for the next fragment.
			tail := len(data) - 3
			if tail < pos {
				tail = pos
			}
			return units, data[tail:]
		}

		// Scan forward for the unit boundary.
		end := -1
		for j := start + scLen; j < len(data); j++ {
			if j > start+3 {
				if startCodeAt(data, j) > 0 {
					end = j
					break
				}
				if data[j] == 0xFF {
					end = j
					break
				}
				if j+3 <= len(data) && bytes.Equal(data[j:j+3], zeroRun) {
					end = j
					break
				}
			}
		}
		if end < 0 {
			// Unit still open; everything from the start code onward
			// waits for more bytes.
			return units, data[start:]
		}

		if end-start > 3 {
			units = append(units, data[start:end])
		}
		pos = end
		if startCodeAt(data, pos) == 0 {
			pos++ // step past the padding/zero boundary byte
		}
	}
}

// dispatch routes one complete unit by NAL type. Parse failures are
// logged and the unit skipped; the stream continues.
func (e *Extractor) dispatch(unit []byte) {
	scLen := startCodeAt(unit, 0)
	body := unit[scLen:]
	if len(body) == 0 {
		e.UnitsDiscarded++
		return
	}
	e.UnitsExtracted++

	hdr := body[0]
	if hdr&0x80 != 0 {
		// forbidden_zero_bit violations show up routinely in damaged
		// feeds; tolerated without aborting the stream.
		if e.Verbose {
			log.WithField("header", hdr).Debug("NAL header forbidden_zero_bit set, unit skipped")
		}
		return
	}

	nalType := hdr & 0x1F
	switch nalType {
	case NALTypeSPS:
		sps, err := ParseSPS(rbspUnescape(body[1:]))
		if err != nil {
			log.WithError(err).Error("SPS parse failed, unit skipped")
			return
		}
		e.ctx.PutSPS(sps)
		log.WithFields(log.Fields{
			"sps_id":  sps.ID,
			"profile": sps.ProfileIDC,
			"level":   sps.LevelIDC,
			"width":   sps.Width(),
			"height":  sps.Height(),
		}).Info("SPS updated")
	case NALTypePPS:
		pps, err := ParsePPS(rbspUnescape(body[1:]))
		if err != nil {
			log.WithError(err).Error("PPS parse failed, unit skipped")
			return
		}
		e.ctx.PutPPS(pps)
		log.WithFields(log.Fields{"pps_id": pps.ID, "sps_id": pps.SPSID}).Info("PPS updated")
	case NALTypeSEI:
		e.handleSEI(rbspUnescape(body[1:]))
	case NALTypeSliceIDR, NALTypeSliceNonIDR:
		sh, err := ParseSliceHeader(e.ctx, rbspUnescape(body[1:]), nalType == NALTypeSliceIDR)
		if err != nil {
			log.WithError(err).Debug("Slice header parse failed, unit skipped")
			return
		}
		log.WithFields(log.Fields{
			"slice_type": sh.SliceTypeName(),
			"frame_num":  sh.FrameNum,
			"idr":        sh.IDR,
		}).Debug("Slice header")
	default:
		log.WithField("type", NALTypeName(nalType)).Debug("NAL unit")
	}
}
