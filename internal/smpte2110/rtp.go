// Package smpte2110 handles the RTP uncompressed-video path: RTP header
// decode via pion and the RFC 4175 payload header carrying the scan-line
// geometry. Statistics are keyed by RTP payload type, standing in for
// the PID the MPEG-TS path would use.
package smpte2110

import (
	"errors"

	"github.com/pion/rtp"
	log "github.com/sirupsen/logrus"

	"tsprobe/internal/stream"
)

// ErrShortPayload reports an RTP payload too small to carry the RFC 4175
// header fields.
var ErrShortPayload = errors.New("smpte2110: payload shorter than RFC 4175 header")

// LineHeader is the RFC 4175 payload header for one scan line segment.
type LineHeader struct {
	ExtendedSequence uint16
	Length           uint16
	FieldID          uint8
	LineNumber       uint16
	Continuation     uint8
	Offset           uint16
}

// rfc4175HeaderLen covers the extended sequence number plus one
// line-descriptor group.
const rfc4175HeaderLen = 8

// parseLineHeader decodes the first line descriptor from an RTP payload.
func parseLineHeader(payload []byte) (LineHeader, error) {
	if len(payload) < rfc4175HeaderLen {
		return LineHeader{}, ErrShortPayload
	}
	var h LineHeader
	h.ExtendedSequence = uint16(payload[0])<<8 | uint16(payload[1])
	h.Length = uint16(payload[2])<<8 | uint16(payload[3])
	h.FieldID = payload[4] >> 7
	h.LineNumber = uint16(payload[4]&0x7F)<<8 | uint16(payload[5])
	h.Continuation = payload[6] >> 7
	h.Offset = uint16(payload[6]&0x7F)<<8 | uint16(payload[7])
	return h, nil
}

// Analyzer folds SMPTE 2110 RTP packets into the shared PID table.
type Analyzer struct {
	table *stream.Table

	Packets    uint64
	ParseFails uint64
}

// NewAnalyzer creates an Analyzer writing into table.
func NewAnalyzer(table *stream.Table) *Analyzer {
	return &Analyzer{table: table}
}

// ProcessPacket decodes one RTP datagram and updates the record keyed by
// its payload type. Undecodable packets are counted and dropped.
func (a *Analyzer) ProcessPacket(data []byte, arrivalMs uint64) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		a.ParseFails++
		log.WithError(err).Debug("RTP unmarshal failed, packet dropped")
		return
	}
	line, err := parseLineHeader(pkt.Payload)
	if err != nil {
		a.ParseFails++
		log.WithError(err).Debug("RFC 4175 header parse failed, packet dropped")
		return
	}
	a.Packets++

	key := uint16(pkt.PayloadType)
	a.table.Update(key,
		func() *stream.Record {
			return stream.NewRecord(key, "SMPTE 2110 uncompressed video", arrivalMs)
		},
		func(r *stream.Record) {
			r.UpdateStats(len(data), arrivalMs)
			r.Count++
			r.SetRTPFields(pkt.Timestamp, pkt.PayloadType,
				line.LineNumber, line.Offset, line.Length,
				line.FieldID, line.Continuation, line.ExtendedSequence)
		})

	log.WithFields(log.Fields{
		"payload_type": pkt.PayloadType,
		"seq":          pkt.SequenceNumber,
		"ext_seq":      line.ExtendedSequence,
		"line":         line.LineNumber,
		"offset":       line.Offset,
		"length":       line.Length,
		"field":        line.FieldID,
	}).Debug("SMPTE 2110 line segment")
}
