package smpte2110

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsprobe/internal/stream"
)

func buildRTPPacket(t *testing.T, payloadType uint8, seq uint16, ts uint32, line LineHeader) []byte {
	t.Helper()
	payload := []byte{
		byte(line.ExtendedSequence >> 8), byte(line.ExtendedSequence),
		byte(line.Length >> 8), byte(line.Length),
		line.FieldID<<7 | byte(line.LineNumber>>8), byte(line.LineNumber),
		line.Continuation<<7 | byte(line.Offset>>8), byte(line.Offset),
	}
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           0x1234,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	require.NoError(t, err)
	return data
}

func TestParseLineHeader_Fields(t *testing.T) {
	want := LineHeader{
		ExtendedSequence: 0xABCD,
		Length:           4800,
		FieldID:          1,
		LineNumber:       719,
		Continuation:     1,
		Offset:           960,
	}
	data := buildRTPPacket(t, 96, 100, 90000, want)

	var pkt rtp.Packet
	require.NoError(t, pkt.Unmarshal(data))

	got, err := parseLineHeader(pkt.Payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseLineHeader_Short(t *testing.T) {
	_, err := parseLineHeader([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestAnalyzer_ProcessPacketUpdatesTable(t *testing.T) {
	table := stream.NewTable()
	a := NewAnalyzer(table)

	line := LineHeader{ExtendedSequence: 7, Length: 1200, LineNumber: 42, Offset: 480}
	a.ProcessPacket(buildRTPPacket(t, 96, 1, 90000, line), 1000)
	a.ProcessPacket(buildRTPPacket(t, 96, 2, 90000, line), 1040)

	require.True(t, table.Has(96))
	assert.Equal(t, uint64(2), a.Packets)

	snap := table.Snapshot()
	require.Len(t, snap, 1)
	rec := snap[0]
	assert.Equal(t, uint16(96), rec.PID)
	assert.Equal(t, "SMPTE 2110 uncompressed video", rec.StreamType)
	assert.Equal(t, uint8(96), rec.RTPPayloadType)
	assert.Equal(t, uint16(42), rec.RTPLineNumber)
	assert.Equal(t, uint16(480), rec.RTPLineOffset)
	assert.Equal(t, uint16(1200), rec.RTPLineLength)
	assert.Equal(t, uint16(7), rec.RTPExtendedSequence)
	assert.Equal(t, uint32(2), rec.Count)
}

func TestAnalyzer_GarbageCounted(t *testing.T) {
	a := NewAnalyzer(stream.NewTable())
	a.ProcessPacket([]byte{0x01}, 1000)
	assert.Equal(t, uint64(1), a.ParseFails)
	assert.Equal(t, uint64(0), a.Packets)
}

func TestAnalyzer_ShortRFC4175HeaderCounted(t *testing.T) {
	table := stream.NewTable()
	a := NewAnalyzer(table)

	pkt := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96},
		Payload: []byte{0x00, 0x01},
	}
	data, err := pkt.Marshal()
	require.NoError(t, err)

	a.ProcessPacket(data, 1000)
	assert.Equal(t, uint64(1), a.ParseFails)
	assert.False(t, table.Has(96))
}
