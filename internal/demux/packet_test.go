package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPID_Extraction(t *testing.T) {
	pkt := buildTSPacket(0x1ABC&0x1FFF, false, 0, nil)
	assert.Equal(t, uint16(0x1ABC&0x1FFF), PID(pkt))
}

func TestPID_TransportErrorRoutesNowhere(t *testing.T) {
	pkt := buildTSPacket(0x100, false, 0, nil)
	pkt[1] |= 0x80
	assert.Equal(t, uint16(0xFFFF), PID(pkt))
	assert.True(t, TransportError(pkt))
}

func TestPID_ShortPacket(t *testing.T) {
	assert.Equal(t, uint16(0), PID([]byte{0x47, 0x01}))
}

func TestPayloadOffset_PayloadOnly(t *testing.T) {
	pkt := buildTSPacket(0x100, false, 0, nil)
	off, ok := PayloadOffset(pkt)
	assert.True(t, ok)
	assert.Equal(t, 4, off)
}

func TestPayloadOffset_WithAdaptationField(t *testing.T) {
	pkt := buildTSPacket(0x100, false, 0, nil)
	pkt[3] = 0x30 // adaptation field + payload
	pkt[4] = 10   // adaptation_field_length
	off, ok := PayloadOffset(pkt)
	assert.True(t, ok)
	assert.Equal(t, 15, off)
}

func TestPayloadOffset_AdaptationOnly(t *testing.T) {
	pkt := buildTSPacket(0x100, false, 0, nil)
	pkt[3] = 0x20
	_, ok := PayloadOffset(pkt)
	assert.False(t, ok)
}

func TestPayloadOffset_MalformedAdaptationLength(t *testing.T) {
	pkt := buildTSPacket(0x100, false, 0, nil)
	pkt[3] = 0x30
	pkt[4] = 200 // runs past the packet
	_, ok := PayloadOffset(pkt)
	assert.False(t, ok)
}

func TestPCR_Extraction(t *testing.T) {
	pkt := buildTSPacket(0x100, false, 0, nil)
	pkt[3] = 0x30
	pkt[4] = 7    // adaptation_field_length
	pkt[5] = 0x10 // PCR flag
	// base = 0x123456789 (33 bits)
	base := int64(0x123456789)
	pkt[6] = byte(base >> 25)
	pkt[7] = byte(base >> 17)
	pkt[8] = byte(base >> 9)
	pkt[9] = byte(base >> 1)
	pkt[10] = byte(base&1) << 7
	pkt[11] = 0
	pkt[12] = 0

	got, ok := PCR(pkt)
	assert.True(t, ok)
	assert.Equal(t, base, got)
}

func TestPCR_AbsentWhenNotFlagged(t *testing.T) {
	pkt := buildTSPacket(0x100, false, 0, nil)
	pkt[3] = 0x30
	pkt[4] = 7
	pkt[5] = 0x00
	_, ok := PCR(pkt)
	assert.False(t, ok)
}

func TestDiscontinuityIndicator(t *testing.T) {
	pkt := buildTSPacket(0x100, false, 0, nil)
	pkt[3] = 0x30
	pkt[4] = 1
	pkt[5] = 0x80
	assert.True(t, DiscontinuityIndicator(pkt))

	pkt[5] = 0x00
	assert.False(t, DiscontinuityIndicator(pkt))
}

func TestClassify_Kinds(t *testing.T) {
	assert.Equal(t, KindMpegTS, Classify([]byte{SyncByte, 0x00, 0x00}))

	rtp := make([]byte, 20)
	rtp[0] = 0x80
	assert.Equal(t, KindSmpte2110, Classify(rtp))

	assert.Equal(t, KindUnknown, Classify([]byte{0x42, 0x00}))
	assert.Equal(t, KindUnknown, Classify(nil))
}
