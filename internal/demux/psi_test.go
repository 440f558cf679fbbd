package demux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsprobe/internal/compliance"
	"tsprobe/internal/event"
	"tsprobe/internal/scte35"
	"tsprobe/internal/stream"
)

// buildTSPacket assembles a 188-byte packet with a payload-only header
// and the given payload bytes, padded with 0xFF.
func buildTSPacket(pid uint16, pusi bool, cc uint8, payload []byte) []byte {
	pkt := make([]byte, PacketSize)
	pkt[0] = SyncByte
	pkt[1] = byte(pid >> 8)
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | (cc & 0x0F)
	for i := 4; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	copy(pkt[4:], payload)
	return pkt
}

func buildPATPacket(entries ...PatEntry) []byte {
	payload := []byte{0x00} // pointer field
	for _, e := range entries {
		payload = append(payload,
			byte(e.ProgramNumber>>8), byte(e.ProgramNumber),
			0xE0|byte(e.PmtPID>>8), byte(e.PmtPID))
	}
	return buildTSPacket(PATPID, true, 0, payload)
}

// pmtStream describes one elementary stream for buildPMTPacket.
type pmtStream struct {
	streamType  uint8
	pid         uint16
	descriptors []byte
}

func buildPMTPacket(pmtPID, programNumber uint16, streams ...pmtStream) []byte {
	var body []byte
	for _, s := range streams {
		body = append(body, s.streamType, 0xE0|byte(s.pid>>8), byte(s.pid),
			0xF0|byte(len(s.descriptors)>>8), byte(len(s.descriptors)))
		body = append(body, s.descriptors...)
	}

	// 9 bytes follow section_length before the stream loop, 4 bytes CRC
	// close the section.
	sectionLength := 9 + len(body) + 4
	payload := []byte{
		0x00, // pointer field
		0x02, // table_id
		0xB0 | byte(sectionLength>>8), byte(sectionLength),
		byte(programNumber >> 8), byte(programNumber),
		0xC1, 0x00, 0x00, // version/current, section numbers
		0xFF, 0xFF, // PCR PID (none)
		0xF0, 0x00, // program_info_length
	}
	payload = append(payload, body...)
	return buildTSPacket(pmtPID, true, 0, payload)
}

func TestParsePAT_SingleProgram(t *testing.T) {
	pkt := buildPATPacket(PatEntry{ProgramNumber: 1, PmtPID: 0x100})

	entries := ParsePAT(pkt)
	require.Len(t, entries, 1)
	assert.Equal(t, uint16(1), entries[0].ProgramNumber)
	assert.Equal(t, uint16(0x100), entries[0].PmtPID)
}

func TestParsePAT_FiltersImplausibleEntries(t *testing.T) {
	pkt := buildPATPacket(
		PatEntry{ProgramNumber: 0, PmtPID: 0x010},   // network PID entry
		PatEntry{ProgramNumber: 200, PmtPID: 0x200}, // program number out of range
		PatEntry{ProgramNumber: 2, PmtPID: 0x1FFF},  // null PID
		PatEntry{ProgramNumber: 3, PmtPID: 0x300},
	)

	entries := ParsePAT(pkt)
	require.Len(t, entries, 1)
	assert.Equal(t, uint16(3), entries[0].ProgramNumber)
	assert.Equal(t, uint16(0x300), entries[0].PmtPID)
}

func TestParsePAT_RequiresPUSI(t *testing.T) {
	pkt := buildPATPacket(PatEntry{ProgramNumber: 1, PmtPID: 0x100})
	pkt[1] &^= 0x40

	assert.Empty(t, ParsePAT(pkt))
}

func TestParsePAT_Truncated(t *testing.T) {
	pkt := buildPATPacket(PatEntry{ProgramNumber: 1, PmtPID: 0x100})
	assert.Empty(t, ParsePAT(pkt[:100]))
}

func TestParsePMT_StreamEntries(t *testing.T) {
	pkt := buildPMTPacket(0x100, 1,
		pmtStream{streamType: StreamTypeH264, pid: 0x101},
		pmtStream{streamType: 0x04, pid: 0x103},
	)

	pmt := ParsePMT(pkt)
	assert.Equal(t, uint16(1), pmt.ProgramNumber)
	require.Len(t, pmt.Entries, 2)
	assert.Equal(t, uint16(0x101), pmt.Entries[0].StreamPID)
	assert.Equal(t, uint8(StreamTypeH264), pmt.Entries[0].StreamType)
	assert.False(t, pmt.Entries[0].Scte35Registration)
	assert.Equal(t, uint16(0x103), pmt.Entries[1].StreamPID)
}

func TestParsePMT_CueiRegistration(t *testing.T) {
	cuei := []byte{0x05, 0x04, 'C', 'U', 'E', 'I'}
	pkt := buildPMTPacket(0x100, 1,
		pmtStream{streamType: 0x06, pid: 0x102, descriptors: cuei},
	)

	pmt := ParsePMT(pkt)
	require.Len(t, pmt.Entries, 1)
	assert.True(t, pmt.Entries[0].Scte35Registration)
}

func TestStreamTypeName_KnownAndDefaults(t *testing.T) {
	assert.Equal(t, "H.264/14496-10 video (MPEG-4/AVC)", StreamTypeName(StreamTypeH264))
	assert.Equal(t, "SCTE 35 Splice Information Table", StreamTypeName(StreamTypeScte35))
	assert.Equal(t, "ISO/IEC 13818-1 reserved", StreamTypeName(0x3F))
	assert.Equal(t, "User Private", StreamTypeName(0xC0))
}

func newTestDemuxer(t *testing.T) (*Demuxer, *stream.Table) {
	t.Helper()
	table := stream.NewTable()
	monitor := compliance.NewMonitor(nil)
	bus := event.NewBus(16)
	correlator := scte35.NewCorrelator(bus, monitor)
	return New(table, monitor, correlator, nil), table
}

func TestDemuxer_PatThenPmtClassifiesStreams(t *testing.T) {
	d, table := newTestDemuxer(t)
	now := time.Now()

	d.ProcessPacket(buildPATPacket(PatEntry{ProgramNumber: 1, PmtPID: 0x100}), now)
	d.ProcessPacket(buildPMTPacket(0x100, 1,
		pmtStream{streamType: StreamTypeH264, pid: 0x101},
		pmtStream{streamType: StreamTypeScte35, pid: 0x102},
	), now)

	assert.Equal(t, "H.264/14496-10 video (MPEG-4/AVC)", table.StreamType(0x101))
	assert.Equal(t, "SCTE 35 Splice Information Table", table.StreamType(0x102))
}

func TestDemuxer_PmtReparseIsIdempotent(t *testing.T) {
	d, table := newTestDemuxer(t)
	now := time.Now()

	d.ProcessPacket(buildPATPacket(PatEntry{ProgramNumber: 1, PmtPID: 0x100}), now)
	pmt := buildPMTPacket(0x100, 1, pmtStream{streamType: StreamTypeH264, pid: 0x101})
	d.ProcessPacket(pmt, now)
	before := table.Len()

	for i := 0; i < 5; i++ {
		d.ProcessPacket(pmt, now)
	}
	assert.Equal(t, before, table.Len())
	assert.Equal(t, "H.264/14496-10 video (MPEG-4/AVC)", table.StreamType(0x101))
}

func TestDemuxer_UnclassifiedPidAfterPmtIgnored(t *testing.T) {
	d, table := newTestDemuxer(t)
	now := time.Now()

	d.ProcessPacket(buildPATPacket(PatEntry{ProgramNumber: 1, PmtPID: 0x100}), now)
	d.ProcessPacket(buildPMTPacket(0x100, 1, pmtStream{streamType: StreamTypeH264, pid: 0x101}), now)
	before := table.Len()

	d.ProcessPacket(buildTSPacket(0x777, false, 0, nil), now)
	assert.Equal(t, before, table.Len())
	assert.False(t, table.Has(0x777))
}

func TestDemuxer_PreTableSightingCreatesRecord(t *testing.T) {
	d, table := newTestDemuxer(t)

	d.ProcessPacket(buildTSPacket(0x555, false, 0, nil), time.Now())
	assert.True(t, table.Has(0x555))
	assert.Equal(t, "unknown", table.StreamType(0x555))
}

func TestDemuxer_TransportErrorPacketDropped(t *testing.T) {
	d, table := newTestDemuxer(t)

	pkt := buildTSPacket(0x555, false, 0, nil)
	pkt[1] |= 0x80
	d.ProcessPacket(pkt, time.Now())
	assert.Equal(t, 0, table.Len())
}

func TestDemuxer_VideoPayloadForwarded(t *testing.T) {
	table := stream.NewTable()
	monitor := compliance.NewMonitor(nil)
	correlator := scte35.NewCorrelator(event.NewBus(16), monitor)

	var gotPID uint16
	var gotLen int
	d := New(table, monitor, correlator, func(pid uint16, payload []byte) {
		gotPID = pid
		gotLen = len(payload)
	})
	now := time.Now()

	d.ProcessPacket(buildPATPacket(PatEntry{ProgramNumber: 1, PmtPID: 0x100}), now)
	d.ProcessPacket(buildPMTPacket(0x100, 1, pmtStream{streamType: StreamTypeH264, pid: 0x101}), now)
	d.ProcessPacket(buildTSPacket(0x101, true, 1, []byte{0x00, 0x00, 0x01, 0x09, 0xF0}), now)

	assert.Equal(t, uint16(0x101), gotPID)
	assert.Equal(t, PacketSize-4, gotLen)
}
