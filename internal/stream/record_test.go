package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_ContinuityCounter_SequentialValid(t *testing.T) {
	r := NewRecord(0x101, "test", 0)
	for cc := uint8(1); cc < 16; cc++ {
		r.SetContinuityCounter(cc)
	}
	assert.Equal(t, uint32(0), r.ErrorCount)
}

func TestRecord_ContinuityCounter_WrapIsValid(t *testing.T) {
	r := NewRecord(0x101, "test", 0)
	r.SetContinuityCounter(15)
	errsAt15 := r.ErrorCount
	r.SetContinuityCounter(0)
	assert.Equal(t, errsAt15, r.ErrorCount)
}

func TestRecord_ContinuityCounter_DuplicateIsValid(t *testing.T) {
	r := NewRecord(0x101, "test", 0)
	r.SetContinuityCounter(1)
	errs := r.ErrorCount
	r.SetContinuityCounter(1)
	assert.Equal(t, errs, r.ErrorCount)
}

func TestRecord_ContinuityCounter_SkipCounted(t *testing.T) {
	r := NewRecord(0x101, "test", 0)
	r.SetContinuityCounter(1)
	r.SetContinuityCounter(5)
	assert.Equal(t, uint32(1), r.ErrorCount)
	assert.Equal(t, uint8(5), r.ContinuityCounter)
}

func TestRecord_ContinuityCounter_BackwardsCounted(t *testing.T) {
	r := NewRecord(0x101, "test", 0)
	r.SetContinuityCounter(5)
	r.SetContinuityCounter(4)
	assert.Equal(t, uint32(2), r.ErrorCount) // 0->5 skip, then 5->4
}

func TestRecord_UpdateStats_BitrateLagsOnePacket(t *testing.T) {
	r := NewRecord(0x101, "test", 1000)

	// First packet: no bits accumulated yet, elapsed 1s -> bitrate 0.
	r.UpdateStats(188, 2000)
	assert.Equal(t, uint32(0), r.Bitrate)
	assert.Equal(t, uint64(188*8), r.TotalBits)

	// Second packet at 2s elapsed: 1504 bits over 2s.
	r.UpdateStats(188, 3000)
	assert.Equal(t, uint32(188*8/2), r.Bitrate)
}

func TestRecord_UpdateStats_MinOnlyLowered(t *testing.T) {
	r := NewRecord(0x101, "test", 0)
	r.UpdateStats(188, 1000)
	r.UpdateStats(188, 2000)
	r.UpdateStats(188, 3000)

	// The min fields start at zero and are only ever lowered, so they
	// stay pinned at zero for a live stream.
	assert.Equal(t, uint32(0), r.BitrateMin)
	assert.Equal(t, uint64(0), r.IATMin)
	assert.Greater(t, r.BitrateMax, uint32(0))
}

func TestRecord_UpdateStats_IAT(t *testing.T) {
	r := NewRecord(0x101, "test", 1000)
	r.UpdateStats(188, 1040)
	assert.Equal(t, uint64(40), r.IAT)
	assert.Equal(t, uint64(40), r.IATMax)

	r.UpdateStats(188, 1140)
	assert.Equal(t, uint64(100), r.IAT)
	assert.Equal(t, uint64(100), r.IATMax)
}

func TestNewRecord_Defaults(t *testing.T) {
	r := NewRecord(0x101, "unknown", 42)
	assert.Equal(t, uint16(0xFFFF), r.PmtPID)
	assert.Equal(t, uint64(42), r.StartTime)
	assert.Equal(t, uint64(42), r.LastArrivalTime)
}

func TestTable_ObserveCreatesAndCounts(t *testing.T) {
	table := NewTable()
	table.Observe(0x101, "unknown", 188, 0, true, 1000)
	table.Observe(0x101, "unknown", 188, 1, true, 1040)

	require.True(t, table.Has(0x101))
	snap := table.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint32(2), snap[0].Count)
	assert.Equal(t, uint32(0), snap[0].ErrorCount)
}

func TestTable_ClassifyUpdatesInPlace(t *testing.T) {
	table := NewTable()
	table.Observe(0x101, "unknown", 188, 0, true, 1000)
	table.Classify(0x101, 0x100, 1, "H.264/14496-10 video (MPEG-4/AVC)", 1000)

	assert.Equal(t, 1, table.Len())
	assert.Equal(t, "H.264/14496-10 video (MPEG-4/AVC)", table.StreamType(0x101))

	snap := table.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint16(0x100), snap[0].PmtPID)
	assert.Equal(t, uint16(1), snap[0].ProgramNumber)
	// Statistics from before classification survive.
	assert.Equal(t, uint32(1), snap[0].Count)
}

func TestTable_SnapshotSortedByPID(t *testing.T) {
	table := NewTable()
	for _, pid := range []uint16{0x300, 0x100, 0x200} {
		table.Observe(pid, "unknown", 188, 0, true, 1000)
	}
	snap := table.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, uint16(0x100), snap[0].PID)
	assert.Equal(t, uint16(0x200), snap[1].PID)
	assert.Equal(t, uint16(0x300), snap[2].PID)
}

func TestTable_StreamTypeUnknownDefault(t *testing.T) {
	table := NewTable()
	assert.Equal(t, "unknown", table.StreamType(0x999&0x1FFF))
}
