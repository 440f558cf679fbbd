package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsprobe/internal/event"
)

// spsRBSP is a hand-assembled baseline-profile SPS: level 30, 1920x1088,
// frame_mbs_only.
var spsRBSP = []byte{0x42, 0x00, 0x1E, 0xED, 0x00, 0xF0, 0x04, 0x4F}

// ppsRBSP references SPS 0 with CAVLC entropy coding.
var ppsRBSP = []byte{0xDF}

func TestParseSPS_Baseline1080(t *testing.T) {
	sps, err := ParseSPS(spsRBSP)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), sps.ID)
	assert.Equal(t, uint8(66), sps.ProfileIDC)
	assert.Equal(t, uint8(30), sps.LevelIDC)
	assert.Equal(t, uint32(4), sps.Log2MaxFrameNum)
	assert.Equal(t, uint32(0), sps.PicOrderCntType)
	assert.True(t, sps.FrameMbsOnly)
	assert.Equal(t, uint32(1920), sps.Width())
	assert.Equal(t, uint32(1088), sps.Height())
}

func TestParseSPS_Truncated(t *testing.T) {
	_, err := ParseSPS(spsRBSP[:2])
	assert.Error(t, err)
}

func TestParsePPS(t *testing.T) {
	pps, err := ParsePPS(ppsRBSP)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), pps.ID)
	assert.Equal(t, uint32(0), pps.SPSID)
	assert.False(t, pps.EntropyCodingMode)
}

func TestParseSliceHeader_RequiresParamSets(t *testing.T) {
	ctx := NewParamContext()
	_, err := ParseSliceHeader(ctx, []byte{0x88, 0x87}, true)
	assert.ErrorIs(t, err, errNoParamSet)
}

func TestParseSliceHeader_IDR(t *testing.T) {
	ctx := NewParamContext()
	sps, err := ParseSPS(spsRBSP)
	require.NoError(t, err)
	ctx.PutSPS(sps)
	pps, err := ParsePPS(ppsRBSP)
	require.NoError(t, err)
	ctx.PutPPS(pps)

	// first_mb 0, slice_type 7, pps_id 0, frame_num 0 (4 bits)
	sh, err := ParseSliceHeader(ctx, []byte{0x88, 0x87}, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), sh.SliceType)
	assert.Equal(t, "I", sh.SliceTypeName())
	assert.Equal(t, uint32(0), sh.FrameNum)
	assert.True(t, sh.IDR)
}

func TestRbspUnescape(t *testing.T) {
	in := []byte{0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x00}
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, rbspUnescape(in))
}

func TestExtractor_SPSAcrossFeeds(t *testing.T) {
	e := NewExtractor(event.NewBus(16))

	unit := append([]byte{0x00, 0x00, 0x00, 0x01, 0x67}, spsRBSP...)
	e.Feed(unit[:6])
	_, ok := e.Context().SPS(0)
	assert.False(t, ok, "unit still open, nothing dispatched")

	// Next fragment closes the SPS unit with a fresh start code.
	e.Feed(append(unit[6:], 0x00, 0x00, 0x00, 0x01, 0x09, 0xF0, 0xFF))

	sps, ok := e.Context().SPS(0)
	require.True(t, ok)
	assert.Equal(t, uint32(1920), sps.Width())
}

func TestExtractor_PaddingBoundary(t *testing.T) {
	e := NewExtractor(event.NewBus(16))

	e.Feed(append(append([]byte{0x00, 0x00, 0x00, 0x01, 0x68}, ppsRBSP...), 0xFF, 0xFF))
	_, ok := e.Context().PPS(0)
	assert.True(t, ok, "0xFF padding closes the unit")
	assert.Equal(t, uint64(1), e.UnitsExtracted)
}

func TestExtractor_TinyUnitsDiscarded(t *testing.T) {
	e := NewExtractor(event.NewBus(16))

	// Back-to-back start codes leave a unit with no body.
	e.Feed([]byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x09, 0xF0, 0xFF})
	assert.Equal(t, uint64(1), e.UnitsDiscarded)
	assert.Equal(t, uint64(1), e.UnitsExtracted)
}

func TestExtractor_ForbiddenZeroBitTolerated(t *testing.T) {
	e := NewExtractor(event.NewBus(16))

	e.Feed([]byte{0x00, 0x00, 0x00, 0x01, 0x87, 0x11, 0x22, 0xFF})
	// Unit counted but not routed anywhere; stream keeps going.
	assert.Equal(t, uint64(1), e.UnitsExtracted)
	_, ok := e.Context().PPS(0)
	assert.False(t, ok)
}

func TestExtractor_SEICaptionEvents(t *testing.T) {
	bus := event.NewBus(16)
	e := NewExtractor(bus)

	// SEI user_data_registered_itu_t_t35, country US, one CC1 pair 'HI'.
	sei := []byte{0x00, 0x00, 0x00, 0x01, 0x06,
		0x04, 0x04, 0xB5, 0x04, 0x48, 0x49, 0x80, 0xFF}
	e.Feed(sei)

	select {
	case ev := <-bus.Events():
		assert.Equal(t, event.KindCaption, ev.Kind)
		assert.Equal(t, "HI", ev.Message)
		assert.Equal(t, "cc1", ev.Fields["channel"])
	default:
		t.Fatal("no caption event published")
	}
}

func TestDecodeCEA608_ChannelsAndControls(t *testing.T) {
	data := []byte{
		0x04, 'H', 'I',
		0x04, 0x14, 0x2C, // clear caption
		0x04, 0x14, 0x20, // roll-up caption
		0x04, 0x01, 0x30, // XDS packet start
		0x05, 'O', 'K',
	}
	cc1, cc2, xds := DecodeCEA608(data)
	assert.Equal(t, []string{"HI", "[Clear Caption]", "[Roll-Up Caption]"}, cc1)
	assert.Equal(t, []string{"OK"}, cc2)
	assert.Equal(t, []string{"XDS: 01 30"}, xds)
}

func TestDecodeCEA608_XDSOnlyOnChannel1(t *testing.T) {
	// The XDS fallback fires after the text and control attempts, and
	// only on channel 1.
	cc1, cc2, xds := DecodeCEA608([]byte{0x04, 0x01, 0x30})
	assert.Empty(t, cc1)
	assert.Empty(t, cc2)
	assert.Equal(t, []string{"XDS: 01 30"}, xds)

	// The same pair on channel 2 is neither text nor XDS.
	cc1, cc2, xds = DecodeCEA608([]byte{0x05, 0x01, 0x30})
	assert.Empty(t, cc1)
	assert.Empty(t, cc2)
	assert.Empty(t, xds)
}

func TestDecodeCEA608_IgnoresOtherSelectors(t *testing.T) {
	cc1, cc2, xds := DecodeCEA608([]byte{0x00, 'A', 'B', 0x07, 'C', 'D'})
	assert.Empty(t, cc1)
	assert.Empty(t, cc2)
	assert.Empty(t, xds)
}

func TestNALTypeName(t *testing.T) {
	assert.Equal(t, "seq_param_set", NALTypeName(NALTypeSPS))
	assert.Equal(t, "slice_idr", NALTypeName(NALTypeSliceIDR))
	assert.Equal(t, "unspecified", NALTypeName(31))
}
