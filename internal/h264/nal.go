// Package h264 extracts Annex-B NAL units from transport-stream video
// payloads and decodes the structural headers: SPS/PPS parameter sets,
// SEI messages (including CEA-608 closed captions), and slice headers.
// No pixel decode happens here.
package h264

import (
	"errors"
	"fmt"

	"tsprobe/internal/bits"
)

// NAL unit types handled by the extractor.
const (
	NALTypeSliceNonIDR = 1
	NALTypeSliceIDR    = 5
	NALTypeSEI         = 6
	NALTypeSPS         = 7
	NALTypePPS         = 8
)

var nalTypeNames = []string{
	"unspecified",
	"slice_non_idr",
	"slice_partition_A",
	"slice_partition_B",
	"slice_partition_C",
	"slice_idr",
	"sei",
	"seq_param_set",
	"pic_param_set",
	"au_delimiter",
	"end_of_seq",
	"end_of_stream",
	"filler_data",
	"seq_param_set_ext",
	"prefix",
	"sub_seq_param_set",
}

// NALTypeName returns the readable name for a NAL unit type code.
func NALTypeName(t uint8) string {
	t &= 0x1F
	if int(t) < len(nalTypeNames) {
		return nalTypeNames[t]
	}
	return nalTypeNames[0]
}

var errNoParamSet = errors.New("h264: referenced parameter set not seen")

// SPS is the subset of a sequence parameter set needed for slice-header
// parsing and stream description.
type SPS struct {
	ID                     uint32
	ProfileIDC             uint8
	LevelIDC               uint8
	Log2MaxFrameNum        uint32
	PicOrderCntType        uint32
	Log2MaxPicOrderCntLsb  uint32
	FrameMbsOnly           bool
	PicWidthInMbs          uint32
	PicHeightInMapUnits    uint32
}

// Width returns the coded luma width in pixels (cropping ignored).
func (s *SPS) Width() uint32 { return s.PicWidthInMbs * 16 }

// Height returns the coded luma height in pixels (cropping ignored).
func (s *SPS) Height() uint32 {
	h := s.PicHeightInMapUnits * 16
	if !s.FrameMbsOnly {
		h *= 2
	}
	return h
}

// PPS is the subset of a picture parameter set needed for slice-header
// parsing.
type PPS struct {
	ID                uint32
	SPSID             uint32
	EntropyCodingMode bool
}

// ParamContext is the active parameter-set context shared by slice and
// SEI parses. It is owned exclusively by the decode worker; no locking.
type ParamContext struct {
	sps map[uint32]*SPS
	pps map[uint32]*PPS
}

// NewParamContext creates an empty context.
func NewParamContext() *ParamContext {
	return &ParamContext{sps: make(map[uint32]*SPS), pps: make(map[uint32]*PPS)}
}

// PutSPS stores or replaces a sequence parameter set.
func (c *ParamContext) PutSPS(s *SPS) { c.sps[s.ID] = s }

// PutPPS stores or replaces a picture parameter set.
func (c *ParamContext) PutPPS(p *PPS) { c.pps[p.ID] = p }

// SPS returns the stored set with the given id.
func (c *ParamContext) SPS(id uint32) (*SPS, bool) {
	s, ok := c.sps[id]
	return s, ok
}

// AnySPS returns an arbitrary stored SPS, for SEI parses that only need
// timing fields from the active sequence.
func (c *ParamContext) AnySPS() (*SPS, bool) {
	for _, s := range c.sps {
		return s, true
	}
	return nil, false
}

// PPS returns the stored set with the given id.
func (c *ParamContext) PPS(id uint32) (*PPS, bool) {
	p, ok := c.pps[id]
	return p, ok
}

// ParseSPS decodes a sequence parameter set from its RBSP (header byte
// stripped, emulation-prevention bytes removed).
func ParseSPS(rbsp []byte) (*SPS, error) {
	r := bits.NewReader(rbsp)
	s := &SPS{}
	s.ProfileIDC = uint8(r.ReadBits(8))
	r.SkipBits(8) // constraint_set flags + reserved
	s.LevelIDC = uint8(r.ReadBits(8))
	s.ID = r.ReadUE()

	switch s.ProfileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chromaFormatIDC := r.ReadUE()
		if chromaFormatIDC == 3 {
			r.SkipBits(1) // separate_colour_plane_flag
		}
		r.ReadUE()    // bit_depth_luma_minus8
		r.ReadUE()    // bit_depth_chroma_minus8
		r.SkipBits(1) // qpprime_y_zero_transform_bypass_flag
		if r.ReadFlag() {
			lists := 8
			if chromaFormatIDC == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if r.ReadFlag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(r, size)
				}
			}
		}
	}

	s.Log2MaxFrameNum = r.ReadUE() + 4
	s.PicOrderCntType = r.ReadUE()
	switch s.PicOrderCntType {
	case 0:
		s.Log2MaxPicOrderCntLsb = r.ReadUE() + 4
	case 1:
		r.SkipBits(1) // delta_pic_order_always_zero_flag
		r.ReadSE()    // offset_for_non_ref_pic
		r.ReadSE()    // offset_for_top_to_bottom_field
		n := r.ReadUE()
		for i := uint32(0); i < n; i++ {
			r.ReadSE()
		}
	}
	r.ReadUE()    // max_num_ref_frames
	r.SkipBits(1) // gaps_in_frame_num_value_allowed_flag
	s.PicWidthInMbs = r.ReadUE() + 1
	s.PicHeightInMapUnits = r.ReadUE() + 1
	s.FrameMbsOnly = r.ReadFlag()

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("h264: malformed SPS: %w", err)
	}
	return s, nil
}

func skipScalingList(r *bits.Reader, size int) {
	lastScale := int32(8)
	nextScale := int32(8)
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			nextScale = (lastScale + r.ReadSE() + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

// ParsePPS decodes a picture parameter set from its RBSP.
func ParsePPS(rbsp []byte) (*PPS, error) {
	r := bits.NewReader(rbsp)
	p := &PPS{}
	p.ID = r.ReadUE()
	p.SPSID = r.ReadUE()
	p.EntropyCodingMode = r.ReadFlag()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("h264: malformed PPS: %w", err)
	}
	return p, nil
}

// SliceHeader is the leading fields of an IDR/non-IDR slice header,
// parsed against the active parameter-set context.
type SliceHeader struct {
	FirstMBInSlice uint32
	SliceType      uint32
	PPSID          uint32
	FrameNum       uint32
	IDR            bool
}

var sliceTypeNames = []string{"P", "B", "I", "SP", "SI"}

// SliceTypeName returns the readable slice type.
func (h *SliceHeader) SliceTypeName() string {
	t := h.SliceType % 5
	return sliceTypeNames[t]
}

// ParseSliceHeader decodes the slice header prefix from its RBSP. The
// referenced PPS and SPS must already be in the context.
func ParseSliceHeader(ctx *ParamContext, rbsp []byte, idr bool) (*SliceHeader, error) {
	r := bits.NewReader(rbsp)
	h := &SliceHeader{IDR: idr}
	h.FirstMBInSlice = r.ReadUE()
	h.SliceType = r.ReadUE()
	h.PPSID = r.ReadUE()

	pps, ok := ctx.PPS(h.PPSID)
	if !ok {
		return nil, errNoParamSet
	}
	sps, ok := ctx.SPS(pps.SPSID)
	if !ok {
		return nil, errNoParamSet
	}
	h.FrameNum = r.ReadBits(int(sps.Log2MaxFrameNum))

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("h264: malformed slice header: %w", err)
	}
	return h, nil
}

// rbspUnescape removes emulation-prevention bytes (00 00 03 -> 00 00).
func rbspUnescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}
