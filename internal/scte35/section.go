// Package scte35 decodes splice_info_section messages and correlates
// splice points against the most recent program clock reference.
package scte35

import (
	"errors"
	"fmt"

	"tsprobe/internal/bits"
)

// Splice command types carried by a splice_info_section.
const (
	CommandSpliceNull   = 0x00
	CommandSpliceInsert = 0x05
	CommandTimeSignal   = 0x06
)

// TableID of a splice_info_section.
const TableID = 0xFC

var (
	// ErrShortSection means the accumulated bytes do not yet hold the
	// full section; feed more packets and retry.
	ErrShortSection = errors.New("scte35: section incomplete")
	// ErrNotSpliceInfo means the table id is not a splice_info_section.
	ErrNotSpliceInfo = errors.New("scte35: not a splice_info_section")
)

// SpliceTime is the splice_time() structure.
type SpliceTime struct {
	TimeSpecified bool
	PTSTime       int64 // 33-bit 90 kHz
}

// BreakDuration is the break_duration() structure.
type BreakDuration struct {
	AutoReturn bool
	Duration   int64 // 33-bit 90 kHz
}

// SpliceInsert is splice command type 0x05.
type SpliceInsert struct {
	EventID              uint32
	EventCancelIndicator bool
	OutOfNetwork         bool
	ProgramSpliceFlag    bool
	SpliceImmediateFlag  bool
	SpliceTime           *SpliceTime
	BreakDuration        *BreakDuration
	UniqueProgramID      uint16
	AvailNum             uint8
	AvailsExpected       uint8
}

// TimeSignal is splice command type 0x06.
type TimeSignal struct {
	SpliceTime SpliceTime
}

// Descriptor is one entry of the splice descriptor loop. Only the
// common prefix is decoded; the body is kept raw.
type Descriptor struct {
	Tag        uint8
	Identifier uint32
	Data       []byte
}

// Section is a decoded splice_info_section.
type Section struct {
	ProtocolVersion uint8
	EncryptedPacket bool
	PTSAdjustment   int64
	Tier            uint16
	CommandType     uint8
	SpliceInsert    *SpliceInsert
	TimeSignal      *TimeSignal
	Descriptors     []Descriptor
}

// CommandName returns the readable splice command name.
func (s *Section) CommandName() string {
	switch s.CommandType {
	case CommandSpliceNull:
		return "splice_null"
	case CommandSpliceInsert:
		return "splice_insert"
	case CommandTimeSignal:
		return "time_signal"
	default:
		return fmt.Sprintf("private(0x%02x)", s.CommandType)
	}
}

// TimedSpliceTime returns the 90 kHz splice point when the section
// carries a timed program splice (SpliceInsert with a specified time, or
// a TimeSignal).
func (s *Section) TimedSpliceTime() (int64, bool) {
	switch {
	case s.SpliceInsert != nil:
		si := s.SpliceInsert
		if si.ProgramSpliceFlag && !si.SpliceImmediateFlag &&
			si.SpliceTime != nil && si.SpliceTime.TimeSpecified {
			return si.SpliceTime.PTSTime, true
		}
	case s.TimeSignal != nil:
		if s.TimeSignal.SpliceTime.TimeSpecified {
			return s.TimeSignal.SpliceTime.PTSTime, true
		}
	}
	return 0, false
}

// ParseSection decodes a splice_info_section from a section payload as
// accumulated from TS packets (pointer field first). ErrShortSection is
// returned while more bytes are needed.
func ParseSection(data []byte) (*Section, error) {
	if len(data) < 1 {
		return nil, ErrShortSection
	}
	pointer := int(data[0])
	start := 1 + pointer
	if len(data) < start+3 {
		return nil, ErrShortSection
	}
	if data[start] != TableID {
		return nil, ErrNotSpliceInfo
	}
	sectionLength := int(data[start+1]&0x0F)<<8 | int(data[start+2])
	if len(data) < start+3+sectionLength {
		return nil, ErrShortSection
	}

	r := bits.NewReader(data[start : start+3+sectionLength])
	r.SkipBits(8)  // table_id
	r.SkipBits(4)  // section_syntax_indicator, private, reserved
	r.SkipBits(12) // section_length

	sec := &Section{}
	sec.ProtocolVersion = uint8(r.ReadBits(8))
	sec.EncryptedPacket = r.ReadFlag()
	r.SkipBits(6) // encryption_algorithm
	sec.PTSAdjustment = int64(r.ReadBits64(33))
	r.SkipBits(8) // cw_index
	sec.Tier = uint16(r.ReadBits(12))
	commandLength := int(r.ReadBits(12))
	sec.CommandType = uint8(r.ReadBits(8))

	switch sec.CommandType {
	case CommandSpliceInsert:
		sec.SpliceInsert = parseSpliceInsert(r)
	case CommandTimeSignal:
		sec.TimeSignal = &TimeSignal{SpliceTime: parseSpliceTime(r)}
	default:
		r.SkipBytes(commandLength)
	}

	loopLength := int(r.ReadBits(16))
	for loopLength >= 6 && r.Err() == nil {
		d := Descriptor{Tag: uint8(r.ReadBits(8))}
		length := int(r.ReadBits(8))
		d.Identifier = r.ReadBits(32)
		body := length - 4
		if body > 0 {
			d.Data = make([]byte, 0, body)
			for i := 0; i < body; i++ {
				d.Data = append(d.Data, byte(r.ReadBits(8)))
			}
		}
		loopLength -= 2 + length
		if r.Err() != nil {
			break
		}
		sec.Descriptors = append(sec.Descriptors, d)
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("scte35: malformed section: %w", err)
	}
	return sec, nil
}

func parseSpliceInsert(r *bits.Reader) *SpliceInsert {
	si := &SpliceInsert{}
	si.EventID = r.ReadBits(32)
	si.EventCancelIndicator = r.ReadFlag()
	r.SkipBits(7)
	if si.EventCancelIndicator {
		return si
	}
	si.OutOfNetwork = r.ReadFlag()
	si.ProgramSpliceFlag = r.ReadFlag()
	durationFlag := r.ReadFlag()
	si.SpliceImmediateFlag = r.ReadFlag()
	r.SkipBits(4)
	if si.ProgramSpliceFlag && !si.SpliceImmediateFlag {
		t := parseSpliceTime(r)
		si.SpliceTime = &t
	}
	if !si.ProgramSpliceFlag {
		componentCount := int(r.ReadBits(8))
		for i := 0; i < componentCount; i++ {
			r.SkipBits(8) // component_tag
			if !si.SpliceImmediateFlag {
				t := parseSpliceTime(r)
				si.SpliceTime = &t
			}
		}
	}
	if durationFlag {
		bd := &BreakDuration{}
		bd.AutoReturn = r.ReadFlag()
		r.SkipBits(6)
		bd.Duration = int64(r.ReadBits64(33))
		si.BreakDuration = bd
	}
	si.UniqueProgramID = uint16(r.ReadBits(16))
	si.AvailNum = uint8(r.ReadBits(8))
	si.AvailsExpected = uint8(r.ReadBits(8))
	return si
}

func parseSpliceTime(r *bits.Reader) SpliceTime {
	var t SpliceTime
	t.TimeSpecified = r.ReadFlag()
	if t.TimeSpecified {
		r.SkipBits(6)
		t.PTSTime = int64(r.ReadBits64(33))
	} else {
		r.SkipBits(7)
	}
	return t
}
