package demux

// FilterKind enumerates the closed set of per-PID behaviors. Selection
// happens in one classification step when a PID is first described by
// the PSI tables; filters never transition themselves.
type FilterKind int

const (
	FilterNull FilterKind = iota
	FilterPAT
	FilterPMT
	FilterPES
	FilterScte35
	FilterPCRWatch
)

func (k FilterKind) String() string {
	switch k {
	case FilterPAT:
		return "pat"
	case FilterPMT:
		return "pmt"
	case FilterPES:
		return "pes"
	case FilterScte35:
		return "scte35"
	case FilterPCRWatch:
		return "pcr-watch"
	default:
		return "null"
	}
}

// filterState is one PID's demux behavior plus whatever per-kind state
// it needs. Constructed once, at first classification.
type filterState struct {
	kind       FilterKind
	programPID uint16 // owning program (PMT) PID, for PCR correlation
	video      bool   // PES filters only: payload goes to the NAL extractor
	section    []byte // SCTE-35 filters only: accumulating section bytes
}

// isPES reports whether a stream_type code is an ordinary elementary
// stream consumed through a PES filter (video, audio, private PES).
func isPES(code uint8) bool {
	if IsVideo(code) {
		return true
	}
	switch code {
	case 0x03, 0x04, 0x06, 0x0F, 0x11, 0x81, 0x87:
		return true
	}
	return false
}
