package demux

// streamTypeNames maps registered PMT stream_type codes to readable
// classification strings.
var streamTypeNames = map[uint8]string{
	0x00: "Reserved",
	0x01: "ISO/IEC 11172 MPEG-1 Video",
	0x02: "ISO/IEC 13818-2 MPEG-2 Video",
	0x03: "ISO/IEC 11172 MPEG-1 Audio",
	0x04: "ISO/IEC 13818-3 MPEG-2 Audio",
	0x05: "ISO/IEC 13818-1 Private Section",
	0x06: "ISO/IEC 13818-1 Private PES data packets",
	0x07: "ISO/IEC 13522 MHEG",
	0x08: "ISO/IEC 13818-1 Annex A DSM CC",
	0x09: "H222.1",
	0x0A: "ISO/IEC 13818-6 type A",
	0x0B: "ISO/IEC 13818-6 type B",
	0x0C: "ISO/IEC 13818-6 type C",
	0x0D: "ISO/IEC 13818-6 type D",
	0x0E: "ISO/IEC 13818-1 auxillary",
	0x0F: "13818-7 AAC Audio with ADTS transport syntax",
	0x10: "14496-2 Visual (MPEG-4 part 2 video)",
	0x11: "14496-3 MPEG-4 Audio with LATM transport syntax (14496-3/AMD 1)",
	0x12: "14496-1 SL-packetized or FlexMux stream in PES packets",
	0x13: "14496-1 SL-packetized or FlexMux stream in 14496 sections",
	0x14: "ISO/IEC 13818-6 Synchronized Download Protocol",
	0x15: "Metadata in PES packets",
	0x16: "Metadata in metadata_sections",
	0x17: "Metadata in 13818-6 Data Carousel",
	0x18: "Metadata in 13818-6 Object Carousel",
	0x19: "Metadata in 13818-6 Synchronized Download Protocol",
	0x1A: "13818-11 MPEG-2 IPMP stream",
	0x1B: "H.264/14496-10 video (MPEG-4/AVC)",
	0x24: "H.265 video (MPEG-H/HEVC)",
	0x42: "AVS Video",
	0x7F: "IPMP stream",
	0x81: "ATSC A/52 AC-3",
	0x86: "SCTE 35 Splice Information Table",
	0x87: "ATSC A/52e AC-3",
}

// Stream type codes with dedicated handling.
const (
	StreamTypeH264   = 0x1B
	StreamTypeH265   = 0x24
	StreamTypeScte35 = 0x86
)

// StreamTypeName maps a PMT stream_type code to its classification
// string. Unregistered codes below 0x80 are reserved by 13818-1;
// everything at or above 0x80 is user private.
func StreamTypeName(code uint8) string {
	if name, ok := streamTypeNames[code]; ok {
		return name
	}
	if code < 0x80 {
		return "ISO/IEC 13818-1 reserved"
	}
	return "User Private"
}

// IsVideo reports whether a stream_type code carries a video elementary
// stream we extract NAL units from.
func IsVideo(code uint8) bool {
	switch code {
	case 0x01, 0x02, StreamTypeH264, StreamTypeH265:
		return true
	}
	return false
}
