package demux

// TS packet header helpers. All offsets follow ISO/IEC 13818-1 §2.4.3.

const (
	// PacketSize is the length of one MPEG-TS packet.
	PacketSize = 188
	// SyncByte starts every TS packet.
	SyncByte = 0x47
	// PATPID carries the Program Association Table.
	PATPID = 0x0000
	// NullPID carries stuffing packets.
	NullPID = 0x1FFF
)

// PID extracts the 13-bit packet identifier. Packets shorter than a TS
// packet yield 0, and packets with the transport-error-indicator set
// yield 0xFFFF so they route nowhere.
func PID(pkt []byte) uint16 {
	if len(pkt) < PacketSize {
		return 0
	}
	if pkt[1]&0x80 != 0 {
		return 0xFFFF
	}
	return uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
}

// PUSI reports whether the payload-unit-start-indicator bit is set.
func PUSI(pkt []byte) bool {
	return len(pkt) > 1 && pkt[1]&0x40 != 0
}

// ContinuityCounter returns the 4-bit continuity counter.
func ContinuityCounter(pkt []byte) uint8 {
	if len(pkt) < 4 {
		return 0
	}
	return pkt[3] & 0x0F
}

// TransportError reports whether the transport-error-indicator is set.
func TransportError(pkt []byte) bool {
	return len(pkt) > 1 && pkt[1]&0x80 != 0
}

// PayloadOffset returns the offset of the packet payload, skipping the
// 4-byte header and the adaptation field if present. ok is false when
// the packet carries no payload (adaptation-field-only or a malformed
// adaptation length running past the packet).
func PayloadOffset(pkt []byte) (int, bool) {
	if len(pkt) < PacketSize {
		return 0, false
	}
	afc := (pkt[3] & 0x30) >> 4
	switch afc {
	case 0x01:
		return 4, true
	case 0x03:
		off := 4 + 1 + int(pkt[4])
		if off >= PacketSize {
			return 0, false
		}
		return off, true
	default:
		// 0x00 reserved, 0x02 adaptation field only
		return 0, false
	}
}

// PCR extracts the program clock reference base (33 bits, 90 kHz units)
// from the adaptation field, when present and flagged.
func PCR(pkt []byte) (int64, bool) {
	if len(pkt) < 12 {
		return 0, false
	}
	afc := (pkt[3] & 0x30) >> 4
	if afc != 0x02 && afc != 0x03 {
		return 0, false
	}
	afLen := int(pkt[4])
	if afLen < 7 || 5+afLen > len(pkt) {
		return 0, false
	}
	if pkt[5]&0x10 == 0 {
		return 0, false
	}
	base := int64(pkt[6])<<25 | int64(pkt[7])<<17 | int64(pkt[8])<<9 |
		int64(pkt[9])<<1 | int64(pkt[10])>>7
	return base, true
}

// DiscontinuityIndicator reports whether the adaptation field flags a
// clock discontinuity.
func DiscontinuityIndicator(pkt []byte) bool {
	afc := (pkt[3] & 0x30) >> 4
	if afc != 0x02 && afc != 0x03 {
		return false
	}
	return int(pkt[4]) > 0 && len(pkt) > 5 && pkt[5]&0x80 != 0
}
