package demux

import log "github.com/sirupsen/logrus"

// PacketKind is the transport family of a raw captured packet.
type PacketKind int

const (
	KindUnknown PacketKind = iota
	KindMpegTS
	KindSmpte2110
)

// Classify inspects the leading byte of a raw payload and dispatches it
// to the MPEG-TS or RTP/SMPTE-2110 path. The check is deliberately a
// single byte plus a length bound since it runs on every packet.
func Classify(pkt []byte) PacketKind {
	if len(pkt) == 0 {
		return KindUnknown
	}
	if pkt[0] == SyncByte {
		return KindMpegTS
	}
	if len(pkt) > 12 && (pkt[0] == 0x80 || pkt[0] == 0x81) {
		return KindSmpte2110
	}
	log.WithFields(log.Fields{
		"leading_byte": pkt[0],
		"len":          len(pkt),
	}).Debug("Unrecognized packet discarded")
	return KindUnknown
}
