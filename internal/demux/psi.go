package demux

import (
	log "github.com/sirupsen/logrus"
)

// PatEntry is one program association from the PAT.
type PatEntry struct {
	ProgramNumber uint16
	PmtPID        uint16
}

// PmtEntry is one elementary stream reference from a PMT.
type PmtEntry struct {
	StreamPID  uint16
	StreamType uint8
	// Scte35Registration is set when the ES descriptor loop carries the
	// 'CUEI' registration descriptor.
	Scte35Registration bool
}

// Pmt is the parsed stream list of one program map section.
type Pmt struct {
	ProgramNumber uint16
	Entries       []PmtEntry
}

// ParsePAT parses the program association entries carried in one TS
// packet. Only packets starting a section (PUSI set) are considered; the
// adaptation field and pointer field are skipped, then fixed 4-byte
// entries are read until the packet is exhausted.
//
// Entries are filtered by a sanity heuristic rather than table syntax:
// 0 < program_number < 100 and 0 < pmt_pid < 0x1FFF. Truncated or
// malformed input yields an empty slice, never a failure.
func ParsePAT(pkt []byte) []PatEntry {
	var entries []PatEntry

	if len(pkt) < PacketSize {
		return entries
	}
	if !PUSI(pkt) {
		// A PAT section only begins on a payload unit start.
		return entries
	}

	afc := (pkt[3] & 0x30) >> 4
	offset := 4
	if afc == 0x02 || afc == 0x03 {
		offset += 1 + int(pkt[4])
	}
	if offset >= len(pkt) {
		return entries
	}

	// Pointer field gives the start of the PAT section.
	offset += 1 + int(pkt[offset])

	for offset+4 <= len(pkt) {
		programNumber := uint16(pkt[offset])<<8 | uint16(pkt[offset+1])
		pmtPID := uint16(pkt[offset+2]&0x1F)<<8 | uint16(pkt[offset+3])

		if programNumber != 0 && programNumber < 100 && pmtPID != 0 && pmtPID < 0x1FFF {
			entries = append(entries, PatEntry{ProgramNumber: programNumber, PmtPID: pmtPID})
		}
		log.WithFields(log.Fields{
			"program_number": programNumber,
			"pmt_pid":        pmtPID,
		}).Debug("PAT entry")

		offset += 4
	}
	return entries
}

// ParsePMT parses the stream entries of a program map section carried in
// one TS packet. section_length and program_info_length locate the first
// stream descriptor; stream entries are 5 fixed bytes plus their
// ES-info descriptor loop, which is walked to detect the SCTE-35 'CUEI'
// registration descriptor.
func ParsePMT(pkt []byte) Pmt {
	var pmt Pmt
	if len(pkt) < 17 {
		return pmt
	}

	pmt.ProgramNumber = uint16(pkt[8])<<8 | uint16(pkt[9])
	sectionLength := int(pkt[6]&0x0F)<<8 | int(pkt[7])
	programInfoLength := int(pkt[15]&0x0F)<<8 | int(pkt[16])

	i := 17 + programInfoLength
	end := 8 + sectionLength - 4 // section data starts at 8; exclude CRC
	if end > len(pkt) {
		end = len(pkt)
	}

	for i+5 <= len(pkt) && i < end {
		entry := PmtEntry{
			StreamType: pkt[i],
			StreamPID:  uint16(pkt[i+1]&0x1F)<<8 | uint16(pkt[i+2]),
		}
		esInfoLength := int(pkt[i+3]&0x0F)<<8 | int(pkt[i+4])

		descEnd := i + 5 + esInfoLength
		if descEnd > len(pkt) {
			descEnd = len(pkt)
		}
		entry.Scte35Registration = hasCueiRegistration(pkt[i+5 : descEnd])

		i += 5 + esInfoLength
		pmt.Entries = append(pmt.Entries, entry)

		log.WithFields(log.Fields{
			"stream_pid":  entry.StreamPID,
			"stream_type": entry.StreamType,
			"cuei":        entry.Scte35Registration,
		}).Debug("PMT entry")
	}
	return pmt
}

// hasCueiRegistration walks an ES descriptor loop looking for a
// registration descriptor (tag 0x05) with format identifier 'CUEI'.
func hasCueiRegistration(descriptors []byte) bool {
	for len(descriptors) >= 2 {
		tag := descriptors[0]
		length := int(descriptors[1])
		if 2+length > len(descriptors) {
			return false
		}
		if tag == 0x05 && length >= 4 && string(descriptors[2:6]) == "CUEI" {
			return true
		}
		descriptors = descriptors[2+length:]
	}
	return false
}
