package h264

import (
	"encoding/hex"

	log "github.com/sirupsen/logrus"

	"tsprobe/internal/event"
)

// SEI payload types with dedicated handling.
const (
	seiBufferingPeriod      = 0
	seiPicTiming            = 1
	seiUserDataRegistered   = 4
	seiUserDataUnregistered = 5
)

// ituT35UnitedStates is the ITU-T T.35 country code for the United
// States, the region identifier that tags CEA-608 caption payloads.
const ituT35UnitedStates = 0xB5

// handleSEI walks the SEI message chain in one SEI NAL unit's RBSP.
// Each message is decoded per payload type; a malformed chain is logged
// and abandoned without touching the rest of the stream.
func (e *Extractor) handleSEI(rbsp []byte) {
	pos := 0
	for pos < len(rbsp) {
		if rbsp[pos] == 0x80 {
			// rbsp_trailing_bits
			return
		}
		payloadType := 0
		for pos < len(rbsp) && rbsp[pos] == 0xFF {
			payloadType += 255
			pos++
		}
		if pos >= len(rbsp) {
			return
		}
		payloadType += int(rbsp[pos])
		pos++

		payloadSize := 0
		for pos < len(rbsp) && rbsp[pos] == 0xFF {
			payloadSize += 255
			pos++
		}
		if pos >= len(rbsp) {
			log.Debug("Truncated SEI payload size, chain abandoned")
			return
		}
		payloadSize += int(rbsp[pos])
		pos++

		if pos+payloadSize > len(rbsp) {
			log.WithFields(log.Fields{
				"payload_type": payloadType,
				"payload_size": payloadSize,
			}).Error("SEI payload overruns NAL unit, chain abandoned")
			return
		}
		payload := rbsp[pos : pos+payloadSize]
		pos += payloadSize

		switch payloadType {
		case seiBufferingPeriod:
			if _, ok := e.ctx.AnySPS(); ok {
				log.WithField("size", payloadSize).Debug("SEI buffering period")
			}
		case seiPicTiming:
			if _, ok := e.ctx.AnySPS(); ok {
				log.WithField("size", payloadSize).Debug("SEI picture timing")
			}
		case seiUserDataRegistered:
			e.handleT35(payload)
		case seiUserDataUnregistered:
			log.WithField("payload", hex.EncodeToString(payload)).Info("SEI user data unregistered")
		default:
			log.WithFields(log.Fields{
				"payload_type": payloadType,
				"size":         payloadSize,
			}).Debug("SEI message")
		}
	}
}

// handleT35 decodes a user_data_registered_itu_t_t35 payload. Only
// United-States tagged payloads are interpreted (as CEA-608 caption
// groups); other regions are logged and dropped.
func (e *Extractor) handleT35(payload []byte) {
	if len(payload) < 2 {
		log.Debug("Short ITU-T T.35 payload, skipped")
		return
	}
	if payload[0] != ituT35UnitedStates {
		log.WithField("country_code", payload[0]).Debug("ITU-T T.35 region not handled")
		return
	}

	cc1, cc2, xds := DecodeCEA608(payload[1:])
	for _, text := range cc1 {
		e.events.Publish(event.Event{
			Kind:    event.KindCaption,
			Message: text,
			Fields:  map[string]string{"channel": "cc1"},
		})
	}
	for _, text := range cc2 {
		e.events.Publish(event.Event{
			Kind:    event.KindCaption,
			Message: text,
			Fields:  map[string]string{"channel": "cc2"},
		})
	}
	for _, raw := range xds {
		e.events.Publish(event.Event{Kind: event.KindXDS, Message: raw})
	}
	if len(cc1)+len(cc2)+len(xds) > 0 {
		log.WithFields(log.Fields{
			"cc1": len(cc1),
			"cc2": len(cc2),
			"xds": len(xds),
		}).Debug("CEA-608 groups decoded")
	}
}
