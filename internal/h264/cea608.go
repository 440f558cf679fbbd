package h264

import (
	"fmt"
	"strings"
)

// CEA-608 caption group selectors inside the T.35 payload.
const (
	cea608SelectorCC1 = 0x04
	cea608SelectorCC2 = 0x05
)

// DecodeCEA608 decodes the 3-byte caption groups that follow the T.35
// country code. Printable character pairs accumulate into text runs per
// channel; the two control codes that matter for live monitoring are
// rendered as markers. A channel-1 pair that decodes as neither text
// nor a control code is tried as an XDS packet start and reported as
// raw bytes; channel 2 carries no XDS.
func DecodeCEA608(data []byte) (cc1, cc2, xds []string) {
	var run1, run2 strings.Builder

	flush := func(b *strings.Builder, out *[]string) {
		if b.Len() > 0 {
			*out = append(*out, b.String())
			b.Reset()
		}
	}

	for i := 0; i+2 < len(data); i += 3 {
		sel := data[i]
		b1 := data[i+1] & 0x7F
		b2 := data[i+2] & 0x7F

		run := &run1
		out := &cc1
		switch sel {
		case cea608SelectorCC1:
		case cea608SelectorCC2:
			run = &run2
			out = &cc2
		default:
			continue
		}

		switch {
		case b1 >= 0x20 && b2 >= 0x20:
			run.WriteByte(b1)
			run.WriteByte(b2)
		case b1 == 0x14 && b2 == 0x2C:
			flush(run, out)
			*out = append(*out, "[Clear Caption]")
		case b1 == 0x14 && b2 == 0x20:
			flush(run, out)
			*out = append(*out, "[Roll-Up Caption]")
		case sel == cea608SelectorCC1 && b1 == 0x01 && b2 >= 0x20:
			xds = append(xds, fmt.Sprintf("XDS: %02X %02X", b1, b2))
		}
	}

	flush(&run1, &cc1)
	flush(&run2, &cc2)
	return cc1, cc2, xds
}
