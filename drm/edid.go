package drm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

var edidHeader = []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

const (
	edidBlockSize      = 128
	edidDescriptorName = 0xfc
	edidDescriptorSN   = 0xff
)

var pnpVendors = map[string]string{
	"ACI": "Ancor Communications Inc",
	"AUO": "AU Optronics",
	"BOE": "BOE",
	"BNQ": "BenQ Corporation",
	"CMN": "Chimei Innolux Corporation",
	"DEL": "Dell Inc.",
	"GSM": "LG Electronics",
	"HWP": "HP Inc.",
	"LEN": "Lenovo Group Limited",
	"SAM": "Samsung Electric Company",
	"SHP": "Sharp Corporation",
}

// ParseEDID extracts the identifying strings of a display from the
// base block of its EDID. ok is false if b is not an EDID.
func ParseEDID(b []byte) (info DisplayInfo, ok bool) {
	if len(b) < edidBlockSize || !bytes.Equal(b[:8], edidHeader) {
		return info, false
	}

	id := binary.BigEndian.Uint16(b[8:10])
	pnp := string([]byte{
		byte(id>>10&0x1f) + 'A' - 1,
		byte(id>>5&0x1f) + 'A' - 1,
		byte(id&0x1f) + 'A' - 1,
	})
	info.Make = pnp
	if name, ok := pnpVendors[pnp]; ok {
		info.Make = name
	}

	for off := 54; off+18 <= 126; off += 18 {
		d := b[off : off+18]
		if d[0] != 0 || d[1] != 0 || d[2] != 0 {
			continue
		}

		switch d[3] {
		case edidDescriptorName:
			info.Model = descriptorString(d[5:])
		case edidDescriptorSN:
			info.Serial = descriptorString(d[5:])
		}
	}

	if info.Model == "" {
		info.Model = fmt.Sprintf("0x%04X", binary.LittleEndian.Uint16(b[10:12]))
	}
	if info.Serial == "" {
		if sn := binary.LittleEndian.Uint32(b[12:16]); sn != 0 {
			info.Serial = fmt.Sprint(sn)
		}
	}

	return info, true
}

func descriptorString(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}
