package drm_test

import (
	"encoding/binary"
	"testing"

	"github.com/hepp3n/luxo/drm"
	"github.com/stretchr/testify/assert"
)

func edid(vendor string, product uint16, name string) []byte {
	b := make([]byte, 128)
	copy(b, []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00})

	id := uint16(vendor[0]-'A'+1)<<10 | uint16(vendor[1]-'A'+1)<<5 | uint16(vendor[2]-'A'+1)
	binary.BigEndian.PutUint16(b[8:], id)
	binary.LittleEndian.PutUint16(b[10:], product)

	if name != "" {
		d := b[72:90]
		d[3] = 0xfc
		copy(d[5:], name+"\n   ")
	}
	return b
}

func TestParseEDID(t *testing.T) {
	info, ok := drm.ParseEDID(edid("DEL", 0x4321, "DELL U2720Q"))
	assert.True(t, ok)
	assert.Equal(t, "Dell Inc.", info.Make)
	assert.Equal(t, "DELL U2720Q", info.Model)

	info, ok = drm.ParseEDID(edid("XYZ", 0xbeef, ""))
	assert.True(t, ok)
	assert.Equal(t, "XYZ", info.Make)
	assert.Equal(t, "0xBEEF", info.Model)

	_, ok = drm.ParseEDID(make([]byte, 128))
	assert.False(t, ok)
}
