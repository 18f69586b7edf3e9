package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corescope/corescope/internal/space"
)

func TestParseAddr(t *testing.T) {
	for _, s := range []string{"7b2c123000", "0x7b2c123000", "0X7B2C123000"} {
		a, err := parseAddr(s)
		require.NoError(t, err, s)
		assert.Equal(t, space.Address(0x7b2c123000), a)
	}

	_, err := parseAddr("not-an-address")
	assert.Error(t, err)
}

func TestReadMode(t *testing.T) {
	readFlags.origin, readFlags.mmap, readFlags.overlay = false, false, false
	assert.Equal(t, space.ModeAll, readMode())

	readFlags.origin = true
	assert.Equal(t, space.ModeOrigin, readMode())
	readFlags.origin = false

	readFlags.mmap = true
	assert.Equal(t, space.ModeFileMmap, readMode())
	readFlags.mmap = false

	readFlags.overlay = true
	assert.Equal(t, space.ModeOverlay, readMode())
	readFlags.overlay = false
}

func TestHexDump(t *testing.T) {
	var buf bytes.Buffer
	hexDump(&buf, 0x1000, []byte("ABCDEFGHabcdefgh\x00\x01"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "1000:")
	assert.Contains(t, string(lines[0]), "4847464544434241") // "ABCDEFGH" little-endian
	assert.Contains(t, string(lines[0]), "ABCDEFGHabcdefgh")
	assert.Contains(t, string(lines[1]), "1010:")
	assert.Contains(t, string(lines[1]), "..") // non-printable bytes
}

func TestToASCII(t *testing.T) {
	assert.Equal(t, "a.b..", toASCII([]byte{'a', 0, 'b', 0x7f, 0xff}))
}
