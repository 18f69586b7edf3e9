package proc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corescope/corescope/internal/space"
)

func TestParseMappings(t *testing.T) {
	maps := strings.Join([]string{
		"12c00000-52c00000 rw-p 00000000 00:00 0                                  [anon:dalvik-main space (region space)]",
		"7b2c123000-7b2c15e000 r--p 00000000 fe:09 2249                           /apex/com.android.runtime/lib64/bionic/libc.so",
		"7b2c15e000-7b2c1f6000 r-xp 0003b000 fe:09 2249                           /apex/com.android.runtime/lib64/bionic/libc.so",
		"7b2c1f6000-7b2c1fc000 rw-p 000d3000 fe:09 2249                           /apex/com.android.runtime/lib64/bionic/libc.so",
		"7fc9b56000-7fc9b78000 rw-p 00000000 00:00 0                              [stack]",
		"7b2c200000-7b2c300000 rw-s 00000000 00:01 4099                           /memfd:jit-cache (deleted)",
	}, "\n")

	ms, err := parseMappings(strings.NewReader(maps))
	require.NoError(t, err)
	require.Len(t, ms, 6)

	m := ms[1]
	assert.Equal(t, uint64(0x7b2c123000), m.Start)
	assert.Equal(t, uint64(0x7b2c15e000), m.End)
	assert.Equal(t, uint64(0x3b000), ms[2].Offset)
	assert.Equal(t, space.PermRead, m.Perm)
	assert.Equal(t, space.PermRead|space.PermExec, ms[2].Perm)
	assert.Equal(t, uint64(0xfe09), m.Dev)
	assert.Equal(t, uint64(2249), m.Inode)
	assert.Equal(t, "/apex/com.android.runtime/lib64/bionic/libc.so", m.Path)
	assert.False(t, m.IsAnonymous())
	assert.Equal(t, uint64(0x3b000), m.Size())

	// Paths with embedded spaces survive field splitting.
	assert.Equal(t, "[anon:dalvik-main space (region space)]", ms[0].Path)
	assert.True(t, ms[0].IsAnonymous())
	assert.True(t, ms[4].IsAnonymous())

	// "(deleted)" stays part of the recorded path.
	assert.Equal(t, "/memfd:jit-cache (deleted)", ms[5].Path)
	assert.Equal(t, space.PermRead|space.PermWrite|space.PermShared, ms[5].Perm)
}

func TestParseMapsLineErrors(t *testing.T) {
	bad := []string{
		"",
		"7b2c123000-7b2c15e000 r--p",
		"7b2c123000 r--p 00000000 fe:09 2249 /x",
		"zzzz-7b2c15e000 r--p 00000000 fe:09 2249 /x",
		"7b2c123000-7b2c15e000 r--p 00000000 fe09 2249 /x",
	}
	for _, line := range bad {
		_, err := parseMapsLine(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestParseVmFlags(t *testing.T) {
	flags := parseVmFlags(" rd wr mr mw me dd ac")
	assert.Contains(t, flags, VMFlag{'r', 'd'})
	assert.Contains(t, flags, VMFlag{'d', 'd'})

	m := Mapping{VmFlags: flags}
	assert.True(t, m.DontDump())

	m.VmFlags = parseVmFlags("rd wr mr mw me ac")
	assert.False(t, m.DontDump())
}
