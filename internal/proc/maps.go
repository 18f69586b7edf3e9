package proc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/corescope/corescope/internal/space"
)

// VMFlag represents a single memory advice flag (2 characters) from
// /proc/<pid>/smaps.
type VMFlag [2]byte

// MADV_DONTDUMP flag
var vmFlagDD = VMFlag{'d', 'd'}

// Mapping is one virtual memory area of the target as reported by the
// kernel.
type Mapping struct {
	Start   uint64
	End     uint64
	Perm    space.Perm
	Offset  uint64 // offset within the backing file
	Dev     uint64
	Inode   uint64
	Path    string
	VmFlags []VMFlag
}

// Size returns the mapping extent in bytes.
func (m *Mapping) Size() uint64 {
	return m.End - m.Start
}

// IsAnonymous reports whether the mapping has no backing file. Kernel
// pseudo-paths like [heap] and [stack] count as anonymous.
func (m *Mapping) IsAnonymous() bool {
	return m.Path == "" || strings.HasPrefix(m.Path, "[")
}

// DontDump reports whether the region carries MADV_DONTDUMP.
func (m *Mapping) DontDump() bool {
	return slices.Contains(m.VmFlags, vmFlagDD)
}

// ParseMaps parses /proc/<pid>/maps and merges the VmFlags from smaps.
func ParseMaps(pid int) ([]Mapping, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open maps: %w", err)
	}
	defer file.Close()

	mappings, err := parseMappings(file)
	if err != nil {
		return nil, err
	}

	flags, err := parseSMapsFlags(pid)
	if err != nil {
		// smaps may be unreadable under some kernels/configs; the
		// mappings themselves are still usable.
		return mappings, nil
	}
	for i := range mappings {
		mappings[i].VmFlags = flags[mappings[i].Start]
	}
	return mappings, nil
}

func parseMappings(r io.Reader) ([]Mapping, error) {
	var mappings []Mapping
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m, err := parseMapsLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("failed to parse maps line: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read maps: %w", err)
	}
	return mappings, nil
}

// parseMapsLine parses a single line from /proc/<pid>/maps.
func parseMapsLine(line string) (Mapping, error) {
	parts := strings.Fields(line)
	if len(parts) < 5 {
		return Mapping{}, fmt.Errorf("invalid maps line: %s", line)
	}

	addrParts := strings.Split(parts[0], "-")
	if len(addrParts) != 2 {
		return Mapping{}, fmt.Errorf("invalid address range: %s", parts[0])
	}
	start, err := strconv.ParseUint(addrParts[0], 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("invalid start address: %w", err)
	}
	end, err := strconv.ParseUint(addrParts[1], 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("invalid end address: %w", err)
	}

	perms := parts[1]
	var perm space.Perm
	if strings.Contains(perms, "r") {
		perm |= space.PermRead
	}
	if strings.Contains(perms, "w") {
		perm |= space.PermWrite
	}
	if strings.Contains(perms, "x") {
		perm |= space.PermExec
	}
	if strings.Contains(perms, "s") {
		perm |= space.PermShared
	}

	offset, err := strconv.ParseUint(parts[2], 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("invalid offset: %w", err)
	}

	devParts := strings.Split(parts[3], ":")
	if len(devParts) != 2 {
		return Mapping{}, fmt.Errorf("invalid device: %s", parts[3])
	}
	major, err := strconv.ParseUint(devParts[0], 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("invalid major device: %w", err)
	}
	minor, err := strconv.ParseUint(devParts[1], 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("invalid minor device: %w", err)
	}

	inode, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("invalid inode: %w", err)
	}

	var path string
	if len(parts) > 5 {
		path = strings.Join(parts[5:], " ")
	}

	return Mapping{
		Start:  start,
		End:    end,
		Perm:   perm,
		Offset: offset,
		Dev:    (major << 8) | minor,
		Inode:  inode,
		Path:   path,
	}, nil
}

// parseSMapsFlags extracts the VmFlags line per region from
// /proc/<pid>/smaps, keyed by region start address.
func parseSMapsFlags(pid int) (map[uint64][]VMFlag, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/smaps", pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open smaps: %w", err)
	}
	defer file.Close()

	flags := make(map[uint64][]VMFlag)
	var current uint64
	haveCurrent := false

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmFlags:") {
			if haveCurrent {
				flags[current] = parseVmFlags(line[len("VmFlags:"):])
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if i := strings.IndexByte(fields[0], '-'); i > 0 {
			if start, err := strconv.ParseUint(fields[0][:i], 16, 64); err == nil {
				current = start
				haveCurrent = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read smaps: %w", err)
	}
	return flags, nil
}

// parseVmFlags parses space-separated 2-character flags.
func parseVmFlags(s string) []VMFlag {
	var flags []VMFlag
	for _, part := range strings.Fields(s) {
		if len(part) == 2 {
			flags = append(flags, VMFlag{part[0], part[1]})
		}
	}
	return flags
}
