package space

import "encoding/binary"

// Typed read convenience helpers over Read. The fixed-width readers
// use ModeAll; ReadCString takes the caller's mode. Android targets
// are little-endian on every supported architecture.

// ReadUint32 reads a 32-bit value at addr.
func (s *Space) ReadUint32(addr Address) (uint32, error) {
	var buf [4]byte
	if _, err := s.Read(addr, buf[:], ModeAll); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadUint64 reads a 64-bit value at addr.
func (s *Space) ReadUint64(addr Address) (uint64, error) {
	var buf [8]byte
	if _, err := s.Read(addr, buf[:], ModeAll); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadPtr reads a pointer-sized value at addr and normalizes it with
// the architecture pointer mask.
func (s *Space) ReadPtr(addr Address) (Address, error) {
	if s.arch.PointerSize() == 4 {
		v, err := s.ReadUint32(addr)
		return Address(v) & Address(s.arch.PointerMask()), err
	}
	v, err := s.ReadUint64(addr)
	return Address(v) & Address(s.arch.PointerMask()), err
}

// ReadCString reads a NUL-terminated string at addr, up to max bytes,
// honoring the caller's store selection.
func (s *Space) ReadCString(addr Address, max int, mode Mode) (string, error) {
	buf := make([]byte, 0, 64)
	var tmp [1]byte
	for i := 0; i < max; i++ {
		if _, err := s.Read(addr+Address(i), tmp[:], mode); err != nil {
			if len(buf) > 0 {
				break
			}
			return "", err
		}
		if tmp[0] == 0 {
			break
		}
		buf = append(buf, tmp[0])
	}
	return string(buf), nil
}
