package elfimage

import (
	"encoding/binary"
	"fmt"
)

// mapping is a bounds-checked view over the bytes of a mapped file. Every
// read of header or table data goes through bytesAt, so a field that points
// past the end of the file is reported as Truncated instead of being
// dereferenced.
type mapping struct {
	data  []byte
	order binary.ByteOrder
}

// bytesAt returns data[off:off+n]. It fails if the range overflows or ends
// past the mapped region.
func (m *mapping) bytesAt(off, n uint64, what string) ([]byte, error) {
	end := off + n
	if end < off || end > uint64(len(m.data)) {
		return nil, &LoadError{
			Kind:   Truncated,
			Detail: fmt.Sprintf("%s [%#x, %#x+%#x) exceeds file size %#x", what, off, off, n, len(m.data)),
		}
	}
	return m.data[off:end], nil
}

// table returns the bytes of count records of entsize bytes starting at off.
func (m *mapping) table(off, count, entsize uint64, what string) ([]byte, error) {
	if count != 0 && entsize > ^uint64(0)/count {
		return nil, &LoadError{Kind: Truncated, Detail: fmt.Sprintf("%s size overflows", what)}
	}
	return m.bytesAt(off, count*entsize, what)
}

func (m *mapping) u16(b []byte, off int) uint16 { return m.order.Uint16(b[off:]) }
func (m *mapping) u32(b []byte, off int) uint32 { return m.order.Uint32(b[off:]) }
func (m *mapping) u64(b []byte, off int) uint64 { return m.order.Uint64(b[off:]) }

// cstring reads the NUL terminated string starting at off in strtab.
func cstring(strtab []byte, off uint32, what string) (string, error) {
	if uint64(off) >= uint64(len(strtab)) {
		if off == 0 && len(strtab) == 0 {
			return "", nil
		}
		return "", &LoadError{
			Kind:   Truncated,
			Detail: fmt.Sprintf("%s name offset %#x outside string table of size %#x", what, off, len(strtab)),
		}
	}
	for i := int(off); i < len(strtab); i++ {
		if strtab[i] == 0 {
			return string(strtab[off:i]), nil
		}
	}
	return "", &LoadError{
		Kind:   Truncated,
		Detail: fmt.Sprintf("%s name at %#x is not NUL terminated", what, off),
	}
}
