// Package elftest builds small synthetic ELF64 executables for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// TextAddr is the address of the .text section of every generated file,
// and its entry point.
const TextAddr = 0x401000

const (
	headerSize  = 64
	sectionSize = 64
	progSize    = 56
	symSize     = 24
)

// Sym is a symbol table entry to generate.
type Sym struct {
	Name  string
	Value uint64
	Size  uint64
	Info  byte
	Shndx uint16
}

// Func returns a global function symbol defined in .text.
func Func(name string, value, size uint64) Sym {
	return Sym{Name: name, Value: value, Size: size, Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), Shndx: 1}
}

// File describes an executable. Sections are: null, .text, .shstrtab and,
// unless Stripped, .strtab (index 3) and .symtab (index 4). The mutators
// run on the encoded records before they are written out.
type File struct {
	Syms     []Sym
	Stripped bool

	Header   func(h *elf.Header64)
	Sections func(shdrs []elf.Section64)
}

type strtab struct {
	buf bytes.Buffer
}

func newStrtab() *strtab {
	s := &strtab{}
	s.buf.WriteByte(0)
	return s
}

func (s *strtab) add(name string) uint32 {
	if name == "" {
		return 0
	}
	off := uint32(s.buf.Len())
	s.buf.WriteString(name)
	s.buf.WriteByte(0)
	return off
}

// Bytes encodes f as a little endian x86-64 executable.
func (f File) Bytes() []byte {
	le := binary.LittleEndian

	shstr := newStrtab()
	textName := shstr.add(".text")
	shstrName := shstr.add(".shstrtab")
	strName := shstr.add(".strtab")
	symName := shstr.add(".symtab")

	text := bytes.Repeat([]byte{0x90}, 32)

	var symtab bytes.Buffer
	str := newStrtab()
	if !f.Stripped {
		binary.Write(&symtab, le, elf.Sym64{})
		for _, s := range f.Syms {
			binary.Write(&symtab, le, elf.Sym64{
				Name:  str.add(s.Name),
				Info:  s.Info,
				Shndx: s.Shndx,
				Value: s.Value,
				Size:  s.Size,
			})
		}
	}

	var body bytes.Buffer
	body.Write(make([]byte, headerSize))
	place := func(b []byte) uint64 {
		off := uint64(body.Len())
		body.Write(b)
		return off
	}
	align := func() {
		for body.Len()%8 != 0 {
			body.WriteByte(0)
		}
	}
	textOff := place(text)
	shstrOff := place(shstr.buf.Bytes())
	var strOff, symOff uint64
	if !f.Stripped {
		strOff = place(str.buf.Bytes())
		align()
		symOff = place(symtab.Bytes())
	}
	align()

	shdrs := []elf.Section64{
		{},
		{Name: textName, Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), Addr: TextAddr, Off: textOff, Size: uint64(len(text)), Addralign: 16},
		{Name: shstrName, Type: uint32(elf.SHT_STRTAB), Off: shstrOff, Size: uint64(shstr.buf.Len()), Addralign: 1},
	}
	if !f.Stripped {
		shdrs = append(shdrs,
			elf.Section64{Name: strName, Type: uint32(elf.SHT_STRTAB), Off: strOff, Size: uint64(str.buf.Len()), Addralign: 1},
			elf.Section64{Name: symName, Type: uint32(elf.SHT_SYMTAB), Off: symOff, Size: uint64(symtab.Len()), Link: 3, Info: 1, Addralign: 8, Entsize: symSize},
		)
	}
	if f.Sections != nil {
		f.Sections(shdrs)
	}
	shoff := uint64(body.Len())
	for _, sh := range shdrs {
		binary.Write(&body, le, sh)
	}

	h := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     TextAddr,
		Shoff:     shoff,
		Ehsize:    headerSize,
		Phentsize: progSize,
		Shentsize: sectionSize,
		Shnum:     uint16(len(shdrs)),
		Shstrndx:  2,
	}
	copy(h.Ident[:], elf.ELFMAG)
	h.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	h.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	h.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	if f.Header != nil {
		f.Header(&h)
	}
	var hdr bytes.Buffer
	binary.Write(&hdr, le, h)

	out := body.Bytes()
	copy(out, hdr.Bytes())
	return out
}

// WriteFile writes data to a file in a temporary directory of t and
// returns its path.
func WriteFile(t testing.TB, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.out")
	if err := os.WriteFile(path, data, 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// Write encodes f into a temporary file and returns its path.
func (f File) Write(t testing.TB) string {
	t.Helper()
	return WriteFile(t, f.Bytes())
}
