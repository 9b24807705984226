// Package elfimage loads 64-bit ELF executables for the debugger.
//
// The file is mapped read-only and all header and table accesses are
// validated against the size of the mapping, since the binary being
// debugged is untrusted input.
package elfimage

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/elfdbg/elfdbg/pkg/logflags"
)

// Sizes of the 64-bit ELF records.
const (
	headerSize  = 64
	sectionSize = 64
	progSize    = 56
	symSize     = 24
)

// Header holds the fields of the ELF file header that the debugger uses.
type Header struct {
	Class     elf.Class
	Data      elf.Data
	OSABI     elf.OSABI
	Type      elf.Type
	Machine   elf.Machine
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// SectionHeader describes one entry of the section header table.
type SectionHeader struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// ProgramHeader describes one entry of the program header table.
type ProgramHeader struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Image is a loaded ELF executable. It is immutable after Load returns;
// Sections, Progs and the slices returned by SectionData must not be
// modified. An Image may be shared between goroutines.
type Image struct {
	Header
	Path     string
	Sections []SectionHeader
	Progs    []ProgramHeader

	m      mapping
	symtab int // index of the first SHT_SYMTAB section, -1 if stripped

	closeOnce sync.Once
	unmap     func() error
}

// Load maps the file at path and parses its headers.
func Load(path string) (*Image, error) {
	log := logflags.ELFLogger()

	data, unmap, err := mapFile(path)
	if err != nil {
		return nil, withPath(err, path)
	}
	img, err := parse(data)
	if err != nil {
		if unmap != nil {
			unmap()
		}
		return nil, withPath(err, path)
	}
	img.Path = path
	img.unmap = unmap

	log.Debugf("loaded %s: entry=%#x sections=%d segments=%d stripped=%v", path, img.Entry, len(img.Sections), len(img.Progs), img.Stripped())
	return img, nil
}

func withPath(err error, path string) error {
	var le *LoadError
	if errors.As(err, &le) && le.Path == "" {
		le.Path = path
	}
	return err
}

func parse(data []byte) (*Image, error) {
	if len(data) < len(elf.ELFMAG) || string(data[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return nil, &LoadError{Kind: NotElf, Detail: "bad magic number"}
	}

	img := &Image{symtab: -1}
	img.m.data = data

	ident, err := img.m.bytesAt(0, elf.EI_NIDENT, "ELF identification")
	if err != nil {
		return nil, err
	}
	img.Class = elf.Class(ident[elf.EI_CLASS])
	if img.Class != elf.ELFCLASS64 {
		return nil, &LoadError{Kind: NotElf, Detail: fmt.Sprintf("unsupported class %v", img.Class)}
	}
	img.Data = elf.Data(ident[elf.EI_DATA])
	switch img.Data {
	case elf.ELFDATA2LSB:
		img.m.order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		img.m.order = binary.BigEndian
	default:
		return nil, &LoadError{Kind: Malformed, Detail: fmt.Sprintf("unknown data encoding %v", img.Data)}
	}
	img.OSABI = elf.OSABI(ident[elf.EI_OSABI])

	if err := img.parseHeader(); err != nil {
		return nil, err
	}
	if img.Shoff == 0 || img.Shnum == 0 || img.Shstrndx == 0 {
		return nil, &LoadError{Kind: MissingSectionTable}
	}
	if err := img.parseProgs(); err != nil {
		return nil, err
	}
	if err := img.parseSections(); err != nil {
		return nil, err
	}
	if err := img.findSymtab(); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) parseHeader() error {
	m := &img.m
	b, err := m.bytesAt(0, headerSize, "ELF header")
	if err != nil {
		return err
	}
	img.Type = elf.Type(m.u16(b, 16))
	img.Machine = elf.Machine(m.u16(b, 18))
	img.Entry = m.u64(b, 24)
	img.Phoff = m.u64(b, 32)
	img.Shoff = m.u64(b, 40)
	img.Phentsize = m.u16(b, 54)
	img.Phnum = m.u16(b, 56)
	img.Shentsize = m.u16(b, 58)
	img.Shnum = m.u16(b, 60)
	img.Shstrndx = m.u16(b, 62)
	return nil
}

func (img *Image) parseProgs() error {
	if img.Phnum == 0 {
		return nil
	}
	if img.Phentsize < progSize {
		return &LoadError{Kind: Truncated, Detail: fmt.Sprintf("program header entry size %d", img.Phentsize)}
	}
	m := &img.m
	tab, err := m.table(img.Phoff, uint64(img.Phnum), uint64(img.Phentsize), "program header table")
	if err != nil {
		return err
	}
	img.Progs = make([]ProgramHeader, img.Phnum)
	for i := range img.Progs {
		b := tab[i*int(img.Phentsize):]
		img.Progs[i] = ProgramHeader{
			Type:   elf.ProgType(m.u32(b, 0)),
			Flags:  elf.ProgFlag(m.u32(b, 4)),
			Offset: m.u64(b, 8),
			Vaddr:  m.u64(b, 16),
			Paddr:  m.u64(b, 24),
			Filesz: m.u64(b, 32),
			Memsz:  m.u64(b, 40),
			Align:  m.u64(b, 48),
		}
	}
	return nil
}

func (img *Image) parseSections() error {
	if img.Shentsize < sectionSize {
		return &LoadError{Kind: Truncated, Detail: fmt.Sprintf("section header entry size %d", img.Shentsize)}
	}
	m := &img.m
	tab, err := m.table(img.Shoff, uint64(img.Shnum), uint64(img.Shentsize), "section header table")
	if err != nil {
		return err
	}
	nameOffs := make([]uint32, img.Shnum)
	img.Sections = make([]SectionHeader, img.Shnum)
	for i := range img.Sections {
		b := tab[i*int(img.Shentsize):]
		nameOffs[i] = m.u32(b, 0)
		s := SectionHeader{
			Type:      elf.SectionType(m.u32(b, 4)),
			Flags:     elf.SectionFlag(m.u64(b, 8)),
			Addr:      m.u64(b, 16),
			Offset:    m.u64(b, 24),
			Size:      m.u64(b, 32),
			Link:      m.u32(b, 40),
			Info:      m.u32(b, 44),
			Addralign: m.u64(b, 48),
			Entsize:   m.u64(b, 56),
		}
		if s.Type != elf.SHT_NOBITS {
			if _, err := m.bytesAt(s.Offset, s.Size, fmt.Sprintf("section %d", i)); err != nil {
				return err
			}
		}
		img.Sections[i] = s
	}

	shstrndx := uint32(img.Shstrndx)
	if img.Shstrndx == uint16(elf.SHN_XINDEX) {
		shstrndx = img.Sections[0].Link
	}
	if shstrndx >= uint32(len(img.Sections)) {
		return &LoadError{Kind: Truncated, Detail: fmt.Sprintf("section name table index %d out of range", shstrndx)}
	}
	shstrtab, err := img.SectionData(int(shstrndx))
	if err != nil {
		return err
	}
	for i := range img.Sections {
		name, err := cstring(shstrtab, nameOffs[i], fmt.Sprintf("section %d", i))
		if err != nil {
			return err
		}
		img.Sections[i].Name = name
	}
	return nil
}

// findSymtab records the first SHT_SYMTAB section. Later symbol tables are
// ignored.
func (img *Image) findSymtab() error {
	for i := range img.Sections {
		if img.Sections[i].Type != elf.SHT_SYMTAB {
			continue
		}
		link := img.Sections[i].Link
		if link >= uint32(len(img.Sections)) {
			return &LoadError{Kind: Truncated, Detail: fmt.Sprintf("symbol table %d links to section %d out of range", i, link)}
		}
		if t := img.Sections[link].Type; t != elf.SHT_STRTAB {
			return &LoadError{Kind: Malformed, Detail: fmt.Sprintf("symbol table %d links to section %d of type %v", i, link, t)}
		}
		if es := img.Sections[i].Entsize; es != 0 && es != symSize {
			return &LoadError{Kind: Malformed, Detail: fmt.Sprintf("symbol table %d entry size %d", i, es)}
		}
		if sz := img.Sections[i].Size; sz%symSize != 0 {
			return &LoadError{Kind: Truncated, Detail: fmt.Sprintf("symbol table %d size %#x is not a multiple of %d", i, sz, symSize)}
		}
		img.symtab = i
		return nil
	}
	return nil
}

// SectionData returns the contents of section i. The returned slice
// aliases the read-only mapping.
func (img *Image) SectionData(i int) ([]byte, error) {
	if img.m.data == nil {
		return nil, &LoadError{Kind: IOFailure, Path: img.Path, Detail: "image closed"}
	}
	if i < 0 || i >= len(img.Sections) {
		return nil, &LoadError{Kind: Truncated, Path: img.Path, Detail: fmt.Sprintf("section index %d out of range", i)}
	}
	s := &img.Sections[i]
	if s.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	b, err := img.m.bytesAt(s.Offset, s.Size, fmt.Sprintf("section %d", i))
	if err != nil {
		return nil, withPath(err, img.Path)
	}
	return b, nil
}

// Section returns the first section with the given name, or nil.
func (img *Image) Section(name string) *SectionHeader {
	for i := range img.Sections {
		if img.Sections[i].Name == name {
			return &img.Sections[i]
		}
	}
	return nil
}

// Stripped returns true if the image has no symbol table.
func (img *Image) Stripped() bool {
	return img.symtab < 0
}

// SymtabIndex returns the index of the symbol table section in Sections
// and false if the image is stripped.
func (img *Image) SymtabIndex() (int, bool) {
	return img.symtab, img.symtab >= 0
}

// Close releases the mapping. Calling Close more than once is harmless.
func (img *Image) Close() error {
	var err error
	img.closeOnce.Do(func() {
		if img.unmap != nil {
			err = img.unmap()
		}
		img.m.data = nil
	})
	return err
}
