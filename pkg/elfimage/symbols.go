package elfimage

import (
	"debug/elf"
	"fmt"
)

// Symbol is an entry of the symbol table, with its name resolved through
// the linked string table.
type Symbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Info    byte
	Other   byte
	Section elf.SectionIndex
}

// Type returns the symbol type (function, object, ...).
func (s Symbol) Type() elf.SymType {
	return elf.ST_TYPE(s.Info)
}

// Bind returns the symbol binding (local, global, weak).
func (s Symbol) Bind() elf.SymBind {
	return elf.ST_BIND(s.Info)
}

// SymbolIter walks the symbol table in table order, decoding one record per
// call to Next. For a stripped image it yields nothing and Err returns nil.
//
//	it := img.Symbols()
//	for it.Next() {
//		sym := it.Symbol()
//		...
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type SymbolIter struct {
	img    *Image
	syms   []byte
	strtab []byte
	n, i   int
	cur    Symbol
	err    error
}

// Symbols returns an iterator over the symbol table of img.
func (img *Image) Symbols() *SymbolIter {
	it := &SymbolIter{img: img}
	if img.Stripped() {
		return it
	}
	hdr := &img.Sections[img.symtab]
	it.syms, it.err = img.SectionData(img.symtab)
	if it.err != nil {
		return it
	}
	it.strtab, it.err = img.SectionData(int(hdr.Link))
	if it.err != nil {
		return it
	}
	it.n = len(it.syms) / symSize
	return it
}

// Stripped returns true if the iterator has no symbol table to walk.
func (it *SymbolIter) Stripped() bool {
	return it.img.Stripped()
}

// Len returns the number of records in the symbol table, including the
// null symbol at index 0.
func (it *SymbolIter) Len() int {
	return it.n
}

// Next decodes the next symbol. It returns false at the end of the table
// or on error.
func (it *SymbolIter) Next() bool {
	if it.err != nil || it.i >= it.n {
		return false
	}
	m := &it.img.m
	b := it.syms[it.i*symSize : (it.i+1)*symSize]
	name, err := cstring(it.strtab, m.u32(b, 0), fmt.Sprintf("symbol %d", it.i))
	if err != nil {
		it.err = withPath(err, it.img.Path)
		return false
	}
	it.cur = Symbol{
		Name:    name,
		Info:    b[4],
		Other:   b[5],
		Section: elf.SectionIndex(m.u16(b, 6)),
		Value:   m.u64(b, 8),
		Size:    m.u64(b, 16),
	}
	it.i++
	return true
}

// Index returns the table index of the symbol returned by Symbol.
func (it *SymbolIter) Index() int {
	return it.i - 1
}

// Symbol returns the symbol decoded by the last call to Next.
func (it *SymbolIter) Symbol() Symbol {
	return it.cur
}

// Err returns the error that stopped the iteration, if any.
func (it *SymbolIter) Err() error {
	return it.err
}

// AllSymbols decodes the whole symbol table. It returns an empty slice for
// a stripped image.
func (img *Image) AllSymbols() ([]Symbol, error) {
	it := img.Symbols()
	syms := make([]Symbol, 0, it.Len())
	for it.Next() {
		syms = append(syms, it.Symbol())
	}
	return syms, it.Err()
}
