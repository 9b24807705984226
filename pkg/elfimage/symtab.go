package elfimage

import (
	"debug/elf"
	"sort"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultSymbolCacheSize is the number of address lookups SymbolTable
// remembers when no size is configured.
const DefaultSymbolCacheSize = 256

// SymbolTable indexes the named symbols of an image by name and by
// address.
type SymbolTable struct {
	byAddr []Symbol
	names  *trie.Trie
	count  int
	cache  *lru.Cache
}

type resolved struct {
	sym Symbol
	off uint64
	ok  bool
}

// NewSymbolTable builds the index for img. Unnamed symbols, section and
// file symbols are skipped. When several symbols share a name the first one
// in table order is kept.
func NewSymbolTable(img *Image, cacheSize int) (*SymbolTable, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultSymbolCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	st := &SymbolTable{names: trie.New(), cache: cache}

	it := img.Symbols()
	for it.Next() {
		sym := it.Symbol()
		if sym.Name == "" {
			continue
		}
		switch sym.Type() {
		case elf.STT_SECTION, elf.STT_FILE:
			continue
		}
		if _, dup := st.names.Find(sym.Name); dup {
			continue
		}
		st.names.Add(sym.Name, sym)
		st.count++
		if sym.Value != 0 {
			st.byAddr = append(st.byAddr, sym)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(st.byAddr, func(i, j int) bool { return st.byAddr[i].Value < st.byAddr[j].Value })
	return st, nil
}

// Len returns the number of indexed symbols.
func (st *SymbolTable) Len() int {
	return st.count
}

// Lookup returns the symbol called name.
func (st *SymbolTable) Lookup(name string) (Symbol, bool) {
	node, ok := st.names.Find(name)
	if !ok {
		return Symbol{}, false
	}
	sym, ok := node.Meta().(Symbol)
	return sym, ok
}

// Complete returns the sorted names that start with prefix.
func (st *SymbolTable) Complete(prefix string) []string {
	var names []string
	if prefix == "" {
		names = st.names.Keys()
	} else {
		names = st.names.PrefixSearch(prefix)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the symbol containing addr and the offset of addr from
// the symbol start. Symbols with a zero size cover addresses up to the
// next symbol.
func (st *SymbolTable) Resolve(addr uint64) (Symbol, uint64, bool) {
	if v, ok := st.cache.Get(addr); ok {
		r := v.(resolved)
		return r.sym, r.off, r.ok
	}
	r := st.resolve(addr)
	st.cache.Add(addr, r)
	return r.sym, r.off, r.ok
}

func (st *SymbolTable) resolve(addr uint64) resolved {
	i := sort.Search(len(st.byAddr), func(i int) bool { return st.byAddr[i].Value > addr })
	for i > 0 {
		i--
		sym := st.byAddr[i]
		off := addr - sym.Value
		if sym.Size == 0 || off < sym.Size {
			return resolved{sym: sym, off: off, ok: true}
		}
		// A sized symbol that ends before addr may be nested inside a larger
		// one that starts at the same address.
		if i > 0 && st.byAddr[i-1].Value == sym.Value {
			continue
		}
		break
	}
	return resolved{}
}
