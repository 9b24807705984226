package elfimage

import (
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/elfdbg/elfdbg/pkg/elfimage/elftest"
)

var sampleSyms = []elftest.Sym{
	elftest.Func("main", 0x401000, 16),
	elftest.Func("helper", 0x401010, 8),
	{Name: "counter", Value: 0x402000, Size: 4, Info: elf.ST_INFO(elf.STB_LOCAL, elf.STT_OBJECT), Shndx: 1},
}

func mustLoad(t *testing.T, f elftest.File) *Image {
	t.Helper()
	img, err := Load(f.Write(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { img.Close() })
	return img
}

func TestLoadHeader(t *testing.T) {
	img := mustLoad(t, elftest.File{Syms: sampleSyms})
	if img.Class != elf.ELFCLASS64 || img.Data != elf.ELFDATA2LSB {
		t.Fatalf("class %v data %v", img.Class, img.Data)
	}
	if img.Entry != 0x401000 || img.Machine != elf.EM_X86_64 || img.Type != elf.ET_EXEC {
		t.Fatalf("unexpected header %+v", img.Header)
	}
	if len(img.Sections) != 5 {
		t.Fatalf("got %d sections", len(img.Sections))
	}
	text := img.Section(".text")
	if text == nil || text.Type != elf.SHT_PROGBITS || text.Addr != 0x401000 {
		t.Fatalf(".text = %+v", text)
	}
	if img.Section(".data") != nil {
		t.Fatal("found a .data section that does not exist")
	}
	if i, ok := img.SymtabIndex(); !ok || i != 4 {
		t.Fatalf("symtab index %d %v", i, ok)
	}
}

func TestSymbols(t *testing.T) {
	img := mustLoad(t, elftest.File{Syms: sampleSyms})
	syms, err := img.AllSymbols()
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != len(sampleSyms)+1 {
		t.Fatalf("got %d symbols, want %d", len(syms), len(sampleSyms)+1)
	}
	if syms[0] != (Symbol{}) {
		t.Fatalf("entry 0 is not the null symbol: %+v", syms[0])
	}
	for i, want := range sampleSyms {
		got := syms[i+1]
		if got.Name != want.Name || got.Value != want.Value || got.Size != want.Size || got.Info != want.Info {
			t.Errorf("symbol %d: got %+v, want %+v", i+1, got, want)
		}
	}
	if syms[1].Type() != elf.STT_FUNC || syms[1].Bind() != elf.STB_GLOBAL {
		t.Errorf("main: type %v bind %v", syms[1].Type(), syms[1].Bind())
	}
	if syms[3].Type() != elf.STT_OBJECT || syms[3].Bind() != elf.STB_LOCAL {
		t.Errorf("counter: type %v bind %v", syms[3].Type(), syms[3].Bind())
	}
}

func TestSymbolsIdempotent(t *testing.T) {
	img := mustLoad(t, elftest.File{Syms: sampleSyms})
	first, err := img.AllSymbols()
	if err != nil {
		t.Fatal(err)
	}
	it := img.Symbols()
	n := 0
	for it.Next() {
		if it.Index() != n || it.Symbol() != first[n] {
			t.Fatalf("second pass differs at %d: %+v", n, it.Symbol())
		}
		n++
	}
	if it.Err() != nil || n != len(first) || it.Len() != n {
		t.Fatalf("second pass: %d symbols, len %d, err %v", n, it.Len(), it.Err())
	}
}

func TestStripped(t *testing.T) {
	img := mustLoad(t, elftest.File{Stripped: true})
	if !img.Stripped() {
		t.Fatal("image with no symbol table not reported as stripped")
	}
	it := img.Symbols()
	if !it.Stripped() || it.Next() || it.Err() != nil {
		t.Fatalf("iterating a stripped image: err %v", it.Err())
	}
	syms, err := img.AllSymbols()
	if err != nil || len(syms) != 0 {
		t.Fatalf("got %d symbols, err %v", len(syms), err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
		want LoadErrorKind
	}{
		{"text file", func(*testing.T) []byte { return []byte("#!/bin/sh\necho hello\n") }, NotElf},
		{"too short", func(*testing.T) []byte { return []byte{0x7f, 'E'} }, NotElf},
		{"32 bit", func(t *testing.T) []byte {
			return elftest.File{Header: func(h *elf.Header64) { h.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32) }}.Bytes()
		}, NotElf},
		{"bad encoding", func(t *testing.T) []byte {
			return elftest.File{Header: func(h *elf.Header64) { h.Ident[elf.EI_DATA] = 7 }}.Bytes()
		}, Malformed},
		{"header only", func(t *testing.T) []byte { return elftest.File{Syms: sampleSyms}.Bytes()[:32] }, Truncated},
		{"no section table", func(t *testing.T) []byte {
			return elftest.File{Syms: sampleSyms, Header: func(h *elf.Header64) { h.Shoff = 0 }}.Bytes()
		}, MissingSectionTable},
		{"no sections", func(t *testing.T) []byte {
			return elftest.File{Header: func(h *elf.Header64) { h.Shnum = 0 }}.Bytes()
		}, MissingSectionTable},
		{"section table past end", func(t *testing.T) []byte {
			return elftest.File{Syms: sampleSyms, Header: func(h *elf.Header64) { h.Shoff = 1 << 40 }}.Bytes()
		}, Truncated},
		{"cut section table", func(t *testing.T) []byte {
			data := elftest.File{Syms: sampleSyms}.Bytes()
			return data[:len(data)-10]
		}, Truncated},
		{"section past end", func(t *testing.T) []byte {
			return elftest.File{Syms: sampleSyms, Sections: func(s []elf.Section64) { s[4].Size = 1 << 20 }}.Bytes()
		}, Truncated},
		{"section offset overflow", func(t *testing.T) []byte {
			return elftest.File{Syms: sampleSyms, Sections: func(s []elf.Section64) { s[1].Off = ^uint64(0) - 4 }}.Bytes()
		}, Truncated},
		{"small section entries", func(t *testing.T) []byte {
			return elftest.File{Header: func(h *elf.Header64) { h.Shentsize = 40 }}.Bytes()
		}, Truncated},
		{"name table out of range", func(t *testing.T) []byte {
			return elftest.File{Header: func(h *elf.Header64) { h.Shstrndx = 9 }}.Bytes()
		}, Truncated},
		{"bad section name", func(t *testing.T) []byte {
			return elftest.File{Sections: func(s []elf.Section64) { s[1].Name = 5000 }}.Bytes()
		}, Truncated},
		{"symtab link out of range", func(t *testing.T) []byte {
			return elftest.File{Syms: sampleSyms, Sections: func(s []elf.Section64) { s[4].Link = 40 }}.Bytes()
		}, Truncated},
		{"symtab linked to code", func(t *testing.T) []byte {
			return elftest.File{Syms: sampleSyms, Sections: func(s []elf.Section64) { s[4].Link = 1 }}.Bytes()
		}, Malformed},
		{"partial symbol record", func(t *testing.T) []byte {
			return elftest.File{Syms: sampleSyms, Sections: func(s []elf.Section64) { s[4].Size -= 4 }}.Bytes()
		}, Truncated},
		{"symbol entry size", func(t *testing.T) []byte {
			return elftest.File{Syms: sampleSyms, Sections: func(s []elf.Section64) { s[4].Entsize = 16 }}.Bytes()
		}, Malformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := elftest.WriteFile(t, tc.data(t))
			img, err := Load(path)
			if err == nil {
				img.Close()
				t.Fatal("Load succeeded")
			}
			kind, ok := KindOf(err)
			if !ok || kind != tc.want {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if !errors.Is(err, &LoadError{Kind: tc.want}) {
				t.Fatalf("errors.Is does not match kind %v", tc.want)
			}
			var le *LoadError
			if errors.As(err, &le); le.Path != path {
				t.Fatalf("error path %q, want %q", le.Path, path)
			}
		})
	}
}

func TestLoadIOFailure(t *testing.T) {
	dir := t.TempDir()
	for _, path := range []string{filepath.Join(dir, "missing"), dir} {
		_, err := Load(path)
		if kind, ok := KindOf(err); !ok || kind != IOFailure {
			t.Errorf("Load(%s): %v", path, err)
		}
	}
	_, err := Load(filepath.Join(dir, "missing"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestBadSymbolName(t *testing.T) {
	img := mustLoad(t, elftest.File{Syms: []elftest.Sym{elftest.Func("main", 0x401000, 1)}})
	// Point the only named symbol past the string table by shrinking it.
	img.Sections[3].Size = 2
	_, err := img.AllSymbols()
	if kind, ok := KindOf(err); !ok || kind != Truncated {
		t.Fatalf("got %v, want truncated", err)
	}
}

func TestClose(t *testing.T) {
	img, err := Load(elftest.File{Syms: sampleSyms}.Write(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := img.Close(); err != nil {
		t.Fatal(err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := img.SectionData(1); err == nil {
		t.Fatal("SectionData after Close succeeded")
	}
}

// TestAgainstDebugElf compares the symbols of the test binary with what
// the standard library decoder returns. debug/elf omits the null entry.
func TestAgainstDebugElf(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Skip(err)
	}
	ef, err := elf.Open(exe)
	if err != nil {
		t.Skip(err)
	}
	defer ef.Close()
	want, err := ef.Symbols()
	if err != nil {
		t.Skipf("test binary has no symbols: %v", err)
	}

	img, err := Load(exe)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()
	if img.Entry != ef.Entry || len(img.Sections) != len(ef.Sections) {
		t.Fatalf("entry %#x sections %d, want %#x %d", img.Entry, len(img.Sections), ef.Entry, len(ef.Sections))
	}
	for i, s := range ef.Sections {
		if img.Sections[i].Name != s.Name || img.Sections[i].Offset != s.Offset {
			t.Fatalf("section %d: %+v, want %s at %#x", i, img.Sections[i], s.Name, s.Offset)
		}
	}

	got, err := img.AllSymbols()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want)+1 {
		t.Fatalf("got %d symbols, want %d", len(got), len(want)+1)
	}
	for i, w := range want {
		g := got[i+1]
		if g.Name != w.Name || g.Value != w.Value || g.Size != w.Size || g.Info != w.Info || g.Section != w.Section {
			t.Fatalf("symbol %d: got %+v, want %+v", i+1, g, w)
		}
	}
}
