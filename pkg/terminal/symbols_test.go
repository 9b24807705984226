package terminal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/elfdbg/elfdbg/pkg/elfimage"
	"github.com/elfdbg/elfdbg/pkg/elfimage/elftest"
)

func TestPrintSymbols(t *testing.T) {
	img, err := elfimage.Load(elftest.File{Syms: []elftest.Sym{
		elftest.Func("main", elftest.TextAddr, 0x10),
	}}.Write(t))
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	var buf bytes.Buffer
	if err := PrintSymbols(&buf, img); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
	if lines[0] != "Symbol table '.symtab' contains 2 entries:" {
		t.Fatalf("header %q", lines[0])
	}
	if lines[3] != "     1: 0000000000401000    16 FUNC    GLOBAL main" {
		t.Fatalf("symbol line %q", lines[3])
	}
}

func TestPrintSymbolsStripped(t *testing.T) {
	img, err := elfimage.Load(elftest.File{Stripped: true}.Write(t))
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	var buf bytes.Buffer
	if err := PrintSymbols(&buf, img); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Stripped binary\n" {
		t.Fatalf("got %q", buf.String())
	}
}
