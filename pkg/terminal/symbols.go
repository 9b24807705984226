package terminal

import (
	"fmt"
	"io"
	"strings"

	"github.com/elfdbg/elfdbg/pkg/elfimage"
)

// PrintSymbols writes the symbol table of img in table order, including
// the null entry.
func PrintSymbols(w io.Writer, img *elfimage.Image) error {
	it := img.Symbols()
	if it.Stripped() {
		_, err := fmt.Fprintln(w, "Stripped binary")
		return err
	}
	fmt.Fprintf(w, "Symbol table '.symtab' contains %d entries:\n", it.Len())
	fmt.Fprintln(w, "   Num:    Value          Size Type    Bind   Name")
	for it.Next() {
		sym := it.Symbol()
		fmt.Fprintf(w, "%6d: %016x %5d %-7s %-6s %s\n",
			it.Index(), sym.Value, sym.Size,
			strings.TrimPrefix(sym.Type().String(), "STT_"),
			strings.TrimPrefix(sym.Bind().String(), "STB_"),
			sym.Name)
	}
	return it.Err()
}
