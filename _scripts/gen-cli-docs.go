//go:build ignore

package main

import (
	"bufio"
	"log"
	"os"

	"github.com/elfdbg/elfdbg/pkg/terminal"
)

func main() {
	if err := os.MkdirAll("./Documentation/cli", 0755); err != nil {
		log.Fatalf("could not create Documentation/cli: %v", err)
	}
	fh, err := os.Create("./Documentation/cli/README.md")
	if err != nil {
		log.Fatalf("could not create README.md: %v", err)
	}
	defer fh.Close()

	w := bufio.NewWriter(fh)
	defer w.Flush()

	commands := terminal.DebugCommands()
	commands.WriteMarkdown(w)
}
