package main

import (
	"os"

	"github.com/elfdbg/elfdbg/cmd/elfdbg/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
