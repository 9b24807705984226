package terminal

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	DebugCommands().WriteMarkdown(&buf)
	out := buf.String()
	for _, want := range []string{
		"## Running the program\n",
		"[continue](#continue) | Run until breakpoint or program termination.\n",
		"[break](#break) | Sets a breakpoint.\n",
		"## examinemem\n",
		"Aliases: quit q\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("%q missing from command reference", want)
		}
	}
}

func TestHelp(t *testing.T) {
	ft := newFakeTerminal(t, newFakeTarget(), nil)
	out, err := ft.Exec("help")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "continue (alias: c)") || !strings.Contains(out, "Other commands:") {
		t.Fatalf("unexpected help output:\n%s", out)
	}
	out, err = ft.Exec("help x")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Examine raw memory at the given address.") {
		t.Fatalf("unexpected help output:\n%s", out)
	}
	if _, err := ft.Exec("help nosuchcommand"); err == nil {
		t.Fatal("help for an unknown command succeeded")
	}
}
