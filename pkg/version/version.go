package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of elfdbg.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// ElfdbgVersion is the current version of elfdbg.
var ElfdbgVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// BuildInfo returns the toolchain version followed by one line for the main
// module and one for each dependency the binary was built with.
func BuildInfo() string {
	var b strings.Builder
	b.WriteString(runtime.Version())
	info, ok := debug.ReadBuildInfo()
	if !ok {
		b.WriteString("\nno module information")
		return b.String()
	}
	writeModule(&b, &info.Main)
	for _, dep := range info.Deps {
		writeModule(&b, dep)
	}
	return b.String()
}

func writeModule(b *strings.Builder, m *debug.Module) {
	fmt.Fprintf(b, "\n%s %s", m.Path, m.Version)
	if r := m.Replace; r != nil {
		fmt.Fprintf(b, " => %s %s", r.Path, r.Version)
	}
}

func fixBuild(v *Version) {
	// Return if v.Build already set, but not if it is Git ident expand file blob hash
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Build = setting.Value
			return
		}
	}
}
