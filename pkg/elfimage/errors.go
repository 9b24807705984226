package elfimage

import (
	"errors"
	"fmt"
)

// LoadErrorKind classifies why an image could not be loaded.
type LoadErrorKind uint8

const (
	// IOFailure means the file could not be opened or mapped.
	IOFailure LoadErrorKind = iota
	// NotElf means the file does not start with the ELF magic or is not a
	// 64-bit ELF file.
	NotElf
	// MissingSectionTable means the header does not describe a section
	// header table.
	MissingSectionTable
	// Truncated means a header field points outside of the file.
	Truncated
	// Malformed means the tables are in bounds but inconsistent, for
	// example a symbol table linked to a section that is not a string table.
	Malformed
)

func (k LoadErrorKind) String() string {
	switch k {
	case IOFailure:
		return "I/O failure"
	case NotElf:
		return "not an ELF file"
	case MissingSectionTable:
		return "section header table not found"
	case Truncated:
		return "truncated file"
	case Malformed:
		return "malformed file"
	}
	return fmt.Sprintf("LoadErrorKind(%d)", uint8(k))
}

// LoadError is returned by Load and by symbol iteration when the image
// cannot be interpreted.
type LoadError struct {
	Kind LoadErrorKind
	Path string
	// Detail describes the offending field, may be empty.
	Detail string
	Err    error
}

func (e *LoadError) Error() string {
	msg := e.Path + ": " + e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *LoadError of the same kind, so that
// errors.Is(err, &LoadError{Kind: NotElf}) works.
func (e *LoadError) Is(target error) bool {
	t, ok := target.(*LoadError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the *LoadError wrapped in err.
func KindOf(err error) (LoadErrorKind, bool) {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}
