//go:build linux && !amd64

package proc

import (
	"errors"
	"runtime"
)

var errUnsupportedArch = errors.New("register access is not supported on " + runtime.GOARCH)

func (dbp *Process) getRegisters() (*Registers, error) {
	return nil, errUnsupportedArch
}

func (dbp *Process) setPC(pc uint64) error {
	return errUnsupportedArch
}
