//go:build unix

package elfimage

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps the whole file read-only. Files too short to carry the ELF
// magic are rejected before mapping, since mmap refuses empty files.
func mapFile(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &LoadError{Kind: IOFailure, Detail: "open", Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, &LoadError{Kind: IOFailure, Detail: "stat", Err: err}
	}
	if !fi.Mode().IsRegular() {
		return nil, nil, &LoadError{Kind: IOFailure, Detail: "not a regular file"}
	}
	size := fi.Size()
	if size < 4 {
		return nil, nil, &LoadError{Kind: NotElf, Detail: "file too short"}
	}
	if int64(int(size)) != size {
		return nil, nil, &LoadError{Kind: IOFailure, Detail: "file too large to map"}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, &LoadError{Kind: IOFailure, Detail: "mmap", Err: err}
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
