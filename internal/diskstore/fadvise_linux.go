//go:build linux

package diskstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// fadvise issues POSIX_FADV_WILLNEED over [offset, offset+size) as a
// readahead hint (spec.md §4.2: "non-blocking POSIX advise; no error
// surfaced"). Errors are deliberately swallowed by the caller.
func fadvise(f *os.File, offset, size int64) error {
	return unix.Fadvise(int(f.Fd()), offset, size, unix.FADV_WILLNEED)
}
