//go:build !linux

package diskstore

import "os"

// fadvise is a no-op on platforms without POSIX_FADV_WILLNEED; prefetch
// remains a pure hint (spec.md §4.2: "no error surfaced").
func fadvise(_ *os.File, _, _ int64) error {
	return nil
}
