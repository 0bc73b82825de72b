//go:build !linux && !darwin && !freebsd && !windows

package compost

import "errors"

// FreeSpace is not implemented on this platform; the reserve rule is skipped.
func FreeSpace(string) (int64, error) {
	return 0, errors.New("free space probe not supported on this platform")
}
