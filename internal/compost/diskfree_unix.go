//go:build linux || darwin || freebsd

package compost

import "golang.org/x/sys/unix"

// FreeSpace returns the bytes available to unprivileged writers on the volume holding path.
func FreeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil //nolint:gosec // block counts fit in int64
}
