//go:build windows

package compost

import "golang.org/x/sys/windows"

// FreeSpace returns the bytes available to the calling user on the volume holding path.
func FreeSpace(path string) (int64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &free); err != nil {
		return 0, err
	}
	return int64(avail), nil //nolint:gosec // volume sizes fit in int64
}
