package utils

import (
	"errors"
	"fmt"
	"syscall"
)

// MinimumFreeSpace is the headroom kept free on the upload volume.
const MinimumFreeSpace = 1 << 30 // 1GB

// ErrInsufficientSpace is returned when an upload would not fit on disk.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// DiskSpaceInfo contains information about disk space
type DiskSpaceInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
	UsedBytes      uint64
	UsedPercent    float64
}

// GetDiskSpace returns disk space information for a given path
func GetDiskSpace(path string) (*DiskSpaceInfo, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("failed to get disk space: %w", err)
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	availableBytes := stat.Bavail * uint64(stat.Bsize) // available to non-root users
	usedBytes := totalBytes - freeBytes

	var usedPercent float64
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	return &DiskSpaceInfo{
		TotalBytes:     totalBytes,
		FreeBytes:      freeBytes,
		AvailableBytes: availableBytes,
		UsedBytes:      usedBytes,
		UsedPercent:    usedPercent,
	}, nil
}

// CheckSpaceFor returns ErrInsufficientSpace if storing size more bytes
// under path would leave less than MinimumFreeSpace available. An upload
// briefly needs its size twice over while chunks and HLS output coexist.
func CheckSpaceFor(path string, size int64) error {
	info, err := GetDiskSpace(path)
	if err != nil {
		return err
	}

	need := uint64(MinimumFreeSpace)
	if size > 0 {
		need += 2 * uint64(size)
	}
	if info.AvailableBytes < need {
		return fmt.Errorf("%w: need %s, %s available", ErrInsufficientSpace,
			FormatBytes(need), FormatBytes(info.AvailableBytes))
	}
	return nil
}

// FormatBytes formats bytes into human-readable format
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
