package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// diskSpaceBuffer is kept free beyond the requested size as a stability
// margin.
const diskSpaceBuffer = 100 * 1024 * 1024

// Allocate creates (or truncates) the file at path, after checking that the
// destination volume has enough free space for size bytes plus a safety
// buffer. size may be 0 when the final length isn't known up front (e.g. a
// child-process output file), in which case only existence is ensured.
func Allocate(path string, size int64) error {
	if size > 0 {
		if err := checkDiskSpace(path, size); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return fmt.Errorf("artifact: open %s for allocation: %w", path, err)
	}
	defer f.Close()

	if size > 0 {
		if err := f.Truncate(size); err != nil {
			return fmt.Errorf("artifact: pre-allocate %s: %w", path, err)
		}
	}
	return nil
}

func checkDiskSpace(path string, required int64) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("artifact: create %s: %w", dir, err)
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("artifact: check disk space for %s: %w", dir, err)
	}

	if int64(usage.Free) < required+diskSpaceBuffer {
		return fmt.Errorf("artifact: disk full at %s: need %d bytes, have %d free", dir, required, usage.Free)
	}
	return nil
}
