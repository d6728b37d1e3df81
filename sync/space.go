package sync

import (
	"fmt"

	"github.com/shirou/gopsutil/disk"
)

// spaceMargin is kept free beyond the transfer estimate, covering the index,
// manifests and audit entries a sync writes besides chunk data.
const spaceMargin = 32 << 20

// checkFreeSpace fails fast when the destination cannot hold the estimated
// transfer. The estimate is pre-compression plaintext size, so it errs on
// the safe side.
func checkFreeSpace(dest string, estimate uint64) error {
	usage, err := disk.Usage(dest)
	if err != nil {
		return fmt.Errorf("sync: destination usage: %w", err)
	}
	if estimate+spaceMargin > usage.Free {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrInsufficientSpace, estimate+spaceMargin, usage.Free)
	}
	return nil
}
