// Package diskspace checks free space on the filesystem holding an export
// directory before artifacts are written to it.
package diskspace

import (
	"errors"
	"fmt"
)

// SafetyMargin is applied to the requested size.
const SafetyMargin = 1.1

// InsufficientSpaceError reports a directory whose filesystem cannot hold a write.
type InsufficientSpaceError struct {
	Dir       string
	Required  int64
	Available int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space in %s: need %s, have %s",
		e.Dir, formatBytes(e.Required), formatBytes(e.Available))
}

// IsInsufficientSpace reports whether err is or wraps an InsufficientSpaceError.
func IsInsufficientSpace(err error) bool {
	var ise *InsufficientSpaceError
	return errors.As(err, &ise)
}

// Check returns an InsufficientSpaceError when the filesystem holding dir has
// less than required bytes (plus SafetyMargin) available. Filesystems that
// cannot be queried pass.
func Check(dir string, required int64) error {
	if required <= 0 {
		return nil
	}
	avail, ok := Available(dir)
	if !ok {
		return nil
	}
	need := int64(float64(required) * SafetyMargin)
	if avail < need {
		return &InsufficientSpaceError{Dir: dir, Required: need, Available: avail}
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
