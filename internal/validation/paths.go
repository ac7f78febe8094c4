// Package validation checks names and paths received from the backend before
// they are used on the local filesystem or as object keys.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ArtifactName rejects artifact names that could escape an export directory:
// empty names, "." and "..", path separators and NUL bytes.
func ArtifactName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("artifact name cannot be empty")
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("artifact name contains a null byte: %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("artifact name cannot contain path separators: %s", name)
	case name == "." || name == "..":
		return fmt.Errorf("invalid artifact name: %s", name)
	}
	return nil
}

// WithinDir reports an error when path, resolved against dir, is outside dir.
func WithinDir(path, dir string) error {
	base, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	target := filepath.Clean(path)
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes %s: %s", dir, path)
	}
	return nil
}
