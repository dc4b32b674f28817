// Package fileutil holds the atomic write used for every file a run
// publishes: state, artifacts, reports and metrics.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteAtomic creates the parent directory of path, then writes data to a
// synced temp file beside it and renames it into place. Readers see either
// the previous contents or data, never a partial write.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
