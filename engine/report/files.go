package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/WessleyAI/reddit-monitor/pkg/fileutil"
)

// Separator between runs appended to the same daily report.
const Separator = "\n\n---\n\n"

// Write appends content to dir/YYYY-MM-DD.md and replaces dir/latest.md. It
// returns the dated file's path.
func Write(dir, content string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("reports dir: %w", err)
	}
	dated := filepath.Join(dir, now.Format("2006-01-02")+".md")

	prev, err := os.ReadFile(dated)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read report: %w", err)
	}
	f, err := os.OpenFile(dated, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open report: %w", err)
	}
	if len(prev) > 0 {
		if _, err := f.WriteString(Separator); err != nil {
			f.Close()
			return "", fmt.Errorf("write report: %w", err)
		}
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}

	if err := fileutil.WriteAtomic(filepath.Join(dir, "latest.md"), []byte(content)); err != nil {
		return "", err
	}
	return dated, nil
}
