package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/WessleyAI/reddit-monitor/pkg/fileutil"
)

// Usage counts analysis runs per calendar month ("2006-01").
type Usage map[string]int

// LoadUsage reads the usage file; a missing file is zero usage.
func LoadUsage(path string) (Usage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Usage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	u := Usage{}
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parse usage %s: %w", path, err)
	}
	return u, nil
}

// Count returns the runs recorded for month.
func (u Usage) Count(month string) int { return u[month] }

// Set records n runs for month.
func (u Usage) Set(month string, n int) { u[month] = n }

// Save writes u atomically.
func (u Usage) Save(path string) error {
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data)
}
