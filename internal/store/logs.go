package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogStorage writes step output under baseDir/<runID>/, one file per step.
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a log storage handler rooted at baseDir.
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// SaveStepLog writes one step's combined output and returns the file path.
// Instance disambiguates matrix siblings of the same job.
func (ls *LogStorage) SaveStepLog(runID, instance, step string, output []byte) (string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%s_%s.log", sanitize(instance), sanitize(step))
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, output, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// sanitize keeps filenames to a safe character set.
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			clean = append(clean, r)
		} else {
			clean = append(clean, '-')
		}
	}
	if len(clean) == 0 {
		return "step"
	}
	return string(clean)
}
