// Package digest computes the sha256 fingerprints recorded next to step
// logs, so stored output can be checked against the run history row.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// Sum streams r through sha256 and returns the hex-encoded digest.
func Sum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File returns the hex sha256 of a file's contents without loading the
// whole file into memory.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Sum(f)
}

// String returns the hex sha256 of data.
func String(data string) string {
	// Hashing in-memory data cannot fail.
	sum, _ := Sum(strings.NewReader(data))
	return sum
}
