package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumMatchesKnownVector(t *testing.T) {
	sum, err := Sum(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}

func TestFileAndStringAgree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "step.log")
	require.NoError(t, os.WriteFile(path, []byte("all green\n"), 0o644))

	fromFile, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, String("all green\n"), fromFile)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "absent.log"))
	assert.Error(t, err)
}
