package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseJob(t *testing.T, doc string) Job {
	t.Helper()
	wf, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, wf.Jobs, 1)
	return wf.Jobs[0]
}

func TestMatrixExpandsFullProduct(t *testing.T) {
	wf, err := Load("testdata/ci.yaml")
	require.NoError(t, err)

	combos := wf.Jobs[0].Strategy.Combinations()
	require.Len(t, combos, 12)

	// Declared order: os varies slowest, python-version fastest.
	assert.Equal(t, "os=ubuntu-latest, python-version=3.8", combos[0].String())
	assert.Equal(t, "os=ubuntu-latest, python-version=3.9", combos[1].String())
	assert.Equal(t, "os=macos-latest, python-version=3.11", combos[11].String())

	seen := make(map[string]bool, len(combos))
	for _, c := range combos {
		assert.False(t, seen[c.String()], "duplicate combination %s", c)
		seen[c.String()] = true
	}
}

func TestMatrixExpansionIsDeterministic(t *testing.T) {
	wf, err := Load("testdata/ci.yaml")
	require.NoError(t, err)

	first := wf.Jobs[0].Strategy.Combinations()
	for i := 0; i < 5; i++ {
		again := wf.Jobs[0].Strategy.Combinations()
		require.Equal(t, first, again)
	}
}

func TestMatrixExclude(t *testing.T) {
	job := mustParseJob(t, `
on: [push]
jobs:
  test:
    strategy:
      matrix:
        os: [linux, windows]
        version: ["1", "2"]
        exclude:
          - os: windows
            version: "1"
    steps:
      - run: "true"
`)
	combos := job.Strategy.Combinations()
	require.Len(t, combos, 3)
	for _, c := range combos {
		osName, _ := c.Get("os")
		version, _ := c.Get("version")
		assert.False(t, osName == "windows" && version == "1")
	}
}

func TestMatrixIncludeExtendsMatches(t *testing.T) {
	job := mustParseJob(t, `
on: [push]
jobs:
  test:
    strategy:
      matrix:
        os: [linux, windows]
        include:
          - os: linux
            experimental: "yes"
    steps:
      - run: "true"
`)
	combos := job.Strategy.Combinations()
	require.Len(t, combos, 2)

	linux := combos[0]
	exp, ok := linux.Get("experimental")
	require.True(t, ok)
	assert.Equal(t, "yes", exp)

	_, ok = combos[1].Get("experimental")
	assert.False(t, ok)
}

func TestMatrixIncludeAppendsNonMatches(t *testing.T) {
	job := mustParseJob(t, `
on: [push]
jobs:
  test:
    strategy:
      matrix:
        os: [linux]
        include:
          - os: freebsd
    steps:
      - run: "true"
`)
	combos := job.Strategy.Combinations()
	require.Len(t, combos, 2)
	osName, _ := combos[1].Get("os")
	assert.Equal(t, "freebsd", osName)
}

func TestEmptyStrategyYieldsSingleInstance(t *testing.T) {
	job := mustParseJob(t, `
on: [push]
jobs:
  build:
    steps:
      - run: make
`)
	combos := job.Strategy.Combinations()
	require.Len(t, combos, 1)
	assert.Equal(t, 0, combos[0].Len())
	assert.Equal(t, "default", combos[0].String())
}

func TestInterpolate(t *testing.T) {
	combos := mustParseJob(t, `
on: [push]
jobs:
  test:
    strategy:
      matrix:
        python-version: ["3.10"]
    steps:
      - run: "true"
`).Strategy.Combinations()
	require.Len(t, combos, 1)
	c := combos[0]

	assert.Equal(t, "python3.10 -m pytest", c.Interpolate("python${{ matrix.python-version }} -m pytest"))
	assert.Equal(t, "python${{matrix.unknown}}", c.Interpolate("python${{matrix.unknown}}"))
	assert.Equal(t, []string{"MATRIX_PYTHON_VERSION=3.10"}, c.EnvVars())
}

func TestMatrixRefs(t *testing.T) {
	refs := MatrixRefs("echo ${{ matrix.os }} ${{matrix.python-version}}")
	assert.Equal(t, []string{"os", "python-version"}, refs)
	assert.Empty(t, MatrixRefs("no refs here"))
}
