package main

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newRunFlags() (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	event := fs.String("event", "workflow_dispatch", "trigger event to fire")
	return fs, event
}

func TestParseCommandFlagsBeforePositional(t *testing.T) {
	fs, event := newRunFlags()

	rest := parseCommand(fs, []string{"-event", "push", "ci.yaml"})

	assert.Equal(t, []string{"ci.yaml"}, rest)
	assert.Equal(t, "push", *event)
}

func TestParseCommandFlagsAfterPositional(t *testing.T) {
	fs, event := newRunFlags()

	rest := parseCommand(fs, []string{"ci.yaml", "-event", "push"})

	assert.Equal(t, []string{"ci.yaml"}, rest)
	assert.Equal(t, "push", *event)
}

func TestParseCommandPositionalOnly(t *testing.T) {
	fs, event := newRunFlags()

	rest := parseCommand(fs, []string{"ci.yaml"})

	assert.Equal(t, []string{"ci.yaml"}, rest)
	assert.Equal(t, "workflow_dispatch", *event)
}

func TestParseCommandNoArgs(t *testing.T) {
	fs, _ := newRunFlags()

	rest := parseCommand(fs, nil)

	assert.Empty(t, rest)
}
