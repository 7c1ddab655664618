package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "1.0 kB", formatSize(1000))
	assert.Equal(t, "0 B", formatSize(0))
}

func TestColorCount(t *testing.T) {
	assert.Equal(t, "0", colorCount(0, false))
	assert.Equal(t, "0", colorCount(0, true))
	assert.NotEmpty(t, colorCount(3, false))
	assert.NotEmpty(t, colorCount(3, true))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"NAME", "SIZE"}, [][]string{
		{"track1.flac", "1.0 kB"},
		{"a", "b"},
	})

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "track1.flac")
	assert.Contains(t, out, "1.0 kB")
}
