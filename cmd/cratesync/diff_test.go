package main

import (
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratesync/cratesync/internal/model"
)

func sampleDiffResult() model.DiffResult {
	return model.DiffResult{
		Entries: []model.DiffEntry{
			{RelativePath: "Album/new.flac", Action: model.ActionAdd, Direction: model.SourceToTarget},
			{RelativePath: "Album/stale.flac", Action: model.ActionUnchanged, Direction: model.SourceToTarget},
			{RelativePath: "Album/conflict.flac", Action: model.ActionConflict},
		},
		TotalAdd:       1,
		TotalConflict:  1,
		TotalUnchanged: 1,
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = orig

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	return string(out)
}

func TestPrintDiffJSONOmitsUnchanged(t *testing.T) {
	diff := sampleDiffResult()

	raw := captureStdout(t, func() {
		require.NoError(t, printDiffJSON(diff))
	})

	var decoded diffJSONOutput
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))

	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, "Album/new.flac", decoded.Entries[0].Path)
	assert.Equal(t, "add", decoded.Entries[0].Action)
	assert.Equal(t, "source_to_target", decoded.Entries[0].Direction)
	assert.Equal(t, "conflict", decoded.Entries[1].Action)
	assert.Empty(t, decoded.Entries[1].Direction)
	assert.Equal(t, 1, decoded.Added)
	assert.Equal(t, 1, decoded.Conflicts)
	assert.Equal(t, 1, decoded.Unchanged)
}

func TestPrintDiffTableReportsNoChanges(t *testing.T) {
	out := captureStdout(t, func() {
		printDiffTable(model.DiffResult{
			Entries: []model.DiffEntry{
				{RelativePath: "a.flac", Action: model.ActionUnchanged},
			},
			TotalUnchanged: 1,
		})
	})

	assert.Contains(t, out, "No changes")
}

func TestPrintDiffTableListsChanges(t *testing.T) {
	out := captureStdout(t, func() {
		printDiffTable(sampleDiffResult())
	})

	assert.Contains(t, out, "Album/new.flac")
	assert.Contains(t, out, "add")
	assert.Contains(t, out, "1 to add")
}
