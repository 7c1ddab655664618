package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratesync/cratesync/internal/store"
)

func TestFindConflictByExactIDOrPath(t *testing.T) {
	conflicts := []store.ConflictRecord{
		{ID: "abc123", RelativePath: "Album/track1.flac"},
		{ID: "def456", RelativePath: "Album/track2.flac"},
	}

	found, err := findConflict(conflicts, "def456")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Album/track2.flac", found.RelativePath)

	found, err = findConflict(conflicts, "Album/track1.flac")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "abc123", found.ID)
}

func TestFindConflictByPrefix(t *testing.T) {
	conflicts := []store.ConflictRecord{
		{ID: "abc123", RelativePath: "track1.flac"},
		{ID: "abd999", RelativePath: "track2.flac"},
	}

	found, err := findConflict(conflicts, "abc")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "abc123", found.ID)
}

func TestFindConflictAmbiguousPrefix(t *testing.T) {
	conflicts := []store.ConflictRecord{
		{ID: "abc111", RelativePath: "track1.flac"},
		{ID: "abc222", RelativePath: "track2.flac"},
	}

	_, err := findConflict(conflicts, "abc")
	assert.ErrorIs(t, err, errAmbiguousPrefix)
}

func TestFindConflictNotFound(t *testing.T) {
	found, err := findConflict(nil, "nothing")
	require.NoError(t, err)
	assert.Nil(t, found)
}
