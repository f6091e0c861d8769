package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpbench/internal/errors"
)

func TestMeta_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta, err := NewMeta(filepath.Join(dir, "meta"), map[string]any{"K": 2, "calibrated": false})
	require.NoError(t, err)
	require.NoError(t, meta.Update(map[string]any{"calibrated": true, "seed": 42}))

	reopened, err := OpenMeta(filepath.Join(dir, "meta"))
	require.NoError(t, err)

	// Updates merge over the existing record rather than replacing it.
	calibrated, ok := reopened.Get("calibrated")
	require.True(t, ok)
	assert.Equal(t, true, calibrated)
	k, ok := reopened.Get("K")
	require.True(t, ok)
	assert.Equal(t, float64(2), k) // JSON numbers decode as float64
	_, ok = reopened.Get("seed")
	assert.True(t, ok)
}

func TestOpenMeta_MissingFile(t *testing.T) {
	_, err := OpenMeta(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeMissingArtifact, errors.GetCode(err))
	assert.Contains(t, err.Error(), "NewMeta")
}

func TestNewMeta_Overwrites(t *testing.T) {
	dir := t.TempDir()
	_, err := NewMeta(filepath.Join(dir, "meta"), map[string]any{"old": 1})
	require.NoError(t, err)
	_, err = NewMeta(filepath.Join(dir, "meta"), map[string]any{"new": 2})
	require.NoError(t, err)

	reopened, err := OpenMeta(filepath.Join(dir, "meta"))
	require.NoError(t, err)
	_, hasOld := reopened.Get("old")
	assert.False(t, hasOld)
}
