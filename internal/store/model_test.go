package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpbench/internal/errors"
)

func TestCreateModel_MergesMetaOverDefaults(t *testing.T) {
	dir := t.TempDir()
	model, err := CreateModel(filepath.Join(dir, "m"), testSchema(),
		map[string]any{"calibrated": false, "kind": "default"},
		map[string]any{"kind": "override"}, nil)
	require.NoError(t, err)

	kind, _ := model.Meta().Get("kind")
	assert.Equal(t, "override", kind)
	calibrated, _ := model.Meta().Get("calibrated")
	assert.Equal(t, false, calibrated)
}

func TestOpenModel_MissingMetaDiagnostic(t *testing.T) {
	dir := t.TempDir()
	// A DataBase without a Meta is not a Model.
	_, err := CreateDataBase(filepath.Join(dir, "m"), testSchema(), nil)
	require.NoError(t, err)

	_, err = OpenModel(filepath.Join(dir, "m"), testSchema(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeMissingArtifact, errors.GetCode(err))
	assert.Contains(t, err.Error(), "CreateModel")
}

func TestOpenModel_MissingPathLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m")
	_, err := OpenModel(path, testSchema(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeMissingArtifact, errors.GetCode(err))
	assert.False(t, Folder.Exists(path), "a failed open must not create the folder")
}

func TestCopyModel(t *testing.T) {
	dir := t.TempDir()
	src, err := CreateModel(filepath.Join(dir, "src"), testSchema(),
		nil, map[string]any{"seed": 7}, map[string]Frame{
			"data": FrameOf([]string{"v"}, []float64{4}),
		})
	require.NoError(t, err)

	dst, err := CopyModel(src, filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, dst.Data().Frame("data").At(0, 0))
	seed, _ := dst.Meta().Get("seed")
	assert.Equal(t, 7, seed)

	// The copy is independent on disk.
	reopened, err := OpenModel(filepath.Join(dir, "dst"), testSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, reopened.Data().Frame("data").At(0, 0))
}

func TestDeleteModel_KeepsFolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m")
	_, err := CreateModel(path, testSchema(), nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, DeleteModel(path, testSchema()))
	assert.True(t, Folder.Exists(path))
	assert.False(t, MetaFile.Exists(MetaPath(path)))
}
