package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gpbench/internal/errors"
)

// metaName is the reserved sub-path of every Model folder holding its Meta
const metaName = "meta"

// MetaPath returns the reserved metadata path inside a Model folder
func MetaPath(folder string) string {
	return filepath.Join(folder, metaName)
}

// Calibrator is implemented by concrete models whose parameters can be
// optimized. Implementations must durably rewrite their own DataBase and Meta
// before returning, and a failed optimization must not leave the on-disk Meta
// claiming success.
type Calibrator interface {
	Calibrate(ctx context.Context) error
}

// Model is one fitted or fittable entity: exactly one DataBase and one Meta
// co-located under the same folder, the Meta at the reserved "meta" sub-path.
type Model struct {
	path string
	meta *Meta
	data *DataBase
}

// OpenModel reads Meta then DataBase, in that order. Either one missing
// produces the same create-vs-open diagnostic as OpenDataBase; a failed open
// never creates the folder.
func OpenModel(path string, schema Schema, supplied map[string]Frame) (*Model, error) {
	if fi, statErr := os.Stat(path); statErr != nil {
		return nil, errors.MissingArtifact(path, fmt.Sprintf(
			"did you mean CreateModel(%q, ...) instead of OpenModel?", path))
	} else if !fi.IsDir() {
		return nil, errors.KindMismatch(path)
	}
	meta, err := OpenMeta(MetaPath(path))
	if err != nil {
		if errors.IsCode(err, errors.CodeMissingArtifact) {
			return nil, errors.Wrapf(err,
				"Model %q is missing its meta: did you mean CreateModel(%q, ...) instead of OpenModel?",
				path, path)
		}
		return nil, err
	}
	data, err := OpenDataBase(path, schema, supplied)
	if err != nil {
		return nil, err
	}
	return &Model{path: path, meta: meta, data: data}, nil
}

// CreateModel writes the Meta first (defaults merged with overrides), then
// creates the DataBase from defaults merged with the supplied tables. A crash
// between the two leaves a detectable inconsistency rather than silent
// corruption.
func CreateModel(path string, schema Schema, defaultMeta, meta map[string]any, tables map[string]Frame) (*Model, error) {
	path, err := Folder.Create(path)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(defaultMeta)+len(meta))
	for k, v := range defaultMeta {
		merged[k] = v
	}
	for k, v := range meta {
		merged[k] = v
	}
	stored, err := NewMeta(MetaPath(path), merged)
	if err != nil {
		return nil, err
	}
	data, err := CreateDataBase(path, schema, tables)
	if err != nil {
		return nil, err
	}
	return &Model{path: path, meta: stored, data: data}, nil
}

// CopyModel creates dst from src's meta and tables, overwriting files in common
func CopyModel(src *Model, dst string) (*Model, error) {
	return CreateModel(dst, src.data.schema, nil, src.meta.Data(), src.data.Frames())
}

// DeleteModel removes the Meta and the declared table files from path,
// retaining the folder and any other contents. Use Folder.Delete to remove
// the folder entirely.
func DeleteModel(path string, schema Schema) error {
	if err := DeleteMeta(MetaPath(path)); err != nil {
		return err
	}
	return DeleteDataBase(path, schema)
}

// Path returns the folder backing this Model
func (m *Model) Path() string {
	return m.path
}

// Meta returns the model's metadata record
func (m *Model) Meta() *Meta {
	return m.meta
}

// Data returns the model's DataBase
func (m *Model) Data() *DataBase {
	return m.data
}
