package store

import (
	"os"

	json "github.com/goccy/go-json"

	"gpbench/internal/errors"
)

// Meta is a flat string-keyed metadata record persisted as an indented,
// human-diffable JSON file. The file is always rewritten wholesale: merges
// happen in memory before the write, never as partial patches on disk.
type Meta struct {
	path string
	data map[string]any
}

// OpenMeta reads an existing metadata file. A missing file is a
// MISSING_ARTIFACT error.
func OpenMeta(path string) (*Meta, error) {
	path = MetaFile.Normalize(path)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.MissingArtifact(path, "did you mean NewMeta instead of OpenMeta?")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return &Meta{path: path, data: data}, nil
}

// NewMeta stores data at path, overwriting any existing file
func NewMeta(path string, data map[string]any) (*Meta, error) {
	path, err := MetaFile.Create(path)
	if err != nil {
		return nil, err
	}
	m := &Meta{path: path, data: map[string]any{}}
	if err := m.Update(data); err != nil {
		return nil, err
	}
	return m, nil
}

// CopyMeta stores src's record at dst, overwriting
func CopyMeta(src *Meta, dst string) (*Meta, error) {
	return NewMeta(dst, src.data)
}

// DeleteMeta removes the metadata file at path, tolerating absence
func DeleteMeta(path string) error {
	return MetaFile.Delete(path)
}

// Path returns the file backing this record
func (m *Meta) Path() string {
	return m.path
}

// Data returns the current record. Callers must not mutate it directly;
// use Update so the file stays in step.
func (m *Meta) Data() map[string]any {
	return m.data
}

// Get returns one value and whether it is present
func (m *Meta) Get(key string) (any, bool) {
	v, ok := m.data[key]
	return v, ok
}

// Update merges data over the current record and rewrites the whole file
func (m *Meta) Update(data map[string]any) error {
	for k, v := range data {
		m.data[k] = v
	}
	raw, err := json.MarshalIndent(m.data, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", m.path)
	}
	if err := os.WriteFile(m.path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", m.path)
	}
	return nil
}
