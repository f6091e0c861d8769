package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gpbench/internal/errors"
)

// TableSpec declares one table of a DataBase: its name, default content and
// the options used whenever it is read or written.
type TableSpec struct {
	Name    string
	Default Frame
	Read    ReadOptions
	Write   WriteOptions
}

// Schema is the fixed, ordered table declaration of a DataBase. It is built
// once at definition time and never mutated; an empty or duplicated
// declaration is rejected at construction, so a valid Schema is always usable.
type Schema struct {
	specs []TableSpec
	index map[string]int
}

// NewSchema validates and freezes a table declaration
func NewSchema(specs ...TableSpec) (Schema, error) {
	if len(specs) == 0 {
		return Schema{}, errors.InvalidInput("a DataBase schema must declare at least one table")
	}
	index := make(map[string]int, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return Schema{}, errors.InvalidInput("a DataBase table must be named")
		}
		if _, dup := index[spec.Name]; dup {
			return Schema{}, errors.InvalidInput(fmt.Sprintf("duplicate table %q in schema", spec.Name))
		}
		index[spec.Name] = i
	}
	return Schema{specs: specs, index: index}, nil
}

// MustSchema is NewSchema for package-level schema definitions
func MustSchema(specs ...TableSpec) Schema {
	schema, err := NewSchema(specs...)
	if err != nil {
		panic(err)
	}
	return schema
}

// Names returns the declared table names in declaration order
func (s Schema) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// Spec returns the declaration for one table
func (s Schema) Spec(name string) (TableSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return TableSpec{}, false
	}
	return s.specs[i], true
}

// Defaults returns a fresh copy of every declared default frame
func (s Schema) Defaults() map[string]Frame {
	defaults := make(map[string]Frame, len(s.specs))
	for _, spec := range s.specs {
		defaults[spec.Name] = spec.Default.Clone()
	}
	return defaults
}

// validate rejects any table name outside the declaration, before any I/O
func (s Schema) validate(tables map[string]Frame) error {
	for name := range tables {
		if _, ok := s.index[name]; !ok {
			return errors.InvalidInput(fmt.Sprintf("table %q is not declared in the schema", name))
		}
	}
	return nil
}

// DataBase is a fixed named collection of DataTables co-located in one
// folder. The set of tables and their defaults is the Schema; all declared
// tables exist on disk whenever the DataBase is valid.
type DataBase struct {
	path   string
	schema Schema
	tables map[string]*DataTable
}

// OpenDataBase reads the DataBase at path lazily: any frame supplied is
// adopted verbatim (and persisted) without a disk read, while every other
// declared table is read from its file. A missing not-supplied table aborts
// with a diagnostic naming the table and the probable corrective call. Opening
// a path that would need a disk read never creates anything.
func OpenDataBase(path string, schema Schema, supplied map[string]Frame) (*DataBase, error) {
	if err := schema.validate(supplied); err != nil {
		return nil, err
	}
	if len(supplied) < len(schema.specs) {
		if fi, statErr := os.Stat(path); statErr != nil {
			return nil, errors.MissingArtifact(path, fmt.Sprintf(
				"did you mean CreateDataBase(%q, ...) instead of OpenDataBase?", path))
		} else if !fi.IsDir() {
			return nil, errors.KindMismatch(path)
		}
	}
	path, err := Folder.Create(path)
	if err != nil {
		return nil, err
	}
	db := &DataBase{path: path, schema: schema, tables: make(map[string]*DataTable, len(schema.specs))}
	for _, spec := range schema.specs {
		tablePath := filepath.Join(path, spec.Name)
		if frame, ok := supplied[spec.Name]; ok {
			table, err := NewTable(tablePath, frame, spec.Write)
			if err != nil {
				return nil, err
			}
			db.tables[spec.Name] = table
			continue
		}
		table, err := OpenTable(tablePath, spec.Read)
		if err != nil {
			if errors.IsCode(err, errors.CodeMissingArtifact) {
				return nil, errors.Wrapf(err,
					"DataBase %q is missing table %q: did you mean CreateDataBase(%q, ...) instead of OpenDataBase?",
					path, spec.Name, path)
			}
			return nil, err
		}
		db.tables[spec.Name] = table
	}
	return db, nil
}

// CreateDataBase seeds every declared table from its default, with caller
// overrides winning, and performs the full first write of the whole set.
func CreateDataBase(path string, schema Schema, overrides map[string]Frame) (*DataBase, error) {
	if err := schema.validate(overrides); err != nil {
		return nil, err
	}
	tables := schema.Defaults()
	for name, frame := range overrides {
		tables[name] = frame
	}
	return OpenDataBase(path, schema, tables)
}

// CopyDataBase creates dst from src's tables, overwriting files in common
func CopyDataBase(src *DataBase, dst string) (*DataBase, error) {
	return OpenDataBase(dst, src.schema, src.Frames())
}

// DeleteDataBase removes only the declared table files, leaving the folder
// and any extraneous contents intact. Use Folder.Delete to remove everything.
func DeleteDataBase(path string, schema Schema) error {
	for _, spec := range schema.specs {
		if err := DeleteTable(filepath.Join(path, spec.Name)); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the folder backing this DataBase
func (db *DataBase) Path() string {
	return db.path
}

// Schema returns the fixed table declaration
func (db *DataBase) Schema() Schema {
	return db.schema
}

// Table returns one declared table
func (db *DataBase) Table(name string) (*DataTable, bool) {
	t, ok := db.tables[name]
	return t, ok
}

// Frame returns one declared table's frame, panicking on an undeclared name.
// The schema is fixed at definition time, so an unknown name is a programming
// error, not a runtime condition.
func (db *DataBase) Frame(name string) *Frame {
	t, ok := db.tables[name]
	if !ok {
		panic(fmt.Sprintf("table %q is not declared in the schema of %s", name, db.path))
	}
	return t.Frame()
}

// Frames returns a copy of every table's frame, keyed by name
func (db *DataBase) Frames() map[string]Frame {
	frames := make(map[string]Frame, len(db.tables))
	for name, t := range db.tables {
		frames[name] = t.Frame().Clone()
	}
	return frames
}

// Update rewrites only the named tables in place, leaving the others
// untouched on disk. Names are validated against the schema before any I/O.
func (db *DataBase) Update(tables map[string]Frame) error {
	if err := db.schema.validate(tables); err != nil {
		return err
	}
	for name, frame := range tables {
		if err := db.tables[name].Update(frame); err != nil {
			return err
		}
	}
	return nil
}

// Relocate recreates every table at a new containing path: a full save-as
func (db *DataBase) Relocate(path string) error {
	path, err := Folder.Create(path)
	if err != nil {
		return err
	}
	relocated := make(map[string]*DataTable, len(db.tables))
	for _, spec := range db.schema.specs {
		table, err := NewTable(filepath.Join(path, spec.Name), *db.tables[spec.Name].Frame(), spec.Write)
		if err != nil {
			return err
		}
		relocated[spec.Name] = table
	}
	db.path = path
	db.tables = relocated
	return nil
}
