// Package collect implements the result-aggregation engine: it walks a
// declarative mapping of result tables to tagged source folders, merges the
// fragments it finds, and writes one summary table per result name. The same
// engine serves per-repository aggregation and the whole-root summary pass.
package collect

import (
	"path/filepath"

	"gpbench/internal"
	"gpbench/internal/errors"
	"gpbench/internal/store"
)

// Table names one result table to aggregate and how to parse its fragments
type Table struct {
	Name string
	Read store.ReadOptions
}

// Tag is one provenance column attached to every row of a fragment
type Tag struct {
	Name  string
	Value string
}

// Source is one folder expected to contain result-table fragments, with the
// tags recording where the rows came from (model name, GSA kind, sweep
// parameters).
type Source struct {
	Folder string
	Tags   []Tag
}

// Collector aggregates result tables from many source folders into one
// destination folder. Ordering of tables and sources is preserved in the
// output.
type Collector struct {
	tables        []Table
	sources       []Source
	ignoreMissing bool
	log           *internal.Logger
}

// New builds a Collector. When ignoreMissing is true, absent fragments are
// skipped; otherwise the first absent fragment aborts the whole aggregation
// with a diagnostic naming the folder.
func New(tables []Table, sources []Source, ignoreMissing bool) *Collector {
	return &Collector{
		tables:        tables,
		sources:       sources,
		ignoreMissing: ignoreMissing,
		log:           internal.DefaultLogger,
	}
}

// FromFolders reads every (source, table) fragment, tags its rows with the
// source's provenance, concatenates the fragments per table, and writes one
// merged table per result name into dst, creating dst if absent. When
// overwrite is true, existing result tables in dst are deleted first.
func (c *Collector) FromFolders(dst string, overwrite bool) error {
	dst, err := store.Folder.Create(dst)
	if err != nil {
		return err
	}
	if overwrite {
		for _, table := range c.tables {
			if err := store.DeleteTable(filepath.Join(dst, table.Name)); err != nil {
				return err
			}
		}
	}
	for _, table := range c.tables {
		fragments := make([]store.Frame, 0, len(c.sources))
		for _, source := range c.sources {
			fragment, err := c.readFragment(source, table)
			if err != nil {
				return err
			}
			if fragment == nil {
				continue
			}
			fragments = append(fragments, *fragment)
		}
		if len(fragments) == 0 {
			c.log.Warn("no %q fragments found under any of %d sources, skipping", table.Name, len(c.sources))
			continue
		}
		merged, err := store.ConcatRows(fragments...)
		if err != nil {
			return errors.Wrapf(err, "failed to merge %q fragments", table.Name)
		}
		if _, err := store.NewTable(filepath.Join(dst, table.Name), merged, store.WriteOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// readFragment reads one source's fragment of one result table and prepends
// the source's tag values as new index levels. A nil frame with nil error
// means the fragment was absent and the caller opted to ignore that.
func (c *Collector) readFragment(source Source, table Table) (*store.Frame, error) {
	path := filepath.Join(source.Folder, table.Name)
	fragment, err := store.OpenTable(path, table.Read)
	if err != nil {
		if errors.IsCode(err, errors.CodeMissingArtifact) {
			if c.ignoreMissing {
				c.log.Debug("skipping absent fragment %s", path)
				return nil, nil
			}
			return nil, errors.Wrapf(err,
				"aggregation source %q is missing table %q", source.Folder, table.Name)
		}
		return nil, err
	}
	names := make([]string, len(source.Tags))
	values := make([]string, len(source.Tags))
	for i, tag := range source.Tags {
		names[i] = tag.Name
		values[i] = tag.Value
	}
	tagged := fragment.Frame().WithIndexLevels(names, values)
	return &tagged, nil
}

// Copy recursively copies an aggregated results folder, merging into any
// existing destination contents.
func Copy(src, dst string) error {
	return store.Folder.Copy(src, dst)
}
