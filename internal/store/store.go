// Package store implements the persistence layer underlying every benchmark
// artifact: path-addressed folders and files, delimited tables, JSON metadata,
// fixed-schema table collections and the Model (DataBase + Meta) contract.
package store

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"gpbench/internal/errors"
)

// Store governs creation, path normalization, copy and deletion for one kind
// of persisted entity. Ext is the canonical extension; the empty string means
// the entity is backed by a folder rather than a single file.
type Store struct {
	Ext string
}

var (
	// Folder is the Store for folder-backed entities (DataBase, Model, Repository).
	Folder = Store{}
	// TableFile is the Store for DataTable files.
	TableFile = Store{Ext: ".csv"}
	// MetaFile is the Store for Meta files.
	MetaFile = Store{Ext: ".json"}
)

// Normalize corrects the extension of path to the canonical one. Folder-backed
// stores accept any name unchanged: folder names such as "fold.2" or
// "sin.1.5.0.100.rom" legitimately contain dots that are not extensions.
func (s Store) Normalize(path string) string {
	if s.Ext == "" {
		return path
	}
	if ext := filepath.Ext(path); ext != "" {
		path = strings.TrimSuffix(path, ext)
	}
	return path + s.Ext
}

// Create normalizes path, makes any missing parent folders, and for
// folder-backed stores makes the folder itself, succeeding if it already
// exists. A path occupied by the wrong kind is a KIND_MISMATCH error.
func (s Store) Create(path string) (string, error) {
	path = s.Normalize(path)
	if fi, err := os.Stat(path); err == nil {
		if fi.IsDir() != (s.Ext == "") {
			return "", errors.KindMismatch(path)
		}
	}
	target := path
	if s.Ext != "" {
		target = filepath.Dir(path)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", target)
	}
	return path, nil
}

// Copy copies src to dst, both normalized to the canonical extension.
// A folder is copied recursively, merging into existing destination contents
// and overwriting only same-named files. A missing src is a MISSING_ARTIFACT
// error.
func (s Store) Copy(src, dst string) error {
	src, dst = s.Normalize(src), s.Normalize(dst)
	fi, err := os.Stat(src)
	if os.IsNotExist(err) {
		return errors.MissingArtifact(src, "nothing to copy")
	}
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", src)
	}
	if fi.IsDir() {
		return copyTree(src, dst)
	}
	return copyFile(src, dst)
}

// Delete removes path recursively. Removing an already-absent path is not an
// error.
func (s Store) Delete(path string) error {
	path = s.Normalize(path)
	if err := os.RemoveAll(path); err != nil {
		return errors.Wrapf(err, "failed to delete %s", path)
	}
	return nil
}

// Exists reports whether path exists with the store's kind
func (s Store) Exists(path string) bool {
	fi, err := os.Stat(s.Normalize(path))
	return err == nil && fi.IsDir() == (s.Ext == "")
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			if fi, statErr := os.Stat(target); statErr == nil && !fi.IsDir() {
				return errors.KindMismatch(target)
			}
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	if fi, err := os.Stat(dst); err == nil && fi.IsDir() {
		return errors.KindMismatch(dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create parent of %s", dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "failed to copy %s to %s", src, dst)
	}
	return nil
}
