// Package dataset implements the Dataset Locator (DL): it resolves a
// dataset id to the files that back it. It never opens files itself.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
)

// NotFoundError is returned when a dataset id does not resolve to a
// readable database file or table directory.
type NotFoundError struct {
	DatasetID string
	Reason    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dataset not found: %s (%s)", e.DatasetID, e.Reason)
}

// Locator maps a dataset id to absolute, read-only paths under Root.
// Layout: <root>/<id>/<id>.db (primary relational database) and
// <root>/<id>/ (directory of columnar table files).
type Locator struct {
	Root string
}

func New(root string) *Locator {
	return &Locator{Root: root}
}

// SqlitePath resolves the primary read-only database file for a dataset.
func (l *Locator) SqlitePath(datasetID string) (string, error) {
	dir := filepath.Join(l.Root, datasetID)
	path := filepath.Join(dir, datasetID+".db")
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", &NotFoundError{DatasetID: datasetID, Reason: "missing database file"}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &NotFoundError{DatasetID: datasetID, Reason: err.Error()}
	}
	return abs, nil
}

// TableDir resolves the directory of columnar table files for a dataset.
func (l *Locator) TableDir(datasetID string) (string, error) {
	dir := filepath.Join(l.Root, datasetID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &NotFoundError{DatasetID: datasetID, Reason: "missing table directory"}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &NotFoundError{DatasetID: datasetID, Reason: err.Error()}
	}
	return abs, nil
}

// Exists reports whether datasetID resolves to at least a database file
// or a non-empty table directory, without opening anything.
func (l *Locator) Exists(datasetID string) bool {
	if _, err := l.SqlitePath(datasetID); err == nil {
		return true
	}
	dir, err := l.TableDir(datasetID)
	if err != nil {
		return false
	}
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
