// Package file provides a file-system persistence implementation. Documents
// are stored as JSON under the root directory; traces are JSON lines.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/flowbase/pkg/persistence"
)

type Persistence struct {
	root      string
	workflows *WorkflowRepository
	runs      *RunRepository
	traces    *TraceRepository
	records   *RecordRepository
}

// NewPersistence creates a file persistence rooted at root. A "file://"
// prefix is accepted.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:      cleanRoot,
		workflows: NewWorkflowRepository(cleanRoot),
		runs:      NewRunRepository(cleanRoot),
		traces:    NewTraceRepository(cleanRoot),
		records:   NewRecordRepository(cleanRoot),
	}
}

func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflows
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runs
}

func (fp *Persistence) TraceRepository() persistence.TraceRepository {
	return fp.traces
}

func (fp *Persistence) RecordRepository() persistence.RecordRepository {
	return fp.records
}

// validateID rejects ids that would escape their directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

// writeJSON writes v atomically through a temp file and rename.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace: %w", err)
	}

	return nil
}

// readJSON returns fs.ErrNotExist when path is missing.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- ids are validated before building paths
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return nil
}

// listIDs returns the ids of the *.json documents in dir.
func listIDs(dir string) ([]string, error) {
	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, strings.TrimSuffix(f, ".json"))
	}

	return ids, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
