package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
)

// TraceRepository appends one JSON line per entry to traces/<run>.jsonl.
// Files are only ever opened with O_APPEND.
type TraceRepository struct {
	root string
	mu   sync.Mutex
	seqs map[string]int64
}

func NewTraceRepository(root string) *TraceRepository {
	return &TraceRepository{root: root, seqs: make(map[string]int64)}
}

func (tr *TraceRepository) path(runID string) string {
	return filepath.Join(tr.root, "traces", runID+".jsonl")
}

func (tr *TraceRepository) Append(_ context.Context, entry *models.TraceEntry) error {
	if err := validateID(entry.RunID); err != nil {
		return persistence.NewRunError("AppendTrace", entry.RunID, err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	last, ok := tr.seqs[entry.RunID]
	if !ok {
		entries, err := tr.read(entry.RunID)
		if err != nil {
			return persistence.NewRunError("AppendTrace", entry.RunID, err)
		}

		if len(entries) > 0 {
			last = entries[len(entries)-1].Seq
		}
	}

	entry.Seq = last + 1

	line, err := json.Marshal(entry)
	if err != nil {
		return persistence.NewRunError("AppendTrace", entry.RunID, err)
	}

	if err := os.MkdirAll(filepath.Join(tr.root, "traces"), 0750); err != nil {
		return persistence.NewRunError("AppendTrace", entry.RunID, err)
	}

	f, err := os.OpenFile(tr.path(entry.RunID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return persistence.NewRunError("AppendTrace", entry.RunID, err)
	}

	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return persistence.NewRunError("AppendTrace", entry.RunID, err)
	}

	tr.seqs[entry.RunID] = entry.Seq

	return nil
}

// Read returns the entries of a run in append order. A run without a trace
// yields an empty slice.
func (tr *TraceRepository) Read(_ context.Context, runID string) ([]models.TraceEntry, error) {
	if err := validateID(runID); err != nil {
		return nil, persistence.NewRunError("ReadTrace", runID, err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	entries, err := tr.read(runID)
	if err != nil {
		return nil, persistence.NewRunError("ReadTrace", runID, err)
	}

	return entries, nil
}

func (tr *TraceRepository) read(runID string) ([]models.TraceEntry, error) {
	entries := make([]models.TraceEntry, 0)

	f, err := os.Open(tr.path(runID))
	if err != nil {
		if isNotExist(err) {
			return entries, nil
		}

		return nil, err
	}

	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var entry models.TraceEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("corrupt trace line: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, scanner.Err()
}
