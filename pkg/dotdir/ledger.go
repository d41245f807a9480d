package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	ledgerFile = "ingest.json"
)

// IngestLedger records which files watch-mode ingestion has already handed
// to the server so unchanged files are not resubmitted after a restart.
type IngestLedger struct {
	// Files is keyed by absolute file path.
	Files map[string]IngestRecord `json:"files"`
}

// IngestRecord describes one ingested file.
type IngestRecord struct {
	DocumentID int64     `json:"document_id"`
	TaskID     string    `json:"task_id"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
}

// Unchanged reports whether path was already ingested with the same size and
// modification time.
func (l *IngestLedger) Unchanged(path string, info os.FileInfo) bool {
	if l == nil || l.Files == nil {
		return false
	}
	rec, ok := l.Files[path]
	return ok && rec.Size == info.Size() && rec.ModTime.Equal(info.ModTime())
}

// Record stores rec for path.
func (l *IngestLedger) Record(path string, rec IngestRecord) {
	if l.Files == nil {
		l.Files = make(map[string]IngestRecord)
	}
	l.Files[path] = rec
}

// LoadIngestLedger loads the ledger from a target .quarry/ingest.json.
// Returns an empty ledger if none exists yet.
func (m *Manager) LoadIngestLedger(overrideDir string) (*IngestLedger, error) {
	path, err := m.Path(overrideDir, ledgerFile)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &IngestLedger{Files: map[string]IngestRecord{}}, nil
		}
		return nil, fmt.Errorf("reading ingest ledger: %w", err)
	}

	ledger := &IngestLedger{}
	if err := json.Unmarshal(data, ledger); err != nil {
		return nil, fmt.Errorf("parsing ingest ledger: %w", err)
	}
	if ledger.Files == nil {
		ledger.Files = map[string]IngestRecord{}
	}

	return ledger, nil
}

// SaveIngestLedger persists the ledger to a target .quarry/ingest.json.
func (m *Manager) SaveIngestLedger(ledger *IngestLedger, overrideDir string) error {
	if ledger == nil {
		return errors.New("cannot save nil ingest ledger")
	}

	path, err := m.Path(overrideDir, ledgerFile)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ingest ledger: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing ingest ledger: %w", err)
	}

	return nil
}

// ClearIngestLedger removes the ledger file. Returns nil if it does not exist.
func (m *Manager) ClearIngestLedger(overrideDir string) error {
	path, err := m.Path(overrideDir, ledgerFile)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing ingest ledger: %w", err)
	}

	return nil
}
