package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tradeguard/tradeguard/internal/domain"
)

// DecisionRecord is the persisted shape of one processed decision.
type DecisionRecord struct {
	ID          string                  `json:"id"`
	Event       domain.DecisionEvent    `json:"event"`
	Status      string                  `json:"status"`
	Fingerprint string                  `json:"fingerprint"`
	Policies    []domain.PolicyResult   `json:"policies,omitempty"`
	Signals     []domain.AdvisorySignal `json:"signals,omitempty"`
	PersistedAt time.Time               `json:"persisted_at"`
}

// DecisionStore is the externally-implemented persistence surface. The
// pipeline treats insert failures as recoverable: they go to the DLQ.
type DecisionStore interface {
	InsertDecision(ctx context.Context, rec DecisionRecord) (string, error)
}

// FileStore appends decision records to a JSONL file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) InsertDecision(_ context.Context, rec DecisionRecord) (string, error) {
	if rec.PersistedAt.IsZero() {
		rec.PersistedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(string(data) + "\n"); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// MemoryStore is the in-process store used by tests and the demo cmd.
type MemoryStore struct {
	mu      sync.Mutex
	records []DecisionRecord
	failErr error
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// FailWith makes subsequent inserts fail; nil restores normal behavior.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *MemoryStore) InsertDecision(_ context.Context, rec DecisionRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", s.failErr
	}
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *MemoryStore) Records() []DecisionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DecisionRecord, len(s.records))
	copy(out, s.records)
	return out
}
