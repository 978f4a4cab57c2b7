package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/observ"
)

// Log is the append-only audit sink. Implementations must be safe for
// concurrent writers; entries are never edited or deleted.
type Log interface {
	Append(entry domain.AuditLogEntry) error
}

// FileLog appends one JSON object per line to a local file.
type FileLog struct {
	mu   sync.Mutex
	path string
}

func NewFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &FileLog{path: path}, nil
}

func (l *FileLog) Append(entry domain.AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(string(data) + "\n"); err != nil {
		return err
	}
	observ.IncCounter("audit_entries_total", map[string]string{"action": string(entry.FinalAction)})
	return nil
}

// MemoryLog collects entries in memory; used by tests and the demo cmd.
type MemoryLog struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (l *MemoryLog) Append(entry domain.AuditLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (l *MemoryLog) Entries() []domain.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuditLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
