package dlq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/observ"
)

// Handler retries one dead-lettered operation. A nil error removes the entry;
// an error reschedules it under the backoff schedule.
type Handler func(ctx context.Context, entry domain.DLQEntry) error

// Config bounds the retry discipline: base delay doubles per attempt, capped
// at MaxDelay, archived after MaxRetries. No data loss, no infinite retry.
type Config struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ArchivePath string
}

// Queue holds entries that failed persistence or notification, plus deferred
// decisions awaiting their resume timestamp. Single logical owner: all state
// transitions happen under the mutex, the worker goroutine is the only
// drainer.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	entries  []domain.DLQEntry
	handlers map[string]Handler
	now      func() time.Time
}

func New(cfg Config) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Queue{cfg: cfg, handlers: make(map[string]Handler), now: time.Now}
}

// RegisterHandler binds a retry handler to an entry kind.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue adds a failed operation. earliest sets the first retry time; zero
// means eligible on the next worker pass.
func (q *Queue) Enqueue(kind string, payload map[string]interface{}, earliest time.Time, cause error) {
	entry := domain.DLQEntry{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		Attempts:    0,
		NextAttempt: earliest,
		EnqueuedAt:  q.now().UTC(),
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	depth := len(q.entries)
	q.mu.Unlock()

	observ.IncCounter("dlq_enqueued_total", map[string]string{"kind": kind})
	observ.SetGauge("dlq_depth", float64(depth), nil)
	observ.Log("dlq_enqueued", map[string]any{"id": entry.ID, "kind": kind, "next_attempt": entry.NextAttempt})
}

// Depth returns the number of entries awaiting retry.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run drains due entries until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.ProcessDue(ctx)
		}
	}
}

// ProcessDue retries every entry whose next attempt time has passed.
// Exported so tests and shutdown paths can drive the queue synchronously.
func (q *Queue) ProcessDue(ctx context.Context) {
	now := q.now()

	q.mu.Lock()
	var due []domain.DLQEntry
	var rest []domain.DLQEntry
	for _, e := range q.entries {
		if !e.NextAttempt.After(now) {
			due = append(due, e)
		} else {
			rest = append(rest, e)
		}
	}
	q.entries = rest
	q.mu.Unlock()

	for _, e := range due {
		q.retry(ctx, e)
	}

	q.mu.Lock()
	observ.SetGauge("dlq_depth", float64(len(q.entries)), nil)
	q.mu.Unlock()
}

func (q *Queue) retry(ctx context.Context, e domain.DLQEntry) {
	q.mu.Lock()
	h, ok := q.handlers[e.Kind]
	q.mu.Unlock()
	if !ok {
		q.archive(e, "no_handler")
		return
	}

	e.Attempts++
	err := h(ctx, e)
	if err == nil {
		observ.IncCounter("dlq_retries_total", map[string]string{"kind": e.Kind, "result": "success"})
		return
	}

	e.LastError = err.Error()
	observ.IncCounter("dlq_retries_total", map[string]string{"kind": e.Kind, "result": "failure"})

	if e.Attempts >= q.cfg.MaxRetries {
		q.archive(e, "max_retries_exceeded")
		return
	}

	e.NextAttempt = q.now().Add(q.backoff(e.Attempts))
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}

// backoff doubles the base per completed attempt and caps at MaxDelay.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.MaxDelay {
			return q.cfg.MaxDelay
		}
	}
	if d > q.cfg.MaxDelay {
		return q.cfg.MaxDelay
	}
	return d
}

// archive writes the exhausted entry to the archive file and drops it from
// the queue. Archived entries are logged, never retried again.
func (q *Queue) archive(e domain.DLQEntry, reason string) {
	observ.IncCounter("dlq_archived_total", map[string]string{"kind": e.Kind, "reason": reason})
	observ.LogError("dlq_archived", map[string]any{
		"id": e.ID, "kind": e.Kind, "attempts": e.Attempts, "reason": reason, "last_error": e.LastError,
	})

	if q.cfg.ArchivePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(q.cfg.ArchivePath), 0755); err != nil {
		observ.LogError("dlq_archive_write_failed", map[string]any{"error": err.Error()})
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	f, err := os.OpenFile(q.cfg.ArchivePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		observ.LogError("dlq_archive_write_failed", map[string]any{"error": err.Error()})
		return
	}
	defer f.Close()
	_, _ = f.WriteString(string(data) + "\n")
}
