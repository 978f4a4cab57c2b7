package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry is an immutable record of one guardrail/execution decision.
// Entries are append-only and never edited or deleted.
type AuditLogEntry struct {
	LogID           string                 `json:"log_id"`
	Timestamp       time.Time              `json:"timestamp"`
	AdvisoryID      string                 `json:"advisory_id,omitempty"`
	Symbol          string                 `json:"symbol,omitempty"`
	GuardrailChecks []GuardrailCheckResult `json:"guardrail_checks,omitempty"`
	FinalAction     GuardrailAction        `json:"final_action"`
	ExecutionResult *ExecutionResult       `json:"execution_result,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// NewAuditLogEntry stamps a fresh entry with id and UTC timestamp.
func NewAuditLogEntry(advisoryID, symbol string) AuditLogEntry {
	return AuditLogEntry{
		LogID:      uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		AdvisoryID: advisoryID,
		Symbol:     symbol,
	}
}

// DLQEntry is a failed operation awaiting retry. Attempts never exceed the
// queue's max before archival.
type DLQEntry struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"` // "persistence" | "notification" | "deferred_decision"
	Payload     map[string]interface{} `json:"payload"`
	Attempts    int                    `json:"attempts"`
	NextAttempt time.Time              `json:"next_attempt"`
	EnqueuedAt  time.Time              `json:"enqueued_at"`
	LastError   string                 `json:"last_error,omitempty"`
}
