package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeguard/tradeguard/internal/domain"
)

func TestFileLogAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	log, err := NewFileLog(path)
	require.NoError(t, err)

	for _, action := range []domain.GuardrailAction{domain.ActionForwarded, domain.ActionAborted} {
		entry := domain.NewAuditLogEntry("adv-1", "EURUSD")
		entry.FinalAction = action
		require.NoError(t, log.Append(entry))
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []domain.AuditLogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e domain.AuditLogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActionForwarded, entries[0].FinalAction)
	assert.Equal(t, domain.ActionAborted, entries[1].FinalAction)
	assert.NotEmpty(t, entries[0].LogID)
	assert.NotEqual(t, entries[0].LogID, entries[1].LogID)
}

func TestMemoryLogCopiesEntries(t *testing.T) {
	log := NewMemoryLog()
	require.NoError(t, log.Append(domain.NewAuditLogEntry("adv-1", "EURUSD")))

	got := log.Entries()
	require.Len(t, got, 1)
	got[0].AdvisoryID = "mutated"
	assert.Equal(t, "adv-1", log.Entries()[0].AdvisoryID, "Entries must return a copy")
}
