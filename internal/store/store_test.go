package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeguard/tradeguard/internal/domain"
)

func testRecord(id string) DecisionRecord {
	return DecisionRecord{
		ID: id,
		Event: domain.DecisionEvent{
			ID:            id,
			Symbol:        "EURUSD",
			Timeframe:     "1h",
			Confidence:    0.7,
			ReasoningMode: "passthrough",
			Direction:     "long",
		},
		Status:      "processed",
		Fingerprint: "abc123",
		PersistedAt: time.Now().UTC(),
	}
}

func TestFileStoreAppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions", "decisions.jsonl")
	st, err := NewFileStore(path)
	require.NoError(t, err)

	id, err := st.InsertDecision(context.Background(), testRecord("d-1"))
	require.NoError(t, err)
	assert.Equal(t, "d-1", id)

	_, err = st.InsertDecision(context.Background(), testRecord("d-2"))
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var recs []DecisionRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r DecisionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.Len(t, recs, 2)
	assert.Equal(t, "d-1", recs[0].ID)
	assert.Equal(t, "processed", recs[0].Status)
	assert.Equal(t, "EURUSD", recs[1].Event.Symbol)
}

func TestMemoryStoreFailureToggle(t *testing.T) {
	st := NewMemoryStore()

	_, err := st.InsertDecision(context.Background(), testRecord("d-1"))
	require.NoError(t, err)

	boom := errors.New("disk full")
	st.FailWith(boom)
	_, err = st.InsertDecision(context.Background(), testRecord("d-2"))
	require.ErrorIs(t, err, boom)

	st.FailWith(nil)
	_, err = st.InsertDecision(context.Background(), testRecord("d-3"))
	require.NoError(t, err)

	assert.Len(t, st.Records(), 2, "failed inserts are not recorded")
}
