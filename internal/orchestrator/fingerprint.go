package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeguard/tradeguard/internal/domain"
)

// Fingerprint hashes the decision-identifying fields of an event. Volatile
// fields (timestamp, confidence) are excluded so redeliveries and drifted
// re-emissions of the same intent collapse to one fingerprint.
func Fingerprint(ev domain.DecisionEvent) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		ev.Symbol,
		ev.Timeframe,
		ev.Direction,
		ev.ReasoningMode,
	}, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintStore is the dedup set. FirstSeen must be atomic: for any
// fingerprint, exactly one concurrent caller within the TTL window gets
// true.
type FingerprintStore interface {
	FirstSeen(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
}

// MemoryFingerprintStore is the default single-instance dedup set.
type MemoryFingerprintStore struct {
	mu   sync.Mutex
	seen map[string]time.Time // fingerprint -> expiry
	now  func() time.Time
}

func NewMemoryFingerprintStore() *MemoryFingerprintStore {
	return &MemoryFingerprintStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryFingerprintStore) FirstSeen(_ context.Context, fp string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, k)
		}
	}
	if exp, ok := s.seen[fp]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[fp] = now.Add(ttl)
	return true, nil
}

// RedisFingerprintStore shares the dedup window across instances.
type RedisFingerprintStore struct {
	client *redis.Client
}

func NewRedisFingerprintStore(client *redis.Client) *RedisFingerprintStore {
	return &RedisFingerprintStore{client: client}
}

func (s *RedisFingerprintStore) FirstSeen(ctx context.Context, fp string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, "tradeguard:dedup:"+fp, 1, ttl).Result()
}
