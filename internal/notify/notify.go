package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradeguard/tradeguard/internal/observ"
)

// Level tags the severity of an outbound message. Message formatting happens
// upstream; channels receive the final string.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelCritical Level = "critical"
)

// Channel delivers one formatted message to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string, level Level) error
}

// Notifier is what the orchestrator sees.
type Notifier interface {
	Notify(ctx context.Context, message string, level Level) error
}

// breaker skips a channel after N consecutive failures until a cool-down
// passes, so one dead webhook cannot add latency to every decision.
type breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	consecutive int
	openUntil   time.Time
}

func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.After(b.openUntil)
}

func (b *breaker) recordFailure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.openUntil = now.Add(b.cooldown)
		b.consecutive = 0
		return true
	}
	return false
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
}

// DeliveryError reports which channels failed so a retry can target only
// those instead of re-sending to channels that already delivered.
type DeliveryError struct {
	Failed []string
	errs   []error
}

func (e *DeliveryError) Error() string {
	if len(e.errs) == 0 {
		return fmt.Sprintf("delivery failed on %v", e.Failed)
	}
	return errors.Join(e.errs...).Error()
}

func (e *DeliveryError) Unwrap() []error { return e.errs }

// Fanout dispatches to all configured channels independently. A channel
// failure never prevents delivery on the others; the aggregate error is
// returned so the caller can dead-letter the notification.
type Fanout struct {
	channels []Channel
	breakers map[string]*breaker
	now      func() time.Time
}

func NewFanout(failureThreshold int, cooldown time.Duration, channels ...Channel) *Fanout {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	breakers := make(map[string]*breaker, len(channels))
	for _, c := range channels {
		breakers[c.Name()] = &breaker{threshold: failureThreshold, cooldown: cooldown}
	}
	return &Fanout{channels: channels, breakers: breakers, now: time.Now}
}

func (f *Fanout) Notify(ctx context.Context, message string, level Level) error {
	return f.send(ctx, message, level, nil)
}

// NotifySubset delivers only to the named channels. Used by the DLQ
// notification handler so retries never duplicate a delivery that already
// succeeded.
func (f *Fanout) NotifySubset(ctx context.Context, message string, level Level, names []string) error {
	only := make(map[string]bool, len(names))
	for _, n := range names {
		only[n] = true
	}
	return f.send(ctx, message, level, only)
}

func (f *Fanout) send(ctx context.Context, message string, level Level, only map[string]bool) error {
	if len(f.channels) == 0 {
		return nil
	}

	var mu sync.Mutex
	var failed []string
	var errs []error
	g, gctx := errgroup.WithContext(ctx)

	for _, ch := range f.channels {
		ch := ch
		if only != nil && !only[ch.Name()] {
			continue
		}
		br := f.breakers[ch.Name()]
		g.Go(func() error {
			if !br.allow(f.now()) {
				observ.IncCounter("notify_skipped_total", map[string]string{"channel": ch.Name(), "reason": "breaker_open"})
				return nil
			}
			err := ch.Send(gctx, message, level)
			if err != nil {
				opened := br.recordFailure(f.now())
				observ.IncCounter("notify_failures_total", map[string]string{"channel": ch.Name()})
				if opened {
					observ.LogError("notify_breaker_opened", map[string]any{"channel": ch.Name()})
				}
				mu.Lock()
				failed = append(failed, ch.Name())
				errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name(), err))
				mu.Unlock()
				// Isolation: report via the aggregate, never cancel siblings.
				return nil
			}
			br.recordSuccess()
			observ.IncCounter("notify_sent_total", map[string]string{"channel": ch.Name()})
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) == 0 {
		return nil
	}
	return &DeliveryError{Failed: failed, errs: errs}
}
