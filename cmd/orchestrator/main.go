package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeguard/tradeguard/internal/config"
	"github.com/tradeguard/tradeguard/internal/dlq"
	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/notify"
	"github.com/tradeguard/tradeguard/internal/observ"
	"github.com/tradeguard/tradeguard/internal/orchestrator"
	"github.com/tradeguard/tradeguard/internal/policy"
	"github.com/tradeguard/tradeguard/internal/reasoning"
	"github.com/tradeguard/tradeguard/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "path to YAML config")
		eventsPath = flag.String("events", "", "JSONL decision events to feed (stdin when empty)")
		wait       = flag.Bool("wait", false, "keep running after the feed drains (DLQ retries, metrics)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("load config: %v", err)
		}
		observ.Log("config_default", map[string]any{"path": *configPath})
		cfg = config.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			observ.LogError("metrics_server_failed", map[string]any{"error": err.Error()})
		}
	}()

	dedup, err := buildDedup(cfg.Dedup)
	if err != nil {
		log.Fatalf("dedup store: %v", err)
	}

	pol, err := buildPolicyStore(cfg.Policies)
	if err != nil {
		log.Fatalf("policy store: %v", err)
	}

	rm := reasoning.NewManager()
	registerReasoners(rm)

	st, err := store.NewFileStore(cfg.Storage.DecisionsPath)
	if err != nil {
		log.Fatalf("decision store: %v", err)
	}

	q := dlq.New(dlq.Config{
		MaxRetries:  cfg.DLQ.MaxRetries,
		BaseDelay:   time.Duration(cfg.DLQ.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.DLQ.MaxDelayMs) * time.Millisecond,
		ArchivePath: cfg.DLQ.ArchivePath,
	})

	fan, err := buildNotifier(cfg.Notifications)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		DedupWindow:      time.Duration(cfg.Dedup.WindowSeconds) * time.Second,
		ReasoningTimeout: time.Duration(cfg.Reasoning.TimeoutMs) * time.Millisecond,
	}, dedup, pol, rm, st, fan, q)

	q.RegisterHandler("persistence", func(ctx context.Context, e domain.DLQEntry) error {
		var rec store.DecisionRecord
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, &rec); err != nil {
			return err
		}
		_, err = st.InsertDecision(ctx, rec)
		return err
	})
	q.RegisterHandler("notification", func(ctx context.Context, e domain.DLQEntry) error {
		msg, _ := e.Payload["message"].(string)
		level, _ := e.Payload["level"].(string)
		if level == "" {
			level = string(notify.LevelInfo)
		}
		if names := channelNames(e.Payload["channels"]); len(names) > 0 {
			return fan.NotifySubset(ctx, msg, notify.Level(level), names)
		}
		return fan.Notify(ctx, msg, notify.Level(level))
	})

	go q.Run(ctx, time.Second)

	feed := os.Stdin
	if *eventsPath != "" {
		f, err := os.Open(*eventsPath)
		if err != nil {
			log.Fatalf("open events: %v", err)
		}
		defer f.Close()
		feed = f
	}

	observ.Log("orchestrator_started", map[string]any{
		"events":  *eventsPath,
		"metrics": cfg.MetricsAddr,
	})

	if err := run(ctx, orch, feed); err != nil {
		log.Fatalf("feed: %v", err)
	}

	if *wait {
		<-ctx.Done()
	}
	observ.Log("orchestrator_stopped", map[string]any{"dlq_depth": q.Depth()})
}

func run(ctx context.Context, orch *orchestrator.Orchestrator, feed io.Reader) error {
	sc := bufio.NewScanner(feed)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev domain.DecisionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			observ.LogError("event_parse_failed", map[string]any{"line": line, "error": err.Error()})
			continue
		}
		res, err := orch.Process(ctx, ev)
		if err != nil {
			observ.LogError("event_rejected", map[string]any{"line": line, "error": err.Error()})
			continue
		}
		fmt.Printf("%s %s %s %s\n", res.DecisionID, ev.Symbol, res.Status, res.Reason)
	}
	return sc.Err()
}

// channelNames tolerates both the in-memory []string payload and the
// []interface{} shape a payload takes after a JSON round trip.
func channelNames(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, n := range t {
			if s, ok := n.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func buildDedup(cfg config.Dedup) (orchestrator.FingerprintStore, error) {
	if cfg.RedisURL == "" {
		return orchestrator.NewMemoryFingerprintStore(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return orchestrator.NewRedisFingerprintStore(redis.NewClient(opts)), nil
}

// buildPolicyStore assembles the backend chain: config first, then the
// remote HTTP service, then the redis cache. The store's permissive default
// covers the all-fail case.
func buildPolicyStore(cfg config.Policies) (*policy.Store, error) {
	static := cfg.Static
	if _, ok := static[policy.PolicyConfidenceThreshold]; !ok && cfg.ConfidenceThreshold > 0 {
		if static == nil {
			static = map[string]config.StaticPolicy{}
		}
		static[policy.PolicyConfidenceThreshold] = config.StaticPolicy{
			Kind:          "threshold",
			MinConfidence: cfg.ConfidenceThreshold,
		}
	}

	backends := []policy.Backend{policy.NewStaticBackend(static)}
	if cfg.HTTP.Enabled {
		backends = append(backends, policy.NewHTTPBackend(
			cfg.HTTP.BaseURL,
			time.Duration(cfg.HTTP.TimeoutMs)*time.Millisecond,
			cfg.HTTP.RatePerSec,
		))
	}
	if cfg.Cache.Enabled {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		backends = append(backends, policy.NewRedisBackend(
			redis.NewClient(opts),
			time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		))
	}

	backendTimeout := time.Duration(cfg.HTTP.TimeoutMs) * time.Millisecond
	return policy.NewStore(backendTimeout, backends...), nil
}

func buildNotifier(cfg config.Notifications) (*notify.Fanout, error) {
	var channels []notify.Channel
	if cfg.Slack.Enabled {
		channels = append(channels, notify.NewSlackChannel(cfg.Slack.Token, cfg.Slack.Target))
	}
	if cfg.Discord.Enabled {
		ch, err := notify.NewDiscordChannel(cfg.Discord.Token, cfg.Discord.Target)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if cfg.Telegram.Enabled {
		channels = append(channels, notify.NewTelegramChannel(cfg.Telegram.Token, cfg.Telegram.Target))
	}
	cooldown := time.Duration(cfg.BreakerCooldownSeconds) * time.Second
	return notify.NewFanout(cfg.BreakerFailures, cooldown, channels...), nil
}

// registerReasoners wires the built-in reasoning modes. "passthrough"
// echoes the event; "heuristic" scores on payload momentum fields.
func registerReasoners(rm *reasoning.Manager) {
	rm.Register("passthrough", func(_ context.Context, decisionID string, payload, rctx map[string]interface{}) ([]domain.AdvisorySignal, error) {
		conf, _ := rctx["confidence"].(float64)
		return []domain.AdvisorySignal{{
			DecisionID: decisionID,
			SignalType: domain.SignalAdvisory,
			Confidence: &conf,
			Payload:    payload,
		}}, nil
	})
	rm.Register("heuristic", func(_ context.Context, decisionID string, payload, rctx map[string]interface{}) ([]domain.AdvisorySignal, error) {
		base, _ := rctx["confidence"].(float64)
		momentum, _ := payload["momentum"].(float64)
		relVolume, _ := payload["rel_volume"].(float64)
		conf := base
		if momentum > 0 {
			conf += 0.1
		}
		if relVolume > 2.0 {
			conf += 0.05
		}
		return []domain.AdvisorySignal{{
			DecisionID: decisionID,
			SignalType: domain.SignalAdvisory,
			Confidence: &conf,
			Payload:    map[string]interface{}{"momentum": momentum, "rel_volume": relVolume},
		}}, nil
	})
}
