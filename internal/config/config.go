package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Guardrails struct {
	DailyMaxTrades     int     `yaml:"daily_max_trades"`
	DailyMaxLossUSD    float64 `yaml:"daily_max_loss_usd"`
	PerSymbolMaxTrades int     `yaml:"per_symbol_max_trades"`
	PaperMode          bool    `yaml:"paper_mode"`
}

type Reasoning struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

type Dedup struct {
	WindowSeconds int    `yaml:"window_seconds"`
	RedisURL      string `yaml:"redis_url"` // empty = in-memory store
}

type DLQ struct {
	MaxRetries  int    `yaml:"max_retries"`
	BaseDelayMs int    `yaml:"base_delay_ms"`
	MaxDelayMs  int    `yaml:"max_delay_ms"`
	ArchivePath string `yaml:"archive_path"`
}

type PolicyBackendHTTP struct {
	Enabled    bool    `yaml:"enabled"`
	BaseURL    string  `yaml:"base_url"`
	TimeoutMs  int     `yaml:"timeout_ms"`
	RatePerSec float64 `yaml:"rate_per_sec"`
}

type PolicyBackendCache struct {
	Enabled    bool   `yaml:"enabled"`
	RedisURL   string `yaml:"redis_url"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type StaticPolicy struct {
	Kind            string   `yaml:"kind"`    // fixed | window | regime | cooldown | exposure | threshold
	Outcome         string   `yaml:"outcome"` // for fixed: pass | veto | defer
	Reason          string   `yaml:"reason"`
	DeferSeconds    int      `yaml:"defer_seconds"`
	WindowStartUTC  string   `yaml:"window_start_utc"` // "HH:MM"
	WindowEndUTC    string   `yaml:"window_end_utc"`
	BlockedRegimes  []string `yaml:"blocked_regimes"`
	CooldownSeconds int      `yaml:"cooldown_seconds"`
	MaxExposureUSD  float64  `yaml:"max_exposure_usd"`
	MinConfidence   float64  `yaml:"min_confidence"`
}

type Policies struct {
	Static              map[string]StaticPolicy `yaml:"static"`
	HTTP                PolicyBackendHTTP       `yaml:"http"`
	Cache               PolicyBackendCache      `yaml:"cache"`
	ConfidenceThreshold float64                 `yaml:"confidence_threshold"`
}

type Execution struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

type Channel struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Target  string `yaml:"target"` // channel id / chat id
}

type Notifications struct {
	Slack                  Channel `yaml:"slack"`
	Discord                Channel `yaml:"discord"`
	Telegram               Channel `yaml:"telegram"`
	BreakerFailures        int     `yaml:"breaker_failures"`
	BreakerCooldownSeconds int     `yaml:"breaker_cooldown_seconds"`
}

type Storage struct {
	DecisionsPath string `yaml:"decisions_path"`
	AuditPath     string `yaml:"audit_path"`
}

type Root struct {
	Guardrails    Guardrails    `yaml:"guardrails"`
	Reasoning     Reasoning     `yaml:"reasoning"`
	Dedup         Dedup         `yaml:"dedup"`
	DLQ           DLQ           `yaml:"dlq"`
	Policies      Policies      `yaml:"policies"`
	Execution     Execution     `yaml:"execution"`
	Notifications Notifications `yaml:"notifications"`
	Storage       Storage       `yaml:"storage"`
	MetricsAddr   string        `yaml:"metrics_addr"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

// Default returns the configuration with all defaults applied and no file.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.Guardrails.DailyMaxTrades == 0 {
		c.Guardrails.DailyMaxTrades = 10
	}
	if c.Guardrails.DailyMaxLossUSD == 0 {
		c.Guardrails.DailyMaxLossUSD = 100.0
	}
	if c.Guardrails.PerSymbolMaxTrades == 0 {
		c.Guardrails.PerSymbolMaxTrades = 3
	}
	if c.Reasoning.TimeoutMs == 0 {
		c.Reasoning.TimeoutMs = 5000
	}
	if c.Dedup.WindowSeconds == 0 {
		c.Dedup.WindowSeconds = 300
	}
	if c.DLQ.MaxRetries == 0 {
		c.DLQ.MaxRetries = 5
	}
	if c.DLQ.BaseDelayMs == 0 {
		c.DLQ.BaseDelayMs = 500
	}
	if c.DLQ.MaxDelayMs == 0 {
		c.DLQ.MaxDelayMs = 30000
	}
	if c.DLQ.ArchivePath == "" {
		c.DLQ.ArchivePath = "data/dlq_archive.jsonl"
	}
	if c.Policies.HTTP.TimeoutMs == 0 {
		c.Policies.HTTP.TimeoutMs = 2000
	}
	if c.Policies.HTTP.RatePerSec == 0 {
		c.Policies.HTTP.RatePerSec = 5
	}
	if c.Policies.Cache.TimeoutMs == 0 {
		c.Policies.Cache.TimeoutMs = 500
	}
	if c.Policies.Cache.TTLSeconds == 0 {
		c.Policies.Cache.TTLSeconds = 300
	}
	if c.Policies.ConfidenceThreshold == 0 {
		c.Policies.ConfidenceThreshold = 0.55
	}
	if c.Execution.PollIntervalMs == 0 {
		c.Execution.PollIntervalMs = 500
	}
	if c.Notifications.BreakerFailures == 0 {
		c.Notifications.BreakerFailures = 5
	}
	if c.Notifications.BreakerCooldownSeconds == 0 {
		c.Notifications.BreakerCooldownSeconds = 60
	}
	if c.Storage.DecisionsPath == "" {
		c.Storage.DecisionsPath = "data/decisions.jsonl"
	}
	if c.Storage.AuditPath == "" {
		c.Storage.AuditPath = "data/audit.jsonl"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9108"
	}
}
