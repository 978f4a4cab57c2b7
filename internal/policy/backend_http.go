package policy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/tradeguard/tradeguard/internal/domain"
)

// HTTPBackend queries a remote policy service: POST /policies/{name} with
// the decision context, response {result, reason, defer_until}. The remote
// side has already evaluated, so the response maps to a fixed definition.
type HTTPBackend struct {
	client  *resty.Client
	limiter *rate.Limiter
}

type httpPolicyResponse struct {
	Result     string `json:"result"`
	Reason     string `json:"reason"`
	DeferUntil string `json:"defer_until,omitempty"`
}

func NewHTTPBackend(baseURL string, timeout time.Duration, ratePerSec float64) *HTTPBackend {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0) // the chain handles failure, no hidden retries here
	return &HTTPBackend{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
}

func (b *HTTPBackend) Name() string { return "http" }

func (b *HTTPBackend) Get(ctx context.Context, policy string, pctx Context) (Definition, bool, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return Definition{}, false, fmt.Errorf("rate limiter: %w", err)
	}

	var out httpPolicyResponse
	// Decode unconditionally: policy services are not trusted to label
	// their responses application/json.
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(pctx).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/policies/" + policy)
	if err != nil {
		return Definition{}, false, fmt.Errorf("policy http backend: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Definition{}, false, nil
	}
	if resp.IsError() {
		return Definition{}, false, fmt.Errorf("policy http backend: status %d", resp.StatusCode())
	}
	if out.Result == "" {
		return Definition{}, false, nil
	}

	def := Definition{Kind: "fixed", Outcome: out.Result, Reason: out.Reason}
	if out.Result == string(domain.PolicyDefer) && out.DeferUntil != "" {
		if until, perr := time.Parse(time.RFC3339, out.DeferUntil); perr == nil {
			def.DeferSeconds = int(time.Until(until).Seconds())
		}
	}
	return def, true, nil
}
