// Package search provides web search backends behind a single Provider port.
package search

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxResults is used when a caller passes maxResults <= 0.
const DefaultMaxResults = 5

// Result is a single search hit. Content is the provider's snippet or
// extracted page text.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Provider executes a query and returns at most maxResults hits in rank order.
// An empty slice is a valid answer.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Named is implemented by providers that report a stable name for metrics.
type Named interface {
	Name() string
}

func ProviderName(p Provider) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

func limit(maxResults int) int {
	if maxResults <= 0 {
		return DefaultMaxResults
	}
	return maxResults
}

// doWithBackoff sends requests built by newReq until the response is not a
// 429, doubling the wait each time up to 30s. limiter, when non-nil, is
// waited on before every attempt.
func doWithBackoff(ctx context.Context, hc *http.Client, limiter *rate.Limiter, newReq func() (*http.Request, error)) (*http.Response, error) {
	delay := initialBackoff
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

var initialBackoff = time.Second

// Providers sharing an API key share one limiter.
var (
	limitersMu sync.Mutex
	limiters   = map[string]*rate.Limiter{}
)

func limiterFor(key string, perSecond float64) *rate.Limiter {
	limitersMu.Lock()
	defer limitersMu.Unlock()
	l, ok := limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(perSecond), 1)
		limiters[key] = l
	}
	return l
}
