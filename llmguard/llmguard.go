package llmguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("llmguard: rate limited")

// New wraps next with a request rate limit and a circuit breaker. A perMinute of zero or
// less disables the rate limit.
func New(log *slog.Logger, name string, next llms.Model, perMinute int) *Model {
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = max(1, perMinute/10)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed", slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return &Model{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
	}
}

type Model struct {
	next    llms.Model
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

var _ llms.Model = (*Model)(nil)

func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	resp, err := m.breaker.Execute(func() (any, error) {
		return m.next.GenerateContent(ctx, messages, options...)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*llms.ContentResponse), nil
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *Model) State() gobreaker.State {
	return m.breaker.State()
}
