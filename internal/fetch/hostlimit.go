package fetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// hostGovernor enforces a minimum inter-request delay per host and grows it
// adaptively after rate-limit responses. Each consecutive 429/503 multiplies
// the delay by Factor, capped at Max; any success resets it to Base.
type hostGovernor struct {
	base   time.Duration
	factor float64
	max    time.Duration

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	limiter     *rate.Limiter
	delay       time.Duration
	consecutive int
}

func newHostGovernor(base time.Duration, factor float64, max time.Duration) *hostGovernor {
	return &hostGovernor{
		base:   base,
		factor: factor,
		max:    max,
		hosts:  make(map[string]*hostState),
	}
}

func (g *hostGovernor) state(host string) *hostState {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.hosts[host]
	if !ok {
		s = &hostState{
			limiter: rate.NewLimiter(rate.Every(g.base), 1),
			delay:   g.base,
		}
		g.hosts[host] = s
	}
	return s
}

// Wait blocks until the host's next request slot, honoring ctx cancellation.
func (g *hostGovernor) Wait(ctx context.Context, host string) error {
	return g.state(host).limiter.Wait(ctx)
}

// Penalize grows the host's delay after a 429/503 response.
func (g *hostGovernor) Penalize(host string) {
	s := g.state(host)
	g.mu.Lock()
	defer g.mu.Unlock()

	next := time.Duration(float64(s.delay) * g.factor)
	if next > g.max {
		next = g.max
	}
	s.delay = next
	s.consecutive++
	s.limiter.SetLimit(rate.Every(next))

	zap.L().Debug("fetch: host rate-limited, delay increased",
		zap.String("host", host),
		zap.Duration("delay", next),
		zap.Int("consecutive", s.consecutive),
	)
}

// Reward resets the host's delay to the base after a successful request.
func (g *hostGovernor) Reward(host string) {
	s := g.state(host)
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.consecutive == 0 && s.delay == g.base {
		return
	}
	s.delay = g.base
	s.consecutive = 0
	s.limiter.SetLimit(rate.Every(g.base))
}

// Delay reports the host's current inter-request delay.
func (g *hostGovernor) Delay(host string) time.Duration {
	s := g.state(host)
	g.mu.Lock()
	defer g.mu.Unlock()
	return s.delay
}
