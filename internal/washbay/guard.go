package washbay

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// commandGuard filters redelivered and flooding commands before they reach
// the PLC.
//
// QoS 1 delivery may hand the same command over more than once; a
// requestId seen within the TTL is rejected. Each bay also has its own
// token bucket.
type commandGuard struct {
	seen     *cache.Cache
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newCommandGuard creates a guard. ttl <= 0 disables de-duplication and
// perSecond <= 0 disables rate limiting.
func newCommandGuard(ttl time.Duration, perSecond float64, burst int) *commandGuard {
	g := &commandGuard{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Inf,
		burst:    burst,
	}
	if ttl > 0 {
		g.seen = cache.New(ttl, 2*ttl)
	}
	if perSecond > 0 {
		g.limit = rate.Limit(perSecond)
	}
	if g.burst < 1 {
		g.burst = 1
	}
	return g
}

// check admits or rejects cmd. Only admitted request ids are remembered,
// so a rate-limited request may be retried with the same id.
func (g *commandGuard) check(cmd Command) error {
	if g.seen != nil && cmd.RequestID != "" {
		if err := g.seen.Add(requestKey(cmd), struct{}{}, cache.DefaultExpiration); err != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, cmd.RequestID)
		}
	}

	if !g.limiter(cmd.BayID).Allow() {
		g.forget(cmd)
		return fmt.Errorf("%w: bay %s", ErrRateLimited, cmd.BayID)
	}
	return nil
}

// forget drops cmd's request id so a retry is not taken for a redelivery.
func (g *commandGuard) forget(cmd Command) {
	if g.seen != nil && cmd.RequestID != "" {
		g.seen.Delete(requestKey(cmd))
	}
}

func requestKey(cmd Command) string {
	return cmd.BayID + "/" + cmd.RequestID
}

func (g *commandGuard) limiter(bayID string) *rate.Limiter {
	l, ok := g.limiters[bayID]
	if !ok {
		l = rate.NewLimiter(g.limit, g.burst)
		g.limiters[bayID] = l
	}
	return l
}
