package tracker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"anisync/models"
)

// providerThrottle spaces calls out per provider. Tracker rate limits are
// per-account and mostly undocumented, so every call waits out the remaining
// interval since the provider's last call. The map tolerates racing passes;
// the worst case is an extra, harmless delay.
type providerThrottle struct {
	mu       sync.Mutex
	limiters map[models.Provider]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newProviderThrottle(limit rate.Limit, burst int) *providerThrottle {
	return &providerThrottle{
		limiters: make(map[models.Provider]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (t *providerThrottle) limiter(provider models.Provider) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, ok := t.limiters[provider]
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.limiters[provider] = limiter
	}
	return limiter
}

// Wait blocks until the provider's rate limiter admits one call.
func (t *providerThrottle) Wait(ctx context.Context, provider models.Provider) error {
	return t.limiter(provider).Wait(ctx)
}
