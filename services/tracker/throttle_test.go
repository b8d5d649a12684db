package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"anisync/models"
)

func TestThrottleReusesLimiterPerProvider(t *testing.T) {
	th := newProviderThrottle(rate.Every(time.Second), 1)

	first := th.limiter(models.ProviderMal)
	assert.Same(t, first, th.limiter(models.ProviderMal))
	assert.NotSame(t, first, th.limiter(models.ProviderKitsu))
}

func TestThrottleBurstAdmitsImmediately(t *testing.T) {
	th := newProviderThrottle(rate.Every(time.Hour), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, th.Wait(ctx, models.ProviderMal))
}

func TestThrottleProvidersAreIndependent(t *testing.T) {
	th := newProviderThrottle(rate.Every(time.Hour), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Exhaust one provider's burst; another provider must still pass.
	require.NoError(t, th.Wait(ctx, models.ProviderMal))
	require.NoError(t, th.Wait(ctx, models.ProviderAniList))

	// A second call on the exhausted provider now has to wait out the
	// interval and times out with the context instead.
	err := th.Wait(ctx, models.ProviderMal)
	assert.Error(t, err)
}
