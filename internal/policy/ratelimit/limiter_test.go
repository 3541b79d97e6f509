package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadharvest/internal/metrics"
)

func TestLimiterWaitDelaysSecondToken(t *testing.T) {
	metrics.Init()

	// 10 RPS = one token every 100ms, burst 1.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/about"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDomainsAreIndependent(t *testing.T) {
	metrics.Init()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://B.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "domain B blocked unexpectedly")
}

func TestLimiterHonoursContext(t *testing.T) {
	metrics.Init()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com"))
}

func TestLimiterZeroRPSIsUnlimited(t *testing.T) {
	metrics.Init()

	l := New(Config{})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "not a url ::"))
	}
}

func TestDomainOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", domainOf("https://Example.com:8443/x"))
	require.Equal(t, "unknown", domainOf("::"))
}
