package binance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock avanza el tiempo solo cuando el limiter duerme, de modo que
// las esperas son determinísticas y el test no depende del reloj real.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func newTestWindow(limit int, window time.Duration) (*slidingWindow, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newSlidingWindow(limit, window)
	s.now = clock.Now
	s.sleep = clock.Sleep
	return s, clock
}

func TestSlidingWindowAllowsBurstUpToLimit(t *testing.T) {
	s, clock := newTestWindow(5, time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Wait(context.Background()))
	}

	assert.Empty(t, clock.sleeps, "burst under the limit must not sleep")
	assert.Equal(t, 5, s.InWindow())
}

func TestSlidingWindowWaitsExactRemainder(t *testing.T) {
	s, clock := newTestWindow(3, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Wait(ctx))
	clock.now = clock.now.Add(10 * time.Second)
	require.NoError(t, s.Wait(ctx))
	require.NoError(t, s.Wait(ctx))

	// Ventana llena: la cuarta debe esperar justo lo que le queda al
	// primer timestamp (emitido hace 10s) para salir de la ventana.
	require.NoError(t, s.Wait(ctx))

	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 50*time.Second, clock.sleeps[0])
	assert.Equal(t, 3, s.InWindow())
}

func TestSlidingWindowNeverExceedsLimitInWindow(t *testing.T) {
	const limit = 10
	s, _ := newTestWindow(limit, time.Minute)
	ctx := context.Background()

	// El doble del presupuesto: cada Wait que pasa deja la ventana con
	// como mucho limit timestamps.
	for i := 0; i < 2*limit; i++ {
		require.NoError(t, s.Wait(ctx))
		assert.LessOrEqual(t, s.InWindow(), limit)
	}
}

func TestSlidingWindowEvictsExpired(t *testing.T) {
	s, clock := newTestWindow(4, time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Wait(ctx))
	}
	require.Equal(t, 4, s.InWindow())

	clock.now = clock.now.Add(time.Minute)
	assert.Equal(t, 0, s.InWindow())

	require.NoError(t, s.Wait(ctx))
	assert.Empty(t, clock.sleeps)
}

func TestSlidingWindowHonorsContextCancel(t *testing.T) {
	s, _ := newTestWindow(1, time.Minute)
	s.sleep = sleepCtx // espera real para que el cancel tenga efecto

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Wait(ctx))
	cancel()

	err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
