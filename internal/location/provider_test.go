package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandrabosep/AVALOOT/pkg/geo"
)

func TestAcquire_Static(t *testing.T) {
	p, err := Acquire(context.Background(), Static(geo.NewPoint(43.65, -79.38)), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 43.65, p.Latitude)
}

func TestAcquire_Denied(t *testing.T) {
	_, err := Acquire(context.Background(), Denied(), DefaultOptions())
	assert.ErrorIs(t, err, ErrLocationDenied)
}

func TestAcquire_NilProvider(t *testing.T) {
	_, err := Acquire(context.Background(), nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrLocationUnavailable)
}

func TestAcquire_InvalidPoint(t *testing.T) {
	_, err := Acquire(context.Background(), Static(geo.NewPoint(120, 0)), DefaultOptions())
	assert.ErrorIs(t, err, ErrLocationUnavailable)
}

func TestAcquire_Timeout(t *testing.T) {
	slow := ProviderFunc(func(ctx context.Context, _ Options) (geo.Point, error) {
		select {
		case <-time.After(time.Second):
			return geo.NewPoint(1, 1), nil
		case <-ctx.Done():
			return geo.Point{}, ctx.Err()
		}
	})

	opts := DefaultOptions()
	opts.Timeout = 20 * time.Millisecond

	_, err := Acquire(context.Background(), slow, opts)
	assert.ErrorIs(t, err, ErrLocationTimeout)
}

func TestAcquire_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocking := ProviderFunc(func(ctx context.Context, _ Options) (geo.Point, error) {
		<-ctx.Done()
		return geo.Point{}, errors.New("gps aborted")
	})

	_, err := Acquire(ctx, blocking, Options{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocationTimeout)
}

func TestTracker(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return now }

	opts := DefaultOptions()
	addr := "0xAbC0000000000000000000000000000000000001"

	_, err := Acquire(context.Background(), tr.Provider(addr), opts)
	assert.ErrorIs(t, err, ErrLocationUnavailable)

	require.NoError(t, tr.Report(addr, geo.NewPoint(43.65, -79.38)))
	assert.ErrorIs(t, tr.Report(addr, geo.NewPoint(100, 0)), ErrLocationUnavailable)

	// 地址大小写不敏感
	p, err := Acquire(context.Background(), tr.Provider("0xabc0000000000000000000000000000000000001"), opts)
	require.NoError(t, err)
	assert.Equal(t, -79.38, p.Longitude)

	now = now.Add(61 * time.Second)
	_, err = Acquire(context.Background(), tr.Provider(addr), opts)
	assert.ErrorIs(t, err, ErrLocationUnavailable)

	assert.Equal(t, 1, tr.Prune(opts.MaxAge))
	assert.Equal(t, 0, tr.Prune(opts.MaxAge))
}

func TestStaticProvider_Missing(t *testing.T) {
	_, err := NewStaticProvider(nil).CurrentPosition(context.Background(), DefaultOptions())
	assert.ErrorIs(t, err, ErrLocationUnavailable)

	p := geo.NewPoint(1, 2)
	got, err := NewStaticProvider(&p).CurrentPosition(context.Background(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

// countingProvider 记录调用次数
type countingProvider struct {
	calls int
	point geo.Point
	err   error
}

func (c *countingProvider) CurrentPosition(context.Context, Options) (geo.Point, error) {
	c.calls++
	return c.point, c.err
}

func TestCachedProvider_ReusesFixWithinMaxAge(t *testing.T) {
	source := &countingProvider{point: geo.NewPoint(43.65, -79.38)}
	now := time.Unix(1700000000, 0)
	c := NewCachedProvider(source)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	p, err := c.CurrentPosition(ctx, Options{MaxAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, source.point, p)

	now = now.Add(59 * time.Second)
	_, err = c.CurrentPosition(ctx, Options{MaxAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	now = now.Add(2 * time.Second)
	_, err = c.CurrentPosition(ctx, Options{MaxAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)

	c.Reset()
	_, err = c.CurrentPosition(ctx, Options{MaxAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls)
}

func TestCachedProvider_DefaultMaxAge(t *testing.T) {
	source := &countingProvider{point: geo.NewPoint(1, 1)}
	now := time.Unix(1700000000, 0)
	c := NewCachedProvider(source)
	c.now = func() time.Time { return now }

	_, err := c.CurrentPosition(context.Background(), Options{})
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = c.CurrentPosition(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
}

func TestCachedProvider_ErrorNotCached(t *testing.T) {
	source := &countingProvider{err: ErrLocationDenied}
	c := NewCachedProvider(source)

	_, err := c.CurrentPosition(context.Background(), DefaultOptions())
	assert.ErrorIs(t, err, ErrLocationDenied)

	source.err = nil
	source.point = geo.NewPoint(2, 2)
	p, err := c.CurrentPosition(context.Background(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, source.point, p)
	assert.Equal(t, 2, source.calls)
}

func TestCachedProvider_Timeout(t *testing.T) {
	slow := ProviderFunc(func(ctx context.Context, _ Options) (geo.Point, error) {
		<-ctx.Done()
		return geo.Point{}, ctx.Err()
	})
	c := NewCachedProvider(slow)

	_, err := c.CurrentPosition(context.Background(), Options{Timeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrLocationTimeout)
}
