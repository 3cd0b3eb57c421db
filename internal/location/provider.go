// Package location 定位获取: 超时, 缓存有效期, 权限拒绝
package location

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chandrabosep/AVALOOT/pkg/geo"
)

var (
	ErrLocationDenied      = errors.New("location access denied")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrLocationTimeout     = errors.New("location request timed out")
)

// Options 定位参数
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// DefaultOptions 默认 10 秒超时, 60 秒内的定位可复用
func DefaultOptions() Options {
	return Options{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaxAge:       60 * time.Second,
	}
}

// Provider 定位提供者
type Provider interface {
	CurrentPosition(ctx context.Context, opts Options) (geo.Point, error)
}

// ProviderFunc 函数适配
type ProviderFunc func(ctx context.Context, opts Options) (geo.Point, error)

// CurrentPosition 实现 Provider
func (f ProviderFunc) CurrentPosition(ctx context.Context, opts Options) (geo.Point, error) {
	return f(ctx, opts)
}

// Acquire 带超时获取定位
// 超时返回 ErrLocationTimeout, 非法坐标视为不可用
func Acquire(ctx context.Context, p Provider, opts Options) (geo.Point, error) {
	if p == nil {
		return geo.Point{}, ErrLocationUnavailable
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	type result struct {
		point geo.Point
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		point, err := p.CurrentPosition(ctx, opts)
		ch <- result{point, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return geo.Point{}, ErrLocationTimeout
			}
			return geo.Point{}, r.err
		}
		if !r.point.Valid() {
			return geo.Point{}, ErrLocationUnavailable
		}
		return r.point, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return geo.Point{}, ErrLocationTimeout
		}
		return geo.Point{}, ctx.Err()
	}
}

// StaticProvider 请求方上报的定位, 未上报时不可用
type StaticProvider struct {
	point *geo.Point
}

// NewStaticProvider 创建固定定位, p 为 nil 表示未上报
func NewStaticProvider(p *geo.Point) *StaticProvider {
	return &StaticProvider{point: p}
}

// CurrentPosition 实现 Provider
func (s *StaticProvider) CurrentPosition(context.Context, Options) (geo.Point, error) {
	if s.point == nil {
		return geo.Point{}, ErrLocationUnavailable
	}
	return *s.point, nil
}

// Static 固定坐标
func Static(p geo.Point) Provider {
	return NewStaticProvider(&p)
}

// CachedProvider 复用 MaxAge 内的上一次定位, 否则向 source 重新获取
type CachedProvider struct {
	source Provider

	mu   sync.Mutex
	last *fix
	now  func() time.Time
}

// NewCachedProvider 创建带缓存的定位提供者
func NewCachedProvider(source Provider) *CachedProvider {
	return &CachedProvider{
		source: source,
		now:    time.Now,
	}
}

// CurrentPosition 实现 Provider
// opts 零值字段取 DefaultOptions
func (c *CachedProvider) CurrentPosition(ctx context.Context, opts Options) (geo.Point, error) {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = def.MaxAge
	}

	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last != nil && c.now().Sub(last.at) <= opts.MaxAge {
		return last.point, nil
	}

	p, err := Acquire(ctx, c.source, opts)
	if err != nil {
		return geo.Point{}, err
	}

	c.mu.Lock()
	c.last = &fix{point: p, at: c.now()}
	c.mu.Unlock()
	return p, nil
}

// Reset 丢弃缓存的定位
func (c *CachedProvider) Reset() {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
}

// Denied 权限被拒绝
func Denied() Provider {
	return ProviderFunc(func(context.Context, Options) (geo.Point, error) {
		return geo.Point{}, ErrLocationDenied
	})
}

type fix struct {
	point geo.Point
	at    time.Time
}

// Tracker 按地址缓存最近一次定位
type Tracker struct {
	mu    sync.RWMutex
	fixes map[string]fix
	now   func() time.Time
}

// NewTracker 创建定位缓存
func NewTracker() *Tracker {
	return &Tracker{
		fixes: make(map[string]fix),
		now:   time.Now,
	}
}

// Report 上报定位
func (t *Tracker) Report(address string, p geo.Point) error {
	if !p.Valid() {
		return ErrLocationUnavailable
	}
	t.mu.Lock()
	t.fixes[strings.ToLower(address)] = fix{point: p, at: t.now()}
	t.mu.Unlock()
	return nil
}

// Provider 返回该地址的定位提供者, 超过 MaxAge 的定位视为不可用
func (t *Tracker) Provider(address string) Provider {
	key := strings.ToLower(address)
	return ProviderFunc(func(_ context.Context, opts Options) (geo.Point, error) {
		t.mu.RLock()
		f, ok := t.fixes[key]
		t.mu.RUnlock()
		if !ok {
			return geo.Point{}, ErrLocationUnavailable
		}
		if opts.MaxAge > 0 && t.now().Sub(f.at) > opts.MaxAge {
			return geo.Point{}, ErrLocationUnavailable
		}
		return f.point, nil
	})
}

// Prune 清理过期定位
func (t *Tracker) Prune(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, f := range t.fixes {
		if f.at.Before(cutoff) {
			delete(t.fixes, k)
			removed++
		}
	}
	return removed
}
