package blockchain

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticNonceSource struct {
	mu    sync.Mutex
	nonce uint64
}

func (s *staticNonceSource) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce, nil
}

func (s *staticNonceSource) set(n uint64) {
	s.mu.Lock()
	s.nonce = n
	s.mu.Unlock()
}

func setupNonceManager(t *testing.T, chainNonce uint64) (*NonceManager, *staticNonceSource, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	src := &staticNonceSource{nonce: chainNonce}
	nm := NewNonceManager(src, rdb, &NonceManagerConfig{
		Wallet:  common.HexToAddress("0x1234567890123456789012345678901234567890"),
		ChainID: 43113,
	})
	return nm, src, mr
}

func TestNonceManager_KeyGeneration(t *testing.T) {
	nm, _, _ := setupNonceManager(t, 0)
	assert.Equal(t, "avaloot:nonce:0x1234567890123456789012345678901234567890:43113", nm.nonceKey())
	assert.Equal(t, "avaloot:nonce:lock:0x1234567890123456789012345678901234567890:43113", nm.lockKey())
}

func TestNonceManager_Sequential(t *testing.T) {
	nm, _, _ := setupNonceManager(t, 5)
	ctx := context.Background()

	for want := uint64(5); want < 8; want++ {
		n, err := nm.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	next, ok, err := nm.Current(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(8), next)
}

func TestNonceManager_ChainAhead(t *testing.T) {
	nm, src, _ := setupNonceManager(t, 1)
	ctx := context.Background()

	n, err := nm.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	// 外部钱包发出了交易
	src.set(10)
	n, err = nm.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)
}

func TestNonceManager_Reset(t *testing.T) {
	nm, src, _ := setupNonceManager(t, 3)
	ctx := context.Background()

	_, err := nm.Acquire(ctx)
	require.NoError(t, err)
	_, err = nm.Acquire(ctx)
	require.NoError(t, err)

	// nonce 4 发送失败, 链上仍为 4
	src.set(4)
	require.NoError(t, nm.Reset(ctx))

	_, ok, err := nm.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := nm.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
}

func TestNonceManager_Concurrent(t *testing.T) {
	nm, _, _ := setupNonceManager(t, 0)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := nm.Acquire(ctx)
			if err == nil {
				results <- n
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool)
	for n := range results {
		assert.False(t, seen[n], "duplicate nonce %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
}

func TestNonceManager_LockHeld(t *testing.T) {
	nm, _, mr := setupNonceManager(t, 0)
	nm.lockWait = 0

	require.NoError(t, mr.Set(nm.lockKey(), "1"))

	_, err := nm.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNonceLockFailed)
}
