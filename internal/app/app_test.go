package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandrabosep/AVALOOT/internal/config"
	"github.com/chandrabosep/AVALOOT/internal/location"
	"github.com/chandrabosep/AVALOOT/internal/scheduler"
)

func TestNew(t *testing.T) {
	cfg := &config.Config{Service: config.ServiceConfig{Name: "avaloot-test", HTTPPort: 8080}}

	app := New(cfg)

	assert.NotNil(t, app)
	assert.Equal(t, cfg, app.cfg)
	assert.Nil(t, app.Engine())
}

func TestApp_Stop_WithNilComponents(t *testing.T) {
	app := New(&config.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, app.Stop(ctx))
	assert.Error(t, app.ctx.Err())
}

func TestApp_InitChain_RequiresConfiguration(t *testing.T) {
	app := New(&config.Config{})
	err := app.initChain(context.Background())
	assert.ErrorIs(t, err, ErrContractNotConfigured)

	app = New(&config.Config{Blockchain: config.BlockchainConfig{
		ContractAddress: "0x3333333333333333333333333333333333333333",
	}})
	err = app.initChain(context.Background())
	assert.Error(t, err)
}

func TestApp_InitKafka_Disabled(t *testing.T) {
	app := New(&config.Config{})
	require.NoError(t, app.initKafka())
	assert.NotNil(t, app.publisher)
	assert.Nil(t, app.producer)
}

func TestApp_InitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	app := New(&config.Config{Redis: config.RedisConfig{Addresses: []string{mr.Addr()}}})

	require.NoError(t, app.initRedis(context.Background()))
	t.Cleanup(func() { _ = app.redis.Close() })

	deps := app.healthDeps()
	require.NotNil(t, deps.Redis)
	assert.NoError(t, deps.Redis.Ping(context.Background()))
	assert.Nil(t, deps.Postgres)
	assert.Nil(t, deps.Chain)
}

func TestApp_RegisterJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	app := New(&config.Config{
		Scheduler: config.SchedulerConfig{
			Jobs: map[string]string{scheduler.JobNameLocationPrune: "-"},
		},
		Location: config.LocationConfig{MaxAge: 60},
	})
	app.redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = app.redis.Close() })
	app.tracker = location.NewTracker()

	app.initScheduler()

	assert.Equal(t, []string{
		scheduler.JobNameExpiredStakeNotify,
		scheduler.JobNameLocationPrune,
		scheduler.JobNameRewardBPSSync,
		scheduler.JobNameStakeStats,
	}, app.scheduler.JobNames())
}

func TestApp_LocationOptions(t *testing.T) {
	app := New(&config.Config{Location: config.LocationConfig{HighAccuracy: true, Timeout: 10, MaxAge: 60}})

	opts := app.locationOptions()
	assert.True(t, opts.HighAccuracy)
	assert.Equal(t, 10*time.Second, opts.Timeout)
	assert.Equal(t, time.Minute, opts.MaxAge)
}
