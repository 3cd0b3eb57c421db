// Package app 应用入口: 组装基础设施, 服务, HTTP 与 gRPC 健康检查
//
// ========================================
// avaloot 服务总览
// ========================================
//
// ## 服务信息
// - HTTP 端口: 8080 (REST API, /metrics, /health)
// - gRPC 端口: 50060 (grpc.health.v1)
// - 数据库: avaloot (PostgreSQL)
//
// ## 依赖
// - Avalanche Fuji C-Chain RPC: 发送交易, 读取合约, 索引事件
// - PostgreSQL: 质押记录, 奖励汇总, 区块检查点
// - Redis: 缓存, nonce 分配, 限流, 任务分布式锁
// - Kafka (可选): 质押生命周期事件
//
// ## 后台任务
// 1. refresher: 质押快照 (状态每 10 秒重算, 数据每 20 秒拉取)
// 2. indexer: GeoStake 合约事件索引
// 3. scheduler: stake_stats / reward_percentage_sync / expired_stake_notify / location_prune
//
// ========================================
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chandrabosep/AVALOOT/internal/blockchain"
	"github.com/chandrabosep/AVALOOT/internal/cache"
	"github.com/chandrabosep/AVALOOT/internal/config"
	"github.com/chandrabosep/AVALOOT/internal/contract"
	"github.com/chandrabosep/AVALOOT/internal/handler"
	"github.com/chandrabosep/AVALOOT/internal/jobs"
	"github.com/chandrabosep/AVALOOT/internal/kafka"
	"github.com/chandrabosep/AVALOOT/internal/location"
	"github.com/chandrabosep/AVALOOT/internal/metrics"
	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/internal/ratelimit"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	"github.com/chandrabosep/AVALOOT/internal/router"
	"github.com/chandrabosep/AVALOOT/internal/scheduler"
	"github.com/chandrabosep/AVALOOT/internal/service"
	"github.com/chandrabosep/AVALOOT/migrations"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
	"github.com/chandrabosep/AVALOOT/pkg/migrate"
)

var ErrContractNotConfigured = errors.New("blockchain.contract_address is not configured")

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db         *gorm.DB
	redis      *redis.Client
	chain      *blockchain.Client
	producer   *kafka.Producer
	publisher  kafka.EventPublisher
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcHealth *health.Server
	engine     *gin.Engine

	// 合约
	network  contract.Network
	geoStake *contract.GeoStakeContract
	tokens   *contract.TokenRegistry

	// 仓储与缓存
	stakeRepo      repository.StakeRepository
	rewardRepo     repository.StakerRewardRepository
	checkpointRepo repository.CheckpointRepository
	stakeCache     *cache.StakeCache

	// 服务
	stakeService *service.StakeService
	queryService *service.QueryService
	indexer      *service.IndexerService
	refresher    *service.Refresher
	tracker      *location.Tracker
	scheduler    *scheduler.Scheduler

	healthHandler *handler.HealthHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建应用实例
func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动应用
func (a *App) Start(ctx context.Context) error {
	if err := a.initDB(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := a.initRedis(ctx); err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	if err := a.initKafka(); err != nil {
		return fmt.Errorf("init kafka: %w", err)
	}
	if err := a.initChain(ctx); err != nil {
		return fmt.Errorf("init chain: %w", err)
	}
	a.initServices()
	a.initScheduler()
	a.initHTTPServer()

	if err := a.refresher.Start(a.ctx); err != nil {
		return fmt.Errorf("start refresher: %w", err)
	}
	if a.cfg.Indexer.Enabled {
		if err := a.indexer.Start(a.ctx); err != nil {
			return fmt.Errorf("start indexer: %w", err)
		}
	}
	if a.cfg.Scheduler.Enabled {
		a.scheduler.Start()
	}
	if _, err := a.stakeService.SyncRewardBPS(ctx); err != nil {
		logger.Warn("initial reward bps sync failed, using estimate", zap.Error(err))
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if err := a.startGRPC(); err != nil {
		return fmt.Errorf("start gRPC: %w", err)
	}

	a.healthHandler.SetReady(true)
	return nil
}

// Stop 优雅关闭
func (a *App) Stop(ctx context.Context) error {
	logger.Info("stopping application")

	if a.healthHandler != nil {
		a.healthHandler.SetReady(false)
	}
	if a.grpcHealth != nil {
		a.grpcHealth.Shutdown()
	}

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.indexer != nil && a.indexer.IsRunning() {
		if err := a.indexer.Stop(); err != nil {
			logger.Error("indexer stop error", zap.Error(err))
		}
	}
	if a.refresher != nil {
		if err := a.refresher.Stop(); err != nil && !errors.Is(err, service.ErrRefresherNotRunning) {
			logger.Error("refresher stop error", zap.Error(err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Error("kafka producer close error", zap.Error(err))
		}
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Error("redis close error", zap.Error(err))
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}

	a.cancel()
	logger.Info("application stopped")
	return nil
}

// Engine 返回 Gin 引擎 (用于测试)
func (a *App) Engine() *gin.Engine {
	return a.engine
}

// initDB 初始化数据库并执行迁移
func (a *App) initDB() error {
	db, err := gorm.Open(postgres.Open(a.cfg.Postgres.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected",
		zap.String("host", a.cfg.Postgres.Host),
		zap.String("database", a.cfg.Postgres.Database))

	if a.cfg.Postgres.AutoMigrate {
		if err := migrate.NewMigrator(sqlDB, a.cfg.Service.Name, logger.L()).Up(migrations.FS, "."); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}
	return nil
}

// initRedis 初始化 Redis
func (a *App) initRedis(ctx context.Context) error {
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("redis connected", zap.String("addr", a.cfg.Redis.Addr()))
	return nil
}

// initKafka 未启用时事件只记录日志
func (a *App) initKafka() error {
	if !a.cfg.Kafka.Enabled {
		a.publisher = kafka.NoopPublisher{}
		logger.Info("kafka disabled")
		return nil
	}

	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return err
	}
	a.producer = producer
	a.publisher = kafka.NewKafkaEventPublisher(producer, a.cfg.Blockchain.Network)
	logger.Info("kafka producer connected", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initChain 连接 RPC, 校验合约已部署
func (a *App) initChain(ctx context.Context) error {
	bc := a.cfg.Blockchain
	if !common.IsHexAddress(bc.ContractAddress) {
		return ErrContractNotConfigured
	}
	if bc.PrivateKey == "" {
		return blockchain.ErrPrivateKeyNotConfigured
	}

	client, err := blockchain.NewClient(&blockchain.ClientConfig{
		ChainID:     bc.ChainID,
		PrivateKey:  bc.PrivateKey,
		RPCURLs:     append([]string{bc.RPCURL}, bc.BackupRPCURLs...),
		ReceiptPoll: time.Duration(bc.ReceiptPoll) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	a.chain = client
	a.network = contract.NewNetwork(bc.ChainID, bc.Network, bc.RPCURL, bc.ExplorerURL)

	a.geoStake, err = contract.NewGeoStakeContract(common.HexToAddress(bc.ContractAddress), client)
	if err != nil {
		return err
	}
	if err := a.geoStake.EnsureDeployed(ctx, client); err != nil {
		return err
	}

	a.tokens, err = contract.NewTokenRegistry(&contract.TokenRegistryConfig{
		ChainID: bc.ChainID,
		Tokens:  contract.DefaultTokens(bc.ChainID),
	}, client)
	if err != nil {
		return err
	}

	logger.Info("chain connected",
		zap.String("network", a.network.Name),
		zap.Int64("chain_id", a.network.ChainID),
		zap.String("contract", a.geoStake.Address().Hex()),
		zap.String("signer", client.Address().Hex()))
	return nil
}

// initServices 初始化仓储, 缓存与业务服务
func (a *App) initServices() {
	bc := a.cfg.Blockchain

	a.stakeRepo = repository.NewStakeRepository(a.db)
	a.rewardRepo = repository.NewStakerRewardRepository(a.db)
	a.checkpointRepo = repository.NewCheckpointRepository(a.db)
	a.stakeCache = cache.NewStakeCache(a.redis, time.Duration(a.cfg.Redis.CacheTTL)*time.Second)

	gas := contract.NewGasEstimator(&contract.GasEstimatorConfig{
		MaxGasPrice: new(big.Int).Mul(big.NewInt(bc.MaxGasPriceGwei), big.NewInt(1e9)),
		FallbackGas: bc.FallbackGas,
	}, a.chain)

	nonces := blockchain.NewNonceManager(a.chain, a.redis, &blockchain.NonceManagerConfig{
		Wallet:  a.chain.Address(),
		ChainID: bc.ChainID,
	})
	tx := blockchain.NewTransactor(a.chain, nonces, &blockchain.TransactorConfig{
		ReceiptPoll:    time.Duration(bc.ReceiptPoll) * time.Millisecond,
		ReceiptTimeout: time.Duration(bc.ReceiptTimeout) * time.Second,
	})

	a.refresher = service.NewRefresher(a.stakeRepo, a.stakeCache, &service.RefresherConfig{
		StatusInterval: time.Duration(a.cfg.Refresher.StatusInterval) * time.Second,
		FetchInterval:  time.Duration(a.cfg.Refresher.FetchInterval) * time.Second,
		Retention:      time.Duration(a.cfg.Refresher.Retention) * time.Second,
	})
	a.refresher.SetOnExpired(a.onStakeExpired)

	a.stakeService = service.NewStakeService(
		a.stakeRepo,
		a.rewardRepo,
		tx,
		gas,
		a.tokens,
		a.geoStake,
		a.stakeCache,
		a.publisher,
		&service.StakeServiceConfig{
			Network:         a.network,
			RewardBPSTTL:    time.Duration(bc.RewardBPSTTL) * time.Second,
			LocationOptions: a.locationOptions(),
		},
	)

	a.queryService = service.NewQueryService(
		a.stakeRepo,
		a.rewardRepo,
		a.stakeCache,
		a.refresher,
		a.tokens,
		a.network,
	)

	a.indexer = service.NewIndexerService(
		a.chain,
		a.geoStake,
		a.tokens,
		a.stakeRepo,
		a.rewardRepo,
		a.checkpointRepo,
		a.stakeCache,
		&service.IndexerServiceConfig{
			ChainID:            bc.ChainID,
			Network:            a.network.Name,
			PollInterval:       time.Duration(a.cfg.Indexer.PollInterval) * time.Second,
			Confirmations:      uint64(a.cfg.Indexer.Confirmations),
			CheckpointInterval: uint64(a.cfg.Indexer.CheckpointInterval),
			BatchSize:          a.cfg.Indexer.BatchSize,
			StartBlock:         a.cfg.Indexer.StartBlock,
		},
	)

	a.tracker = location.NewTracker()
	logger.Info("services initialized")
}

func (a *App) locationOptions() location.Options {
	return location.Options{
		HighAccuracy: a.cfg.Location.HighAccuracy,
		Timeout:      time.Duration(a.cfg.Location.Timeout) * time.Second,
		MaxAge:       time.Duration(a.cfg.Location.MaxAge) * time.Second,
	}
}

// onStakeExpired 快照中 Active -> Expired 的状态变化
func (a *App) onStakeExpired(ctx context.Context, stake *model.Stake) {
	metrics.StakeExpirationsTotal.Inc()
	logger.Info("stake expired",
		zap.Int64("stake_id", stake.StakeID),
		zap.String("staker", stake.StakerAddress))
	if a.stakeCache != nil {
		if err := a.stakeCache.Invalidate(ctx, stake.StakeID); err != nil {
			logger.Warn("failed to invalidate expired stake", zap.Int64("stake_id", stake.StakeID), zap.Error(err))
		}
	}
}

// initScheduler 初始化调度器并注册任务
func (a *App) initScheduler() {
	a.scheduler = scheduler.NewScheduler(&scheduler.SchedulerConfig{
		MaxConcurrentJobs: a.cfg.Scheduler.MaxConcurrent,
		RedisClient:       a.redis,
	})
	a.registerJobs()
}

// registerJobs 注册任务, 单个任务注册失败不阻止启动
func (a *App) registerJobs() {
	overrides := a.cfg.Scheduler.Jobs
	toRegister := []scheduler.Job{
		jobs.NewStakeStatsJob(a.stakeRepo, a.stakeCache),
		jobs.NewRewardBPSSyncJob(a.stakeService),
		jobs.NewExpiredStakeNotifyJob(a.stakeRepo, a.publisher, a.redis),
		jobs.NewLocationPruneJob(a.tracker, time.Duration(a.cfg.Location.MaxAge)*time.Second),
	}

	for _, job := range toRegister {
		if err := a.scheduler.RegisterJob(job, scheduler.ConfigFor(job.Name(), overrides)); err != nil {
			logger.Error("failed to register job", zap.String("job", job.Name()), zap.Error(err))
		}
	}
}

// initHTTPServer 初始化 HTTP 服务
func (a *App) initHTTPServer() {
	if a.cfg.Service.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	a.engine = gin.New()

	a.healthHandler = handler.NewHealthHandler(a.healthDeps())
	stakeHandler := handler.NewStakeHandler(a.stakeService, a.queryService, a.tracker)
	networkHandler := handler.NewNetworkHandler(a.network, a.geoStake.Address(), a.stakeService)
	networkHandler.SetStats(a.stakeCache)
	if a.chain != nil {
		networkHandler.SetBalances(a.chain)
	}

	r := router.New(a.engine, a.cfg, ratelimit.NewSlidingWindow(a.redis))
	r.RegisterMiddleware()
	r.RegisterRoutes(a.healthHandler, stakeHandler, networkHandler)

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler: a.engine,
		// 写接口会等待链上回执
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(a.cfg.Blockchain.ReceiptTimeout)*time.Second + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (a *App) healthDeps() *handler.HealthDeps {
	deps := &handler.HealthDeps{}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			deps.Postgres = handler.PingFunc(sqlDB.PingContext)
		}
	}
	if a.redis != nil {
		deps.Redis = handler.PingFunc(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.chain != nil {
		deps.Chain = handler.PingFunc(a.chain.HealthCheck)
	}
	if a.refresher != nil {
		deps.Snapshot = a.refresher
	}
	return deps
}

// startGRPC 启动 gRPC 健康检查服务
func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return err
	}

	a.grpcServer = grpc.NewServer()
	a.grpcHealth = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.grpcHealth)
	a.grpcHealth.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("starting gRPC server", zap.Int("port", a.cfg.Service.GRPCPort))
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	return nil
}
