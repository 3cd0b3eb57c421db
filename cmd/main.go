package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/app"
	"github.com/chandrabosep/AVALOOT/internal/config"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.GetEnvString("AVALOOT_CONFIG", "config/config.yaml"), "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 初始化日志
	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Service.Name,
		Network:     cfg.Blockchain.Network,
	}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting service",
		zap.String("service", cfg.Service.Name),
		zap.String("env", cfg.Service.Env),
		zap.Int("http_port", cfg.Service.HTTPPort),
		zap.Int("grpc_port", cfg.Service.GRPCPort))

	application := app.New(cfg)

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = application.Start(startCtx)
	cancel()
	if err != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		_ = application.Stop(stopCtx)
		stop()
		logger.Fatal("failed to start application", zap.Error(err))
	}

	// 等待关闭信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()

	if err := application.Stop(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("service stopped")
}
