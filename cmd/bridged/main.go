package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"DappBridge/internal/api"
	"DappBridge/internal/config"
	"DappBridge/internal/observability/metrics"
	"DappBridge/internal/role"
	"DappBridge/internal/wallet"
	"DappBridge/internal/web3/provider"
	"DappBridge/pkg/logger"
)

// main 是 DappBridge 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("bridged 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	l := logger.Named("bridged")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	endpoint, err := buildEndpoint(cfg, chainRegistry)
	if err != nil {
		return err
	}

	walletProvider, closeProvider, err := buildProvider(ctx, cfg, chainRegistry)
	if err != nil {
		return err
	}
	defer closeProvider()

	journal, err := buildJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	stores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	collector := metrics.Default
	sessionOpts := []wallet.Option{
		wallet.WithSessionID(cfg.Wallet.SessionID),
		wallet.WithJournal(journal),
		wallet.WithSnapshotStore(stores.snapshots),
		wallet.WithPublisher(publisher),
		wallet.WithAlertDispatcher(buildAlerting(cfg)),
		wallet.WithMetrics(collector),
	}
	session := wallet.New(walletProvider, endpoint, sessionOpts...)
	defer session.Close()

	roles := role.NewService(session, stores.roles,
		role.WithOperations(cfg.Roles.CheckOperation, cfg.Roles.RegisterOperation))

	if snap, err := session.Restore(ctx); err != nil {
		l.Warn("恢复会话失败", slog.Any("error", err))
	} else {
		l.Info("会话已就绪", slog.String("session_id", snap.ID), slog.String("state", string(snap.State)))
	}

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress, collector); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, session,
		api.WithCallHistory(journal),
		api.WithRoles(roles),
		api.WithMetrics(collector),
		api.WithAPIToken(cfg.Server.APIToken),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
