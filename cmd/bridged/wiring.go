package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"DappBridge/internal/config"
	"DappBridge/internal/notify"
	"DappBridge/internal/observability/alerting"
	"DappBridge/internal/role"
	"DappBridge/internal/storage/mysql"
	"DappBridge/internal/storage/redis"
	"DappBridge/internal/wallet"
	"DappBridge/internal/web3"
	"DappBridge/internal/web3/ethereum"
	"DappBridge/internal/web3/provider"
	"DappBridge/internal/web3/provider/keyed"
	"DappBridge/internal/web3/provider/rpcwallet"
	"DappBridge/pkg/logger"
)

// buildEndpoint 绑定配置中的合约。未配置合约时返回 nil，读写调用会报初始化失败。
func buildEndpoint(cfg *config.Config, registry *provider.Registry) (wallet.Endpoint, error) {
	if strings.TrimSpace(cfg.Contract.Address) == "" || strings.TrimSpace(cfg.Contract.ABIPath) == "" {
		logger.Named("bridged").Warn("未配置合约端点，合约调用将不可用")
		return nil, nil
	}
	if !common.IsHexAddress(cfg.Contract.Address) {
		return nil, fmt.Errorf("合约地址 %q 无效", cfg.Contract.Address)
	}
	abiJSON, err := os.ReadFile(cfg.Contract.ABIPath)
	if err != nil {
		return nil, fmt.Errorf("读取合约 ABI 失败: %w", err)
	}
	return registry.Endpoint(cfg.Contract.Chain, common.HexToAddress(cfg.Contract.Address), string(abiJSON),
		ethereum.WithConfirmTimeout(cfg.Contract.ConfirmTimeout()),
		ethereum.WithPollInterval(cfg.Contract.PollInterval()),
	)
}

// buildProvider 按配置创建钱包提供方。provider 为 none 时返回 nil 接口。
func buildProvider(ctx context.Context, cfg *config.Config, registry *provider.Registry) (web3.Provider, func(), error) {
	noop := func() {}
	switch cfg.Wallet.Provider {
	case config.WalletProviderNone:
		return nil, noop, nil
	case config.WalletProviderRPC:
		p, err := rpcwallet.Dial(ctx, cfg.Wallet.RPCURL)
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	case config.WalletProviderKeyed:
		client, err := registry.DefaultClient()
		if cfg.Contract.Chain != "" {
			if c, ok := registry.Client(cfg.Contract.Chain); ok {
				client, err = c, nil
			}
		}
		if err != nil {
			return nil, noop, err
		}
		chainID, err := client.Backend().ChainID(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("查询链 ID 失败: %w", err)
		}
		approver := keyed.Approver(keyed.StaticApprover{})
		if cfg.Wallet.AutoApprove {
			approver = keyed.AutoApprove
		} else {
			logger.Named("bridged").Warn("本地钱包未开启 auto_approve，所有授权与签名请求都会被拒绝")
		}
		var p *keyed.Provider
		switch {
		case cfg.Wallet.Keystore != "":
			p, err = keyed.FromKeystore(chainID, cfg.Wallet.Keystore, envValue(cfg.Wallet.PassphraseEnv), keyed.WithApprover(approver))
		case cfg.Wallet.PrivateKeyEnv != "":
			p, err = keyed.FromHexKeys(chainID, strings.Split(envValue(cfg.Wallet.PrivateKeyEnv), ","), keyed.WithApprover(approver))
		default:
			err = fmt.Errorf("本地钱包需要配置 wallet.keystore 或 wallet.private_key_env")
		}
		if err != nil {
			return nil, noop, err
		}
		return p, noop, nil
	default:
		return nil, noop, fmt.Errorf("未知的钱包提供方: %s", cfg.Wallet.Provider)
	}
}

func buildJournal(ctx context.Context, cfg *config.Config) (mysql.CallJournal, error) {
	journalCfg := cfg.Storage.Journal
	switch journalCfg.Driver {
	case "mysql":
		return mysql.NewSQLCallJournal(ctx, mysql.Config{
			DSN:             journalCfg.DSN,
			MaxOpenConns:    journalCfg.MaxOpenConns,
			MaxIdleConns:    journalCfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(journalCfg.ConnMaxLifetime) * time.Second,
			ConnMaxIdleTime: time.Duration(journalCfg.ConnMaxIdleTime) * time.Second,
		})
	default:
		return mysql.NewMemoryCallJournal(cfg.Runtime.DataDir)
	}
}

// sessionStores 汇总会话快照存储与角色缓存，两者共享同一个 Redis 连接。
type sessionStores struct {
	snapshots wallet.SnapshotStore
	roles     role.Cache
	closer    func() error
}

func (s *sessionStores) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

func buildStores(ctx context.Context, cfg *config.Config) (*sessionStores, error) {
	snapCfg := cfg.Storage.Snapshot
	if snapCfg.Driver != "redis" {
		return &sessionStores{snapshots: wallet.NewMemorySnapshotStore(), roles: role.NewMemoryCache()}, nil
	}
	client, err := redis.NewClient(ctx, redis.Config{
		Address:  snapCfg.Redis.Address,
		Password: snapCfg.Redis.Password(),
		DB:       snapCfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(snapCfg.TTLSeconds) * time.Second
	return &sessionStores{
		snapshots: redis.NewSnapshotStore(client, snapCfg.Redis.Prefix, ttl),
		roles:     redis.NewRoleCache(client, snapCfg.Redis.Prefix, ttl),
		closer:    client.Close,
	}, nil
}

func buildPublisher(ctx context.Context, cfg *config.Config) (notify.Publisher, error) {
	notifyCfg := cfg.Notify
	switch notifyCfg.Driver {
	case "redis":
		return notify.NewRedisPublisher(ctx, notify.RedisConfig{
			Address:  notifyCfg.Redis.Address,
			Password: notifyCfg.Redis.Password(),
			DB:       notifyCfg.Redis.DB,
			Channel:  notifyCfg.Channel,
		})
	case "rabbitmq":
		return notify.NewRabbitMQPublisher(notify.RabbitMQConfig{
			URL:     notifyCfg.RabbitMQ.URL,
			Queue:   notifyCfg.RabbitMQ.Queue,
			Durable: notifyCfg.RabbitMQ.Durable,
		})
	case "memory":
		p := notify.NewMemoryPublisher(0)
		go drainToLog(p)
		return p, nil
	default:
		return notify.Discard{}, nil
	}
}

// drainToLog 在单进程模式下把内存通知写入日志，避免缓冲区写满阻塞。
func drainToLog(p *notify.MemoryPublisher) {
	l := logger.Named("notify")
	for msg := range p.Messages() {
		l.Info("会话通知",
			slog.String("type", string(msg.Type)),
			slog.String("session_id", msg.SessionID),
			slog.Time("occurred_at", msg.OccurredAt),
		)
	}
}

func buildAlerting(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if url := strings.TrimSpace(cfg.Alerting.WebhookURL); url != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(url, time.Duration(cfg.Alerting.TimeoutSeconds)*time.Second))
	}
	return alerting.NewFanout(notifiers...)
}

func envValue(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
