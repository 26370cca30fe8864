// Package role 负责在合约上注册与切换账户角色，并将最近一次使用的角色缓存在本地。
// 缓存只是提示，合约始终是唯一可信来源。
package role

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/wallet"
	"DappBridge/internal/web3"
	"DappBridge/pkg/logger"
)

// CodeRoleNotRegistered 表示目标角色尚未在合约中注册。
const CodeRoleNotRegistered xerrors.Code = "ROLE_NOT_REGISTERED"

// 默认使用的合约操作名。
const (
	DefaultCheckOperation    = "isRegistered"
	DefaultRegisterOperation = "register"
)

func init() {
	xerrors.Register(CodeRoleNotRegistered, xerrors.Attributes{
		Message:  "role is not registered for this account",
		Severity: xerrors.SeverityInfo,
	})
}

// Cache 保存每个账户最近使用的角色。
type Cache interface {
	Get(ctx context.Context, account common.Address) (string, bool, error)
	Set(ctx context.Context, account common.Address, role string) error
}

// Invoker 是角色服务依赖的会话能力。
type Invoker interface {
	Snapshot() wallet.Snapshot
	InvokeRead(ctx context.Context, operation string, args ...any) ([]any, error)
	InvokeWrite(ctx context.Context, operation string, args ...any) (*web3.WriteResult, error)
}

// Option 用于定制 Service。
type Option func(*Service)

// WithOperations 覆盖查询与注册使用的合约操作名。
func WithOperations(check, register string) Option {
	return func(s *Service) {
		if strings.TrimSpace(check) != "" {
			s.checkOp = check
		}
		if strings.TrimSpace(register) != "" {
			s.registerOp = register
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service 提供角色注册、切换与查询。
type Service struct {
	session    Invoker
	cache      Cache
	checkOp    string
	registerOp string
	logger     *slog.Logger
}

// NewService 创建角色服务，cache 为空时使用内存缓存。
func NewService(session Invoker, cache Cache, opts ...Option) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	s := &Service{
		session:    session,
		cache:      cache,
		checkOp:    DefaultCheckOperation,
		registerOp: DefaultRegisterOperation,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("role")
	}
	return s
}

// Current 返回当前账户缓存的角色。会话未连接时返回 false。
func (s *Service) Current(ctx context.Context) (string, bool, error) {
	snap := s.session.Snapshot()
	if !snap.Connected() {
		return "", false, nil
	}
	role, ok, err := s.cache.Get(ctx, *snap.Account)
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取角色缓存失败")
	}
	return role, ok, nil
}

// Register 在合约上注册角色，成功后写入缓存。
func (s *Service) Register(ctx context.Context, role string) (*web3.WriteResult, error) {
	account, err := s.account(role, s.registerOp)
	if err != nil {
		return nil, err
	}
	result, err := s.session.InvokeWrite(ctx, s.registerOp, role)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, account, role)
	return result, nil
}

// Switch 切换到已注册的角色。角色未注册时返回 ROLE_NOT_REGISTERED，不会自动注册，
// 缓存保持不变。
func (s *Service) Switch(ctx context.Context, role string) error {
	account, err := s.account(role, s.checkOp)
	if err != nil {
		return err
	}
	out, err := s.session.InvokeRead(ctx, s.checkOp, account, role)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return web3.EndpointRejected(fmt.Sprintf("%s 未返回结果", s.checkOp), nil)
	}
	registered, ok := out[0].(bool)
	if !ok {
		return web3.EndpointRejected(fmt.Sprintf("%s 返回了非布尔值 %T", s.checkOp, out[0]), nil)
	}
	if !registered {
		return xerrors.New(CodeRoleNotRegistered, fmt.Sprintf("角色 %s 尚未注册，请先注册", role),
			xerrors.WithMetadata("role", role),
			xerrors.WithMetadata("account", account.Hex()))
	}
	s.remember(ctx, account, role)
	return nil
}

func (s *Service) account(role, operation string) (common.Address, error) {
	if strings.TrimSpace(role) == "" {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "角色名称不能为空")
	}
	snap := s.session.Snapshot()
	if !snap.Connected() {
		return common.Address{}, web3.NotConnected(operation)
	}
	return *snap.Account, nil
}

// remember 写入缓存，失败只记录日志。
func (s *Service) remember(ctx context.Context, account common.Address, role string) {
	if err := s.cache.Set(ctx, account, role); err != nil {
		s.logger.Warn("写入角色缓存失败", slog.String("account", account.Hex()), slog.Any("error", err))
		return
	}
	s.logger.Info("角色已切换", slog.String("account", account.Hex()), slog.String("role", role))
}

// MemoryCache 在进程内缓存角色。
type MemoryCache struct {
	mu    sync.RWMutex
	roles map[common.Address]string
}

// NewMemoryCache 创建内存缓存。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{roles: make(map[common.Address]string)}
}

// Get 实现 Cache。
func (m *MemoryCache) Get(_ context.Context, account common.Address) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[account]
	return role, ok, nil
}

// Set 实现 Cache。
func (m *MemoryCache) Set(_ context.Context, account common.Address, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[account] = role
	return nil
}
