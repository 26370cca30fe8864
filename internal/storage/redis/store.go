package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/role"
	"DappBridge/internal/wallet"
)

const defaultPrefix = "dappbridge"

// Config describes the Redis connection shared by the stores.
type Config struct {
	Address  string
	Password string
	DB       int
}

// NewClient dials Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (goredis.UniversalClient, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return client, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return defaultPrefix
	}
	return prefix
}

// SnapshotStore persists wallet.Snapshot values as JSON under
// <prefix>:session:<id>.
type SnapshotStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewSnapshotStore wraps client. A non-positive ttl keeps snapshots forever.
func NewSnapshotStore(client goredis.UniversalClient, prefix string, ttl time.Duration) *SnapshotStore {
	if ttl < 0 {
		ttl = 0
	}
	return &SnapshotStore{client: client, prefix: normalizePrefix(prefix), ttl: ttl}
}

// SessionKey returns the Redis key holding the snapshot of session id.
func (s *SnapshotStore) SessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

// Save implements wallet.SnapshotStore.
func (s *SnapshotStore) Save(ctx context.Context, snap wallet.Snapshot) error {
	if snap.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话快照失败")
	}
	if err := s.client.Set(ctx, s.SessionKey(snap.ID), body, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话快照失败")
	}
	return nil
}

// Load implements wallet.SnapshotStore.
func (s *SnapshotStore) Load(ctx context.Context, id string) (wallet.Snapshot, bool, error) {
	body, err := s.client.Get(ctx, s.SessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return wallet.Snapshot{}, false, nil
	}
	if err != nil {
		return wallet.Snapshot{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话快照失败")
	}
	var snap wallet.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return wallet.Snapshot{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话快照失败")
	}
	return snap, true, nil
}

// Delete implements wallet.SnapshotStore.
func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.SessionKey(id)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话快照失败")
	}
	return nil
}

// RoleCache stores the last role per account under <prefix>:role:<account>.
type RoleCache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRoleCache wraps client. A non-positive ttl keeps roles forever.
func NewRoleCache(client goredis.UniversalClient, prefix string, ttl time.Duration) *RoleCache {
	if ttl < 0 {
		ttl = 0
	}
	return &RoleCache{client: client, prefix: normalizePrefix(prefix), ttl: ttl}
}

// RoleKey returns the Redis key holding the role of account.
func (c *RoleCache) RoleKey(account common.Address) string {
	return fmt.Sprintf("%s:role:%s", c.prefix, strings.ToLower(account.Hex()))
}

// Get implements role.Cache.
func (c *RoleCache) Get(ctx context.Context, account common.Address) (string, bool, error) {
	role, err := c.client.Get(ctx, c.RoleKey(account)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取角色缓存失败")
	}
	return role, true, nil
}

// Set implements role.Cache.
func (c *RoleCache) Set(ctx context.Context, account common.Address, role string) error {
	if err := c.client.Set(ctx, c.RoleKey(account), role, c.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入角色缓存失败")
	}
	return nil
}

var (
	_ wallet.SnapshotStore = (*SnapshotStore)(nil)
	_ role.Cache           = (*RoleCache)(nil)
)
