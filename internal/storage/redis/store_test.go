package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/wallet"
)

var account = common.HexToAddress("0x00000000000000000000000000000000000000A1")

// keyspaceHook answers GET/SET/DEL from memory and never lets a command reach
// the network.
type keyspaceHook struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration
	fail error
}

func newKeyspaceClient(t *testing.T) (*goredis.Client, *keyspaceHook) {
	t.Helper()
	hook := &keyspaceHook{data: map[string]string{}, ttl: map[string]time.Duration{}}
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	client.AddHook(hook)
	t.Cleanup(func() { _ = client.Close() })
	return client, hook
}

func (h *keyspaceHook) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (h *keyspaceHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

func (h *keyspaceHook) ProcessHook(goredis.ProcessHook) goredis.ProcessHook {
	return func(_ context.Context, cmd goredis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.fail != nil {
			return h.fail
		}
		args := cmd.Args()
		switch cmd.Name() {
		case "set":
			key := fmt.Sprint(args[1])
			h.data[key] = argString(args[2])
			h.ttl[key] = 0
			if len(args) == 5 {
				n, _ := args[4].(int64)
				unit := time.Second
				if args[3] == "px" {
					unit = time.Millisecond
				}
				h.ttl[key] = time.Duration(n) * unit
			}
			cmd.(*goredis.StatusCmd).SetVal("OK")
		case "get":
			value, ok := h.data[fmt.Sprint(args[1])]
			if !ok {
				return goredis.Nil
			}
			cmd.(*goredis.StringCmd).SetVal(value)
		case "del":
			var removed int64
			for _, arg := range args[1:] {
				key := fmt.Sprint(arg)
				if _, ok := h.data[key]; ok {
					delete(h.data, key)
					delete(h.ttl, key)
					removed++
				}
			}
			cmd.(*goredis.IntCmd).SetVal(removed)
		default:
			return fmt.Errorf("unexpected command %q", cmd.Name())
		}
		return nil
	}
}

func (h *keyspaceHook) entry(key string) (string, time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	value, ok := h.data[key]
	return value, h.ttl[key], ok
}

func argString(arg any) string {
	if b, ok := arg.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(arg)
}

func TestKeys(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	store := NewSnapshotStore(client, "bridge:", time.Hour)
	if got := store.SessionKey("s-1"); got != "bridge:session:s-1" {
		t.Fatalf("unexpected session key %s", got)
	}
	cache := NewRoleCache(client, "", 0)
	if got := cache.RoleKey(account); got != "dappbridge:role:0x00000000000000000000000000000000000000a1" {
		t.Fatalf("unexpected role key %s", got)
	}
}

func TestUnreachableRedisIsStorageFailure(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	store := NewSnapshotStore(client, "", time.Hour)
	err := store.Save(context.Background(), wallet.Snapshot{ID: "s-1", State: wallet.StateConnected})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if err := store.Save(context.Background(), wallet.Snapshot{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for empty id, got %v", err)
	}
	if _, err := NewClient(context.Background(), Config{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for empty address, got %v", err)
	}
}

func TestSnapshotStoreKeepsTTLAndDeletes(t *testing.T) {
	ctx := context.Background()
	client, hook := newKeyspaceClient(t)
	store := NewSnapshotStore(client, "bridge", 90*time.Second)

	addrCopy := account
	snap := wallet.Snapshot{ID: "s-1", State: wallet.StateConnected, Account: &addrCopy, ChainID: big.NewInt(1337), UpdatedAt: time.Now().UTC()}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	body, ttl, ok := hook.entry("bridge:session:s-1")
	if !ok || ttl != 90*time.Second || !strings.Contains(body, `"state"`) {
		t.Fatalf("unexpected stored entry ok=%v ttl=%s body=%s", ok, ttl, body)
	}

	loaded, ok, err := store.Load(ctx, "s-1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if *loaded.Account != account || loaded.ChainID.Int64() != 1337 || loaded.State != wallet.StateConnected {
		t.Fatalf("unexpected snapshot %+v", loaded)
	}

	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.Load(ctx, "s-1"); ok || err != nil {
		t.Fatalf("snapshot still present after delete: ok=%v err=%v", ok, err)
	}

	forever := NewSnapshotStore(client, "bridge", -time.Second)
	if err := forever.Save(ctx, wallet.Snapshot{ID: "s-2", State: wallet.StateDisconnected}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ttl, _ := hook.entry("bridge:session:s-2"); ttl != 0 {
		t.Fatalf("negative ttl should store without expiry, got %s", ttl)
	}
}

func TestSnapshotStoreRejectsCorruptEntry(t *testing.T) {
	ctx := context.Background()
	client, hook := newKeyspaceClient(t)
	store := NewSnapshotStore(client, "", 0)

	hook.mu.Lock()
	hook.data[store.SessionKey("s-1")] = "{not json"
	hook.mu.Unlock()
	if _, _, err := store.Load(ctx, "s-1"); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestRoleCacheGetSet(t *testing.T) {
	ctx := context.Background()
	client, hook := newKeyspaceClient(t)
	cache := NewRoleCache(client, "bridge:", 10*time.Minute)

	if _, ok, err := cache.Get(ctx, account); ok || err != nil {
		t.Fatalf("expected empty cache, ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, account, "buyer"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if role, ok, err := cache.Get(ctx, account); err != nil || !ok || role != "buyer" {
		t.Fatalf("unexpected role %q ok=%v err=%v", role, ok, err)
	}
	if _, ttl, _ := hook.entry(cache.RoleKey(account)); ttl != 10*time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	hook.mu.Lock()
	hook.fail = errors.New("READONLY You can't write against a read only replica")
	hook.mu.Unlock()
	if err := cache.Set(ctx, account, "seller"); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if _, _, err := cache.Get(ctx, account); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

// Requires a reachable Redis; set BRIDGE_TEST_REDIS_ADDR to run.
func TestSnapshotStoreAndRoleCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("BRIDGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BRIDGE_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, Config{Address: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	prefix := "dappbridge-test-" + time.Now().Format("150405.000000")
	store := NewSnapshotStore(client, prefix, time.Minute)
	addrCopy := account
	snap := wallet.Snapshot{ID: "s-1", State: wallet.StateConnected, Account: &addrCopy, ChainID: big.NewInt(1337), UpdatedAt: time.Now().UTC()}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := client.TTL(ctx, store.SessionKey("s-1")).Val(); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}
	loaded, ok, err := store.Load(ctx, "s-1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if *loaded.Account != account || loaded.ChainID.Int64() != 1337 {
		t.Fatalf("unexpected snapshot %+v", loaded)
	}
	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Load(ctx, "s-1"); ok {
		t.Fatal("snapshot still present after delete")
	}

	cache := NewRoleCache(client, prefix, time.Minute)
	defer client.Del(ctx, cache.RoleKey(account))
	if _, ok, err := cache.Get(ctx, account); ok || err != nil {
		t.Fatalf("expected empty cache, ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, account, "buyer"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if role, ok, _ := cache.Get(ctx, account); !ok || role != "buyer" {
		t.Fatalf("unexpected role %q", role)
	}
}
