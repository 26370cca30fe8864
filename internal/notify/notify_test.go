package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "DappBridge/internal/errors"
)

func TestMemoryPublisherDeliversInOrder(t *testing.T) {
	p := NewMemoryPublisher(4)
	ctx := context.Background()

	for _, typ := range []MessageType{TypeSessionChanged, TypeContractNotification} {
		if err := p.Publish(ctx, Message{Type: typ, SessionID: "s-1"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	first := <-p.Messages()
	second := <-p.Messages()
	if first.Type != TypeSessionChanged || second.Type != TypeContractNotification {
		t.Fatalf("unexpected order %s, %s", first.Type, second.Type)
	}
	if first.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at to be stamped")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Publish(ctx, Message{}); xerrors.CodeOf(err) != xerrors.CodePublishFailure {
		t.Fatalf("expected publish failure after close, got %v", err)
	}
}

func TestMemoryPublisherRespectsContext(t *testing.T) {
	p := NewMemoryPublisher(1)
	defer p.Close()
	if err := p.Publish(context.Background(), Message{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Publish(ctx, Message{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Message) error { return errors.New("down") }
func (failingPublisher) Close() error                           { return nil }

func TestMultiJoinsErrors(t *testing.T) {
	mem := NewMemoryPublisher(1)
	m := Multi{mem, failingPublisher{}, nil}
	if err := m.Publish(context.Background(), Message{Type: TypeSessionChanged}); err == nil {
		t.Fatal("expected joined error")
	}
	if msg := <-mem.Messages(); msg.Type != TypeSessionChanged {
		t.Fatalf("memory publisher should still receive the message")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestEncodeStampsTime(t *testing.T) {
	body, err := encode(Message{Type: TypeSessionChanged, SessionID: "s-1", Payload: map[string]string{"state": "connected"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["type"] != "session.changed" || decoded["occurred_at"] == "0001-01-01T00:00:00Z" {
		t.Fatalf("unexpected payload %v", decoded)
	}
	if _, err := encode(Message{Payload: func() {}}); xerrors.CodeOf(err) != xerrors.CodePublishFailure {
		t.Fatalf("expected publish failure for unencodable payload, got %v", err)
	}
}

// publishHook captures PUBLISH commands instead of sending them.
type publishHook struct {
	mu        sync.Mutex
	published map[string][][]byte
	fail      error
}

func (h *publishHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *publishHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *publishHook) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.fail != nil {
			return h.fail
		}
		if cmd.Name() != "publish" {
			return fmt.Errorf("unexpected command %q", cmd.Name())
		}
		args := cmd.Args()
		channel := fmt.Sprint(args[1])
		body, _ := args[2].([]byte)
		h.published[channel] = append(h.published[channel], body)
		cmd.(*redis.IntCmd).SetVal(1)
		return nil
	}
}

func TestRedisPublisherPublishesToChannel(t *testing.T) {
	hook := &publishHook{published: map[string][][]byte{}}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	client.AddHook(hook)
	defer client.Close()

	p := NewRedisPublisherWithClient(client, "")
	if err := p.Publish(context.Background(), Message{Type: TypeSessionChanged, SessionID: "s-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close of a borrowed client: %v", err)
	}

	hook.mu.Lock()
	bodies := hook.published["dappbridge:events"]
	hook.mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected one message on the default channel, got %v", hook.published)
	}
	var decoded Message
	if err := json.Unmarshal(bodies[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != TypeSessionChanged || decoded.SessionID != "s-1" || decoded.OccurredAt.IsZero() {
		t.Fatalf("unexpected message %+v", decoded)
	}

	hook.mu.Lock()
	hook.fail = errors.New("connection reset")
	hook.mu.Unlock()
	err := p.Publish(context.Background(), Message{Type: TypeSessionChanged})
	if xerrors.CodeOf(err) != xerrors.CodePublishFailure || xerrors.MetadataOf(err)["channel"] != "dappbridge:events" {
		t.Fatalf("expected publish failure with channel metadata, got %v", err)
	}
}

// Requires a reachable Redis; set BRIDGE_TEST_REDIS_ADDR to run.
func TestRedisPublisherRoundTrip(t *testing.T) {
	addr := os.Getenv("BRIDGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BRIDGE_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	sub := client.Subscribe(ctx, "dappbridge:test")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p := NewRedisPublisherWithClient(client, "dappbridge:test")
	if err := p.Publish(ctx, Message{Type: TypeSessionChanged, SessionID: "s-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SessionID != "s-1" {
		t.Fatalf("unexpected message %+v", decoded)
	}
}
