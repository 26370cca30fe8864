// Package notify fans wallet session changes and decoded contract
// notifications out to other processes. Delivery is best effort: callers log
// publish failures and carry on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	xerrors "DappBridge/internal/errors"
)

// MessageType 区分消息内容。
type MessageType string

// 支持的消息类型。
const (
	TypeSessionChanged       MessageType = "session.changed"
	TypeContractNotification MessageType = "contract.notification"
)

// Message 是投递到外部系统的统一消息格式。
type Message struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Payload    any         `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Publisher 负责投递消息。
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

func encode(msg Message) ([]byte, error) {
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化通知消息失败")
	}
	return body, nil
}

// Discard 丢弃所有消息。
type Discard struct{}

// Publish 实现 Publisher。
func (Discard) Publish(context.Context, Message) error { return nil }

// Close 实现 Publisher。
func (Discard) Close() error { return nil }

// MemoryPublisher 使用 channel 缓存消息，主要用于测试与单进程订阅。
type MemoryPublisher struct {
	ch     chan Message
	mu     sync.RWMutex
	closed bool
}

// NewMemoryPublisher 创建一个内存发布器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Message, size)}
}

// Publish 将消息写入缓冲区，缓冲区满时等待或随 ctx 取消。
func (p *MemoryPublisher) Publish(ctx context.Context, msg Message) error {
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return xerrors.New(xerrors.CodePublishFailure, "发布器已关闭")
	}
	select {
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodePublishFailure, ctx.Err(), "投递消息超时")
	case p.ch <- msg:
		return nil
	}
}

// Messages 返回只读消息通道。
func (p *MemoryPublisher) Messages() <-chan Message {
	return p.ch
}

// Close 关闭发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	return nil
}

// Multi 将消息依次投递给多个发布器。
type Multi []Publisher

// Publish 实现 Publisher，汇总所有错误。
func (m Multi) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("部分通知投递失败: %w", errors.Join(errs...))
	}
	return nil
}

// Close 关闭全部发布器。
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
