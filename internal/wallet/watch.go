package wallet

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/event"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/web3"
)

const eventBuffer = 16

// watcher owns the goroutine pumping provider events into the session.
type watcher struct {
	sub    event.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *watcher) stop() {
	w.cancel()
	w.sub.Unsubscribe()
	<-w.done
}

// startWatch replaces any running watcher with a fresh subscription. Failing
// to subscribe is logged and leaves the session connected but unwatched.
func (s *Session) startWatch() {
	s.stopWatch()

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan web3.ProviderEvent, eventBuffer)
	sub, err := s.provider.SubscribeEvents(ctx, ch)
	if err != nil {
		cancel()
		s.logger.Warn("subscribe to wallet events failed", slog.Any("error", err))
		return
	}
	w := &watcher{sub: sub, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.watch = w
	s.mu.Unlock()

	go s.pump(ctx, w, ch)
}

// stopWatch stops the current watcher, if any, and waits for its goroutine.
func (s *Session) stopWatch() {
	s.mu.Lock()
	w := s.watch
	s.watch = nil
	s.mu.Unlock()
	if w != nil {
		w.stop()
	}
}

func (s *Session) pump(ctx context.Context, w *watcher, ch <-chan web3.ProviderEvent) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if s.handleEvent(ctx, ev) {
				s.detach(w)
				return
			}
		case err, ok := <-w.sub.Err():
			if !ok || err == nil {
				// unsubscribed
				return
			}
			s.handleEvent(ctx, web3.ProviderEvent{Kind: web3.EventDisconnect, Err: err})
			s.detach(w)
			return
		}
	}
}

// detach drops w from the session after the pump ended it on its own.
func (s *Session) detach(w *watcher) {
	s.mu.Lock()
	if s.watch == w {
		s.watch = nil
	}
	s.mu.Unlock()
	w.cancel()
	w.sub.Unsubscribe()
}

// handleEvent applies one provider event and reports whether watching should
// stop.
func (s *Session) handleEvent(ctx context.Context, ev web3.ProviderEvent) bool {
	switch ev.Kind {
	case web3.EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			prev := s.Snapshot()
			s.transition(ctx, "accounts revoked", func(c *core) bool {
				c.state = StateDisconnected
				c.chainID = nil
				return true
			})
			s.deleteSnapshot(ctx)
			if prev.Account != nil {
				s.logger.Info("wallet revoked access", slog.String("account", prev.Account.Hex()))
			}
			return true
		}
		snap, changed := s.transition(ctx, "account changed", func(c *core) bool {
			if c.state != StateConnected {
				return false
			}
			c.account = ev.Accounts[0]
			return true
		})
		if changed {
			s.saveSnapshot(ctx, snap)
		}
		return false

	case web3.EventChainChanged:
		if ev.ChainID == nil {
			return false
		}
		snap, changed := s.transition(ctx, "chain changed", func(c *core) bool {
			if c.state != StateConnected {
				return false
			}
			c.chainID = ev.ChainID
			return true
		})
		if changed {
			s.saveSnapshot(ctx, snap)
		}
		return false

	case web3.EventDisconnect:
		cause := ev.Err
		if cause == nil {
			cause = &web3.ProviderError{Code: web3.ProviderCodeDisconnected, Message: "wallet disconnected"}
		}
		err := web3.Classify(cause)
		if !xerrors.HasCode(err, web3.CodeProviderUnavailable) {
			err = web3.ProviderUnavailable("the wallet disconnected", cause)
		}
		s.transition(ctx, "wallet disconnected", func(c *core) bool {
			if c.state == StateDisconnected {
				return false
			}
			c.state = StateError
			c.err = err
			return true
		})
		return true
	}
	return false
}
