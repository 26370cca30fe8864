package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/notify"
	"DappBridge/internal/observability/alerting"
	"DappBridge/internal/web3"
	"DappBridge/pkg/logger"
)

const publishTimeout = 5 * time.Second

// Endpoint is the remote contract a session invokes.
type Endpoint interface {
	Read(ctx context.Context, operation string, args ...any) ([]any, error)
	Write(ctx context.Context, req web3.WriteRequest) (*web3.WriteResult, error)
}

// Metrics receives session and call observations.
type Metrics interface {
	SessionTransition(from, to string)
	ObserveCall(kind, operation, code string, duration time.Duration)
}

// Option configures a Session.
type Option func(*Session)

// WithSessionID fixes the session identifier. A random UUID is used otherwise.
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithLogger overrides the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJournal records every completed call.
func WithJournal(j Journal) Option {
	return func(s *Session) { s.journal = j }
}

// WithSnapshotStore persists the connected session for Restore.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(s *Session) { s.store = store }
}

// WithPublisher forwards transitions and contract notifications.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithAlertDispatcher raises alerts for transitions into the error state and
// for failures whose code is marked for alerting.
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(s *Session) { s.alerts = d }
}

// WithMetrics records transitions and call latency.
func WithMetrics(m Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

type listener struct {
	id uint64
	fn func(Change)
}

// Session is the single owner of a wallet connection. It is safe for
// concurrent use. Listeners run synchronously after the state lock is
// released and must not call Connect, Restore or Disconnect themselves.
type Session struct {
	id        string
	provider  web3.Provider
	endpoint  Endpoint
	logger    *slog.Logger
	journal   Journal
	store     SnapshotStore
	publisher notify.Publisher
	alerts    alerting.Dispatcher
	metrics   Metrics
	now       func() time.Time

	connectMu sync.Mutex
	emitMu    sync.Mutex

	mu    sync.RWMutex
	core  core
	watch *watcher

	listenersMu  sync.Mutex
	listeners    []listener
	nextListener uint64

	pendingMu sync.Mutex
	pending   map[string]PendingCall
}

// New creates a disconnected session. A nil provider models an environment
// without any wallet.
func New(provider web3.Provider, endpoint Endpoint, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		provider: provider,
		endpoint: endpoint,
		now:      time.Now,
		pending:  make(map[string]PendingCall),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("wallet")
	}
	s.logger = s.logger.With(slog.String("session_id", s.id))
	s.core = core{state: StateDisconnected, updatedAt: s.now()}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		State:     s.core.state,
		UpdatedAt: s.core.updatedAt,
	}
	if s.core.state == StateConnected {
		account := s.core.account
		snap.Account = &account
	}
	if s.core.chainID != nil {
		snap.ChainID = new(big.Int).Set(s.core.chainID)
	}
	if s.core.err != nil {
		snap.Err = s.core.err.Error()
		if e, ok := xerrors.From(s.core.err); ok {
			snap.Err = e.Message()
		}
		snap.ErrCode = string(xerrors.CodeOf(s.core.err))
	}
	return snap
}

// Subscribe registers fn for every future transition. Listeners are invoked
// in registration order. The returned function removes the listener.
func (s *Session) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// transition applies mutate under the state lock and, when something changed,
// delivers the change. mutate returning false aborts without changes.
func (s *Session) transition(ctx context.Context, reason string, mutate func(*core) bool) (Snapshot, bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	before := s.core
	prev := s.snapshotLocked()
	next := s.core
	if !mutate(&next) {
		s.mu.Unlock()
		return prev, false
	}
	if next.state != StateConnected {
		next.account = common.Address{}
	}
	if next.state != StateError {
		next.err = nil
	}
	if before.equal(next) {
		s.mu.Unlock()
		return prev, true
	}
	next.updatedAt = s.now()
	s.core = next
	cur := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(ctx, Change{Previous: prev, Current: cur, Reason: reason}, next.err)
	return cur, true
}

func (s *Session) emit(ctx context.Context, change Change, cause error) {
	s.listenersMu.Lock()
	listeners := append([]listener(nil), s.listeners...)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		s.callListener(l.fn, change)
	}

	if change.Previous.State != change.Current.State {
		s.logger.Info("session state changed",
			slog.String("from", string(change.Previous.State)),
			slog.String("to", string(change.Current.State)),
			slog.String("reason", change.Reason))
		if s.metrics != nil {
			s.metrics.SessionTransition(string(change.Previous.State), string(change.Current.State))
		}
	}

	s.publish(ctx, notify.TypeSessionChanged, change)

	if change.Current.State == StateError && change.Previous.State != StateError {
		if cause == nil {
			cause = xerrors.New(web3.CodeProviderUnavailable, change.Current.Err)
		}
		s.alert(ctx, cause, change.Reason)
	}
}

func (s *Session) callListener(fn func(Change), change Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session listener panicked", slog.Any("panic", r))
		}
	}()
	fn(change)
}

func (s *Session) publish(ctx context.Context, typ notify.MessageType, payload any) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err := s.publisher.Publish(pubCtx, notify.Message{
		Type:       typ,
		SessionID:  s.id,
		Payload:    payload,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("publish notification failed", slog.String("type", string(typ)), slog.Any("error", err))
	}
}

func (s *Session) alert(ctx context.Context, err error, operation string) {
	if s.alerts == nil || err == nil {
		return
	}
	account := ""
	if snap := s.Snapshot(); snap.Account != nil {
		account = snap.Account.Hex()
	}
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if alertErr := s.alerts.Notify(alertCtx, alerting.EventFromError(err, s.id, account, operation)); alertErr != nil {
		s.logger.Warn("dispatch alert failed", slog.Any("error", alertErr))
	}
}

// Connect asks the provider for account access. It is idempotent while
// connected and concurrent calls are serialized.
func (s *Session) Connect(ctx context.Context) (Snapshot, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if snap := s.Snapshot(); snap.State == StateConnected {
		return snap, nil
	}
	if s.provider == nil {
		return s.Snapshot(), web3.ProviderUnavailable("", nil)
	}

	s.transition(ctx, "connect", func(c *core) bool {
		c.state = StateConnecting
		return true
	})

	accounts, err := s.provider.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = xerrors.New(web3.CodeUserRejected, "the wallet did not share any account")
	}
	if err != nil {
		return s.failConnect(ctx, err)
	}
	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return s.failConnect(ctx, err)
	}

	snap, ok := s.transition(ctx, "connect", func(c *core) bool {
		if c.state != StateConnecting {
			return false
		}
		c.state = StateConnected
		c.account = accounts[0]
		c.chainID = chainID
		return true
	})
	if !ok {
		return snap, xerrors.New(web3.CodeNotConnected, "the connection attempt was interrupted by a disconnect",
			xerrors.WithMetadata("operation", "connect"))
	}

	s.startWatch()
	s.saveSnapshot(ctx, snap)
	logger.Audit().Info("session_connected",
		slog.String("session_id", s.id),
		slog.String("account", accounts[0].Hex()),
		slog.String("chain_id", chainID.String()))
	return snap, nil
}

// failConnect maps a failed connection attempt onto the state machine: a
// declined prompt or a cancelled request returns to disconnected, anything
// else is an error.
func (s *Session) failConnect(ctx context.Context, cause error) (Snapshot, error) {
	err := web3.Classify(cause)
	next := StateError
	if xerrors.CodeOf(err) == web3.CodeUserRejected || errors.Is(cause, context.Canceled) {
		next = StateDisconnected
	}
	snap, _ := s.transition(ctx, "connect failed", func(c *core) bool {
		if c.state != StateConnecting {
			return false
		}
		c.state = next
		c.chainID = nil
		if next == StateError {
			c.err = err
		}
		return true
	})
	s.logger.Warn("connect failed", slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", cause))
	return snap, err
}

// Restore reconnects without prompting when the provider still authorizes an
// account, preferring the account stored by a previous process. It only acts
// on a disconnected session; leaving the error state takes an explicit Connect.
func (s *Session) Restore(ctx context.Context) (Snapshot, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if snap := s.Snapshot(); snap.State == StateConnected || snap.State == StateError {
		return snap, nil
	}
	if s.provider == nil {
		return s.Snapshot(), web3.ProviderUnavailable("", nil)
	}

	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		err = web3.Classify(err)
		s.logger.Warn("restore failed", slog.Any("error", err))
		return s.Snapshot(), err
	}
	if len(accounts) == 0 {
		s.deleteSnapshot(ctx)
		return s.Snapshot(), nil
	}

	account := accounts[0]
	if s.store != nil {
		stored, ok, loadErr := s.store.Load(ctx, s.id)
		if loadErr != nil {
			s.logger.Warn("load stored session failed", slog.Any("error", loadErr))
		}
		if ok && stored.Account != nil {
			for _, candidate := range accounts {
				if candidate == *stored.Account {
					account = candidate
					break
				}
			}
		}
	}

	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		err = web3.Classify(err)
		s.logger.Warn("restore failed", slog.Any("error", err))
		return s.Snapshot(), err
	}

	snap, _ := s.transition(ctx, "restore", func(c *core) bool {
		c.state = StateConnected
		c.account = account
		c.chainID = chainID
		return true
	})
	s.startWatch()
	s.saveSnapshot(ctx, snap)
	logger.Audit().Info("session_connected",
		slog.String("session_id", s.id),
		slog.String("account", account.Hex()),
		slog.Bool("restored", true))
	return snap, nil
}

// Disconnect clears the session. It always succeeds and is idempotent.
func (s *Session) Disconnect(ctx context.Context) Snapshot {
	s.stopWatch()
	prev := s.Snapshot()
	snap, _ := s.transition(ctx, "disconnect", func(c *core) bool {
		c.state = StateDisconnected
		c.chainID = nil
		return true
	})
	s.deleteSnapshot(ctx)
	if prev.State != StateDisconnected {
		attrs := []any{slog.String("session_id", s.id)}
		if prev.Account != nil {
			attrs = append(attrs, slog.String("account", prev.Account.Hex()))
		}
		logger.Audit().Info("session_disconnected", attrs...)
	}
	return snap
}

// CurrentAccount returns the connected account or, when disconnected, the
// first account the provider already authorizes. It never prompts.
func (s *Session) CurrentAccount(ctx context.Context) (common.Address, bool, error) {
	if snap := s.Snapshot(); snap.Connected() {
		return *snap.Account, true, nil
	}
	if s.provider == nil {
		return common.Address{}, false, nil
	}
	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		return common.Address{}, false, web3.Classify(err)
	}
	if len(accounts) == 0 {
		return common.Address{}, false, nil
	}
	return accounts[0], true, nil
}

// Close stops watching provider events. The session state is left as is.
func (s *Session) Close() error {
	s.stopWatch()
	return nil
}

func (s *Session) saveSnapshot(ctx context.Context, snap Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, snap); err != nil {
		s.logger.Warn("save session snapshot failed", slog.Any("error", err))
	}
}

func (s *Session) deleteSnapshot(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, s.id); err != nil {
		s.logger.Warn("delete session snapshot failed", slog.Any("error", err))
	}
}

func (s *Session) String() string {
	snap := s.Snapshot()
	if snap.Account != nil {
		return fmt.Sprintf("session %s (%s, %s)", s.id, snap.State, snap.Account.Hex())
	}
	return fmt.Sprintf("session %s (%s)", s.id, snap.State)
}
