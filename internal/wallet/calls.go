package wallet

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sort"

	"github.com/google/uuid"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/notify"
	"DappBridge/internal/web3"
	"DappBridge/pkg/logger"
)

// InvokeRead performs a read-only call. It works in any session state.
func (s *Session) InvokeRead(ctx context.Context, operation string, args ...any) ([]any, error) {
	if s.endpoint == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no contract endpoint is configured")
	}
	account := ""
	if snap := s.Snapshot(); snap.Account != nil {
		account = snap.Account.Hex()
	}
	call := s.track(CallRead, operation, args, account)
	defer s.untrack(call.ID)

	out, err := s.endpoint.Read(ctx, operation, args...)
	err = web3.Classify(err)
	s.finish(ctx, call, "", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InvokeWrite signs, submits and confirms a state-changing call from the
// connected account.
func (s *Session) InvokeWrite(ctx context.Context, operation string, args ...any) (*web3.WriteResult, error) {
	return s.InvokeWritePayable(ctx, nil, operation, args...)
}

// InvokeWritePayable is InvokeWrite with value attached to the transaction.
func (s *Session) InvokeWritePayable(ctx context.Context, value *big.Int, operation string, args ...any) (*web3.WriteResult, error) {
	if s.endpoint == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no contract endpoint is configured")
	}
	snap := s.Snapshot()
	if !snap.Connected() {
		return nil, web3.NotConnected(operation)
	}
	from := *snap.Account

	call := s.track(CallWrite, operation, args, from.Hex())
	defer s.untrack(call.ID)

	result, err := s.endpoint.Write(ctx, web3.WriteRequest{
		From:      from,
		Operation: operation,
		Args:      args,
		Value:     value,
		Signer:    s.provider,
	})
	err = web3.Classify(err)

	txHash := xerrors.MetadataOf(err)["tx_hash"]
	if result != nil {
		txHash = result.TxHash.Hex()
	}
	s.finish(ctx, call, txHash, err)

	if err != nil {
		logger.Audit().Warn("contract_write_failed",
			slog.String("session_id", s.id),
			slog.String("account", from.Hex()),
			slog.String("operation", operation),
			slog.String("code", string(xerrors.CodeOf(err))))
		if xerrors.HasCode(err, web3.CodeProviderUnavailable) {
			s.transition(ctx, "wallet unavailable during "+operation, func(c *core) bool {
				if c.state != StateConnected {
					return false
				}
				c.state = StateError
				c.err = err
				return true
			})
		} else if xerrors.ShouldAlert(err) {
			s.alert(ctx, err, operation)
		}
		return nil, err
	}

	logger.Audit().Info("contract_write_confirmed",
		slog.String("session_id", s.id),
		slog.String("account", from.Hex()),
		slog.String("operation", operation),
		slog.String("tx_hash", txHash),
		slog.Uint64("block", result.BlockNumber))
	for _, n := range result.Notifications {
		s.publish(ctx, notify.TypeContractNotification, n)
	}
	return result, nil
}

// Pending lists the calls currently in flight, oldest first.
func (s *Session) Pending() []PendingCall {
	s.pendingMu.Lock()
	out := make([]PendingCall, 0, len(s.pending))
	for _, call := range s.pending {
		out = append(out, call)
	}
	s.pendingMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

func (s *Session) track(kind CallKind, operation string, args []any, account string) PendingCall {
	call := PendingCall{
		ID:        uuid.NewString(),
		Kind:      kind,
		Operation: operation,
		Args:      args,
		Account:   account,
		IssuedAt:  s.now(),
	}
	s.pendingMu.Lock()
	s.pending[call.ID] = call
	s.pendingMu.Unlock()
	return call
}

func (s *Session) untrack(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// finish records metrics and the journal entry for a completed call.
func (s *Session) finish(ctx context.Context, call PendingCall, txHash string, err error) {
	elapsed := s.now().Sub(call.IssuedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	code := ""
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	if s.metrics != nil {
		s.metrics.ObserveCall(string(call.Kind), call.Operation, code, elapsed)
	}
	if err != nil {
		s.logger.Debug("contract call failed",
			slog.String("kind", string(call.Kind)),
			slog.String("operation", call.Operation),
			slog.String("code", code),
			slog.Any("error", err))
	}
	if s.journal == nil {
		return
	}

	record := CallRecord{
		ID:         call.ID,
		SessionID:  s.id,
		Kind:       call.Kind,
		Operation:  call.Operation,
		Outcome:    OutcomeSuccess,
		Account:    call.Account,
		TxHash:     txHash,
		IssuedAt:   call.IssuedAt.UTC(),
		DurationMS: elapsed.Milliseconds(),
	}
	if len(call.Args) > 0 {
		if raw, marshalErr := json.Marshal(call.Args); marshalErr == nil {
			record.Args = raw
		}
	}
	if err != nil {
		record.Outcome = OutcomeFailed
		record.ErrorCode = code
		record.Error = err.Error()
	}

	journalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if journalErr := s.journal.Record(journalCtx, record); journalErr != nil {
		s.logger.Warn("record contract call failed", slog.Any("error", journalErr))
	}
}
