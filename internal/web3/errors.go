package web3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "DappBridge/internal/errors"
)

// Error codes for every failure a wallet session can surface. The code is the
// kind callers switch on to render a specific message.
const (
	CodeProviderUnavailable   xerrors.Code = "PROVIDER_UNAVAILABLE"
	CodeUserRejected          xerrors.Code = "USER_REJECTED"
	CodeInsufficientResources xerrors.Code = "INSUFFICIENT_RESOURCES"
	CodeEndpointUnreachable   xerrors.Code = "ENDPOINT_UNREACHABLE"
	CodeEndpointRejected      xerrors.Code = "ENDPOINT_REJECTED"
	CodeNotConnected          xerrors.Code = "NOT_CONNECTED"
	CodeUnknown                            = xerrors.CodeUnknown
)

// EIP-1193 provider error codes.
const (
	ProviderCodeUserRejected      = 4001
	ProviderCodeUnauthorized      = 4100
	ProviderCodeUnsupportedMethod = 4200
	ProviderCodeDisconnected      = 4900
	ProviderCodeChainDisconnected = 4901
	rpcCodeExecutionReverted      = 3
	metadataRejection             = "rejection"
	metadataReason                = "reason"
	rejectionDuplicate            = "duplicate"
	rejectionInvalidState         = "invalid_state"
)

func init() {
	xerrors.Register(CodeProviderUnavailable, xerrors.Attributes{
		Message:  "no wallet provider is available; install or unlock a wallet",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeUserRejected, xerrors.Attributes{
		Message:  "the request was declined in the wallet",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInsufficientResources, xerrors.Attributes{
		Message:  "the account cannot cover the cost of this operation",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeEndpointUnreachable, xerrors.Attributes{
		Message:   "the remote endpoint could not be reached",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeEndpointRejected, xerrors.Attributes{
		Message:  "the remote endpoint rejected the operation",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotConnected, xerrors.Attributes{
		Message:  "connect a wallet before sending transactions",
		Severity: xerrors.SeverityInfo,
	})
}

// ProviderError is an EIP-1193 style error returned by wallet providers. It
// satisfies go-ethereum's rpc.Error so JSON-RPC wallets and local wallets are
// classified the same way.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrorCode implements rpc.Error.
func (e *ProviderError) ErrorCode() int { return e.Code }

// ErrUserRejected is returned by providers when the operator declines a prompt.
var ErrUserRejected = &ProviderError{Code: ProviderCodeUserRejected, Message: "user rejected the request"}

// ProviderUnavailable builds the error returned when no wallet can be reached.
func ProviderUnavailable(detail string, cause error) *xerrors.Error {
	if detail == "" {
		detail = xerrors.AttributesOf(CodeProviderUnavailable).Message
	}
	if cause == nil {
		return xerrors.New(CodeProviderUnavailable, detail)
	}
	return xerrors.Wrap(CodeProviderUnavailable, cause, detail)
}

// NotConnected builds the error returned when a write needs a connected session.
func NotConnected(operation string) *xerrors.Error {
	return xerrors.New(CodeNotConnected, "", xerrors.WithMetadata("operation", operation))
}

// EndpointRejected builds a rejection error carrying the endpoint's reason.
// Reasons that describe repeated submissions are tagged rejection=duplicate.
func EndpointRejected(reason string, cause error) *xerrors.Error {
	reason = strings.TrimSpace(reason)
	message := xerrors.AttributesOf(CodeEndpointRejected).Message
	opts := []xerrors.Option{}
	if reason != "" {
		message = message + ": " + reason
		opts = append(opts, xerrors.WithMetadata(metadataReason, reason))
	}
	switch {
	case isDuplicateReason(reason):
		opts = append(opts, xerrors.WithMetadata(metadataRejection, rejectionDuplicate))
	case reason != "":
		opts = append(opts, xerrors.WithMetadata(metadataRejection, rejectionInvalidState))
	}
	if cause == nil {
		return xerrors.New(CodeEndpointRejected, message, opts...)
	}
	return xerrors.Wrap(CodeEndpointRejected, cause, message, opts...)
}

// IsDuplicateRejection reports whether err is an endpoint rejection caused by a
// repeated submission.
func IsDuplicateRejection(err error) bool {
	return xerrors.CodeOf(err) == CodeEndpointRejected && xerrors.MetadataOf(err)[metadataRejection] == rejectionDuplicate
}

// Classify maps raw wallet, RPC and transport errors onto the bridge error
// taxonomy. Errors that already carry a code are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}

	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case ProviderCodeUserRejected:
			return xerrors.Wrap(CodeUserRejected, err, "")
		case ProviderCodeUnauthorized:
			return xerrors.Wrap(CodeUserRejected, err, "the account has not authorized this application")
		case ProviderCodeDisconnected, ProviderCodeChainDisconnected:
			return ProviderUnavailable("the wallet is disconnected", err)
		case ProviderCodeUnsupportedMethod:
			return ProviderUnavailable("the wallet does not support this request", err)
		case rpcCodeExecutionReverted:
			return EndpointRejected(revertReason(err), err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "user rejected", "user denied", "action_rejected", "rejected by user"):
		return xerrors.Wrap(CodeUserRejected, err, "")
	case containsAny(msg, "insufficient funds", "gas required exceeds allowance", "exceeds block gas limit"):
		return xerrors.Wrap(CodeInsufficientResources, err, "")
	case strings.Contains(msg, "execution reverted"):
		return EndpointRejected(revertReason(err), err)
	case containsAny(msg, "nonce too low", "already known", "replacement transaction underpriced"):
		return EndpointRejected("transaction already submitted (duplicate)", err)
	case isUnreachable(err, msg):
		return xerrors.Wrap(CodeEndpointUnreachable, err, "")
	case errors.Is(err, context.Canceled):
		return xerrors.Wrap(CodeUnknown, err, "request cancelled", xerrors.WithAlert(false), xerrors.WithSeverity(xerrors.SeverityInfo))
	}
	return xerrors.Wrap(CodeUnknown, err, "unexpected wallet failure")
}

// revertReason extracts the Error(string) reason from revert data when the
// error carries it, and otherwise from the message text.
func revertReason(err error) string {
	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted:"); idx >= 0 {
		return strings.TrimSpace(msg[idx+len("execution reverted:"):])
	}
	return ""
}

func isUnreachable(err error, msg string) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return containsAny(msg, "connection refused", "no such host", "connection reset", "i/o timeout", "503 service unavailable", "502 bad gateway")
}

func isDuplicateReason(reason string) bool {
	return containsAny(strings.ToLower(reason), "duplicate", "already")
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
