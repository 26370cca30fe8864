package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/web3"
	"DappBridge/pkg/logger"
)

// Backend is the subset of chain access an endpoint needs. Both
// *ethclient.Client and the simulated client satisfy it.
type Backend interface {
	gethcore.ContractCaller
	gethcore.GasEstimator
	gethcore.TransactionSender
	gethcore.TransactionReader
	gethcore.ChainIDReader
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

const (
	defaultPollInterval   = time.Second
	defaultConfirmTimeout = 5 * time.Minute
)

// Endpoint maps named operations onto the ABI of one deployed contract.
type Endpoint struct {
	address        common.Address
	abi            abi.ABI
	backend        Backend
	committer      func()
	pollInterval   time.Duration
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithCommitter registers a hook run right after a transaction is sent. The
// simulated backend uses it to mine the pending block.
func WithCommitter(commit func()) EndpointOption {
	return func(e *Endpoint) {
		e.committer = commit
	}
}

// WithPollInterval sets how often the receipt is polled while confirming.
func WithPollInterval(interval time.Duration) EndpointOption {
	return func(e *Endpoint) {
		if interval > 0 {
			e.pollInterval = interval
		}
	}
}

// WithConfirmTimeout bounds how long a write waits for its receipt.
func WithConfirmTimeout(timeout time.Duration) EndpointOption {
	return func(e *Endpoint) {
		if timeout > 0 {
			e.confirmTimeout = timeout
		}
	}
}

// WithEndpointLogger overrides the endpoint logger.
func WithEndpointLogger(l *slog.Logger) EndpointOption {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEndpoint parses abiJSON and binds it to address on backend.
func NewEndpoint(backend Backend, address common.Address, abiJSON string, opts ...EndpointOption) (*Endpoint, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "合约端点缺少链访问后端")
	}
	if address == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "合约地址不能为空")
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 ABI 失败")
	}
	e := &Endpoint{
		address:        address,
		abi:            parsed,
		backend:        backend,
		pollInterval:   defaultPollInterval,
		confirmTimeout: defaultConfirmTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = logger.Named("endpoint")
	}
	return e, nil
}

// Address returns the contract address.
func (e *Endpoint) Address() common.Address { return e.address }

// Operations lists every callable method name, sorted.
func (e *Endpoint) Operations() []string {
	names := make([]string, 0, len(e.abi.Methods))
	for name := range e.abi.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Read performs a non-mutating eth_call and returns the decoded outputs.
func (e *Endpoint) Read(ctx context.Context, operation string, args ...any) ([]any, error) {
	method, input, err := e.pack(operation, args)
	if err != nil {
		return nil, err
	}
	out, err := e.backend.CallContract(ctx, gethcore.CallMsg{To: &e.address, Data: input}, nil)
	if err != nil {
		return nil, web3.Classify(fmt.Errorf("调用 %s 失败: %w", operation, err))
	}
	if len(out) == 0 && len(method.Outputs) > 0 {
		return nil, web3.EndpointRejected(fmt.Sprintf("empty result from %s; no contract code at %s?", operation, e.address.Hex()), nil)
	}
	values, err := method.Outputs.Unpack(out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, fmt.Sprintf("解码 %s 返回值失败", operation))
	}
	return values, nil
}

// Write builds an EIP-1559 transaction for operation, has req.Signer sign it,
// submits it and waits until it is mined. A reverted receipt is reported as an
// endpoint rejection.
func (e *Endpoint) Write(ctx context.Context, req web3.WriteRequest) (*web3.WriteResult, error) {
	if req.Signer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供交易签名器")
	}
	if req.From == (common.Address{}) {
		return nil, web3.NotConnected(req.Operation)
	}
	_, input, err := e.pack(req.Operation, req.Args)
	if err != nil {
		return nil, err
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	chainID, err := e.backend.ChainID(ctx)
	if err != nil {
		return nil, web3.Classify(fmt.Errorf("获取链 ID 失败: %w", err))
	}
	nonce, err := e.backend.PendingNonceAt(ctx, req.From)
	if err != nil {
		return nil, web3.Classify(fmt.Errorf("查询 nonce 失败: %w", err))
	}
	tipCap, feeCap, err := e.fees(ctx)
	if err != nil {
		return nil, err
	}
	gas, err := e.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:      req.From,
		To:        &e.address,
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
		Value:     value,
		Data:      input,
	})
	if err != nil {
		return nil, web3.Classify(fmt.Errorf("预估 %s 的 gas 失败: %w", req.Operation, err))
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &e.address,
		Value:     value,
		Data:      input,
	})
	signed, err := req.Signer.SignTransaction(ctx, req.From, tx, chainID)
	if err != nil {
		return nil, web3.Classify(err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, web3.Classify(fmt.Errorf("发送交易失败: %w", err))
	}
	e.logger.Debug("transaction submitted",
		slog.String("operation", req.Operation),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce))
	if e.committer != nil {
		e.committer()
	}

	// The transaction is out; the caller going away does not stop it from
	// being mined, so only confirmTimeout bounds the wait.
	receipt, err := e.waitMined(context.WithoutCancel(ctx), signed.Hash())
	if err != nil {
		return nil, xerrors.Annotate(err, "tx_hash", signed.Hash().Hex())
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, xerrors.Annotate(
			web3.EndpointRejected(fmt.Sprintf("transaction %s reverted on-chain", signed.Hash().Hex()), nil),
			"tx_hash", signed.Hash().Hex())
	}

	return &web3.WriteResult{
		Success:       true,
		Operation:     req.Operation,
		TxHash:        signed.Hash(),
		BlockNumber:   receipt.BlockNumber.Uint64(),
		GasUsed:       receipt.GasUsed,
		Notifications: e.decodeLogs(receipt.Logs),
		ConfirmedAt:   time.Now(),
	}, nil
}

func (e *Endpoint) pack(operation string, args []any) (abi.Method, []byte, error) {
	method, ok := e.abi.Methods[operation]
	if !ok {
		return abi.Method{}, nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("合约 %s 不支持操作 %q", e.address.Hex(), operation))
	}
	coerced, err := coerceArgs(method, args)
	if err != nil {
		return abi.Method{}, nil, err
	}
	input, err := e.abi.Pack(operation, coerced...)
	if err != nil {
		return abi.Method{}, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("编码 %s 参数失败", operation))
	}
	return method, input, nil
}

// fees follows go-ethereum's bind defaults: feeCap = 2*baseFee + tip.
func (e *Endpoint) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	tipCap, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, web3.Classify(fmt.Errorf("获取小费建议失败: %w", err))
	}
	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, web3.Classify(fmt.Errorf("获取最新区块失败: %w", err))
	}
	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return tipCap, feeCap, nil
}

func (e *Endpoint) waitMined(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, web3.Classify(fmt.Errorf("查询交易回执失败: %w", err))
		}

		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(web3.CodeEndpointUnreachable, ctx.Err(),
				fmt.Sprintf("transaction %s was not confirmed in time", hash.Hex()),
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		case <-ticker.C:
			if e.committer != nil {
				e.committer()
			}
		}
	}
}

// decodeLogs turns receipt logs into notifications, decoding those that match
// an event of the endpoint ABI.
func (e *Endpoint) decodeLogs(logs []*coretypes.Log) []web3.Notification {
	if len(logs) == 0 {
		return nil
	}
	notifications := make([]web3.Notification, 0, len(logs))
	for _, lg := range logs {
		if lg == nil {
			continue
		}
		n := web3.Notification{
			Address:  lg.Address,
			TxHash:   lg.TxHash,
			LogIndex: lg.Index,
		}
		if lg.Address == e.address && len(lg.Topics) > 0 {
			if ev, err := e.abi.EventByID(lg.Topics[0]); err == nil {
				fields := make(map[string]any)
				if err := ev.Inputs.UnpackIntoMap(fields, lg.Data); err == nil {
					var indexed abi.Arguments
					for _, arg := range ev.Inputs {
						if arg.Indexed {
							indexed = append(indexed, arg)
						}
					}
					if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err == nil {
						n.Event = ev.Name
						n.Fields = fields
					}
				}
			}
		}
		if n.Event == "" {
			n.Topics = append([]common.Hash(nil), lg.Topics...)
			n.Data = append([]byte(nil), lg.Data...)
		}
		notifications = append(notifications, n)
	}
	return notifications
}
