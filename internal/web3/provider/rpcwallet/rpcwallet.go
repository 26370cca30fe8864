// Package rpcwallet talks to an external wallet (for example Frame or a
// remote signer) that exposes the EIP-1193 methods over JSON-RPC or
// WebSocket. Account and chain changes are read through eth_subscribe.
package rpcwallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"DappBridge/internal/web3"
)

// Provider is a wallet reached through go-ethereum's RPC client.
type Provider struct {
	client *gethrpc.Client
}

// Dial connects to the wallet endpoint. HTTP endpoints dial lazily, so an
// unreachable wallet surfaces on the first request.
func Dial(ctx context.Context, url string) (*Provider, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, web3.ProviderUnavailable("wallet RPC URL is empty", nil)
	}
	client, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, web3.ProviderUnavailable("failed to reach the wallet", err)
	}
	return &Provider{client: client}, nil
}

// New wraps an existing RPC client.
func New(client *gethrpc.Client) *Provider {
	return &Provider{client: client}
}

// Close releases the RPC connection.
func (p *Provider) Close() {
	if p != nil && p.client != nil {
		p.client.Close()
	}
}

// RequestAccounts calls eth_requestAccounts; the wallet may prompt.
func (p *Provider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, p.wrap(err)
	}
	return accounts, nil
}

// Accounts calls eth_accounts.
func (p *Provider) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, p.wrap(err)
	}
	if accounts == nil {
		accounts = []common.Address{}
	}
	return accounts, nil
}

// ChainID calls eth_chainId.
func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := p.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, p.wrap(err)
	}
	return (*big.Int)(&id), nil
}

type signArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Input                hexutil.Bytes   `json:"input"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

type signResult struct {
	Raw hexutil.Bytes `json:"raw"`
}

// SignTransaction calls eth_signTransaction. Both the geth shape
// ({"raw": "0x..", "tx": {..}}) and a bare raw hex string are accepted.
func (p *Provider) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	args := signArgs{
		From:  from,
		To:    tx.To(),
		Gas:   hexutil.Uint64(tx.Gas()),
		Value: (*hexutil.Big)(tx.Value()),
		Nonce: hexutil.Uint64(tx.Nonce()),
		Input: tx.Data(),
	}
	if chainID != nil {
		args.ChainID = (*hexutil.Big)(chainID)
	}
	if tx.Type() == types.DynamicFeeTxType {
		args.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
		args.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap())
	} else {
		args.GasPrice = (*hexutil.Big)(tx.GasPrice())
	}

	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, "eth_signTransaction", args); err != nil {
		return nil, p.wrap(err)
	}

	var encoded hexutil.Bytes
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return nil, fmt.Errorf("解析签名结果失败: %w", err)
		}
	} else {
		var result signResult
		if err := json.Unmarshal(trimmed, &result); err != nil {
			return nil, fmt.Errorf("解析签名结果失败: %w", err)
		}
		encoded = result.Raw
	}
	if len(encoded) == 0 {
		return nil, errors.New("钱包返回了空的签名交易")
	}

	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(encoded); err != nil {
		return nil, fmt.Errorf("解码签名交易失败: %w", err)
	}
	return signed, nil
}

// SubscribeEvents opens accountsChanged and chainChanged subscriptions and
// forwards them into ch until the returned subscription is cancelled. A
// transport failure is delivered as a disconnect event.
func (p *Provider) SubscribeEvents(ctx context.Context, ch chan<- web3.ProviderEvent) (event.Subscription, error) {
	accountsCh := make(chan []common.Address)
	accountsSub, err := p.client.Subscribe(ctx, "eth", accountsCh, "accountsChanged")
	if err != nil {
		return nil, p.wrap(err)
	}
	chainCh := make(chan hexutil.Big)
	chainSub, err := p.client.Subscribe(ctx, "eth", chainCh, "chainChanged")
	if err != nil {
		accountsSub.Unsubscribe()
		return nil, p.wrap(err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer accountsSub.Unsubscribe()
		defer chainSub.Unsubscribe()

		deliver := func(ev web3.ProviderEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-quit:
				return false
			}
		}
		for {
			select {
			case accounts := <-accountsCh:
				if accounts == nil {
					accounts = []common.Address{}
				}
				if !deliver(web3.ProviderEvent{Kind: web3.EventAccountsChanged, Accounts: accounts}) {
					return nil
				}
			case id := <-chainCh:
				if !deliver(web3.ProviderEvent{Kind: web3.EventChainChanged, ChainID: new(big.Int).Set((*big.Int)(&id))}) {
					return nil
				}
			case err := <-accountsSub.Err():
				deliver(web3.ProviderEvent{Kind: web3.EventDisconnect, Err: p.wrap(err)})
				return err
			case err := <-chainSub.Err():
				deliver(web3.ProviderEvent{Kind: web3.EventDisconnect, Err: p.wrap(err)})
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// wrap keeps wallet-level (EIP-1193) errors for classification and reports
// transport failures as an unavailable provider.
func (p *Provider) wrap(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return web3.ProviderUnavailable("failed to reach the wallet", err)
}

var _ web3.Provider = (*Provider)(nil)
