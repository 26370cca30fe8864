// Package keyed implements a wallet provider backed by private keys held in
// process memory, either raw hex keys or an encrypted go-ethereum keystore
// file. Access and signature prompts are delegated to an Approver so tests
// and headless deployments can decide without a human.
package keyed

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"DappBridge/internal/web3"
)

// Approver decides on the prompts a browser wallet would show its user.
type Approver interface {
	ApproveAccess(ctx context.Context, accounts []common.Address) (bool, error)
	ApproveSignature(ctx context.Context, from common.Address, tx *types.Transaction) (bool, error)
}

// StaticApprover answers every prompt with fixed decisions.
type StaticApprover struct {
	Access    bool
	Signature bool
}

// ApproveAccess implements Approver.
func (a StaticApprover) ApproveAccess(context.Context, []common.Address) (bool, error) {
	return a.Access, nil
}

// ApproveSignature implements Approver.
func (a StaticApprover) ApproveSignature(context.Context, common.Address, *types.Transaction) (bool, error) {
	return a.Signature, nil
}

// AutoApprove grants every prompt.
var AutoApprove Approver = StaticApprover{Access: true, Signature: true}

// Provider is a local wallet holding one or more private keys.
type Provider struct {
	mu         sync.Mutex
	keys       map[common.Address]*ecdsa.PrivateKey
	order      []common.Address
	selected   common.Address
	authorized bool
	locked     bool
	chainID    *big.Int
	approver   Approver
	feed       event.Feed
}

// Option customises a Provider.
type Option func(*Provider)

// WithApprover sets the prompt approver. The default approves nothing.
func WithApprover(a Approver) Option {
	return func(p *Provider) {
		if a != nil {
			p.approver = a
		}
	}
}

// New creates a provider for keys pointed at chainID. The first key is the
// initially selected account.
func New(chainID *big.Int, keys []*ecdsa.PrivateKey, opts ...Option) (*Provider, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("钱包需要有效的链 ID")
	}
	if len(keys) == 0 {
		return nil, errors.New("钱包至少需要一个私钥")
	}
	p := &Provider{
		keys:     make(map[common.Address]*ecdsa.PrivateKey, len(keys)),
		chainID:  new(big.Int).Set(chainID),
		approver: StaticApprover{},
	}
	for _, key := range keys {
		if key == nil {
			continue
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := p.keys[addr]; dup {
			continue
		}
		p.keys[addr] = key
		p.order = append(p.order, addr)
	}
	if len(p.order) == 0 {
		return nil, errors.New("钱包至少需要一个私钥")
	}
	p.selected = p.order[0]
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// FromHexKeys parses hex encoded private keys, with or without 0x prefix.
func FromHexKeys(chainID *big.Int, hexKeys []string, opts ...Option) (*Provider, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for i, raw := range hexKeys {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if raw == "" {
			continue
		}
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("解析第 %d 个私钥失败: %w", i+1, err)
		}
		keys = append(keys, key)
	}
	return New(chainID, keys, opts...)
}

// FromKeystore decrypts a go-ethereum keystore JSON file.
func FromKeystore(chainID *big.Int, path, passphrase string, opts ...Option) (*Provider, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 keystore 文件失败: %w", err)
	}
	key, err := keystore.DecryptKey(content, passphrase)
	if err != nil {
		return nil, fmt.Errorf("解密 keystore 失败: %w", err)
	}
	return New(chainID, []*ecdsa.PrivateKey{key.PrivateKey}, opts...)
}

// RequestAccounts asks the approver for access. Once granted, later calls
// return the authorized accounts without prompting.
func (p *Provider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	p.mu.Lock()
	if p.locked {
		p.mu.Unlock()
		return nil, &web3.ProviderError{Code: web3.ProviderCodeDisconnected, Message: "wallet is locked"}
	}
	if p.authorized {
		accounts := p.accountsLocked()
		p.mu.Unlock()
		return accounts, nil
	}
	candidates := p.accountsLocked()
	approver := p.approver
	p.mu.Unlock()

	ok, err := approver.ApproveAccess(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, web3.ErrUserRejected
	}

	p.mu.Lock()
	p.authorized = true
	accounts := p.accountsLocked()
	p.mu.Unlock()
	return accounts, nil
}

// Accounts returns the authorized accounts, selected first. It never prompts.
func (p *Provider) Accounts(context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.authorized || p.locked {
		return []common.Address{}, nil
	}
	return p.accountsLocked(), nil
}

// ChainID reports the chain the wallet currently targets.
func (p *Provider) ChainID(context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.chainID), nil
}

// SignTransaction signs tx with the key of from after the approver agrees.
func (p *Provider) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	p.mu.Lock()
	if p.locked {
		p.mu.Unlock()
		return nil, &web3.ProviderError{Code: web3.ProviderCodeDisconnected, Message: "wallet is locked"}
	}
	key, known := p.keys[from]
	if !p.authorized || !known {
		p.mu.Unlock()
		return nil, &web3.ProviderError{Code: web3.ProviderCodeUnauthorized, Message: fmt.Sprintf("account %s is not authorized", from.Hex())}
	}
	if chainID != nil && chainID.Cmp(p.chainID) != 0 {
		current := p.chainID.String()
		p.mu.Unlock()
		return nil, &web3.ProviderError{Code: web3.ProviderCodeChainDisconnected, Message: fmt.Sprintf("wallet is on chain %s, not %s", current, chainID)}
	}
	signChain := new(big.Int).Set(p.chainID)
	approver := p.approver
	p.mu.Unlock()

	ok, err := approver.ApproveSignature(ctx, from, tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, web3.ErrUserRejected
	}
	return types.SignTx(tx, types.LatestSignerForChainID(signChain), key)
}

// SubscribeEvents delivers account and chain changes to ch.
func (p *Provider) SubscribeEvents(_ context.Context, ch chan<- web3.ProviderEvent) (event.Subscription, error) {
	return p.feed.Subscribe(ch), nil
}

// SelectAccount switches the active account, as a wallet UI would.
func (p *Provider) SelectAccount(addr common.Address) error {
	p.mu.Lock()
	if _, ok := p.keys[addr]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("钱包中不存在账户 %s", addr.Hex())
	}
	p.selected = addr
	notify := p.authorized && !p.locked
	accounts := p.accountsLocked()
	p.mu.Unlock()

	if notify {
		p.feed.Send(web3.ProviderEvent{Kind: web3.EventAccountsChanged, Accounts: accounts})
	}
	return nil
}

// Revoke withdraws the application's access. Subscribers observe an empty
// account list.
func (p *Provider) Revoke() {
	p.mu.Lock()
	was := p.authorized
	p.authorized = false
	p.mu.Unlock()

	if was {
		p.feed.Send(web3.ProviderEvent{Kind: web3.EventAccountsChanged, Accounts: []common.Address{}})
	}
}

// SwitchChain points the wallet at another chain.
func (p *Provider) SwitchChain(chainID *big.Int) error {
	if chainID == nil || chainID.Sign() <= 0 {
		return errors.New("无效的链 ID")
	}
	p.mu.Lock()
	changed := p.chainID.Cmp(chainID) != 0
	p.chainID = new(big.Int).Set(chainID)
	p.mu.Unlock()

	if changed {
		p.feed.Send(web3.ProviderEvent{Kind: web3.EventChainChanged, ChainID: new(big.Int).Set(chainID)})
	}
	return nil
}

// Lock makes the wallet unusable until Unlock, emitting a disconnect event.
func (p *Provider) Lock() {
	p.mu.Lock()
	was := p.locked
	p.locked = true
	p.mu.Unlock()

	if !was {
		p.feed.Send(web3.ProviderEvent{
			Kind: web3.EventDisconnect,
			Err:  &web3.ProviderError{Code: web3.ProviderCodeDisconnected, Message: "wallet locked"},
		})
	}
}

// Unlock reverses Lock. Authorization granted earlier is kept.
func (p *Provider) Unlock() {
	p.mu.Lock()
	p.locked = false
	p.mu.Unlock()
}

func (p *Provider) accountsLocked() []common.Address {
	accounts := make([]common.Address, 0, len(p.order))
	accounts = append(accounts, p.selected)
	for _, addr := range p.order {
		if addr != p.selected {
			accounts = append(accounts, addr)
		}
	}
	return accounts
}

var _ web3.Provider = (*Provider)(nil)
