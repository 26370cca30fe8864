package web3

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethevent "github.com/ethereum/go-ethereum/event"
)

// EventKind enumerates the externally driven wallet events.
type EventKind string

const (
	EventAccountsChanged EventKind = "accountsChanged"
	EventChainChanged    EventKind = "chainChanged"
	EventDisconnect      EventKind = "disconnect"
)

// ProviderEvent is emitted by a wallet when the operator switches account or
// chain, revokes access, or when the wallet loses its own connection.
type ProviderEvent struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  *big.Int
	Err      error
}

// TxSigner signs a prepared transaction on behalf of from. Implementations may
// block while a human approves the signature.
type TxSigner interface {
	SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Provider is the capability interface a wallet must satisfy. It replaces the
// browser-injected provider object of a dapp frontend.
type Provider interface {
	TxSigner

	// RequestAccounts asks the operator for account access and may prompt.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns the already-authorized accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)
	// ChainID reports the chain the wallet is currently pointed at.
	ChainID(ctx context.Context) (*big.Int, error)
	// SubscribeEvents streams account/chain changes into ch until the
	// subscription is cancelled.
	SubscribeEvents(ctx context.Context, ch chan<- ProviderEvent) (gethevent.Subscription, error)
}

// WriteRequest describes one state-changing call to the remote endpoint.
type WriteRequest struct {
	From      common.Address
	Operation string
	Args      []any
	Value     *big.Int
	Signer    TxSigner
}

// Notification is a decoded event emitted by the remote endpoint while a write
// was being confirmed. Logs that match no ABI event keep only their raw form.
type Notification struct {
	Event    string         `json:"event,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
	Address  common.Address `json:"address"`
	Topics   []common.Hash  `json:"topics,omitempty"`
	Data     []byte         `json:"data,omitempty"`
	TxHash   common.Hash    `json:"tx_hash"`
	LogIndex uint           `json:"log_index"`
}

// WriteResult captures the confirmed outcome of a write operation.
type WriteResult struct {
	Success       bool           `json:"success"`
	Operation     string         `json:"operation"`
	TxHash        common.Hash    `json:"tx_hash"`
	BlockNumber   uint64         `json:"block_number"`
	GasUsed       uint64         `json:"gas_used"`
	Notifications []Notification `json:"notifications,omitempty"`
	ConfirmedAt   time.Time      `json:"confirmed_at"`
}

// ChainSnapshot represents summarized network metadata for status reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}
