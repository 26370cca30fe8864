package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"DappBridge/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	ChainID uint64
	RPCURL  string
	WSURL   string
	Notes   string
}

// Client owns the RPC connections to one EVM chain and hands out contract
// endpoints bound to it.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	wsClient  *gethrpc.Client
	eth       *ethclient.Client
	backend   Backend
	committer func()
	chainID   *big.Int
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
// The optional websocket endpoint is preferred for reads when it dials.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, web3.Classify(fmt.Errorf("连接以太坊节点失败: %w", err))
	}

	c := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}
	c.backend = c.eth
	if wsURL := strings.TrimSpace(cfg.WSURL); wsURL != "" {
		if wsRPC, wsErr := gethrpc.DialContext(ctx, wsURL); wsErr == nil {
			c.wsClient = wsRPC
			c.backend = ethclient.NewClient(wsRPC)
		}
	}
	if cfg.ChainID != 0 {
		c.chainID = new(big.Int).SetUint64(cfg.ChainID)
	}
	return c, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing
// purposes. Transactions sent through endpoints of this client are mined
// immediately.
func NewSimulatedClient(name string, sim *simulated.Backend) *Client {
	return &Client{
		name:      name,
		notes:     "simulated backend",
		backend:   sim.Client(),
		committer: func() { sim.Commit() },
	}
}

// Name returns the chain name the client was registered under.
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Backend exposes the chain backend used by endpoints.
func (c *Client) Backend() Backend {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

// Endpoint binds a contract at address with the given ABI to this chain.
func (c *Client) Endpoint(address common.Address, abiJSON string, opts ...EndpointOption) (*Endpoint, error) {
	backend := c.Backend()
	if backend == nil {
		return nil, errors.New("客户端缺少链访问后端")
	}
	if c.committer != nil {
		opts = append([]EndpointOption{WithCommitter(c.committer)}, opts...)
	}
	return NewEndpoint(backend, address, abiJSON, opts...)
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wsClient != nil {
		c.wsClient.Close()
		c.wsClient = nil
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
	c.backend = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend := c.Backend()
	if backend == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	chainID := c.chainID
	if chainID == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return web3.ChainSnapshot{}, web3.Classify(fmt.Errorf("获取链 ID 失败: %w", err))
		}
		chainID = id
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.ChainSnapshot{}, web3.Classify(fmt.Errorf("获取最新区块高度失败: %w", err))
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: toHexBig(head.Number),
		Notes:       c.notes,
	}, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
