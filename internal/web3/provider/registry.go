package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"DappBridge/internal/config"
	"DappBridge/internal/web3"
	"DappBridge/internal/web3/ethereum"
)

// Dialer constructs a chain client from its configuration.
type Dialer func(ctx context.Context, cfg ethereum.Config) (*ethereum.Client, error)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]*ethereum.Client
}

// RegistryOption customises registry construction.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	dialer Dialer
}

// WithDialer overrides how chain clients are created.
func WithDialer(d Dialer) RegistryOption {
	return func(o *registryOptions) {
		if d != nil {
			o.dialer = d
		}
	}
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config, opts ...RegistryOption) (*Registry, error) {
	options := registryOptions{dialer: ethereum.NewClient}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]*ethereum.Client)
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := options.dialer(ctx, ethereum.Config{
				Name:    name,
				ChainID: chain.ChainID,
				RPCURL:  chain.RPCURL,
				WSURL:   chain.WSURL,
				Notes:   chain.Description,
			})
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
		default:
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	defaultChain := cfg.DefaultChain
	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := options.dialer(ctx, ethereum.Config{Name: "default", RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		if defaultChain == "" {
			defaultChain = "default"
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		closeAll()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (*ethereum.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (*ethereum.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Endpoint binds a contract on the named chain, or the default chain when
// chain is empty.
func (r *Registry) Endpoint(chain string, address common.Address, abiJSON string, opts ...ethereum.EndpointOption) (*ethereum.Endpoint, error) {
	var (
		client *ethereum.Client
		err    error
	)
	if strings.TrimSpace(chain) == "" {
		client, err = r.DefaultClient()
		if err != nil {
			return nil, err
		}
	} else {
		var ok bool
		client, ok = r.Client(chain)
		if !ok {
			return nil, fmt.Errorf("链 %s 未在注册表中", chain)
		}
	}
	return client.Endpoint(address, abiJSON, opts...)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
