package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"OpenNFT-Agent/internal/config"
	"OpenNFT-Agent/internal/web3"
	"OpenNFT-Agent/internal/web3/ethereum"
)

// Chain bundles a chain client with the contracts deployed on it.
type Chain struct {
	Name      string
	ChainID   int64
	Client    web3.Client
	Contracts web3.Contracts
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	chains       map[string]*Chain
}

// NewRegistry loads chain definitions and instantiates concrete clients. The
// configured private key signs on every chain.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	r := &Registry{chains: make(map[string]*Chain)}
	for name, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			r.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		contracts, err := def.Contracts.Parse()
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("链 %s: %w", name, err)
		}
		rpcURL := def.RPCURL
		if strings.TrimSpace(rpcURL) == "" {
			rpcURL = cfg.RPCURL
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:         name,
			RPCURL:       rpcURL,
			WSURL:        def.WSURL,
			BatchRPCURL:  def.BatchRPCURL,
			Notes:        def.Description,
			ChainID:      def.ChainID,
			PrivateKey:   cfg.PrivateKey,
			PollInterval: cfg.ReceiptPoll(),
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		r.chains[name] = &Chain{Name: name, ChainID: def.ChainID, Client: client, Contracts: contracts}
	}

	defaultChain := cfg.DefaultChain
	if len(r.chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:         "default",
			RPCURL:       cfg.RPCURL,
			PrivateKey:   cfg.PrivateKey,
			PollInterval: cfg.ReceiptPoll(),
		})
		if err != nil {
			return nil, err
		}
		r.chains["default"] = &Chain{Name: "default", Client: client}
		defaultChain = "default"
	}

	if len(r.chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		defaultChain = r.Chains()[0]
	}
	if _, ok := r.chains[defaultChain]; !ok {
		r.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// NewStaticRegistry builds a registry around already constructed chains.
func NewStaticRegistry(defaultChain string, chains ...*Chain) (*Registry, error) {
	r := &Registry{defaultChain: defaultChain, chains: make(map[string]*Chain, len(chains))}
	for _, c := range chains {
		r.chains[c.Name] = c
	}
	if _, ok := r.chains[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", defaultChain)
	}
	return r, nil
}

// Default returns the chain configured as default.
func (r *Registry) Default() (*Chain, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	chain, ok := r.chains[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return chain, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	chain, err := r.Default()
	if err != nil {
		return nil, err
	}
	return chain.Client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	chain, ok := r.chains[name]
	if !ok {
		return nil, false
	}
	return chain.Client, true
}

// Contracts returns the deployed contract addresses of the named chain.
func (r *Registry) Contracts(name string) (web3.Contracts, error) {
	if r == nil {
		return web3.Contracts{}, errors.New("未初始化的链客户端注册表")
	}
	chain, ok := r.chains[name]
	if !ok {
		return web3.Contracts{}, fmt.Errorf("链 %s 未在注册表中", name)
	}
	return chain.Contracts, nil
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, chain := range r.chains {
		if chain.Client != nil {
			chain.Client.Close()
		}
		delete(r.chains, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
