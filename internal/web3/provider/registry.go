package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"AMM-Agent/internal/config"
	"AMM-Agent/internal/web3"
	"AMM-Agent/internal/web3/ethereum"
	"AMM-Agent/pkg/logger"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.ContractClient
	explorers    map[string]string
}

// dialFunc builds a client for one chain entry; tests replace it.
type dialFunc func(ctx context.Context, cfg ethereum.Config) (web3.ContractClient, error)

func dialEthereum(ctx context.Context, cfg ethereum.Config) (web3.ContractClient, error) {
	return ethereum.NewClient(ctx, cfg)
}

// NewRegistry loads chain definitions and instantiates concrete clients.
// agentCfg supplies the receipt policy and the last-resort explorer URL.
func NewRegistry(ctx context.Context, cfg config.Web3Config, agentCfg config.AgentConfig) (*Registry, error) {
	return newRegistry(ctx, cfg, agentCfg, dialEthereum)
}

func newRegistry(ctx context.Context, cfg config.Web3Config, agentCfg config.AgentConfig, dial dialFunc) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	abiJSON := ""
	if path := strings.TrimSpace(cfg.ABIPath); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取合约 ABI 失败: %w", err)
		}
		abiJSON = string(content)
	}

	fallbackExplorer := firstNonEmpty(cfg.ExplorerTxURL, agentCfg.ExplorerTxURL, config.DefaultExplorerTxURL)

	reg := &Registry{
		clients:   make(map[string]web3.ContractClient),
		explorers: make(map[string]string),
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := dial(ctx, ethereum.Config{
				Name:        name,
				RPCURL:      chain.RPCURL,
				ChainID:     chain.ChainID,
				ABI:         abiJSON,
				WaitReceipt: agentCfg.WaitReceipt,
			})
			if err != nil {
				reg.Close()
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			reg.clients[name] = client
			reg.explorers[name] = firstNonEmpty(chain.ExplorerTxURL, fallbackExplorer)
			logger.Named("web3").Debug("已注册链客户端", "chain", name, "chain_id", chain.ChainID, "description", chain.Description)
		default:
			reg.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(reg.clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := dial(ctx, ethereum.Config{
			Name:        "default",
			RPCURL:      cfg.RPCURL,
			ChainID:     cfg.ChainID,
			ABI:         abiJSON,
			WaitReceipt: agentCfg.WaitReceipt,
		})
		if err != nil {
			return nil, err
		}
		reg.clients["default"] = client
		reg.explorers["default"] = fallbackExplorer
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(reg.clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		defaultChain = reg.Chains()[0]
	}
	if _, ok := reg.clients[defaultChain]; !ok {
		reg.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	reg.defaultChain = defaultChain
	return reg, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.ContractClient, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultExplorer returns the transaction explorer prefix of the default chain.
func (r *Registry) DefaultExplorer() string {
	if r == nil {
		return config.DefaultExplorerTxURL
	}
	return firstNonEmpty(r.explorers[r.defaultChain], config.DefaultExplorerTxURL)
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
