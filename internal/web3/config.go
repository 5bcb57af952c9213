package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"OpenNFT-Agent/internal/abi"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string              `yaml:"type"`
	RPCURL      string              `yaml:"rpc_url"`
	WSURL       string              `yaml:"ws_url"`
	BatchRPCURL string              `yaml:"batch_rpc_url"`
	ChainID     int64               `yaml:"chain_id"`
	Contracts   ContractDefinitions `yaml:"contracts"`
	Description string              `yaml:"description"`
}

// ContractDefinitions lists the deployed marketplace contracts of a chain.
type ContractDefinitions struct {
	NFT         string `yaml:"nft"`
	Marketplace string `yaml:"marketplace"`
}

// Contracts are the parsed contract addresses of a chain.
type Contracts struct {
	NFT         common.Address
	Marketplace common.Address
}

// Parse validates the configured addresses. Empty entries stay zero.
func (d ContractDefinitions) Parse() (Contracts, error) {
	var out Contracts
	for _, item := range []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"nft", d.NFT, &out.NFT},
		{"marketplace", d.Marketplace, &out.Marketplace},
	} {
		raw := strings.TrimSpace(item.raw)
		if raw == "" {
			continue
		}
		if !abi.IsAddress(raw) {
			return Contracts{}, fmt.Errorf("合约地址 %s 无效: %s", item.name, raw)
		}
		*item.dst = common.HexToAddress(raw)
	}
	return out, nil
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
