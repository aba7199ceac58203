// Copyright 2025 Certen Protocol
//
// Network configuration loader for the x402 payment engine.
// Loads an explicit, enumerated list of network entries from YAML with
// ${VAR_NAME} / ${VAR_NAME:-default} environment substitution, replacing
// duck-typed config blobs per the redesign notes.

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// NetworkConfig describes one enabled EVM network the payment engine can
// settle x402 authorizations on.
type NetworkConfig struct {
	Name          string   `yaml:"name"`
	ChainID       int64    `yaml:"chain_id"`
	RPCURL        string   `yaml:"rpc_url"`
	TokenAddress  string   `yaml:"token_address"`
	TokenName     string   `yaml:"token_name"`
	TokenVersion  string   `yaml:"token_version"`
	PayTo         string   `yaml:"pay_to"`
	Facilitators  []string `yaml:"facilitators"`
	Enabled       bool     `yaml:"enabled"`
	AllowUndeployed bool   `yaml:"allow_undeployed_smart_wallets"`
}

// NetworksConfig is the top-level document for networks.yaml.
type NetworksConfig struct {
	Networks []NetworkConfig `yaml:"networks"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// LoadNetworksConfig loads and validates the enabled-network list from path.
func LoadNetworksConfig(path string) (*NetworksConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read networks config %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg NetworksConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse networks config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces that every enabled network is fully specified.
func (c *NetworksConfig) Validate() error {
	for _, n := range c.Networks {
		if !n.Enabled {
			continue
		}
		if n.Name == "" {
			return fmt.Errorf("network config: enabled network missing name")
		}
		if n.RPCURL == "" {
			return fmt.Errorf("network %s: rpc_url is required", n.Name)
		}
		if n.TokenAddress == "" {
			return fmt.Errorf("network %s: token_address is required", n.Name)
		}
		if n.PayTo == "" {
			return fmt.Errorf("network %s: pay_to is required", n.Name)
		}
		if len(n.Facilitators) == 0 {
			return fmt.Errorf("network %s: at least one facilitator is required", n.Name)
		}
	}
	return nil
}

// Enabled returns only the enabled networks, preserving order.
func (c *NetworksConfig) Enabled() []NetworkConfig {
	out := make([]NetworkConfig, 0, len(c.Networks))
	for _, n := range c.Networks {
		if n.Enabled {
			out = append(out, n)
		}
	}
	return out
}

// ByName returns the named network config, if enabled.
func (c *NetworksConfig) ByName(name string) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.Name == name && n.Enabled {
			return n, true
		}
	}
	return NetworkConfig{}, false
}
