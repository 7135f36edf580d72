package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// GenesisFund seeds an initial ledger balance on first boot.
type GenesisFund struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Genesis describes the platform bootstrap applied when the node starts with
// an empty database: the admin identity, the fee policy, and any initial
// balances.
type Genesis struct {
	Admin          string        `toml:"Admin"`
	FeeBasisPoints uint32        `toml:"FeeBasisPoints"`
	FeeCollector   string        `toml:"FeeCollector"`
	Funds          []GenesisFund `toml:"Funds"`
}

type Config struct {
	RPCAddress    string  `toml:"RPCAddress"`
	DataDir       string  `toml:"DataDir"`
	NetworkName   string  `toml:"NetworkName"`
	AuthSecretEnv string  `toml:"AuthSecretEnv"`
	Genesis       Genesis `toml:"Genesis"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "escrow-local"
	}
	if strings.TrimSpace(cfg.AuthSecretEnv) == "" {
		cfg.AuthSecretEnv = "ESCROWD_AUTH_SECRET"
	}
}

func validate(cfg *Config) error {
	if cfg.Genesis.FeeBasisPoints > 1000 {
		return fmt.Errorf("config: genesis fee basis points %d above maximum 1000", cfg.Genesis.FeeBasisPoints)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
