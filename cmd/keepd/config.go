package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	keep "github.com/trustkeep/keep"
)

// GenesisAccount is a wallet funded at startup, before the server
// accepts any request.
type GenesisAccount struct {
	Address keep.Address
	Balance int64
}

// Config is the resolved daemon configuration.
type Config struct {
	ListenAddr string
	Genesis    []GenesisAccount
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "127.0.0.1:8420",
	}
}

type fileConfig struct {
	ListenAddr string        `toml:"listen_addr"`
	Accounts   []fileAccount `toml:"account"`
}

type fileAccount struct {
	Address string `toml:"address"`
	Balance int64  `toml:"balance"`
}

func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		addr := strings.TrimSpace(raw.ListenAddr)
		if addr != "" {
			cfg.ListenAddr = addr
		}
	}

	for i, acc := range raw.Accounts {
		addr, err := keep.ParseAddress(strings.TrimSpace(acc.Address))
		if err != nil {
			return Config{}, fmt.Errorf("account %d: %w", i, err)
		}
		if acc.Balance <= 0 {
			return Config{}, fmt.Errorf("account %d: non-positive balance: %d", i, acc.Balance)
		}
		cfg.Genesis = append(cfg.Genesis, GenesisAccount{
			Address: addr,
			Balance: acc.Balance,
		})
	}

	return cfg, nil
}
