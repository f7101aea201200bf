package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TOLOTTO_RPC_PORT.
const EnvPrefix = "TOLOTTO_"

// LotteryGenesis holds the lottery parameters written into state at genesis.
type LotteryGenesis struct {
	Admins           []string `json:"admins" yaml:"admins" env:"ADMINS"`    // pubkey hexes
	Oracles          []string `json:"oracles" yaml:"oracles" env:"ORACLES"` // pubkey hexes
	PickLength       int      `json:"pick_length" yaml:"pick_length" env:"PICK_LENGTH"`
	Base             uint8    `json:"base" yaml:"base" env:"BASE"`
	MaxTicketsPerBuy int      `json:"max_tickets_per_buy" yaml:"max_tickets_per_buy" env:"MAX_TICKETS_PER_BUY"`
	Treasury         string   `json:"treasury" yaml:"treasury" env:"TREASURY"`
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `json:"chain_id" yaml:"chain_id" env:"CHAIN_ID"`
	Alloc   map[string]uint64 `json:"alloc" yaml:"alloc"` // pubkey hex → initial balance
	Lottery LotteryGenesis    `json:"lottery" yaml:"lottery" envPrefix:"LOTTERY_"`
}

// Config holds all node configuration.
type Config struct {
	NodeID          string        `json:"node_id" yaml:"node_id" env:"NODE_ID"`
	DataDir         string        `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`
	RPCPort         int           `json:"rpc_port" yaml:"rpc_port" env:"RPC_PORT"`
	RPCAuthToken    string        `json:"rpc_auth_token" yaml:"rpc_auth_token" env:"RPC_AUTH_TOKEN"` // bearer token for sendTx; empty disables
	RPCRateLimit    float64       `json:"rpc_rate_limit" yaml:"rpc_rate_limit" env:"RPC_RATE_LIMIT"` // requests per second; 0 disables
	RPCBurst        int           `json:"rpc_burst" yaml:"rpc_burst" env:"RPC_BURST"`
	BlockIntervalMS int           `json:"block_interval_ms" yaml:"block_interval_ms" env:"BLOCK_INTERVAL_MS"`
	MaxBlockTxs     int           `json:"max_block_txs" yaml:"max_block_txs" env:"MAX_BLOCK_TXS"` // max transactions per block; 0 → 500
	DrawSchedule    string        `json:"draw_schedule" yaml:"draw_schedule" env:"DRAW_SCHEDULE"` // cron spec for the draw keeper; empty disables
	LogLevel        string        `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string        `json:"log_format" yaml:"log_format" env:"LOG_FORMAT"` // "text" or "json"
	Genesis         GenesisConfig `json:"genesis" yaml:"genesis" envPrefix:"GENESIS_"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:          "node-" + uuid.NewString()[:8],
		DataDir:         "./data",
		RPCPort:         8545,
		RPCRateLimit:    50,
		RPCBurst:        100,
		BlockIntervalMS: 1000,
		MaxBlockTxs:     500,
		DrawSchedule:    "@every 30s",
		LogLevel:        "info",
		LogFormat:       "text",
		Genesis: GenesisConfig{
			ChainID: "tolotto-dev",
			Alloc:   map[string]uint64{},
			Lottery: LotteryGenesis{
				PickLength:       4,
				Base:             10,
				MaxTicketsPerBuy: 50,
				Treasury:         "lottery-treasury",
			},
		},
	}
}

// Load reads a config file from path, JSON or YAML by extension, then
// applies TOLOTTO_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode json config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides cfg from TOLOTTO_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis chain_id is required")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port %d out of range", c.RPCPort)
	}
	if c.BlockIntervalMS <= 0 {
		return fmt.Errorf("block_interval_ms must be > 0")
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Save writes the config to path as formatted JSON, or YAML when the
// extension asks for it.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
