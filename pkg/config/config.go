// Package config loads the node's configuration from environment
// variables via viper.AutomaticEnv, the same library the teacher wires
// for config, with no TOML/YAML file loading: interactive config-file
// loading is out of scope for this node, but the teacher's
// environment-driven viper pattern is kept doing real work instead of
// being dropped outright.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is every setting the node reads from its environment; each
// mapstructure key is the lower-case form of the environment variable it
// is read from (PERSISTED_CHAIN_PATH, DB_PATH, and so on).
type Config struct {
	PersistedChainPath string `mapstructure:"persisted_chain_path"`
	DBPath             string `mapstructure:"db_path"`
	MinerWalletSeedPath string `mapstructure:"miner_wallet_seed_path"`
	MinerWalletPassword string `mapstructure:"miner_wallet_password"`
	MaxMiningAttempts   uint64 `mapstructure:"max_mining_attempts"`
	P2PPort             int    `mapstructure:"p2p_port"`
	Peers               []string
	HTTPPort            int    `mapstructure:"http_port"`
	PIDFilePath         string `mapstructure:"pid_file_path"`
}

// Load reads the node's configuration from its environment, applying the
// defaults a fresh single-node devnet would use.
func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("persisted_chain_path", "data/bc.json")
	v.SetDefault("db_path", "data/ledger.db")
	v.SetDefault("miner_wallet_seed_path", "data/miner.keystore")
	v.SetDefault("miner_wallet_password", "")
	v.SetDefault("max_mining_attempts", uint64(10_000_000))
	v.SetDefault("p2p_port", 7333)
	v.SetDefault("http_port", 8080)
	v.SetDefault("pid_file_path", "data/synnergychain.pid")

	cfg := Config{
		PersistedChainPath:  v.GetString("persisted_chain_path"),
		DBPath:              v.GetString("db_path"),
		MinerWalletSeedPath: v.GetString("miner_wallet_seed_path"),
		MinerWalletPassword: v.GetString("miner_wallet_password"),
		MaxMiningAttempts:   v.GetUint64("max_mining_attempts"),
		P2PPort:             v.GetInt("p2p_port"),
		HTTPPort:            v.GetInt("http_port"),
		PIDFilePath:         v.GetString("pid_file_path"),
	}

	if raw := v.GetString("peers"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Peers = append(cfg.Peers, p)
			}
		}
	}

	return cfg
}
