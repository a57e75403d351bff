package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Health HealthConfig
	Redis  RedisConfig
	Chain  ChainConfig
	Ledger LedgerConfig
	Worker WorkerConfig
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	AdminKey string `mapstructure:"admin_key"`
}

type HealthConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	RPCURL                 string `mapstructure:"rpc_url"`
	ChainID                int64  `mapstructure:"chain_id"`
	ContractAddress        string `mapstructure:"contract_address"`
	IssuerPrivateKey       string `mapstructure:"issuer_private_key"`
	IssuerKeystore         string `mapstructure:"issuer_keystore"`
	IssuerKeystorePassword string `mapstructure:"issuer_keystore_password"`
}

// LedgerConfig selects where contract state lives and seeds it on first start.
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
	// Admin defaults to the issuer key's address.
	Admin   string   `mapstructure:"admin"`
	Issuers []string `mapstructure:"issuers"`
}

type WorkerConfig struct {
	QueueTimeoutSec int `mapstructure:"queue_timeout_sec"`
	ResultTTLSec    int `mapstructure:"result_ttl_sec"`
}

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("health.port", 9090)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("ledger.backend", BackendBadger)
	v.SetDefault("ledger.data_dir", "/data/ledger")
	v.SetDefault("worker.queue_timeout_sec", 5)
	v.SetDefault("worker.result_ttl_sec", 86400)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                    "PORT",
		"server.admin_key":               "ADMIN_API_KEY",
		"health.port":                    "HEALTH_PORT",
		"redis.addr":                     "REDIS_ADDR",
		"redis.password":                 "REDIS_PASSWORD",
		"chain.rpc_url":                  "RPC_URL",
		"chain.chain_id":                 "CHAIN_ID",
		"chain.contract_address":         "VOUCHER_CONTRACT",
		"chain.issuer_private_key":       "ISSUER_SIGNING_KEY",
		"chain.issuer_keystore":          "ISSUER_KEYSTORE",
		"chain.issuer_keystore_password": "ISSUER_KEYSTORE_PASSWORD",
		"ledger.backend":                 "LEDGER_BACKEND",
		"ledger.data_dir":                "LEDGER_DATA_DIR",
		"ledger.admin":                   "LEDGER_ADMIN",
		"ledger.issuers":                 "LEDGER_ISSUERS",
		"worker.queue_timeout_sec":       "QUEUE_TIMEOUT_SEC",
		"worker.result_ttl_sec":          "RESULT_TTL_SEC",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.ContractAddress, "VOUCHER_CONTRACT"},
		{c.Server.AdminKey, "ADMIN_API_KEY"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.IssuerPrivateKey == "" && c.Chain.IssuerKeystore == "" {
		return fmt.Errorf("required config missing: ISSUER_SIGNING_KEY or ISSUER_KEYSTORE")
	}
	if c.Chain.RPCURL == "" && c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: RPC_URL or CHAIN_ID")
	}
	for name, addr := range map[string]string{"VOUCHER_CONTRACT": c.Chain.ContractAddress, "LEDGER_ADMIN": c.Ledger.Admin} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid address for %s: %q", name, addr)
		}
	}
	for _, addr := range c.Ledger.Issuers {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid address in LEDGER_ISSUERS: %q", addr)
		}
	}
	switch c.Ledger.Backend {
	case BackendMemory, BackendBadger, BackendRedis:
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}
	return nil
}
