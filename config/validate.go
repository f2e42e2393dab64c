package config

import "fmt"

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Testnet, Signet, Regtest:
	default:
		return fmt.Errorf("chain must be one of %q, %q, %q, %q", Mainnet, Testnet, Signet, Regtest)
	}
	if cfg.RPC.URL == "" {
		return fmt.Errorf("rpc.url is required")
	}
	if cfg.RPC.Cookie == "" && cfg.RPC.User == "" {
		return fmt.Errorf("either rpc.cookiefile or rpc.user/rpc.password must be set")
	}
	if cfg.HeightLimit != nil && *cfg.HeightLimit == 0 {
		return fmt.Errorf("height_limit must be positive if set")
	}
	if cfg.DBCacheSize != nil && *cfg.DBCacheSize < 0 {
		return fmt.Errorf("db_cache_size must not be negative")
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	return nil
}
