// Package config handles application configuration.
//
// Configuration is split into two categories, the way the teacher's
// node config is: protocol rules (ChainParams, fixed per network, never
// user-overridable) and node runtime settings (Config).
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies which Bitcoin network the indexer is pointed at.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Signet  NetworkType = "signet"
	Regtest NetworkType = "regtest"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration (spec.md §6
// "Configuration inputs recognized"). None of them are consensus rules,
// though IndexSats, IndexRunes and HeightLimit change which tables a
// reindex fills and how far it goes.
type Config struct {
	// Core
	Network NetworkType `conf:"chain"`
	DataDir string      `conf:"datadir"`

	// IndexPath overrides where the index database lives; empty means
	// the default location under DataDir.
	IndexPath string `conf:"index_path"`

	// What to index
	IndexSats  bool `conf:"index_sats"`
	IndexRunes bool `conf:"index_runes"`

	// HeightLimit stops indexing at this height (exclusive), nil for no
	// limit.
	HeightLimit *uint64 `conf:"height_limit"`

	// DBCacheSize overrides the store's page cache size in bytes, nil
	// for the storage engine's own default.
	DBCacheSize *int `conf:"db_cache_size"`

	// Bitcoin Core RPC endpoint (C7 §6 "Node RPC (consumed)").
	RPC RPCConfig

	// Logging
	Log LogConfig
}

// RPCConfig holds the Bitcoin Core JSON-RPC endpoint this indexer polls.
type RPCConfig struct {
	URL      string `conf:"rpc.url"`
	User     string `conf:"rpc.user"`
	Password string `conf:"rpc.password"`
	Cookie   string `conf:"rpc.cookiefile"` // Bitcoin Core cookie-auth file, alternative to user/password.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-ord
//	macOS:   ~/Library/Application Support/KlingnetOrd
//	Windows: %APPDATA%\KlingnetOrd
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-ord"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetOrd")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetOrd")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetOrd")
	default:
		return filepath.Join(home, ".klingnet-ord")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// IndexDir returns the index database directory, honoring IndexPath
// when the operator set one explicitly.
func (c *Config) IndexDir() string {
	if c.IndexPath != "" {
		return c.IndexPath
	}
	return filepath.Join(c.ChainDataDir(), "index")
}

// SavepointsDir returns the savepoint manager's directory.
func (c *Config) SavepointsDir() string {
	return filepath.Join(c.ChainDataDir(), "savepoints")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingnet-ord.conf")
}
