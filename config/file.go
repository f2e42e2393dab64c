package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads runtime configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a runtime config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "chain", "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value
	case "index_path":
		cfg.IndexPath = value

	case "index_sats":
		cfg.IndexSats = parseBool(value)
	case "index_runes":
		cfg.IndexRunes = parseBool(value)

	case "height_limit":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.HeightLimit = &n

	case "db_cache_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.DBCacheSize = &n

	case "rpc.url":
		cfg.RPC.URL = value
	case "rpc.user":
		cfg.RPC.User = value
	case "rpc.password":
		cfg.RPC.Password = value
	case "rpc.cookiefile":
		cfg.RPC.Cookie = value

	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default runtime configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	params := ParamsFor(network)
	content := `# Klingnet Ord Configuration
#
# This file contains runtime settings only. Per-network activation
# heights live in config.ChainParams and are not user-editable here.

# Network: mainnet, testnet, signet, or regtest
chain = ` + string(network) + `

# Data directory (default: ~/.klingnet-ord)
# datadir = ~/.klingnet-ord

# Override the index database location (default: <datadir>/<chain>/index)
# index_path =

# ============================================================================
# Indexing
# ============================================================================

index_sats = true
index_runes = false

# Stop indexing at this height (exclusive); unset means no limit.
# height_limit =

# Store page cache size in bytes; unset means the storage engine's default.
# db_cache_size =

# ============================================================================
# Bitcoin Core RPC
# ============================================================================

rpc.url = http://127.0.0.1:` + strconv.Itoa(params.DefaultRPCPort) + `
# rpc.user =
# rpc.password =
# rpc.cookiefile = ~/.bitcoin/.cookie

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
