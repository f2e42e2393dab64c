package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Indexing
	IndexPath    string
	HeightLimit  string
	DBCacheSize  string

	// RPC
	RPCURL      string
	RPCUser     string
	RPCPassword string
	RPCCookie   string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// One-shot export mode (§6): dump the index to a file ("-" for
	// stdout) and exit instead of indexing.
	Export          string
	ExportAddresses bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetIndexSats  bool
	IndexSats     bool
	SetIndexRunes bool
	IndexRunes    bool
	SetLogJSON    bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("klingnet-ord", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "chain", "", "Network: mainnet, testnet, signet, or regtest")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Indexing
	fs.BoolVar(&f.IndexSats, "index-sats", true, "Track individual sat locations (C4)")
	fs.BoolVar(&f.IndexRunes, "index-runes", false, "Track rune etchings/transfers (C6)")
	fs.StringVar(&f.IndexPath, "index-path", "", "Override the index database location")
	fs.StringVar(&f.HeightLimit, "height-limit", "", "Stop indexing at this height (exclusive)")
	fs.StringVar(&f.DBCacheSize, "db-cache-size", "", "Store page cache size in bytes")

	// RPC
	fs.StringVar(&f.RPCURL, "rpc-url", "", "Bitcoin Core JSON-RPC URL")
	fs.StringVar(&f.RPCUser, "rpc-user", "", "Bitcoin Core RPC username")
	fs.StringVar(&f.RPCPassword, "rpc-password", "", "Bitcoin Core RPC password")
	fs.StringVar(&f.RPCCookie, "rpc-cookiefile", "", "Bitcoin Core RPC cookie-auth file")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	// Export
	fs.StringVar(&f.Export, "export", "", "Dump the index in the §6 export format to this file (\"-\" for stdout) and exit")
	fs.BoolVar(&f.ExportAddresses, "export-addresses", false, "Include the address column in --export output")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetIndexSats = isFlagSet(fs, "index-sats")
	f.SetIndexRunes = isFlagSet(fs, "index-runes")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.IndexPath != "" {
		cfg.IndexPath = f.IndexPath
	}

	if f.SetIndexSats {
		cfg.IndexSats = f.IndexSats
	}
	if f.SetIndexRunes {
		cfg.IndexRunes = f.IndexRunes
	}
	if f.HeightLimit != "" {
		if n, err := strconv.ParseUint(f.HeightLimit, 10, 64); err == nil {
			cfg.HeightLimit = &n
		}
	}
	if f.DBCacheSize != "" {
		if n, err := strconv.Atoi(f.DBCacheSize); err == nil {
			cfg.DBCacheSize = &n
		}
	}

	if f.RPCURL != "" {
		cfg.RPC.URL = f.RPCURL
	}
	if f.RPCUser != "" {
		cfg.RPC.User = f.RPCUser
	}
	if f.RPCPassword != "" {
		cfg.RPC.Password = f.RPCPassword
	}
	if f.RPCCookie != "" {
		cfg.RPC.Cookie = f.RPCCookie
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `Klingnet Ord - Bitcoin ordinals/inscriptions/runes indexer

Usage:
  klingnetd [options]
  klingnetd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --chain             Network: mainnet (default), testnet, signet, or regtest
  --datadir           Data directory (default: ~/.klingnet-ord)
  --config, -c        Config file path (default: <datadir>/klingnet-ord.conf)

Indexing Options:
  --index-sats        Track individual sat locations (default: true)
  --index-runes       Track rune etchings/transfers (default: false)
  --index-path        Override the index database location
  --height-limit      Stop indexing at this height (exclusive)
  --db-cache-size     Store page cache size in bytes

RPC Options:
  --rpc-url           Bitcoin Core JSON-RPC URL (default: http://127.0.0.1:<port>)
  --rpc-user          Bitcoin Core RPC username
  --rpc-password      Bitcoin Core RPC password
  --rpc-cookiefile    Bitcoin Core RPC cookie-auth file (alternative to user/password)

Logging Options:
  --log-level         Log level: debug, info, warn, error (default: info)
  --log-file          Log file path (default: logs/klingnet-ord.log in the data dir)
  --log-json          Output logs as JSON

Export:
  --export            Dump the index in the export format to this file
                       ("-" for stdout) and exit instead of indexing
  --export-addresses  Include the address column in --export output

Examples:
  # Index mainnet against a local Bitcoin Core node using cookie auth
  klingnetd --rpc-cookiefile=~/.bitcoin/.cookie

  # Index testnet with runes enabled
  klingnetd --chain=testnet --index-runes --rpc-user=user --rpc-password=pass

  # Start with a custom data directory
  klingnetd --datadir=/path/to/data
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("klingnetd version 0.1.0")
		os.Exit(0)
	}

	network := Mainnet
	if flags.Network != "" {
		network = NetworkType(strings.ToLower(flags.Network))
	}

	cfg := Default(network)

	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default
// config file if they don't already exist. Idempotent.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.IndexDir(),
		cfg.SavepointsDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
