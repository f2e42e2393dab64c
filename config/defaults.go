package config

import "fmt"

// Default returns the default runtime configuration for the given
// network.
func Default(network NetworkType) *Config {
	params := ParamsFor(network)
	return &Config{
		Network:    network,
		DataDir:    DefaultDataDir(),
		IndexSats:  true,
		IndexRunes: false,
		RPC: RPCConfig{
			URL: defaultRPCURL(network, params.DefaultRPCPort),
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

func defaultRPCURL(network NetworkType, port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}
