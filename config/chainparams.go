package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// =============================================================================
// Protocol Parameters (per network, fixed)
// Unlike the teacher's Genesis (consensus rules every node must agree
// on to stay in sync), these never flow into consensus: they only tell
// this indexer which activation heights and defaults apply to the
// network it's pointed at. Getting one wrong produces a differently
// populated index, not a fork.
// =============================================================================

// ChainParams holds the per-network parameters spec.md §6 groups under
// "chain — selects genesis + parameters (minimum rune height, first
// inscription height)".
type ChainParams struct {
	Network NetworkType `json:"network"`

	// FirstInscriptionHeight is the height below which envelopes are
	// parsed but never turned into inscriptions (§4.5, driver.Params).
	FirstInscriptionHeight uint64 `json:"first_inscription_height"`

	// MinimumRuneHeight is the height below which runestones are
	// ignored outright, even with IndexRunes enabled: the real protocol
	// didn't exist yet on this network before this height.
	MinimumRuneHeight uint64 `json:"minimum_rune_height"`

	// DefaultRPCPort is Bitcoin Core's default JSON-RPC port for this
	// network, used when RPC.URL doesn't specify one.
	DefaultRPCPort int `json:"default_rpc_port"`

	// Bech32 human-readable part for addresses on this network (§6
	// export format's address column).
	Bech32HRP string `json:"bech32_hrp"`
}

// Savepoint/reorg policy constants (spec.md §4.8/§4.9). Unlike
// ChainParams, these don't vary per network — they're a fixed property
// of the durability/recovery design itself — so they're plain
// constants rather than another ChainParams field.
const (
	// DefaultSavepointInterval is how often (in blocks) a durable
	// snapshot is taken under Durability == Immediate.
	DefaultSavepointInterval uint64 = 10

	// DefaultMaxSavepoints bounds how many savepoints are kept (FIFO
	// eviction) and, with DefaultSavepointInterval, how deep a reorg
	// can be recovered without a fresh sync.
	DefaultMaxSavepoints uint64 = 2

	// DefaultChainTipDistance is how close to the node's reported
	// header tip indexing must be before a savepoint is taken at all,
	// avoiding snapshot overhead during bulk catch-up.
	DefaultChainTipDistance uint64 = 21
)

// MainnetParams returns Bitcoin mainnet's parameters.
func MainnetParams() *ChainParams {
	return &ChainParams{
		Network:                Mainnet,
		FirstInscriptionHeight: 767_430,
		MinimumRuneHeight:      840_000,
		DefaultRPCPort:         8332,
		Bech32HRP:              "bc",
	}
}

// TestnetParams returns Bitcoin testnet3's parameters.
func TestnetParams() *ChainParams {
	return &ChainParams{
		Network:                Testnet,
		FirstInscriptionHeight: 0,
		MinimumRuneHeight:      2_583_205,
		DefaultRPCPort:         18332,
		Bech32HRP:              "tb",
	}
}

// SignetParams returns signet's parameters.
func SignetParams() *ChainParams {
	return &ChainParams{
		Network:                Signet,
		FirstInscriptionHeight: 0,
		MinimumRuneHeight:      0,
		DefaultRPCPort:         38332,
		Bech32HRP:              "tb",
	}
}

// RegtestParams returns regtest's parameters: no activation delay for
// either feature, since a local test chain has no history to ignore.
func RegtestParams() *ChainParams {
	return &ChainParams{
		Network:                Regtest,
		FirstInscriptionHeight: 0,
		MinimumRuneHeight:      0,
		DefaultRPCPort:         18443,
		Bech32HRP:              "bcrt",
	}
}

// ParamsFor returns the parameters for network, defaulting to mainnet
// for an unrecognized value.
func ParamsFor(network NetworkType) *ChainParams {
	switch network {
	case Testnet:
		return TestnetParams()
	case Signet:
		return SignetParams()
	case Regtest:
		return RegtestParams()
	default:
		return MainnetParams()
	}
}

// LoadChainParams loads parameters overridden from a file, e.g. for a
// custom signet/regtest deployment with its own activation heights.
func LoadChainParams(path string) (*ChainParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chain params file: %w", err)
	}
	var p ChainParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing chain params file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chain params: %w", err)
	}
	return &p, nil
}

// Save writes the parameters to a file, e.g. to pin down a custom
// signet/regtest deployment's activation heights for later reuse.
func (p *ChainParams) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding chain params: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing chain params file: %w", err)
	}
	return nil
}

// Validate checks the parameters for obvious mistakes.
func (p *ChainParams) Validate() error {
	switch p.Network {
	case Mainnet, Testnet, Signet, Regtest:
	default:
		return fmt.Errorf("unknown network: %q", p.Network)
	}
	if p.DefaultRPCPort <= 0 || p.DefaultRPCPort > 65535 {
		return fmt.Errorf("default_rpc_port must be in range (0, 65535]")
	}
	if p.Bech32HRP == "" {
		return fmt.Errorf("bech32_hrp is required")
	}
	return nil
}

// Hash returns a BLAKE3 hash of the parameters, used to confirm two
// nodes (or two runs of the same node) agree on which network and
// activation heights they indexed against.
func (p *ChainParams) Hash() (types.Hash, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
