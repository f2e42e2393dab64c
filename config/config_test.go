package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultIsValidForEveryNetwork(t *testing.T) {
	for _, network := range []NetworkType{Mainnet, Testnet, Signet, Regtest} {
		cfg := Default(network)
		cfg.RPC.User = "user" // Default() leaves auth unset; satisfy Validate for this check.
		if err := Validate(cfg); err != nil {
			t.Errorf("Default(%s) failed Validate: %v", network, err)
		}
	}
}

func TestValidateRejectsMissingRPCAuth(t *testing.T) {
	cfg := Default(Mainnet)
	if err := Validate(cfg); err == nil {
		t.Error("expected error for config with no rpc.user and no rpc.cookiefile")
	}
}

func TestValidateRejectsUnknownNetwork(t *testing.T) {
	cfg := Default(Mainnet)
	cfg.Network = "doge"
	cfg.RPC.Cookie = "/tmp/.cookie"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unknown network")
	}
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "klingnet-ord.conf")

	if err := WriteDefaultConfig(path, Testnet); err != nil {
		t.Fatal(err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Default(Testnet)
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatal(err)
	}
	if cfg.Network != Testnet {
		t.Errorf("Network = %s, want %s", cfg.Network, Testnet)
	}
	if !cfg.IndexSats {
		t.Error("IndexSats = false, want true (default config file's own default)")
	}
}

func TestApplyFlagsOverridesHeightLimit(t *testing.T) {
	cfg := Default(Mainnet)
	f := &Flags{HeightLimit: "840000"}
	ApplyFlags(cfg, f)
	if cfg.HeightLimit == nil || *cfg.HeightLimit != 840000 {
		t.Errorf("HeightLimit = %v, want 840000", cfg.HeightLimit)
	}
}

func TestChainParamsForEveryNetwork(t *testing.T) {
	for _, network := range []NetworkType{Mainnet, Testnet, Signet, Regtest} {
		p := ParamsFor(network)
		if err := p.Validate(); err != nil {
			t.Errorf("ParamsFor(%s).Validate() = %v", network, err)
		}
		if p.Network != network {
			t.Errorf("ParamsFor(%s).Network = %s", network, p.Network)
		}
	}
}

func TestChainParamsSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")

	want := MainnetParams()
	if err := want.Save(path); err != nil {
		t.Fatal(err)
	}

	got, err := LoadChainParams(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.FirstInscriptionHeight != want.FirstInscriptionHeight || got.Bech32HRP != want.Bech32HRP {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestChainParamsHashIsDeterministic(t *testing.T) {
	p := MainnetParams()
	h1, err := p.Hash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := p.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("Hash() is not deterministic for identical params")
	}

	other := TestnetParams()
	h3, err := other.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h3 {
		t.Error("Hash() collided for different networks")
	}
}
