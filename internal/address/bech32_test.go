package address

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeSegwitV0(t *testing.T) {
	program := make([]byte, 20)
	for i := range program {
		program[i] = byte(i)
	}
	addr, err := EncodeSegwitAddress("bc", 0, program)
	if err != nil {
		t.Fatal(err)
	}

	hrp, version, got, err := DecodeSegwitAddress(addr)
	if err != nil {
		t.Fatal(err)
	}
	if hrp != "bc" || version != 0 || !bytes.Equal(got, program) {
		t.Errorf("round trip = hrp=%s version=%d program=%x, want bc/0/%x", hrp, version, got, program)
	}
}

func TestEncodeDecodeSegwitV1Taproot(t *testing.T) {
	program := make([]byte, 32)
	for i := range program {
		program[i] = byte(i * 3)
	}
	addr, err := EncodeSegwitAddress("bc", 1, program)
	if err != nil {
		t.Fatal(err)
	}

	hrp, version, got, err := DecodeSegwitAddress(addr)
	if err != nil {
		t.Fatal(err)
	}
	if hrp != "bc" || version != 1 || !bytes.Equal(got, program) {
		t.Errorf("round trip = hrp=%s version=%d program=%x, want bc/1/%x", hrp, version, got, program)
	}
}

func TestDecodeRejectsWrongChecksumScheme(t *testing.T) {
	program := make([]byte, 32)
	// Encode a v1 program but force the bech32 (not bech32m) checksum,
	// simulating a BIP-350 violation.
	data := append([]byte{1}, mustConvertBits(t, program)...)
	addr, err := encode("bc", data, bech32Const)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := DecodeSegwitAddress(addr); err == nil {
		t.Error("expected error decoding v1 address checksummed with bech32, got nil")
	}
}

func mustConvertBits(t *testing.T, data []byte) []byte {
	t.Helper()
	out, err := convertBits(data, 8, 5, true)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestAddressFromScriptP2WPKH(t *testing.T) {
	program := bytes.Repeat([]byte{0xAB}, 20)
	script := append([]byte{0x00, 0x14}, program...)

	addr, err := AddressFromScript(script, "bc")
	if err != nil {
		t.Fatal(err)
	}
	_, version, got, err := DecodeSegwitAddress(addr)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 || !bytes.Equal(got, program) {
		t.Errorf("AddressFromScript P2WPKH = version=%d program=%x", version, got)
	}
}

func TestAddressFromScriptP2TR(t *testing.T) {
	program := bytes.Repeat([]byte{0xCD}, 32)
	script := append([]byte{0x51, 0x20}, program...)

	addr, err := AddressFromScript(script, "bc")
	if err != nil {
		t.Fatal(err)
	}
	_, version, got, err := DecodeSegwitAddress(addr)
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 || !bytes.Equal(got, program) {
		t.Errorf("AddressFromScript P2TR = version=%d program=%x", version, got)
	}
}

func TestAddressFromScriptRejectsUnrecognized(t *testing.T) {
	// Legacy P2PKH-style script: OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG.
	script := []byte{0x76, 0xa9, 0x14}
	script = append(script, bytes.Repeat([]byte{0x01}, 20)...)
	script = append(script, 0x88, 0xac)

	if _, err := AddressFromScript(script, "bc"); err == nil {
		t.Error("expected error for unrecognized script, got nil")
	}
}
