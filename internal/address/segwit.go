package address

import "fmt"

// EncodeSegwitAddress renders a witness program as a bech32 (version 0) or
// bech32m (version 1+) address, per BIP-173/BIP-350.
func EncodeSegwitAddress(hrp string, version byte, program []byte) (string, error) {
	if version > 16 {
		return "", fmt.Errorf("address: invalid witness version %d", version)
	}
	if len(program) < 2 || len(program) > 40 {
		return "", fmt.Errorf("address: invalid witness program length %d", len(program))
	}
	if version == 0 && len(program) != 20 && len(program) != 32 {
		return "", fmt.Errorf("address: witness v0 program must be 20 or 32 bytes, got %d", len(program))
	}

	converted, err := convertBits(program, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("address: convert witness program: %w", err)
	}
	data := make([]byte, 0, len(converted)+1)
	data = append(data, version)
	data = append(data, converted...)

	return encode(hrp, data, checksumConst(version))
}

// DecodeSegwitAddress parses a bech32/bech32m segwit address, verifying
// the checksum scheme matches the witness version it claims (a v0 program
// checksummed as bech32m, or v1+ checksummed as plain bech32, is rejected
// per BIP-350).
func DecodeSegwitAddress(s string) (hrp string, version byte, program []byte, err error) {
	hrp, data, constant, err := decode(s)
	if err != nil {
		return "", 0, nil, err
	}
	if len(data) < 1 {
		return "", 0, nil, fmt.Errorf("address: missing witness version")
	}
	version = data[0]
	if version > 16 {
		return "", 0, nil, fmt.Errorf("address: invalid witness version %d", version)
	}
	if version == 0 && constant != bech32Const {
		return "", 0, nil, fmt.Errorf("address: witness v0 must use bech32, not bech32m")
	}
	if version != 0 && constant != bech32mConst {
		return "", 0, nil, fmt.Errorf("address: witness v%d must use bech32m, not bech32", version)
	}

	program, err = convertBits(data[1:], 5, 8, false)
	if err != nil {
		return "", 0, nil, fmt.Errorf("address: convert witness program: %w", err)
	}
	if len(program) < 2 || len(program) > 40 {
		return "", 0, nil, fmt.Errorf("address: invalid witness program length %d", len(program))
	}
	if version == 0 && len(program) != 20 && len(program) != 32 {
		return "", 0, nil, fmt.Errorf("address: witness v0 program must be 20 or 32 bytes, got %d", len(program))
	}
	return hrp, version, program, nil
}

// AddressFromScript decodes scriptPubKey into its address under hrp,
// recognizing only the standard segwit output patterns the export format
// needs (§6): v0 (OP_0 <20|32 bytes>, P2WPKH/P2WSH) and v1 (OP_1 <32
// bytes>, P2TR). General address-index maintenance for other script
// types (legacy P2PKH/P2SH, bare multisig) is out of scope.
func AddressFromScript(scriptPubKey []byte, hrp string) (string, error) {
	version, program, ok := parseWitnessProgram(scriptPubKey)
	if !ok {
		return "", fmt.Errorf("address: script is not a recognized segwit output")
	}
	return EncodeSegwitAddress(hrp, version, program)
}

// parseWitnessProgram matches scriptPubKey against OP_n <push> where n is
// OP_0 (0x00) or OP_1..OP_16 (0x51..0x60), and the push is a direct data
// push of 2-40 bytes. Returns ok=false for anything else.
func parseWitnessProgram(script []byte) (version byte, program []byte, ok bool) {
	if len(script) < 4 {
		return 0, nil, false
	}
	op := script[0]
	switch {
	case op == 0x00:
		version = 0
	case op >= 0x51 && op <= 0x60:
		version = op - 0x50
	default:
		return 0, nil, false
	}

	pushLen := int(script[1])
	if pushLen < 2 || pushLen > 40 {
		return 0, nil, false
	}
	if len(script) != 2+pushLen {
		return 0, nil, false
	}
	return version, script[2:], true
}
