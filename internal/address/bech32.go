// Package address encodes Bitcoin segwit scriptPubKeys as bech32/bech32m
// addresses, needed by the export format (§6) to render an inscription's
// current owner. Adapted from pkg/types/bech32.go's plain BIP-173 codec:
// that encoder only ever produced one checksum constant (the original
// bech32 constant, 1), which is correct for witness version 0 (P2WPKH/
// P2WSH) but wrong for version 1+ (P2TR), which BIP-350 requires to use
// the distinct bech32m constant instead. This package generalizes the
// checksum step to take either constant and picks between them by
// witness version, the way BIP-350 describes.
package address

import (
	"fmt"
	"strings"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var charsetRev [128]int8

func init() {
	for i := range charsetRev {
		charsetRev[i] = -1
	}
	for i, c := range charset {
		charsetRev[c] = int8(i)
	}
}

// Checksum constants distinguishing bech32 (BIP-173, witness v0) from
// bech32m (BIP-350, witness v1+).
const (
	bech32Const  = uint32(1)
	bech32mConst = uint32(0x2bc830a3)
)

func checksumConst(witnessVersion byte) uint32 {
	if witnessVersion == 0 {
		return bech32Const
	}
	return bech32mConst
}

// encode renders hrp + "1" + data (already 5-bit values) + a 6-symbol
// checksum computed against constant.
func encode(hrp string, data []byte, constant uint32) (string, error) {
	if len(hrp) == 0 {
		return "", fmt.Errorf("address: empty HRP")
	}
	for _, c := range hrp {
		if c < 33 || c > 126 {
			return "", fmt.Errorf("address: invalid HRP character %q", c)
		}
	}
	chk := createChecksum(hrp, data, constant)

	var sb strings.Builder
	sb.Grow(len(hrp) + 1 + len(data) + 6)
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, b := range data {
		sb.WriteByte(charset[b])
	}
	for _, b := range chk {
		sb.WriteByte(charset[b])
	}
	return sb.String(), nil
}

// decode splits s into its HRP and 5-bit data (including the trailing
// checksum), verifying against whichever constant (bech32 or bech32m)
// matches.
func decode(s string) (hrp string, data5 []byte, constant uint32, err error) {
	if len(s) == 0 {
		return "", nil, 0, fmt.Errorf("address: empty string")
	}
	hasUpper, hasLower := false, false
	for _, c := range s {
		if c >= 'A' && c <= 'Z' {
			hasUpper = true
		}
		if c >= 'a' && c <= 'z' {
			hasLower = true
		}
	}
	if hasUpper && hasLower {
		return "", nil, 0, fmt.Errorf("address: mixed case")
	}
	s = strings.ToLower(s)

	sepIdx := strings.LastIndex(s, "1")
	if sepIdx < 1 || sepIdx+7 > len(s) {
		return "", nil, 0, fmt.Errorf("address: missing separator or too short")
	}
	hrp = s[:sepIdx]
	dataStr := s[sepIdx+1:]

	data5 = make([]byte, len(dataStr))
	for i, c := range dataStr {
		if c > 127 {
			return "", nil, 0, fmt.Errorf("address: invalid character %q", c)
		}
		val := charsetRev[c]
		if val < 0 {
			return "", nil, 0, fmt.Errorf("address: invalid character %q", c)
		}
		data5[i] = byte(val)
	}

	if verifyChecksum(hrp, data5, bech32Const) {
		return hrp, data5[:len(data5)-6], bech32Const, nil
	}
	if verifyChecksum(hrp, data5, bech32mConst) {
		return hrp, data5[:len(data5)-6], bech32mConst, nil
	}
	return "", nil, 0, fmt.Errorf("address: invalid checksum")
}

func polymod(values []byte) uint32 {
	gen := [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []byte {
	ret := make([]byte, 0, len(hrp)*2+1)
	for _, c := range hrp {
		ret = append(ret, byte(c>>5))
	}
	ret = append(ret, 0)
	for _, c := range hrp {
		ret = append(ret, byte(c&31))
	}
	return ret
}

func createChecksum(hrp string, data []byte, constant uint32) []byte {
	values := append(hrpExpand(hrp), data...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	mod := polymod(values) ^ constant
	ret := make([]byte, 6)
	for i := 0; i < 6; i++ {
		ret[i] = byte((mod >> uint(5*(5-i))) & 31)
	}
	return ret
}

func verifyChecksum(hrp string, data []byte, constant uint32) bool {
	return polymod(append(hrpExpand(hrp), data...)) == constant
}

// convertBits regroups data from fromBits-wide values to toBits-wide
// values, padding the final group with zero bits when pad is true.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := uint32(0)
	bits := uint(0)
	maxv := uint32((1 << toBits) - 1)
	var ret []byte

	for _, b := range data {
		if uint32(b)>>fromBits != 0 {
			return nil, fmt.Errorf("address: invalid data byte %d", b)
		}
		acc = acc<<fromBits | uint32(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}
	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else {
		if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
			return nil, fmt.Errorf("address: non-zero padding")
		}
	}
	return ret, nil
}
