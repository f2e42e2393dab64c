// Package runes implements the fungible-token overlay: decoding
// runestone messages from transaction outputs (C3) and maintaining
// per-output balances and per-rune issuance metadata (C6).
package runes

import (
	"github.com/Klingon-tech/klingnet-chain/internal/script"
	"github.com/Klingon-tech/klingnet-chain/pkg/varint"
)

// OpReturn is the script opcode marking a provably-unspendable output,
// the only kind of output a runestone is ever carried in.
const OpReturn = 0x6a

// protocolOp is the single opcode pushed immediately after OP_RETURN to
// mark a runestone payload, as opposed to any other OP_RETURN use
// (the real runes protocol reserves OP_13 for this).
const protocolOp = script.Op1 + 12 // OP_13

// Field tags within the flattened varint stream, read in (tag, value)
// pairs the same way an inscription envelope reads its fields — an
// empty-valued Body tag (0) ends the field list and begins the edict
// stream.
const (
	tagBody         = 0
	tagRune         = 1
	tagDivisibility = 2
	tagSymbol       = 3
)

// Etching describes a new rune's issuance, carried at most once per
// runestone.
type Etching struct {
	Rune         varint.Uint128
	Divisibility uint8
	HasSymbol    bool
	Symbol       rune
}

// Edict allocates amount of rune id to the output-th output of the
// etching/edict transaction. id == 0 refers to this runestone's own
// fresh etching, if any.
type Edict struct {
	ID     varint.Uint128
	Amount varint.Uint128
	Output uint64
}

// Runestone is a fully decoded protocol message.
type Runestone struct {
	Etching *Etching
	Edicts  []Edict
}

// FindPayload scans a transaction's outputs (by script) for the first
// OP_RETURN output carrying a runestone and returns its flattened push
// data, concatenated. ok is false if no output carries one.
func FindPayload(outputScripts [][]byte) (payload []byte, ok bool) {
	for _, scr := range outputScripts {
		instrs := script.Tokenize(scr)
		if len(instrs) < 2 || instrs[0].Op != OpReturn || instrs[1].Op != protocolOp {
			continue
		}
		for _, in := range instrs[2:] {
			if !in.IsPush() {
				return nil, false
			}
			payload = append(payload, in.Data...)
		}
		return payload, true
	}
	return nil, false
}

// Decode parses a runestone payload. Any malformed encoding — a
// truncated varint, an edict without its full (id, amount, output)
// triple, a field tag appearing with no following value — yields
// ok=false: the transaction still executes, simply without rune
// effects, per §4.3.
func Decode(payload []byte) (rs Runestone, ok bool) {
	ints, ok := decodeAllVarints(payload)
	if !ok {
		return Runestone{}, false
	}

	i := 0
	next := func() (varint.Uint128, bool) {
		if i >= len(ints) {
			return varint.Uint128{}, false
		}
		v := ints[i]
		i++
		return v, true
	}

	var etching *Etching
	for i < len(ints) {
		tag, _ := next()
		if tag.IsZero() {
			break
		}
		val, ok := next()
		if !ok {
			return Runestone{}, false
		}
		switch tag.Lo {
		case tagRune:
			if etching == nil {
				etching = &Etching{}
			}
			etching.Rune = val
		case tagDivisibility:
			if etching == nil {
				etching = &Etching{}
			}
			etching.Divisibility = uint8(val.Lo)
		case tagSymbol:
			if etching == nil {
				etching = &Etching{}
			}
			etching.HasSymbol = true
			etching.Symbol = rune(val.Lo)
		default:
			// Unrecognized field: ignored, not fatal — the runes
			// overlay has no "must understand" even/odd rule of its
			// own the way envelopes do.
		}
	}

	var edicts []Edict
	for i < len(ints) {
		id, ok1 := next()
		amount, ok2 := next()
		output, ok3 := next()
		if !ok1 || !ok2 || !ok3 {
			return Runestone{}, false
		}
		edicts = append(edicts, Edict{ID: id, Amount: amount, Output: output.Lo})
	}

	return Runestone{Etching: etching, Edicts: edicts}, true
}

func decodeAllVarints(buf []byte) ([]varint.Uint128, bool) {
	var out []varint.Uint128
	for len(buf) > 0 {
		v, n, err := varint.Decode(buf)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
		buf = buf[n:]
	}
	return out, true
}
