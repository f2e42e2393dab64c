// Package inscription implements the inscription tracking components of
// the indexer: envelope extraction from witness scripts (C2) and the
// curse/reinscription/transfer state machine (C5).
package inscription

import (
	"github.com/Klingon-tech/klingnet-chain/internal/script"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Recognized envelope field tags (§4.2).
const (
	TagContentType = 1
	TagPointer     = 2
	TagParent      = 3
)

// Envelope is one parsed `OP_FALSE OP_IF "ord" ... OP_ENDIF` construct
// found in a witness's tapscript, before curse/position rules (C5) are
// applied.
type Envelope struct {
	InputIndex int // which transaction input's witness this came from
	Offset     int // this envelope's index within that input's witness (0 = first)

	ContentType []byte
	Body        []byte

	Pointer    uint64
	HasPointer bool

	Parent    types.InscriptionId
	HasParent bool

	UnrecognizedEvenField bool
	DuplicateField        bool
}

// protocolID is the literal pushed immediately after OP_FALSE OP_IF to
// mark an ordinals envelope, as opposed to any other OP_IF-gated witness
// script convention.
var protocolID = []byte("ord")

// ParseEnvelopes scans a single input's witness stack for inscription
// envelopes. The tapscript, when this witness is a taproot script-path
// spend, is the second-to-last witness element (script, then control
// block); a key-path spend or a too-short witness carries no tapscript
// and yields no envelopes — not an error, since most inputs simply don't
// inscribe anything.
func ParseEnvelopes(inputIndex int, witness [][]byte) []Envelope {
	if len(witness) < 2 {
		return nil
	}
	tapscript := witness[len(witness)-2]
	instrs := script.Tokenize(tapscript)

	var out []Envelope
	i := 0
	for i < len(instrs) {
		if !(instrs[i].Op == script.OpFalse && i+1 < len(instrs) && instrs[i+1].Op == script.OpIf) {
			i++
			continue
		}
		// Candidate envelope start; next push must be the protocol id.
		j := i + 2
		if j >= len(instrs) || !instrs[j].IsPush() || !bytesEqual(instrs[j].Data, protocolID) {
			i++
			continue
		}
		j++
		env := Envelope{InputIndex: inputIndex, Offset: len(out)}
		seen := map[uint64]bool{}
		inBody := false
		var body [][]byte
		malformed := false
		for j < len(instrs) && instrs[j].Op != script.OpEndIf {
			if !instrs[j].IsPush() {
				// Non-push inside the envelope body other than OP_ENDIF:
				// not a valid envelope construct.
				malformed = true
				break
			}
			if inBody {
				body = append(body, instrs[j].Data)
				j++
				continue
			}
			tagPush := instrs[j].Data
			if len(tagPush) == 0 {
				inBody = true
				j++
				continue
			}
			tag := leUint(tagPush)
			j++
			if j >= len(instrs) || !instrs[j].IsPush() {
				malformed = true
				break
			}
			value := instrs[j].Data
			j++
			if seen[tag] {
				env.DuplicateField = true
			}
			seen[tag] = true
			switch tag {
			case TagContentType:
				env.ContentType = value
			case TagPointer:
				env.Pointer = leUint(value)
				env.HasPointer = true
			case TagParent:
				env.Parent = parentFromBytes(value)
				env.HasParent = true
			default:
				if tag%2 == 0 {
					env.UnrecognizedEvenField = true
				}
			}
		}
		if !malformed && j < len(instrs) && instrs[j].Op == script.OpEndIf {
			for _, b := range body {
				env.Body = append(env.Body, b...)
			}
			out = append(out, env)
			i = j + 1
			continue
		}
		// A started envelope (OP_FALSE OP_IF "ord" already matched) that
		// never reaches a closing OP_ENDIF — whether because of a non-push
		// opcode inside it or because the tapscript runs out first —
		// invalidates every envelope already found in this witness, not
		// just this one: original_source/src/inscription.rs's
		// InscriptionParser::parse collects every inscription in a witness
		// into a single Result, so one malformed construct anywhere in the
		// witness discards all of it, including inscriptions that parsed
		// cleanly earlier in the same witness. Scanning that never matches
		// an envelope start at all (the i++/continue paths above) is not a
		// failure and does not reach here.
		return nil
	}
	return out
}

// leUint interprets b as an unsigned little-endian integer, as Bitcoin
// script minimal-push numeric encodings do.
func leUint(b []byte) uint64 {
	var v uint64
	for i, c := range b {
		if i >= 8 {
			break
		}
		v |= uint64(c) << (8 * uint(i))
	}
	return v
}

// parentFromBytes decodes a (possibly truncated) 36-byte InscriptionId:
// 32-byte little-endian txid followed by a little-endian index, with
// trailing all-zero bytes elided by the encoder.
func parentFromBytes(b []byte) types.InscriptionId {
	var id types.InscriptionId
	n := len(b)
	if n > 32 {
		n = 32
	}
	for i := 0; i < n; i++ {
		id.TxID[31-i] = b[i]
	}
	if len(b) > 32 {
		id.Index = uint32(leUint(b[32:]))
	}
	return id
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
