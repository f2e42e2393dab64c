package runes

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/varint"
)

func hashByte(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func etchingScript(runeVal, divisibility, edictID, amount, output uint64) []byte {
	payload := encodeInts(tagRune, runeVal, tagDivisibility, divisibility, tagBody, edictID, amount, output)
	push := append([]byte{byte(len(payload))}, payload...)
	return append([]byte{OpReturn, protocolOp}, push...)
}

// TestEtchingAndEdict mirrors scenario S6: an etching with divisibility
// 2 and a self-referencing edict (id 0, amount 100, output 0) produces a
// RuneEntry with supply 100 and a matching output balance.
func TestEtchingAndEdict(t *testing.T) {
	const height = 120 * 210000 // epoch high enough that the phase-in minimum admits a small rune value
	u := NewUpdater(storage.NewMemory(), height, ordinal.FirstSat(height))

	txid := hashByte(1)
	scripts := [][]byte{etchingScript(12345, 2, 0, 100, 0)}

	if err := u.ProcessTransaction(0, txid, nil, scripts); err != nil {
		t.Fatal(err)
	}

	id := types.RuneId{Height: height, TxIndex: 0}
	entry, ok, err := u.store.Entry(id)
	if err != nil || !ok {
		t.Fatalf("expected rune entry: ok=%v err=%v", ok, err)
	}
	if entry.Divisibility != 2 {
		t.Errorf("divisibility = %d, want 2", entry.Divisibility)
	}
	if entry.Supply.Lo != 100 || entry.Supply.Hi != 0 {
		t.Errorf("supply = %+v, want 100", entry.Supply)
	}

	op := types.Outpoint{TxID: txid, Index: 0}
	bals, err := u.store.Balances(op)
	if err != nil {
		t.Fatal(err)
	}
	if len(bals) != 1 || bals[0].Amount.Lo != 100 {
		t.Fatalf("balances = %+v, want one balance of 100", bals)
	}
	if bals[0].ID != packRuneID(height, 0) {
		t.Errorf("balance id = %+v, want packed rune id", bals[0].ID)
	}
}

// TestUnallocatedRunesSweepToFirstNonOpReturnOutput verifies that runes
// carried in from an input with no matching edict land on the first
// non-OP_RETURN output.
func TestUnallocatedRunesSweepToFirstNonOpReturnOutput(t *testing.T) {
	db := storage.NewMemory()
	u := NewUpdater(db, 0, 0)

	spendOp := types.Outpoint{TxID: hashByte(9), Index: 0}
	id := varint.FromUint64(555)
	if err := u.store.PutBalances(spendOp, []Balance{{ID: id, Amount: varint.FromUint64(42)}}); err != nil {
		t.Fatal(err)
	}

	txid := hashByte(2)
	// OP_RETURN output (0) carries no rune message recognized here, and a
	// plain output (1) should receive the swept balance.
	scripts := [][]byte{{OpReturn}, {0x51}}
	if err := u.ProcessTransaction(1, txid, []types.Outpoint{spendOp}, scripts); err != nil {
		t.Fatal(err)
	}

	bals, err := u.store.Balances(types.Outpoint{TxID: txid, Index: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(bals) != 1 || bals[0].ID != id || bals[0].Amount.Lo != 42 {
		t.Fatalf("swept balances = %+v, want one balance of 42 for id 555", bals)
	}

	if remaining, _ := u.store.Balances(spendOp); len(remaining) != 0 {
		t.Errorf("expected input outpoint's balances to be consumed, got %+v", remaining)
	}
}
