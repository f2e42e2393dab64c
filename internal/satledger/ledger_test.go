package satledger

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
	"github.com/Klingon-tech/klingnet-chain/pkg/satrange"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func txid(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestApplyBlockGenesisCoinbaseOnly(t *testing.T) {
	l := New(storage.NewMemory())
	subsidy := ordinal.Subsidy(0)

	result, err := l.ApplyBlock(0, txid(1), []uint64{subsidy}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Subsidy.Start != 0 {
		t.Errorf("subsidy start = %d, want 0", result.Subsidy.Start)
	}
	ranges, err := l.Ranges(types.Outpoint{TxID: txid(1), Index: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 || uint64(ranges[0].Start) != 0 || ranges[0].Len() != subsidy {
		t.Errorf("coinbase output ranges = %+v", ranges)
	}

	sp, ok, err := l.SatPoint(0)
	if err != nil || !ok {
		t.Fatalf("expected sat 0 indexed, ok=%v err=%v", ok, err)
	}
	if sp.Outpoint.TxID != txid(1) || sp.Outpoint.Index != 0 || sp.Offset != 0 {
		t.Errorf("sat 0 satpoint = %+v", sp)
	}
}

func TestApplyBlockSpendAndFee(t *testing.T) {
	l := New(storage.NewMemory())
	subsidy := ordinal.Subsidy(0)

	// Block 0: coinbase creates one output of the full subsidy.
	if _, err := l.ApplyBlock(0, txid(1), []uint64{subsidy}, nil); err != nil {
		t.Fatal(err)
	}

	// Block 1: a tx spends that output, paying out less than its value
	// (the remainder becomes a fee picked up by the next coinbase).
	spend := types.Outpoint{TxID: txid(1), Index: 0}
	tx := Tx{Txid: txid(2), Inputs: []types.Outpoint{spend}, OutputValues: []uint64{subsidy - 1000}}
	nextSubsidy := ordinal.Subsidy(1)
	result, err := l.ApplyBlock(1, txid(3), []uint64{nextSubsidy + 1000}, []Tx{tx})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := l.Ranges(spend); err == nil {
		t.Error("spent outpoint should no longer have ranges")
	}
	outRanges, err := l.Ranges(types.Outpoint{TxID: txid(2), Index: 0})
	if err != nil {
		t.Fatal(err)
	}
	if satrange.TotalSats(outRanges) != subsidy-1000 {
		t.Errorf("tx output total = %d, want %d", satrange.TotalSats(outRanges), subsidy-1000)
	}

	cbRanges, err := l.Ranges(types.Outpoint{TxID: txid(3), Index: 0})
	if err != nil {
		t.Fatal(err)
	}
	if satrange.TotalSats(cbRanges) != nextSubsidy+1000 {
		t.Errorf("coinbase output total = %d, want %d", satrange.TotalSats(cbRanges), nextSubsidy+1000)
	}
	_ = result
}
