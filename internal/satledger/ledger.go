// Package satledger implements the sat-range ledger (C4): it transfers
// ownership of sat ranges from spent inputs to new outputs, coinbase
// first, following the canonical consensus ordering described in §4.4.
package satledger

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
	"github.com/Klingon-tech/klingnet-chain/pkg/satrange"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Key prefixes.
var (
	prefixRanges  = []byte("r/") // r/<txid><index> -> encoded SatRanges
	prefixRareSat = []byte("s/") // s/<sat:8 BE> -> SatPoint
	keyLostSats   = []byte("c/lost_sats")
	keyRangeCount = []byte("c/range_count")
)

// Ledger stores, for every live output, the sat ranges it holds, and a
// secondary Sat→SatPoint index for sats rarer than Common.
type Ledger struct {
	db storage.DB
}

// New returns a Ledger backed by db, which should already be namespaced
// (e.g. via storage.PrefixDB) to this component's own keyspace.
func New(db storage.DB) *Ledger {
	return &Ledger{db: db}
}

func rangeKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixRanges)+types.HashSize+4)
	copy(key, prefixRanges)
	copy(key[len(prefixRanges):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixRanges)+types.HashSize:], op.Index)
	return key
}

func rareSatKey(sat ordinal.Sat) []byte {
	key := make([]byte, len(prefixRareSat)+8)
	copy(key, prefixRareSat)
	binary.BigEndian.PutUint64(key[len(prefixRareSat):], uint64(sat))
	return key
}

// Ranges returns the sat ranges currently held by an outpoint.
func (l *Ledger) Ranges(op types.Outpoint) ([]satrange.Range, error) {
	data, err := l.db.Get(rangeKey(op))
	if err != nil {
		return nil, fmt.Errorf("satledger: ranges for %s: %w", op, err)
	}
	return satrange.DecodeAll(data)
}

// SatPoint returns the current location of sat, if it is indexed (i.e.
// rarer than Common — Common sats are never recorded individually).
func (l *Ledger) SatPoint(sat ordinal.Sat) (types.SatPoint, bool, error) {
	data, err := l.db.Get(rareSatKey(sat))
	if err != nil {
		return types.SatPoint{}, false, nil
	}
	if len(data) != types.HashSize+4+8 {
		return types.SatPoint{}, false, fmt.Errorf("satledger: corrupt sat point record for sat %d", sat)
	}
	var sp types.SatPoint
	copy(sp.Outpoint.TxID[:], data[:types.HashSize])
	sp.Outpoint.Index = binary.BigEndian.Uint32(data[types.HashSize:])
	sp.Offset = binary.BigEndian.Uint64(data[types.HashSize+4:])
	return sp, true, nil
}

// Lookup reports whether op currently holds any sat ranges (i.e. is
// unspent in the ledger) and returns them if so, distinguishing "never
// seen" / "spent" from a real storage error — unlike Ranges, which
// treats a missing key as an error since callers of Ranges always
// expect the outpoint to currently exist.
func (l *Ledger) Lookup(op types.Outpoint) ([]satrange.Range, bool, error) {
	ok, err := l.db.Has(rangeKey(op))
	if err != nil {
		return nil, false, fmt.Errorf("satledger: lookup %s: %w", op, err)
	}
	if !ok {
		return nil, false, nil
	}
	ranges, err := l.Ranges(op)
	if err != nil {
		return nil, false, err
	}
	return ranges, true, nil
}

// ForEachOutput iterates every live (unspent) output and its ranges, for
// the query surface's find_range (§4.10), which has no choice but to
// scan when the target sat isn't already rare-indexed.
func (l *Ledger) ForEachOutput(fn func(op types.Outpoint, ranges []satrange.Range) error) error {
	return l.db.ForEach(prefixRanges, func(key, value []byte) error {
		rest := key[len(prefixRanges):]
		if len(rest) != types.HashSize+4 {
			return nil
		}
		var op types.Outpoint
		copy(op.TxID[:], rest[:types.HashSize])
		op.Index = binary.BigEndian.Uint32(rest[types.HashSize:])
		ranges, err := satrange.DecodeAll(value)
		if err != nil {
			return fmt.Errorf("satledger: decode ranges for %s: %w", op, err)
		}
		return fn(op, ranges)
	})
}

// RareSatPoints returns every indexed non-common sat's current location.
func (l *Ledger) RareSatPoints() (map[ordinal.Sat]types.SatPoint, error) {
	out := make(map[ordinal.Sat]types.SatPoint)
	err := l.db.ForEach(prefixRareSat, func(key, value []byte) error {
		rest := key[len(prefixRareSat):]
		if len(rest) != 8 || len(value) != types.HashSize+4+8 {
			return nil
		}
		sat := ordinal.Sat(binary.BigEndian.Uint64(rest))
		var sp types.SatPoint
		copy(sp.Outpoint.TxID[:], value[:types.HashSize])
		sp.Outpoint.Index = binary.BigEndian.Uint32(value[types.HashSize:])
		sp.Offset = binary.BigEndian.Uint64(value[types.HashSize+4:])
		out[sat] = sp
		return nil
	})
	return out, err
}

// Tx is the minimal shape of a transaction C4 needs: its txid, the
// outpoints it spends (empty for the coinbase, handled separately by
// ApplyBlock), and the value of each of its outputs in order.
type Tx struct {
	Txid         types.Hash
	Inputs       []types.Outpoint
	OutputValues []uint64
}

// TxFlow records, per non-coinbase transaction, the FIFO stream of sat
// ranges consumed from its inputs and the ranges landed on each output —
// C5's transfer algorithm (§4.5.2) reuses this to carry inscriptions
// across the same positions.
type TxFlow struct {
	InputRanges  []satrange.Range
	OutputRanges [][]satrange.Range
}

// BlockResult is everything C4 produces for one block, handed to C5 and
// to the statistics counters.
type BlockResult struct {
	Subsidy         satrange.Range
	TxFlows         []TxFlow // parallel to the non-coinbase txs passed in
	CoinbaseOutputs [][]satrange.Range
	LostSats        []satrange.Range // landed on the null outpoint
}

// ApplyBlock runs the per-block algorithm of §4.4: it deletes the spent
// input ranges, splits and assigns output ranges for every non-coinbase
// transaction, and finally drains (subsidy ‖ fees) across the coinbase's
// outputs, sending any leftover tail to the null outpoint.
func (l *Ledger) ApplyBlock(height uint64, coinbaseTxid types.Hash, coinbaseOutputValues []uint64, txs []Tx) (*BlockResult, error) {
	subsidy := satrange.Range{
		Start: ordinal.FirstSat(height),
		End:   ordinal.FirstSat(height + 1),
	}

	fees := satrange.NewStream()
	result := &BlockResult{Subsidy: subsidy, TxFlows: make([]TxFlow, len(txs))}

	for i, tx := range txs {
		input := satrange.NewStream()
		for _, op := range tx.Inputs {
			ranges, err := l.Ranges(op)
			if err != nil {
				return nil, err
			}
			for _, r := range ranges {
				input.Push(r)
			}
			if err := l.deleteOutpoint(op); err != nil {
				return nil, err
			}
		}
		flow := TxFlow{InputRanges: snapshotStream(input)}

		for vout, value := range tx.OutputValues {
			popped, _ := input.Pop(value)
			// input.Pop's ok is ignored here: a consensus-valid block
			// never asks an input stream for more value than it holds;
			// if it did, the remaining output simply gets whatever is
			// left (possibly nothing) rather than erroring, since §4.4
			// specifies no distinct failure mode for it.
			flow.OutputRanges = append(flow.OutputRanges, popped)
			op := types.Outpoint{TxID: tx.Txid, Index: uint32(vout)}
			if err := l.recordRareSats(op, popped); err != nil {
				return nil, err
			}
		}
		// Any remainder is this transaction's fee, folded into the
		// block-wide fee stream for the coinbase to claim.
		for !input.Empty() {
			popped, _ := input.Pop(input.Remaining())
			for _, r := range popped {
				fees.Push(r)
			}
		}
		result.TxFlows[i] = flow

		if err := l.storeOutputs(tx.Txid, flow.OutputRanges); err != nil {
			return nil, err
		}
	}

	// Coinbase consumes (subsidy ‖ fees).
	coinbaseStream := satrange.NewStream(subsidy)
	for !fees.Empty() {
		popped, _ := fees.Pop(fees.Remaining())
		for _, r := range popped {
			coinbaseStream.Push(r)
		}
	}
	for vout, value := range coinbaseOutputValues {
		popped, _ := coinbaseStream.Pop(value)
		result.CoinbaseOutputs = append(result.CoinbaseOutputs, popped)
		op := types.Outpoint{TxID: coinbaseTxid, Index: uint32(vout)}
		if err := l.recordRareSats(op, popped); err != nil {
			return nil, err
		}
	}
	if err := l.storeOutputs(coinbaseTxid, result.CoinbaseOutputs); err != nil {
		return nil, err
	}

	if !coinbaseStream.Empty() {
		leftover, _ := coinbaseStream.Pop(coinbaseStream.Remaining())
		result.LostSats = leftover
		if err := l.appendToNullOutpoint(leftover); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// recordRareSats indexes every non-common sat among ranges (all now
// living at op) into Sat→SatPoint.
func (l *Ledger) recordRareSats(op types.Outpoint, ranges []satrange.Range) error {
	for _, rp := range satrange.RareSats(ranges) {
		sp := types.SatPoint{Outpoint: op, Offset: rp.Offset}
		if err := l.recordRareSat(rp.Sat, sp); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) storeOutputs(txid types.Hash, perOutput [][]satrange.Range) error {
	for vout, ranges := range perOutput {
		if len(ranges) == 0 {
			continue
		}
		op := types.Outpoint{TxID: txid, Index: uint32(vout)}
		buf := satrange.EncodeAll(ranges)
		if err := l.db.Put(rangeKey(op), buf); err != nil {
			return fmt.Errorf("satledger: store output %s: %w", op, err)
		}
		if err := l.addRangeCount(recordCount(buf)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) deleteOutpoint(op types.Outpoint) error {
	if existing, err := l.Ranges(op); err == nil {
		if err := l.addRangeCount(-recordCount(satrange.EncodeAll(existing))); err != nil {
			return err
		}
	}
	if err := l.db.Delete(rangeKey(op)); err != nil {
		return fmt.Errorf("satledger: delete %s: %w", op, err)
	}
	return nil
}

// appendToNullOutpoint grows the null outpoint's range list rather than
// replacing it, since lost sats accumulate block after block.
func (l *Ledger) appendToNullOutpoint(leftover []satrange.Range) error {
	existing, err := l.Ranges(types.NullOutpoint)
	if err != nil {
		existing = nil
	}
	combined := append(existing, leftover...)
	if err := l.db.Put(rangeKey(types.NullOutpoint), satrange.EncodeAll(combined)); err != nil {
		return err
	}
	if err := l.addRangeCount(recordCount(satrange.EncodeAll(leftover))); err != nil {
		return err
	}
	return l.addLostSats(satrange.TotalSats(leftover))
}

// recordCount reports how many physical satrange.RecordSize-byte records
// an already-encoded buffer holds. The SatRanges statistic (§3/§4.4) counts
// these physical records, not the logical Range values callers pass in —
// satrange.Encode splits a range wider than one record's 32-bit length
// field into several, so counting len(ranges) undercounts whenever that
// split happens.
func recordCount(buf []byte) int64 {
	return int64(len(buf) / satrange.RecordSize)
}

// addRangeCount and addLostSats maintain the SatRanges and lost-sats
// statistics named in §4.4 as plain accumulating counters, read back by
// the query surface (C10).
func (l *Ledger) addRangeCount(delta int64) error {
	cur, _ := l.readCounter(keyRangeCount)
	next := int64(cur) + delta
	if next < 0 {
		next = 0
	}
	return l.writeCounter(keyRangeCount, uint64(next))
}

func (l *Ledger) addLostSats(n uint64) error {
	cur, _ := l.readCounter(keyLostSats)
	return l.writeCounter(keyLostSats, cur+n)
}

// RangeCount returns the current value of the SatRanges statistic: the
// total number of packed range records stored across all live outputs.
func (l *Ledger) RangeCount() uint64 {
	v, _ := l.readCounter(keyRangeCount)
	return v
}

// LostSats returns the cumulative count of sats that have landed on the
// null outpoint.
func (l *Ledger) LostSats() uint64 {
	v, _ := l.readCounter(keyLostSats)
	return v
}

func (l *Ledger) readCounter(key []byte) (uint64, error) {
	data, err := l.db.Get(key)
	if err != nil || len(data) != 8 {
		return 0, err
	}
	return binary.BigEndian.Uint64(data), nil
}

func (l *Ledger) writeCounter(key []byte, v uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, v)
	return l.db.Put(key, data)
}

func (l *Ledger) recordRareSat(sat ordinal.Sat, sp types.SatPoint) error {
	data := make([]byte, types.HashSize+4+8)
	copy(data, sp.Outpoint.TxID[:])
	binary.BigEndian.PutUint32(data[types.HashSize:], sp.Outpoint.Index)
	binary.BigEndian.PutUint64(data[types.HashSize+4:], sp.Offset)
	return l.db.Put(rareSatKey(sat), data)
}

func snapshotStream(s *satrange.Stream) []satrange.Range {
	popped, _ := s.Pop(s.Remaining())
	for _, r := range popped {
		s.Push(r)
	}
	return popped
}
