package inscription

import (
	"github.com/Klingon-tech/klingnet-chain/internal/satledger"
	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
	"github.com/Klingon-tech/klingnet-chain/pkg/satrange"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// TxInput is the minimal per-input shape C5 needs: the outpoint it
// spends, that outpoint's value (for stream-position bookkeeping), and
// the envelopes found in its witness, already in offset order.
type TxInput struct {
	Outpoint  types.Outpoint
	Value     uint64
	Envelopes []Envelope
}

// pendingSweep is an inscription that overflowed its transaction's
// output space into the block-wide fee pool, waiting to be resolved
// against the coinbase at Block.Finalize.
type pendingSweep struct {
	id      types.InscriptionId
	carried bool // true: had a sat already (Lost path); false: brand new (Unbound path)
}

// Block threads per-block bookkeeping (the fee-pool sweep queue and the
// running sequence/curse counters already live in the DB) across the
// sequence of ProcessTransaction calls that make up one block, mirroring
// satledger.Ledger.ApplyBlock's own per-block shape.
type Block struct {
	t                      *Tracker
	height                 uint64
	timestamp              int64
	firstInscriptionHeight uint64
	pending                []pendingSweep
}

// BeginBlock starts processing of block height. Envelopes are parsed
// but produce no inscriptions below firstInscriptionHeight (§6).
func (t *Tracker) BeginBlock(height uint64, timestamp int64, firstInscriptionHeight uint64) *Block {
	return &Block{t: t, height: height, timestamp: timestamp, firstInscriptionHeight: firstInscriptionHeight}
}

// ProcessTransaction runs §4.5.2's transfer algorithm and §4.5.1's curse
// rules for one non-coinbase transaction: it carries forward existing
// inscriptions to their new location, binds newly parsed envelopes, and
// queues anything that overflows into fees for Finalize to resolve.
// flow is the matching satledger.TxFlow for this transaction (nil if sat
// indexing is disabled, in which case inscriptions are never bound to a
// sat, only to a SatPoint).
func (b *Block) ProcessTransaction(txid types.Hash, inputs []TxInput, outputValues []uint64, fee uint64, flow *satledger.TxFlow) error {
	t := b.t

	inputStarts := make([]uint64, len(inputs))
	var cursor uint64
	for i, in := range inputs {
		inputStarts[i] = cursor
		cursor += in.Value
	}

	outputStarts := make([]uint64, len(outputValues))
	var outCursor uint64
	for j, v := range outputValues {
		outputStarts[j] = outCursor
		outCursor += v
	}
	totalOutput := outCursor

	// bindAt resolves a global stream position to an output, or reports
	// it falls into fees.
	bindAt := func(pos uint64) (types.Outpoint, uint64, bool) {
		if pos >= totalOutput {
			return types.Outpoint{}, 0, false
		}
		for j, start := range outputStarts {
			end := start + outputValues[j]
			if pos >= start && pos < end {
				return types.Outpoint{TxID: txid, Index: uint32(j)}, pos - start, true
			}
		}
		return types.Outpoint{}, 0, false
	}

	satAt := func(pos uint64) (ordinal.Sat, bool) {
		if flow == nil {
			return 0, false
		}
		return satrange.SatAtOffset(flow.InputRanges, pos)
	}

	// 1. Carry forward existing bindings from every spent input.
	type carried struct {
		id  types.InscriptionId
		pos uint64
	}
	var carriedList []carried
	for i, in := range inputs {
		bindings, err := t.bindingsAt(in.Outpoint)
		if err != nil {
			return err
		}
		for _, bnd := range bindings {
			pos := inputStarts[i] + bnd.Offset
			if err := t.clearLocation(bnd.ID); err != nil {
				return err
			}
			carriedList = append(carriedList, carried{id: bnd.ID, pos: pos})
		}
	}

	// Rebind each carried inscription, or queue it for the fee pool.
	for _, c := range carriedList {
		if op, offset, ok := bindAt(c.pos); ok {
			if err := t.setLocation(c.id, types.SatPoint{Outpoint: op, Offset: offset}); err != nil {
				return err
			}
			continue
		}
		b.pending = append(b.pending, pendingSweep{id: c.id, carried: true})
	}

	if b.height < b.firstInscriptionHeight {
		return nil
	}

	// 2. Determine parent eligibility: the parent's inscription must be
	// among the ones just carried out of this tx's own inputs.
	carriedIDs := make(map[types.InscriptionId]bool, len(carriedList))
	for _, c := range carriedList {
		carriedIDs[c.id] = true
	}

	// positionsUsedThisTx tracks destinations claimed by envelopes
	// already created earlier in this same transaction, for curse
	// rule 3 (reinscription-on-self).
	positionsUsedThisTx := make(map[uint64]bool)
	var envelopeIndex uint32

	for i, in := range inputs {
		for _, env := range in.Envelopes {
			pos := inputStarts[i]
			if env.HasPointer && env.Pointer < totalOutput {
				pos = env.Pointer
			}

			cursed := env.InputIndex > 0 ||
				env.Offset > 0 ||
				positionsUsedThisTx[pos] ||
				env.HasPointer ||
				env.UnrecognizedEvenField ||
				env.DuplicateField

			var seq uint64
			var number int64
			seq = t.readCounter(keyNextSeq)
			if err := t.writeCounter(keyNextSeq, seq+1); err != nil {
				return err
			}
			if cursed {
				cursedCount := t.readCounter(keyCursed) + 1
				if err := t.writeCounter(keyCursed, cursedCount); err != nil {
					return err
				}
				number = -int64(cursedCount)
			} else {
				blessedCount := t.readCounter(keyBlessed)
				number = int64(blessedCount)
				if err := t.writeCounter(keyBlessed, blessedCount+1); err != nil {
					return err
				}
			}

			// The id's index is this envelope's overall position among
			// all envelopes found in the transaction, in the same
			// input-then-offset order they were parsed in.
			id := types.InscriptionId{TxID: txid, Index: envelopeIndex}
			envelopeIndex++

			entry := Entry{SequenceNumber: seq, Number: number, Fee: fee, Height: b.height, Timestamp: b.timestamp}

			if sat, ok := satAt(pos); ok {
				entry.Sat = &sat
			}

			if env.HasParent && carriedIDs[env.Parent] {
				p := env.Parent
				entry.Parent = &p
				if err := t.addChild(p, id); err != nil {
					return err
				}
			}

			if err := t.putEntry(id, entry); err != nil {
				return err
			}
			if err := t.db.Put(seqKey(seq), idKey(nil, id)); err != nil {
				return err
			}
			if err := t.db.Put(numberKey(number), idKey(nil, id)); err != nil {
				return err
			}
			if entry.Sat != nil {
				if err := t.bindSat(*entry.Sat, id); err != nil {
					return err
				}
			}

			positionsUsedThisTx[pos] = true

			if op, offset, ok := bindAt(pos); ok && totalOutput > 0 {
				if err := t.setLocation(id, types.SatPoint{Outpoint: op, Offset: offset}); err != nil {
					return err
				}
				continue
			}
			b.pending = append(b.pending, pendingSweep{id: id, carried: false})
		}
	}

	return nil
}

// Finalize resolves the block's fee pool against the coinbase's
// outputs, landing each pending sweep on the next available coinbase
// offset in order; anything left over lands on the null outpoint
// (carried inscriptions, still sat-bound — LOST) or the unbound
// outpoint (freshly created inscriptions with no sat — UNBOUND), each
// with an ever-growing per-block-and-beyond offset. It also records
// HeightToLastSequenceNumber.
func (b *Block) Finalize(coinbaseTxid types.Hash, coinbaseOutputValues []uint64) error {
	t := b.t

	coinbaseStarts := make([]uint64, len(coinbaseOutputValues))
	var cursor uint64
	for j, v := range coinbaseOutputValues {
		coinbaseStarts[j] = cursor
		cursor += v
	}
	total := cursor

	// Track how much of each coinbase output's room has already been
	// claimed by carried sat ranges (handled by satledger) versus by
	// inscriptions: inscriptions don't consume value, only position, so
	// every pending sweep lands at the *next* unclaimed coinbase offset
	// in assignment order, per "fees are distributed evenly in
	// assignment order" (§4.5.2).
	var claimed uint64
	for _, sweep := range b.pending {
		if claimed < total {
			op, offset := coinbaseOutpointAt(coinbaseTxid, coinbaseStarts, coinbaseOutputValues, claimed)
			if err := t.setLocation(sweep.id, types.SatPoint{Outpoint: op, Offset: offset}); err != nil {
				return err
			}
			claimed++
			continue
		}
		if sweep.carried {
			next := t.readCounter(keyLostOffset)
			if err := t.setLocation(sweep.id, types.SatPoint{Outpoint: types.NullOutpoint, Offset: next}); err != nil {
				return err
			}
			if err := t.writeCounter(keyLostOffset, next+1); err != nil {
				return err
			}
		} else {
			next := t.readCounter(keyUnbound)
			if err := t.setLocation(sweep.id, types.SatPoint{Outpoint: types.UnboundOutpoint, Offset: next}); err != nil {
				return err
			}
			if err := t.writeCounter(keyUnbound, next+1); err != nil {
				return err
			}
		}
	}

	lastSeq := t.readCounter(keyNextSeq)
	return t.db.Put(heightLastSeqKey(b.height), seqValue(lastSeq))
}

func coinbaseOutpointAt(txid types.Hash, starts []uint64, values []uint64, pos uint64) (types.Outpoint, uint64) {
	for j, start := range starts {
		if pos >= start && pos < start+values[j] {
			return types.Outpoint{TxID: txid, Index: uint32(j)}, pos - start
		}
	}
	return types.Outpoint{}, 0
}
