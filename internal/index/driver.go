// Package index implements the updater driver (C8): the per-block state
// machine that pulls blocks off the fetcher (C7) and applies them through
// the sat ledger (C4), inscription tracker (C5), and rune updater (C6) in
// the canonical order spec.md §4.8 describes. Grounded on
// internal/chain/processor.go's ProcessBlock shape (duplicate/parent-link
// check, validate, apply, advance tip), generalized from UTXO consensus
// validation to ordinals indexing, where the upstream node — not this
// indexer — is the source of truth for block validity.
package index

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-chain/internal/fetch"
	"github.com/Klingon-tech/klingnet-chain/internal/inscription"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-chain/internal/runes"
	"github.com/Klingon-tech/klingnet-chain/internal/satledger"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// State names one position in the per-block state machine of §4.8.
type State string

const (
	StateIdle                State = "IDLE"
	StateFetching            State = "FETCHING"
	StateVerifyingContinuity State = "VERIFYING_CONTINUITY"
	StateApplying            State = "APPLYING"
	StateCommitting          State = "COMMITTING"
	StateSavepoint           State = "SAVEPOINT"
)

// ContinuityError is raised by VERIFYING_CONTINUITY when a fetched
// block's prev_hash doesn't match the canonical hash already recorded
// for the previous height. The caller (the indexing loop) hands this to
// the reorg controller (C9) rather than treating it as a fatal error.
type ContinuityError struct {
	Height   uint64
	Expected types.Hash
	Got      types.Hash
}

func (e *ContinuityError) Error() string {
	return fmt.Sprintf("index: continuity mismatch at height %d: expected prev_hash %s, got %s", e.Height, e.Expected, e.Got)
}

// blockSource is the subset of *fetch.Fetcher the driver needs; narrowed
// to an interface so tests can feed it canned blocks without a real node.
type blockSource interface {
	Next(ctx context.Context) (fetch.Fetched, error)
}

// nodeClient is the subset of *rpcclient.Client the driver calls
// directly (beyond what the fetcher already pulls): backfilling a spent
// output's value when it predates this index, reading the node's header
// tip to decide whether a savepoint is due, and probing the node's own
// block hashes at each depth when recovering from a reorg (C9).
type nodeClient interface {
	GetRawTransaction(txid string) (*rpcclient.RawTransaction, error)
	GetBlockchainInfo() (*rpcclient.BlockchainInfo, error)
	GetBlockHash(height uint64) (string, error)
}

// Savepointer takes a durable snapshot of the index at height. It is
// optional and wired in separately (the concrete Backup/Load-based
// implementation is its own component) so the driver's block-processing
// logic doesn't depend on the storage engine's snapshot mechanics.
type Savepointer interface {
	MaybeSavepoint(height uint64) error
}

// Params configures protocol- and operator-level knobs the driver needs
// per spec.md §1/§4.5/§4.8/§4.9.
type Params struct {
	FirstInscriptionHeight uint64
	IndexSats              bool
	IndexRunes             bool
	// MinimumRuneHeight gates C6 the same way FirstInscriptionHeight
	// gates C5: below this height runestones are ignored outright, even
	// with IndexRunes set, since the real protocol didn't exist yet on
	// this network.
	MinimumRuneHeight uint64
	SavepointInterval uint64
	ChainTipDistance  uint64
	// MaxSavepoints bounds how many persistent savepoints C9 keeps (FIFO
	// eviction) and, together with SavepointInterval, the deepest reorg
	// that can be recovered without restarting from genesis (§4.9).
	MaxSavepoints uint64
}

// Driver runs the IDLE->FETCHING->VERIFYING_CONTINUITY->APPLYING->
// COMMITTING->(SAVEPOINT?)->IDLE state machine for one block at a time.
//
// meta/sats/inscriptions/runesDB/stats are read views bound directly to
// db, used by the query surface and by VERIFYING_CONTINUITY's check
// against already-committed blocks. APPLYING and COMMITTING never write
// through them: applyBlock and ProcessNext instead build a fresh set of
// the same components bound to a single transaction (see commitBlock),
// so a block's table mutations land as one atomic unit.
type Driver struct {
	db           storage.DB
	meta         *chainMeta
	sats         *satledger.Ledger
	inscriptions *inscription.Tracker
	runesDB      storage.DB
	stats        *statsTable
	source       blockSource
	client       nodeClient
	params       Params
	savepoints   Savepointer
	state        State
}

// New builds a Driver over db, namespacing each component's keyspace the
// way the teacher's package constructors expect (a dedicated prefix, not
// a shared flat keyspace).
func New(db storage.DB, source blockSource, client nodeClient, params Params) *Driver {
	return &Driver{
		db:           db,
		meta:         newChainMeta(storage.NewPrefixDB(db, []byte("idx/"))),
		sats:         satledger.New(storage.NewPrefixDB(db, []byte("sat/"))),
		inscriptions: inscription.New(storage.NewPrefixDB(db, []byte("ins/"))),
		runesDB:      storage.NewPrefixDB(db, []byte("rune/")),
		stats:        newStatsTable(storage.NewPrefixDB(db, []byte("stat/"))),
		source:       source,
		client:       client,
		params:       params,
		state:        StateIdle,
	}
}

// blockTables bundles the per-component views APPLYING/COMMITTING write
// through for one block, all bound to the same underlying storage.DB so
// they commit (or discard) together — see commitBlock.
type blockTables struct {
	meta         *chainMeta
	sats         *satledger.Ledger
	inscriptions *inscription.Tracker
	runesDB      storage.DB
	stats        *statsTable
}

func newBlockTables(db storage.DB) blockTables {
	return blockTables{
		meta:         newChainMeta(storage.NewPrefixDB(db, []byte("idx/"))),
		sats:         satledger.New(storage.NewPrefixDB(db, []byte("sat/"))),
		inscriptions: inscription.New(storage.NewPrefixDB(db, []byte("ins/"))),
		runesDB:      storage.NewPrefixDB(db, []byte("rune/")),
		stats:        newStatsTable(storage.NewPrefixDB(db, []byte("stat/"))),
	}
}

// commitBlock runs fn — applyBlock plus the height->hash and commit-count
// bookkeeping — against a set of blockTables bound to one atomic
// transaction when the underlying db supports it (BadgerDB does),
// falling back to running fn directly against db otherwise (the
// in-memory test double, which has no transaction boundary and commits
// each write immediately). This is the only place §4.8's COMMITTING
// phase touches storage, so it's the only place that needs to know
// whether true atomicity is available.
func (d *Driver) commitBlock(fn func(t blockTables) error) error {
	if tx, ok := d.db.(storage.Transactor); ok {
		return tx.Transact(func(scoped storage.DB) error {
			return fn(newBlockTables(scoped))
		})
	}
	return fn(newBlockTables(d.db))
}

// SetSavepointer wires in the savepoint manager. Leaving it unset simply
// disables savepoints (as spec.md §4.9 already requires under Durability
// == None).
func (d *Driver) SetSavepointer(s Savepointer) {
	d.savepoints = s
}

// State reports the driver's current position in the state machine, for
// health checks and logging.
func (d *Driver) State() State {
	return d.state
}

// TipHeight returns the highest height the driver has committed.
func (d *Driver) TipHeight() (uint64, bool, error) {
	return d.meta.TipHeight()
}

// BlockHash returns the canonical hash recorded for height, for the
// query surface's block_hash(H) and C9's continuity checks.
func (d *Driver) BlockHash(height uint64) (types.Hash, bool, error) {
	return d.meta.BlockHash(height)
}

// Sats exposes the sat-range ledger for the query surface (C10).
func (d *Driver) Sats() *satledger.Ledger {
	return d.sats
}

// Inscriptions exposes the inscription tracker for the query surface (C10).
func (d *Driver) Inscriptions() *inscription.Tracker {
	return d.inscriptions
}

// Runes exposes the rune sub-ledger for the query surface (C10). It is
// constructed on demand since, unlike Sats/Inscriptions, the driver only
// ever builds a fresh runes.Updater per block rather than holding a
// long-lived runes.Store.
func (d *Driver) Runes() *runes.Store {
	return runes.NewStore(d.runesDB)
}

// ProcessNext advances the state machine through exactly one block. A
// *ContinuityError means the caller should invoke the reorg controller
// (C9) and then retry; any other error is treated as fatal by the
// indexing loop.
func (d *Driver) ProcessNext(ctx context.Context) error {
	logger := klog.Updater

	d.state = StateFetching
	fetched, err := d.source.Next(ctx)
	if err != nil {
		return fmt.Errorf("index: fetch next block: %w", err)
	}
	height, blk := fetched.Height, fetched.Block

	d.state = StateVerifyingContinuity
	if height > 0 {
		expected, ok, err := d.meta.BlockHash(height - 1)
		if err != nil {
			return err
		}
		if ok {
			got, err := types.HexToHash(blk.PreviousHash)
			if err != nil {
				return fmt.Errorf("index: decode prev_hash at height %d: %w", height, err)
			}
			if got != expected {
				return &ContinuityError{Height: height, Expected: expected, Got: got}
			}
		}
	}

	hash, err := types.HexToHash(blk.Hash)
	if err != nil {
		return fmt.Errorf("index: decode hash at height %d: %w", height, err)
	}

	// APPLYING and COMMITTING run as a single atomic transaction: a block's
	// table mutations, its height->hash record, and the commit counter all
	// land together or not at all (§4.8/§5/§7).
	d.state = StateApplying
	err = d.commitBlock(func(t blockTables) error {
		if err := d.applyBlock(ctx, t, height, blk); err != nil {
			return fmt.Errorf("index: apply block %d: %w", height, err)
		}
		d.state = StateCommitting
		if err := t.meta.SetBlockHash(height, hash); err != nil {
			return err
		}
		if err := t.stats.incCommitCount(); err != nil {
			return fmt.Errorf("index: commit count: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if d.params.SavepointInterval > 0 && height%d.params.SavepointInterval == 0 {
		d.state = StateSavepoint
		if err := d.maybeSavepoint(height); err != nil {
			logger.Error().Uint64("height", height).Err(err).Msg("savepoint failed")
		}
	}

	d.state = StateIdle
	logger.Debug().Uint64("height", height).Str("hash", hash.String()).Msg("block indexed")
	return nil
}

// maybeSavepoint checks spec.md §4.8's "only when the node's reported
// header tip is within CHAIN_TIP_DISTANCE blocks" condition before
// delegating to the injected Savepointer, to avoid paying a snapshot's
// cost on every interval boundary during bulk catch-up.
func (d *Driver) maybeSavepoint(height uint64) error {
	if d.savepoints == nil {
		return nil
	}
	info, err := d.client.GetBlockchainInfo()
	if err != nil {
		return fmt.Errorf("check chain tip distance: %w", err)
	}
	if info.Headers > height && info.Headers-height > d.params.ChainTipDistance {
		return nil
	}
	return d.savepoints.MaybeSavepoint(height)
}

// applyBlock runs C4 (if sat indexing is enabled), C5, and (if enabled) C6 over one block's
// transactions in the canonical order of §4.4/§4.5/§4.6: coinbase last
// for the sat ledger's subsidy-draining pass, but every component walks
// the same non-coinbase transaction order first. Every table write goes
// through t, the transaction-scoped views commitBlock built for this
// block, not the driver's own long-lived (read-only during indexing)
// fields.
func (d *Driver) applyBlock(ctx context.Context, t blockTables, height uint64, blk *rpcclient.Block) error {
	if len(blk.Tx) == 0 {
		return fmt.Errorf("block %d has no coinbase transaction", height)
	}
	coinbaseTx := blk.Tx[0]
	nonCoinbase := blk.Tx[1:]

	txids := make([]types.Hash, len(nonCoinbase))
	outputValues := make([][]uint64, len(nonCoinbase))
	outputScripts := make([][][]byte, len(nonCoinbase))
	satInputs := make([][]types.Outpoint, len(nonCoinbase))
	inscInputs := make([][]inscription.TxInput, len(nonCoinbase))
	fees := make([]uint64, len(nonCoinbase))

	for i, tx := range nonCoinbase {
		txid, err := types.HexToHash(tx.Txid)
		if err != nil {
			return fmt.Errorf("decode txid %q: %w", tx.Txid, err)
		}
		txids[i] = txid

		values, scripts, err := decodeOutputs(tx.Vout)
		if err != nil {
			return fmt.Errorf("tx %s: %w", txid, err)
		}
		outputValues[i] = values
		outputScripts[i] = scripts

		inputs := make([]types.Outpoint, 0, len(tx.Vin))
		txInputs := make([]inscription.TxInput, 0, len(tx.Vin))
		var totalIn uint64
		for inIdx, vin := range tx.Vin {
			prevTxid, err := types.HexToHash(vin.Txid)
			if err != nil {
				return fmt.Errorf("tx %s: decode input txid %q: %w", txid, vin.Txid, err)
			}
			op := types.Outpoint{TxID: prevTxid, Index: vin.Vout}

			value, err := d.resolveInputValue(ctx, t, op)
			if err != nil {
				return fmt.Errorf("tx %s: %w", txid, err)
			}
			totalIn += value

			txInputs = append(txInputs, inscription.TxInput{
				Outpoint:  op,
				Value:     value,
				Envelopes: inscription.ParseEnvelopes(inIdx, decodeWitness(vin.Witness)),
			})
			inputs = append(inputs, op)

			if err := t.meta.DeleteValue(op); err != nil {
				return fmt.Errorf("tx %s: forget spent value %s: %w", txid, op, err)
			}
		}
		satInputs[i] = inputs
		inscInputs[i] = txInputs

		var totalOut uint64
		for _, v := range values {
			totalOut += v
		}
		if totalIn > totalOut {
			fees[i] = totalIn - totalOut
		}
	}

	coinbaseTxid, err := types.HexToHash(coinbaseTx.Txid)
	if err != nil {
		return fmt.Errorf("decode coinbase txid %q: %w", coinbaseTx.Txid, err)
	}
	coinbaseValues, _, err := decodeOutputs(coinbaseTx.Vout)
	if err != nil {
		return fmt.Errorf("coinbase %s: %w", coinbaseTxid, err)
	}

	var blockResult *satledger.BlockResult
	if d.params.IndexSats {
		satTxs := make([]satledger.Tx, len(nonCoinbase))
		for i := range nonCoinbase {
			satTxs[i] = satledger.Tx{Txid: txids[i], Inputs: satInputs[i], OutputValues: outputValues[i]}
		}
		blockResult, err = t.sats.ApplyBlock(height, coinbaseTxid, coinbaseValues, satTxs)
		if err != nil {
			return fmt.Errorf("satledger: %w", err)
		}
	}

	// Record every newly created output's value for later blocks' input
	// lookups, regardless of whether sat indexing is on (the inscription
	// tracker's input-stream positions need it either way).
	for i := range nonCoinbase {
		for vout, value := range outputValues[i] {
			op := types.Outpoint{TxID: txids[i], Index: uint32(vout)}
			if err := t.meta.PutValue(op, value); err != nil {
				return err
			}
		}
	}
	for vout, value := range coinbaseValues {
		op := types.Outpoint{TxID: coinbaseTxid, Index: uint32(vout)}
		if err := t.meta.PutValue(op, value); err != nil {
			return err
		}
	}

	outputsTraversed := uint64(len(coinbaseValues))
	for i := range nonCoinbase {
		outputsTraversed += uint64(len(outputValues[i]))
	}
	if err := t.stats.addOutputsTraversed(outputsTraversed); err != nil {
		return fmt.Errorf("index: outputs traversed: %w", err)
	}

	block := t.inscriptions.BeginBlock(height, blk.Time, d.params.FirstInscriptionHeight)
	for i := range nonCoinbase {
		var flow *satledger.TxFlow
		if blockResult != nil {
			flow = &blockResult.TxFlows[i]
		}
		if err := block.ProcessTransaction(txids[i], inscInputs[i], outputValues[i], fees[i], flow); err != nil {
			return fmt.Errorf("inscription: tx %s: %w", txids[i], err)
		}
	}
	if err := block.Finalize(coinbaseTxid, coinbaseValues); err != nil {
		return fmt.Errorf("inscription: finalize: %w", err)
	}

	if d.params.IndexRunes && height >= d.params.MinimumRuneHeight {
		ru := runes.NewUpdater(t.runesDB, height, ordinal.FirstSat(height))
		for i := range nonCoinbase {
			if err := ru.ProcessTransaction(i, txids[i], satInputs[i], outputScripts[i]); err != nil {
				return fmt.Errorf("runes: tx %s: %w", txids[i], err)
			}
		}
	}

	return nil
}

// resolveInputValue looks up a spent output's value in the local index,
// falling back to fetching its parent transaction from the node when the
// output predates this index or was only just reorged into view (§4.7).
// Every sibling output of that parent is cached at once so a transaction
// spending several outputs of the same backfilled parent only pays the
// RPC round trip once. Reads and writes go through t.meta, the same
// transaction-scoped view the rest of applyBlock uses, so a value cached
// here by one input is visible to a later input in the same block that
// spends a sibling output — and a crash before the block commits forgets
// the backfill along with everything else, rather than leaving it
// stranded against a height that never got recorded.
func (d *Driver) resolveInputValue(ctx context.Context, t blockTables, op types.Outpoint) (uint64, error) {
	if v, ok, err := t.meta.Value(op); err != nil {
		return 0, err
	} else if ok {
		return v, nil
	}

	tx, err := d.client.GetRawTransaction(op.TxID.String())
	if err != nil {
		return 0, fmt.Errorf("backfill parent tx %s: %w", op.TxID, err)
	}
	if tx == nil {
		return 0, fmt.Errorf("backfill parent tx %s: not found on node", op.TxID)
	}

	var found uint64
	var ok bool
	for _, vout := range tx.Vout {
		pOp := types.Outpoint{TxID: op.TxID, Index: vout.N}
		value := valueToSats(vout.Value)
		if err := t.meta.PutValue(pOp, value); err != nil {
			return 0, err
		}
		if vout.N == op.Index {
			found, ok = value, true
		}
	}
	if !ok {
		return 0, fmt.Errorf("backfill parent tx %s: output %d not found", op.TxID, op.Index)
	}
	return found, nil
}

// decodeOutputs turns a getrawtransaction verbosity-2 Vout list into
// parallel value and scriptPubKey slices indexed by vout number (Vout
// entries are already ordered by N, but this indexes explicitly rather
// than trusting it).
func decodeOutputs(vouts []rpcclient.Vout) ([]uint64, [][]byte, error) {
	values := make([]uint64, len(vouts))
	scripts := make([][]byte, len(vouts))
	for _, vout := range vouts {
		if int(vout.N) >= len(vouts) {
			return nil, nil, fmt.Errorf("vout index %d out of range (%d outputs)", vout.N, len(vouts))
		}
		scr, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			return nil, nil, fmt.Errorf("decode scriptPubKey for vout %d: %w", vout.N, err)
		}
		values[vout.N] = valueToSats(vout.Value)
		scripts[vout.N] = scr
	}
	return values, scripts, nil
}

// decodeWitness hex-decodes a transaction input's witness stack,
// dropping any item that fails to decode rather than aborting the whole
// block (a malformed witness item simply fails to parse as an envelope).
func decodeWitness(items []string) [][]byte {
	out := make([][]byte, 0, len(items))
	for _, item := range items {
		b, err := hex.DecodeString(item)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// valueToSats converts Bitcoin Core's floating-point BTC value (its RPC
// convention) to an integer satoshi count.
func valueToSats(btc float64) uint64 {
	return uint64(math.Round(btc * 1e8))
}
