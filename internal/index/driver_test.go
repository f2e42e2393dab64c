package index

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/fetch"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// txnMemory wraps storage.MemoryDB with a storage.Transactor implementation,
// so tests can exercise commitBlock's atomic path — MemoryDB alone has no
// transaction boundary and commits each write immediately, the same gap a
// maintainer review flagged against the real driver/Badger pairing. Every
// write made through the DB handed to a Transact closure lands in an
// overlay; it's only applied to base once the closure returns nil, and
// discarded entirely otherwise — mirroring Badger's commit-or-discard
// behavior closely enough to prove a failure partway through a block
// leaves no partial state behind.
type txnMemory struct {
	base *storage.MemoryDB
}

func newTxnMemory() *txnMemory {
	return &txnMemory{base: storage.NewMemory()}
}

func (m *txnMemory) Get(key []byte) ([]byte, error)   { return m.base.Get(key) }
func (m *txnMemory) Put(key, value []byte) error      { return m.base.Put(key, value) }
func (m *txnMemory) Delete(key []byte) error          { return m.base.Delete(key) }
func (m *txnMemory) Has(key []byte) (bool, error)     { return m.base.Has(key) }
func (m *txnMemory) Close() error                     { return m.base.Close() }
func (m *txnMemory) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return m.base.ForEach(prefix, fn)
}

func (m *txnMemory) Transact(fn func(tx storage.DB) error) error {
	overlay := &overlayDB{base: m.base, writes: make(map[string][]byte), deletes: make(map[string]bool)}
	if err := fn(overlay); err != nil {
		return err
	}
	for k, v := range overlay.writes {
		if err := m.base.Put([]byte(k), v); err != nil {
			return err
		}
	}
	for k := range overlay.deletes {
		if err := m.base.Delete([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

type overlayDB struct {
	base    *storage.MemoryDB
	writes  map[string][]byte
	deletes map[string]bool
}

func (o *overlayDB) Get(key []byte) ([]byte, error) {
	k := string(key)
	if o.deletes[k] {
		return nil, errors.New("key not found")
	}
	if v, ok := o.writes[k]; ok {
		return v, nil
	}
	return o.base.Get(key)
}

func (o *overlayDB) Put(key, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *overlayDB) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = true
	return nil
}

func (o *overlayDB) Has(key []byte) (bool, error) {
	k := string(key)
	if o.deletes[k] {
		return false, nil
	}
	if _, ok := o.writes[k]; ok {
		return true, nil
	}
	return o.base.Has(key)
}

func (o *overlayDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	seen := make(map[string]bool)
	p := string(prefix)
	for k, v := range o.writes {
		if strings.HasPrefix(k, p) {
			seen[k] = true
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return o.base.ForEach(prefix, func(key, value []byte) error {
		k := string(key)
		if seen[k] || o.deletes[k] {
			return nil
		}
		return fn(key, value)
	})
}

func (o *overlayDB) Close() error { return nil }

func hexHash(b byte) string {
	raw := make([]byte, 32)
	raw[0] = b
	return hex.EncodeToString(raw)
}

type fakeSource struct {
	blocks []fetch.Fetched
	i      int
}

func (f *fakeSource) Next(ctx context.Context) (fetch.Fetched, error) {
	if f.i >= len(f.blocks) {
		return fetch.Fetched{}, errors.New("fakeSource: exhausted")
	}
	b := f.blocks[f.i]
	f.i++
	return b, nil
}

type fakeClient struct {
	headers uint64
}

func (f *fakeClient) GetRawTransaction(txid string) (*rpcclient.RawTransaction, error) {
	return nil, errors.New("fakeClient: unexpected backfill request")
}

func (f *fakeClient) GetBlockchainInfo() (*rpcclient.BlockchainInfo, error) {
	return &rpcclient.BlockchainInfo{Headers: f.headers}, nil
}

func (f *fakeClient) GetBlockHash(height uint64) (string, error) {
	return "", nil
}

type fakeSavepointer struct {
	heights []uint64
}

func (f *fakeSavepointer) MaybeSavepoint(height uint64) error {
	f.heights = append(f.heights, height)
	return nil
}

func vout(n uint32, btc float64) rpcclient.Vout {
	v := rpcclient.Vout{Value: btc, N: n}
	v.ScriptPubKey.Hex = "51" // OP_1, a plain spendable-looking script
	return v
}

func TestDriverAppliesTwoBlocksAndAdvancesTip(t *testing.T) {
	coinbase0 := rpcclient.RawTransaction{Txid: hexHash(10), Vout: []rpcclient.Vout{vout(0, 50)}}
	block0 := &rpcclient.Block{Hash: hexHash(1), PreviousHash: "", Time: 1000, Tx: []rpcclient.RawTransaction{coinbase0}}

	coinbase1 := rpcclient.RawTransaction{Txid: hexHash(11), Vout: []rpcclient.Vout{vout(0, 50)}}
	spend := rpcclient.RawTransaction{
		Txid: hexHash(12),
		Vin:  []rpcclient.Vin{{Txid: hexHash(10), Vout: 0}},
		Vout: []rpcclient.Vout{vout(0, 50)},
	}
	block1 := &rpcclient.Block{Hash: hexHash(2), PreviousHash: hexHash(1), Time: 2000, Tx: []rpcclient.RawTransaction{coinbase1, spend}}

	source := &fakeSource{blocks: []fetch.Fetched{
		{Height: 0, Block: block0},
		{Height: 1, Block: block1},
	}}
	client := &fakeClient{headers: 1}
	params := Params{IndexSats: true, IndexRunes: true}
	d := New(storage.NewMemory(), source, client, params)

	ctx := context.Background()
	if err := d.ProcessNext(ctx); err != nil {
		t.Fatalf("block 0: %v", err)
	}
	if tip, ok, err := d.TipHeight(); err != nil || !ok || tip != 0 {
		t.Fatalf("tip after block 0 = %d, ok=%v, err=%v", tip, ok, err)
	}

	if err := d.ProcessNext(ctx); err != nil {
		t.Fatalf("block 1: %v", err)
	}
	if tip, ok, err := d.TipHeight(); err != nil || !ok || tip != 1 {
		t.Fatalf("tip after block 1 = %d, ok=%v, err=%v", tip, ok, err)
	}

	// The spent output's cached value must be forgotten, and the new
	// output created by the spending transaction must be cached.
	spentTxid, err := types.HexToHash(hexHash(10))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := d.meta.Value(types.Outpoint{TxID: spentTxid, Index: 0}); err != nil {
		t.Fatalf("meta.Value error: %v", err)
	} else if ok {
		t.Error("spent outpoint still has a cached value")
	}
	spendTxid, err := types.HexToHash(hexHash(12))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := d.meta.Value(types.Outpoint{TxID: spendTxid, Index: 0}); err != nil {
		t.Fatalf("meta.Value error: %v", err)
	} else if !ok {
		t.Error("new output missing its cached value")
	}
	if d.State() != StateIdle {
		t.Errorf("state after processing = %s, want IDLE", d.State())
	}
}

func TestDriverContinuityMismatchIsReported(t *testing.T) {
	coinbase0 := rpcclient.RawTransaction{Txid: hexHash(10), Vout: []rpcclient.Vout{vout(0, 50)}}
	block0 := &rpcclient.Block{Hash: hexHash(1), Time: 1000, Tx: []rpcclient.RawTransaction{coinbase0}}

	coinbase1 := rpcclient.RawTransaction{Txid: hexHash(11), Vout: []rpcclient.Vout{vout(0, 50)}}
	block1 := &rpcclient.Block{Hash: hexHash(2), PreviousHash: hexHash(99), Time: 2000, Tx: []rpcclient.RawTransaction{coinbase1}}

	source := &fakeSource{blocks: []fetch.Fetched{
		{Height: 0, Block: block0},
		{Height: 1, Block: block1},
	}}
	client := &fakeClient{headers: 1}
	d := New(storage.NewMemory(), source, client, Params{IndexSats: true})

	ctx := context.Background()
	if err := d.ProcessNext(ctx); err != nil {
		t.Fatalf("block 0: %v", err)
	}
	err := d.ProcessNext(ctx)
	var continuityErr *ContinuityError
	if !errors.As(err, &continuityErr) {
		t.Fatalf("expected *ContinuityError, got %v", err)
	}
	if continuityErr.Height != 1 {
		t.Errorf("continuity error height = %d, want 1", continuityErr.Height)
	}
}

func TestDriverSavepointTakenWithinChainTipDistance(t *testing.T) {
	coinbase0 := rpcclient.RawTransaction{Txid: hexHash(10), Vout: []rpcclient.Vout{vout(0, 50)}}
	block0 := &rpcclient.Block{Hash: hexHash(1), Time: 1000, Tx: []rpcclient.RawTransaction{coinbase0}}

	source := &fakeSource{blocks: []fetch.Fetched{{Height: 0, Block: block0}}}
	client := &fakeClient{headers: 0}
	d := New(storage.NewMemory(), source, client, Params{IndexSats: true, SavepointInterval: 1, ChainTipDistance: 2})
	sp := &fakeSavepointer{}
	d.SetSavepointer(sp)

	if err := d.ProcessNext(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sp.heights) != 1 || sp.heights[0] != 0 {
		t.Errorf("savepoint calls = %v, want [0]", sp.heights)
	}
}

// TestDriverBlockFailureLeavesNoPartialState exercises commitBlock's
// atomicity: a block whose second transaction is structurally malformed
// fails applyBlock only after its first transaction has already driven
// writes (spent-output bookkeeping, sat-range mutations) into the
// transaction-scoped tables. Without an atomic commit those writes would
// survive even though the block as a whole never committed — leaving a
// crash-and-restart to re-apply the same height onto already-mutated
// state. With it, nothing from the failed block should be visible.
func TestDriverBlockFailureLeavesNoPartialState(t *testing.T) {
	coinbase0 := rpcclient.RawTransaction{Txid: hexHash(10), Vout: []rpcclient.Vout{vout(0, 50)}}
	block0 := &rpcclient.Block{Hash: hexHash(1), Time: 1000, Tx: []rpcclient.RawTransaction{coinbase0}}

	coinbase1 := rpcclient.RawTransaction{Txid: hexHash(11), Vout: []rpcclient.Vout{vout(0, 50)}}
	// spendOK successfully spends block0's coinbase output, so its
	// processing (meta.DeleteValue, meta.PutValue, sats.ApplyBlock) runs
	// and mutates the transaction-scoped tables before the block fails.
	spendOK := rpcclient.RawTransaction{
		Txid: hexHash(12),
		Vin:  []rpcclient.Vin{{Txid: hexHash(10), Vout: 0}},
		Vout: []rpcclient.Vout{vout(0, 50)},
	}
	// malformed has a scriptPubKey that isn't valid hex, so decodeOutputs
	// fails on it — after spendOK has already been processed.
	malformedVout := vout(0, 50)
	malformedVout.ScriptPubKey.Hex = "not-hex"
	malformed := rpcclient.RawTransaction{
		Txid: hexHash(13),
		Vout: []rpcclient.Vout{malformedVout},
	}
	block1 := &rpcclient.Block{
		Hash: hexHash(2), PreviousHash: hexHash(1), Time: 2000,
		Tx: []rpcclient.RawTransaction{coinbase1, spendOK, malformed},
	}

	source := &fakeSource{blocks: []fetch.Fetched{
		{Height: 0, Block: block0},
		{Height: 1, Block: block1},
	}}
	client := &fakeClient{headers: 1}
	d := New(newTxnMemory(), source, client, Params{IndexSats: true})

	ctx := context.Background()
	if err := d.ProcessNext(ctx); err != nil {
		t.Fatalf("block 0: %v", err)
	}

	spentTxid, err := types.HexToHash(hexHash(10))
	if err != nil {
		t.Fatal(err)
	}
	spentOp := types.Outpoint{TxID: spentTxid, Index: 0}
	if _, ok, err := d.meta.Value(spentOp); err != nil || !ok {
		t.Fatalf("block 0 output missing before failed block: ok=%v err=%v", ok, err)
	}

	if err := d.ProcessNext(ctx); err == nil {
		t.Fatal("expected block 1 to fail, got nil error")
	}

	// The tip must not have advanced past block 0.
	if tip, ok, err := d.TipHeight(); err != nil || !ok || tip != 0 {
		t.Fatalf("tip after failed block = %d, ok=%v, err=%v, want 0", tip, ok, err)
	}

	// spendOK's writes — forgetting the spent output and caching its own
	// new output — must not have survived the block's failure.
	if _, ok, err := d.meta.Value(spentOp); err != nil || !ok {
		t.Fatalf("block 0 output was deleted by a block that never committed: ok=%v err=%v", ok, err)
	}
	spendTxid, err := types.HexToHash(hexHash(12))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := d.meta.Value(types.Outpoint{TxID: spendTxid, Index: 0}); err != nil {
		t.Fatalf("meta.Value error: %v", err)
	} else if ok {
		t.Error("output from a transaction in a failed block was cached anyway")
	}
}
