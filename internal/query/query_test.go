package query

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/fetch"
	"github.com/Klingon-tech/klingnet-chain/internal/index"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func hashByte(b byte) string {
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
	infos map[string]*rpcclient.RawTransactionInfo
}

func (f *fakeClient) GetRawTransaction(txid string) (*rpcclient.RawTransaction, error) {
	return nil, errors.New("fakeClient: unexpected raw tx request")
}

func (f *fakeClient) GetBlockchainInfo() (*rpcclient.BlockchainInfo, error) {
	return &rpcclient.BlockchainInfo{}, nil
}

func (f *fakeClient) GetBlockHash(height uint64) (string, error) {
	return "", nil
}

func (f *fakeClient) GetRawTransactionInfo(txid string) (*rpcclient.RawTransactionInfo, error) {
	if info, ok := f.infos[txid]; ok {
		return info, nil
	}
	return nil, nil
}

func vout(n uint32, btc float64) rpcclient.Vout {
	v := rpcclient.Vout{Value: btc, N: n}
	v.ScriptPubKey.Hex = "51"
	return v
}

// buildTwoBlockChain indexes a genesis coinbase block followed by a block
// that spends that coinbase output and creates a new one, returning a
// Store over the result plus the spent and created outpoints.
func buildTwoBlockChain(t *testing.T) (*Store, *fakeClient, types.Outpoint, types.Outpoint) {
	t.Helper()

	coinbase0 := rpcclient.RawTransaction{Txid: hashByte(10), Vout: []rpcclient.Vout{vout(0, 50)}}
	block0 := &rpcclient.Block{Hash: hashByte(1), Time: 1000, Tx: []rpcclient.RawTransaction{coinbase0}}

	coinbase1 := rpcclient.RawTransaction{Txid: hashByte(11), Vout: []rpcclient.Vout{vout(0, 50)}}
	spend := rpcclient.RawTransaction{
		Txid: hashByte(12),
		Vin:  []rpcclient.Vin{{Txid: hashByte(10), Vout: 0}},
		Vout: []rpcclient.Vout{vout(0, 50)},
	}
	block1 := &rpcclient.Block{Hash: hashByte(2), PreviousHash: hashByte(1), Time: 2000, Tx: []rpcclient.RawTransaction{coinbase1, spend}}

	source := &fakeSource{blocks: []fetch.Fetched{
		{Height: 0, Block: block0},
		{Height: 1, Block: block1},
	}}
	client := &fakeClient{infos: map[string]*rpcclient.RawTransactionInfo{}}
	driver := index.New(storage.NewMemory(), source, client, index.Params{IndexSats: true})

	ctx := context.Background()
	if err := driver.ProcessNext(ctx); err != nil {
		t.Fatalf("block 0: %v", err)
	}
	if err := driver.ProcessNext(ctx); err != nil {
		t.Fatalf("block 1: %v", err)
	}

	spentTxid, err := types.HexToHash(hashByte(10))
	if err != nil {
		t.Fatal(err)
	}
	newTxid, err := types.HexToHash(hashByte(12))
	if err != nil {
		t.Fatal(err)
	}

	return New(driver, client), client, types.Outpoint{TxID: spentTxid, Index: 0}, types.Outpoint{TxID: newTxid, Index: 0}
}

func TestBlockHeightAndHashAfterTwoBlocks(t *testing.T) {
	store, _, _, _ := buildTwoBlockChain(t)

	height, ok, err := store.BlockHeight()
	if err != nil || !ok || height != 1 {
		t.Fatalf("BlockHeight = %d, ok=%v, err=%v", height, ok, err)
	}
	count, err := store.BlockCount()
	if err != nil || count != 2 {
		t.Fatalf("BlockCount = %d, err=%v", count, err)
	}
	hash, ok, err := store.BlockHash(nil)
	if err != nil || !ok || hash.String() != hashByte(2) {
		t.Fatalf("BlockHash(nil) = %s, ok=%v, err=%v", hash, ok, err)
	}
}

func TestListReportsUnspentSpentAndNone(t *testing.T) {
	store, client, spentOp, newOp := buildTwoBlockChain(t)

	unspent, err := store.List(newOp)
	if err != nil {
		t.Fatal(err)
	}
	if unspent.Status != StatusUnspent || len(unspent.Ranges) == 0 {
		t.Errorf("List(new output) = %+v, want Unspent with ranges", unspent)
	}

	// The spent outpoint's transaction still confirms in the active
	// chain (at height 0), so it should report Spent, not None.
	client.infos[spentOp.TxID.String()] = &rpcclient.RawTransactionInfo{BlockHash: hashByte(1)}
	spent, err := store.List(spentOp)
	if err != nil {
		t.Fatal(err)
	}
	if spent.Status != StatusSpent {
		t.Errorf("List(spent output) status = %v, want Spent", spent.Status)
	}

	none, err := store.List(types.Outpoint{TxID: spentOp.TxID, Index: 99})
	if err != nil {
		t.Fatal(err)
	}
	if none.Status != StatusSpent {
		// Index 99 shares the spent outpoint's txid, which is still
		// recorded as confirmed, so this also reports Spent: the node
		// only confirms tx membership, not which specific output index
		// existed. A genuinely unknown txid is exercised separately.
		t.Errorf("List(same txid, unknown index) status = %v, want Spent", none.Status)
	}

	unknownTxid, err := types.HexToHash(hashByte(200))
	if err != nil {
		t.Fatal(err)
	}
	unseen, err := store.List(types.Outpoint{TxID: unknownTxid, Index: 0})
	if err != nil {
		t.Fatal(err)
	}
	if unseen.Status != StatusNone {
		t.Errorf("List(never seen) status = %v, want None", unseen.Status)
	}
}

func TestFindGenesisSat(t *testing.T) {
	store, _, _, _ := buildTwoBlockChain(t)

	sp, ok, err := store.Find(0)
	if err != nil || !ok {
		t.Fatalf("Find(0) ok=%v, err=%v", ok, err)
	}
	wantTxid, _ := types.HexToHash(hashByte(12))
	if sp.Outpoint.TxID != wantTxid || sp.Offset != 0 {
		t.Errorf("Find(0) = %+v, want outpoint %s offset 0", sp, wantTxid)
	}
}

func TestFindRangeOverlapsGenesisSubsidy(t *testing.T) {
	store, _, _, _ := buildTwoBlockChain(t)

	segments, err := store.FindRange(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 1 || segments[0].Start != 0 || segments[0].End != 10 {
		t.Errorf("FindRange(0,10) = %+v", segments)
	}
}
