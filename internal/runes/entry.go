package runes

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/varint"
)

// Key prefixes for the rune sub-ledger's tables (spec §3): OutPoint to
// balances, Rune name to RuneId, and RuneId to issuance metadata.
var (
	prefixBalances  = []byte("b/") // b/<outpoint> -> varint (id,amount) pairs, sorted by id
	prefixRuneToID  = []byte("n/") // n/<rune:16 BE> -> RuneId
	prefixIDToEntry = []byte("e/") // e/<height:8 BE><tx_index:2 BE> -> RuneEntry JSON
)

const outpointLen = types.HashSize + 4

// RuneEntry is the persisted issuance metadata for one etched rune.
type RuneEntry struct {
	Rune         varint.Uint128 `json:"rune"`
	Supply       varint.Uint128 `json:"supply"`
	Divisibility uint8          `json:"divisibility"`
	Rarity       ordinal.Rarity `json:"rarity"`
	HasSymbol    bool           `json:"has_symbol,omitempty"`
	Symbol       rune           `json:"symbol,omitempty"`
}

// Balance is one (rune id, amount) pair held at an output.
type Balance struct {
	ID     varint.Uint128
	Amount varint.Uint128
}

// Store holds the rune sub-ledger's tables over a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore returns a Store backed by db (expected to be namespaced
// already, as with satledger.Ledger and inscription.Tracker).
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func outpointBytes(op types.Outpoint) []byte {
	b := make([]byte, outpointLen)
	copy(b, op.TxID[:])
	binary.BigEndian.PutUint32(b[types.HashSize:], op.Index)
	return b
}

func runeKey(r varint.Uint128) []byte {
	key := make([]byte, len(prefixRuneToID)+16)
	copy(key, prefixRuneToID)
	binary.BigEndian.PutUint64(key[len(prefixRuneToID):], r.Hi)
	binary.BigEndian.PutUint64(key[len(prefixRuneToID)+8:], r.Lo)
	return key
}

func idKey(id types.RuneId) []byte {
	key := make([]byte, len(prefixIDToEntry)+10)
	copy(key, prefixIDToEntry)
	binary.BigEndian.PutUint64(key[len(prefixIDToEntry):], id.Height)
	binary.BigEndian.PutUint16(key[len(prefixIDToEntry)+8:], id.TxIndex)
	return key
}

// Balances returns the rune balances currently held at op, in ascending
// id order (the order they were stored in).
func (s *Store) Balances(op types.Outpoint) ([]Balance, error) {
	data, err := s.db.Get(append(append([]byte{}, prefixBalances...), outpointBytes(op)...))
	if err != nil {
		return nil, nil
	}
	var out []Balance
	for len(data) > 0 {
		id, n, err := varint.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("runes: decode balance id: %w", err)
		}
		data = data[n:]
		amount, n, err := varint.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("runes: decode balance amount: %w", err)
		}
		data = data[n:]
		out = append(out, Balance{ID: id, Amount: amount})
	}
	return out, nil
}

// TakeBalances returns and removes the balances held at op (the
// "unallocate" step of the transfer algorithm).
func (s *Store) TakeBalances(op types.Outpoint) ([]Balance, error) {
	bals, err := s.Balances(op)
	if err != nil || len(bals) == 0 {
		return bals, err
	}
	key := append(append([]byte{}, prefixBalances...), outpointBytes(op)...)
	if err := s.db.Delete(key); err != nil {
		return nil, err
	}
	return bals, nil
}

// PutBalances stores op's balances, which must already be sorted by id
// (determinism over convenience: committed state must not depend on map
// iteration order).
func (s *Store) PutBalances(op types.Outpoint, bals []Balance) error {
	if len(bals) == 0 {
		return nil
	}
	var buf []byte
	for _, b := range bals {
		buf = varint.Encode(buf, b.ID)
		buf = varint.Encode(buf, b.Amount)
	}
	key := append(append([]byte{}, prefixBalances...), outpointBytes(op)...)
	return s.db.Put(key, buf)
}

// RuneID looks up the RuneId reserved for a rune name, if any.
func (s *Store) RuneID(r varint.Uint128) (types.RuneId, bool, error) {
	data, err := s.db.Get(runeKey(r))
	if err != nil {
		return types.RuneId{}, false, nil
	}
	if len(data) != 10 {
		return types.RuneId{}, false, fmt.Errorf("runes: corrupt rune id record")
	}
	return types.RuneId{
		Height:  binary.BigEndian.Uint64(data[:8]),
		TxIndex: binary.BigEndian.Uint16(data[8:]),
	}, true, nil
}

// SetRuneID reserves id for rune name r.
func (s *Store) SetRuneID(r varint.Uint128, id types.RuneId) error {
	data := make([]byte, 10)
	binary.BigEndian.PutUint64(data[:8], id.Height)
	binary.BigEndian.PutUint16(data[8:], id.TxIndex)
	return s.db.Put(runeKey(r), data)
}

// Entry returns the issuance metadata for a reserved RuneId.
func (s *Store) Entry(id types.RuneId) (RuneEntry, bool, error) {
	data, err := s.db.Get(idKey(id))
	if err != nil {
		return RuneEntry{}, false, nil
	}
	var e RuneEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return RuneEntry{}, false, fmt.Errorf("runes: decode entry for %s: %w", id, err)
	}
	return e, true, nil
}

// PutEntry commits the issuance metadata for a newly etched rune.
func (s *Store) PutEntry(id types.RuneId, e RuneEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Put(idKey(id), data)
}
