package index

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Key prefixes for the driver's own bookkeeping keyspace: the canonical
// height->hash chain (VERIFYING_CONTINUITY's reference and C9's probe
// target), the current tip, and a value index backfilled from the node
// for inputs whose creating transaction hasn't been indexed yet (§4.7).
var (
	prefixHeightHash = []byte("h/") // h/<height:8 BE> -> block hash
	prefixValue      = []byte("v/") // v/<outpoint> -> value:8 BE (sats)
	keyTipHeight     = []byte("t/height")
)

// chainMeta stores the canonical height->hash mapping the driver checks
// continuity against, the current tip height, and the output-value index
// the inscription tracker needs for input stream positions.
type chainMeta struct {
	db storage.DB
}

func newChainMeta(db storage.DB) *chainMeta {
	return &chainMeta{db: db}
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeightHash)+8)
	copy(key, prefixHeightHash)
	binary.BigEndian.PutUint64(key[len(prefixHeightHash):], height)
	return key
}

// BlockHash returns the canonical hash recorded for height, if any.
func (m *chainMeta) BlockHash(height uint64) (types.Hash, bool, error) {
	data, err := m.db.Get(heightKey(height))
	if err != nil || data == nil {
		return types.Hash{}, false, nil
	}
	if len(data) != types.HashSize {
		return types.Hash{}, false, fmt.Errorf("index: corrupt height->hash record at %d", height)
	}
	var h types.Hash
	copy(h[:], data)
	return h, true, nil
}

// SetBlockHash records the canonical hash for height and advances the tip
// if height is now the highest recorded.
func (m *chainMeta) SetBlockHash(height uint64, hash types.Hash) error {
	if err := m.db.Put(heightKey(height), hash.Bytes()); err != nil {
		return fmt.Errorf("index: set height->hash at %d: %w", height, err)
	}
	tip, ok, err := m.TipHeight()
	if err != nil {
		return err
	}
	if !ok || height > tip {
		return m.setTipHeight(height)
	}
	return nil
}

// DeleteFrom removes every recorded height->hash mapping at or above
// height, used when C9 rewinds the canonical chain after a reorg.
func (m *chainMeta) DeleteFrom(height uint64) error {
	for h := height; ; h++ {
		_, ok, err := m.BlockHash(h)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := m.db.Delete(heightKey(h)); err != nil {
			return err
		}
	}
}

// TipHeight returns the highest height recorded so far.
func (m *chainMeta) TipHeight() (uint64, bool, error) {
	data, err := m.db.Get(keyTipHeight)
	if err != nil || data == nil {
		return 0, false, nil
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("index: corrupt tip height record")
	}
	return binary.BigEndian.Uint64(data), true, nil
}

func (m *chainMeta) setTipHeight(height uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, height)
	return m.db.Put(keyTipHeight, data)
}

func valueKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixValue)+types.HashSize+4)
	copy(key, prefixValue)
	copy(key[len(prefixValue):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixValue)+types.HashSize:], op.Index)
	return key
}

// Value returns the satoshi value recorded for an output, if known.
func (m *chainMeta) Value(op types.Outpoint) (uint64, bool, error) {
	data, err := m.db.Get(valueKey(op))
	if err != nil || data == nil {
		return 0, false, nil
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("index: corrupt value record for %s", op)
	}
	return binary.BigEndian.Uint64(data), true, nil
}

// PutValue records the satoshi value of a newly created output.
func (m *chainMeta) PutValue(op types.Outpoint, value uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, value)
	return m.db.Put(valueKey(op), data)
}

// DeleteValue forgets an output's value once it has been spent.
func (m *chainMeta) DeleteValue(op types.Outpoint) error {
	return m.db.Delete(valueKey(op))
}
