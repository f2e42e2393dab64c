package inscription

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Key prefixes for the inscription tracker's tables (§3).
var (
	prefixEntry         = []byte("e/") // e/<id> -> Entry JSON
	prefixSeqToID       = []byte("n/") // n/<seq:8 BE> -> id
	prefixNumberToID    = []byte("i/") // i/<zigzag number:8 BE> -> id
	prefixLocation      = []byte("l/") // l/<id> -> SatPoint
	prefixSatPointMulti = []byte("p/") // p/<outpoint><offset:8 BE><id> -> empty
	prefixSatMulti      = []byte("t/") // t/<sat:8 BE><id> -> empty
	prefixChildren      = []byte("c/") // c/<parent id><child id> -> empty

	keyNextSeq    = []byte("x/next_seq")
	keyBlessed    = []byte("x/blessed")
	keyCursed     = []byte("x/cursed")
	keyUnbound    = []byte("x/unbound_next")
	keyLostOffset = []byte("x/lost_next")
)

const (
	outpointLen = types.HashSize + 4
	idLen       = types.HashSize + 4
	satPointLen = outpointLen + 8
)

// Entry is the persisted metadata for one inscription (§3).
type Entry struct {
	SequenceNumber uint64               `json:"sequence_number"`
	Number         int64                `json:"number"`
	Fee            uint64               `json:"fee"`
	Height         uint64               `json:"height"`
	Timestamp      int64                `json:"timestamp"`
	Sat            *ordinal.Sat         `json:"sat,omitempty"`
	Parent         *types.InscriptionId `json:"parent,omitempty"`
}

// Tracker maintains the inscription tables: entries, numbering,
// sequence, current location, and parent/child links.
type Tracker struct {
	db storage.DB
}

// New returns a Tracker backed by db (expected to be namespaced to this
// component already).
func New(db storage.DB) *Tracker {
	return &Tracker{db: db}
}

func idKey(prefix []byte, id types.InscriptionId) []byte {
	key := make([]byte, len(prefix)+idLen)
	copy(key, prefix)
	copy(key[len(prefix):], id.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefix)+types.HashSize:], id.Index)
	return key
}

func outpointBytes(op types.Outpoint) []byte {
	b := make([]byte, outpointLen)
	copy(b, op.TxID[:])
	binary.BigEndian.PutUint32(b[types.HashSize:], op.Index)
	return b
}

func decodeOutpoint(b []byte) types.Outpoint {
	var op types.Outpoint
	copy(op.TxID[:], b[:types.HashSize])
	op.Index = binary.BigEndian.Uint32(b[types.HashSize:])
	return op
}

func decodeID(b []byte) types.InscriptionId {
	var id types.InscriptionId
	copy(id.TxID[:], b[:types.HashSize])
	id.Index = binary.BigEndian.Uint32(b[types.HashSize:])
	return id
}

// zigzag maps a signed inscription number to an unsigned one that
// preserves numeric ordering, so InscriptionNumber→InscriptionId can be
// stored in an ordered table and range-scanned.
func zigzag(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

func (t *Tracker) readCounter(key []byte) uint64 {
	data, err := t.db.Get(key)
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func (t *Tracker) writeCounter(key []byte, v uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, v)
	return t.db.Put(key, data)
}

// Entry returns the stored entry for id.
func (t *Tracker) Entry(id types.InscriptionId) (Entry, bool, error) {
	data, err := t.db.Get(idKey(prefixEntry, id))
	if err != nil {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("inscription: decode entry %s: %w", id, err)
	}
	return e, true, nil
}

func (t *Tracker) putEntry(id types.InscriptionId, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return t.db.Put(idKey(prefixEntry, id), data)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(prefixSeqToID)+8)
	copy(key, prefixSeqToID)
	binary.BigEndian.PutUint64(key[len(prefixSeqToID):], seq)
	return key
}

func numberKey(n int64) []byte {
	key := make([]byte, len(prefixNumberToID)+8)
	copy(key, prefixNumberToID)
	binary.BigEndian.PutUint64(key[len(prefixNumberToID):], zigzag(n))
	return key
}

// BySequence returns the inscription created with the given sequence
// number.
func (t *Tracker) BySequence(seq uint64) (types.InscriptionId, bool) {
	data, err := t.db.Get(seqKey(seq))
	if err != nil || len(data) != idLen {
		return types.InscriptionId{}, false
	}
	return decodeID(data), true
}

// ByNumber returns the inscription with the given signed number.
func (t *Tracker) ByNumber(n int64) (types.InscriptionId, bool) {
	data, err := t.db.Get(numberKey(n))
	if err != nil || len(data) != idLen {
		return types.InscriptionId{}, false
	}
	return decodeID(data), true
}

// Location returns an inscription's current SatPoint.
func (t *Tracker) Location(id types.InscriptionId) (types.SatPoint, bool, error) {
	data, err := t.db.Get(idKey(prefixLocation, id))
	if err != nil {
		return types.SatPoint{}, false, nil
	}
	if len(data) != satPointLen {
		return types.SatPoint{}, false, fmt.Errorf("inscription: corrupt location for %s", id)
	}
	sp := types.SatPoint{Outpoint: decodeOutpoint(data[:outpointLen]), Offset: binary.BigEndian.Uint64(data[outpointLen:])}
	return sp, true, nil
}

func (t *Tracker) setLocation(id types.InscriptionId, sp types.SatPoint) error {
	data := make([]byte, satPointLen)
	copy(data, outpointBytes(sp.Outpoint))
	binary.BigEndian.PutUint64(data[outpointLen:], sp.Offset)
	if err := t.db.Put(idKey(prefixLocation, id), data); err != nil {
		return err
	}
	key := make([]byte, len(prefixSatPointMulti)+outpointLen+8+idLen)
	copy(key, prefixSatPointMulti)
	copy(key[len(prefixSatPointMulti):], outpointBytes(sp.Outpoint))
	binary.BigEndian.PutUint64(key[len(prefixSatPointMulti)+outpointLen:], sp.Offset)
	copy(key[len(prefixSatPointMulti)+outpointLen+8:], idKey(nil, id))
	return t.db.Put(key, []byte{})
}

func (t *Tracker) clearLocation(id types.InscriptionId) error {
	sp, ok, err := t.Location(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	key := make([]byte, len(prefixSatPointMulti)+outpointLen+8+idLen)
	copy(key, prefixSatPointMulti)
	copy(key[len(prefixSatPointMulti):], outpointBytes(sp.Outpoint))
	binary.BigEndian.PutUint64(key[len(prefixSatPointMulti)+outpointLen:], sp.Offset)
	copy(key[len(prefixSatPointMulti)+outpointLen+8:], idKey(nil, id))
	if err := t.db.Delete(key); err != nil {
		return err
	}
	return t.db.Delete(idKey(prefixLocation, id))
}

// bindingsAt scans for inscriptions currently bound somewhere within
// outpoint, returning their per-output offsets.
func (t *Tracker) bindingsAt(op types.Outpoint) ([]struct {
	Offset uint64
	ID     types.InscriptionId
}, error) {
	prefix := make([]byte, len(prefixSatPointMulti)+outpointLen)
	copy(prefix, prefixSatPointMulti)
	copy(prefix[len(prefixSatPointMulti):], outpointBytes(op))

	var out []struct {
		Offset uint64
		ID     types.InscriptionId
	}
	err := t.db.ForEach(prefix, func(key, _ []byte) error {
		rest := key[len(prefix):]
		if len(rest) != 8+idLen {
			return nil
		}
		offset := binary.BigEndian.Uint64(rest[:8])
		id := decodeID(rest[8:])
		out = append(out, struct {
			Offset uint64
			ID     types.InscriptionId
		}{offset, id})
		return nil
	})
	return out, err
}

func (t *Tracker) addChild(parent, child types.InscriptionId) error {
	key := make([]byte, len(prefixChildren)+idLen+idLen)
	copy(key, prefixChildren)
	copy(key[len(prefixChildren):], idKey(nil, parent))
	copy(key[len(prefixChildren)+idLen:], idKey(nil, child))
	return t.db.Put(key, []byte{})
}

// Children returns the inscriptions recorded as children of parent.
func (t *Tracker) Children(parent types.InscriptionId) ([]types.InscriptionId, error) {
	prefix := make([]byte, len(prefixChildren)+idLen)
	copy(prefix, prefixChildren)
	copy(prefix[len(prefixChildren):], idKey(nil, parent))
	var out []types.InscriptionId
	err := t.db.ForEach(prefix, func(key, _ []byte) error {
		rest := key[len(prefix):]
		if len(rest) != idLen {
			return nil
		}
		out = append(out, decodeID(rest))
		return nil
	})
	return out, err
}

var prefixHeightLastSeq = []byte("h/") // h/<height:8 BE> -> seq:8 BE

func heightLastSeqKey(height uint64) []byte {
	key := make([]byte, len(prefixHeightLastSeq)+8)
	copy(key, prefixHeightLastSeq)
	binary.BigEndian.PutUint64(key[len(prefixHeightLastSeq):], height)
	return key
}

func seqValue(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// HeightLastSequenceNumber returns the highest sequence number assigned
// through height (exclusive upper bound for "inscriptions in block H").
func (t *Tracker) HeightLastSequenceNumber(height uint64) (uint64, bool) {
	data, err := t.db.Get(heightLastSeqKey(height))
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

func (t *Tracker) bindSat(sat ordinal.Sat, id types.InscriptionId) error {
	key := make([]byte, len(prefixSatMulti)+8+idLen)
	copy(key, prefixSatMulti)
	binary.BigEndian.PutUint64(key[len(prefixSatMulti):], uint64(sat))
	copy(key[len(prefixSatMulti)+8:], idKey(nil, id))
	return t.db.Put(key, []byte{})
}

// InscriptionsOnOutput returns the inscriptions currently bound
// somewhere within op, ordered by sequence number. The source sorts by
// sequence_number+1 (a known bug noted for a future refactor); this
// sorts directly by sequence_number instead, per spec.md §4.10's
// documented divergence.
func (t *Tracker) InscriptionsOnOutput(op types.Outpoint) ([]types.InscriptionId, error) {
	bindings, err := t.bindingsAt(op)
	if err != nil {
		return nil, err
	}
	type seqID struct {
		seq uint64
		id  types.InscriptionId
	}
	ordered := make([]seqID, 0, len(bindings))
	for _, b := range bindings {
		e, ok, err := t.Entry(b.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ordered = append(ordered, seqID{e.SequenceNumber, b.ID})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	out := make([]types.InscriptionId, len(ordered))
	for i, o := range ordered {
		out[i] = o.id
	}
	return out, nil
}

// Count returns the number of inscriptions assigned a sequence number so
// far (valid sequence numbers are [0, Count())).
func (t *Tracker) Count() uint64 {
	return t.readCounter(keyNextSeq)
}

// BlessedCount, CursedCount, and UnboundCount expose the curse/binding
// counters (§3's Statistics) for the index's stats table.
func (t *Tracker) BlessedCount() uint64 {
	return t.readCounter(keyBlessed)
}

func (t *Tracker) CursedCount() uint64 {
	return t.readCounter(keyCursed)
}

func (t *Tracker) UnboundCount() uint64 {
	return t.readCounter(keyUnbound)
}

// LatestInscriptionsPage is one page of a descending sequence-number
// walk, with the adjacent sequence numbers needed to page further.
type LatestInscriptionsPage struct {
	IDs  []types.InscriptionId
	Prev *uint64
	Next *uint64
}

// LatestInscriptionsWithPrevAndNext walks up to n inscriptions in
// descending sequence-number order starting at from (or the most recent
// one if from is nil), per spec.md §4.10's paginated descending
// iteration.
func (t *Tracker) LatestInscriptionsWithPrevAndNext(n uint64, from *uint64) (LatestInscriptionsPage, error) {
	total := t.Count()
	if total == 0 || n == 0 {
		return LatestInscriptionsPage{}, nil
	}
	start := total - 1
	if from != nil {
		if *from >= total {
			return LatestInscriptionsPage{}, fmt.Errorf("inscription: sequence number %d out of range", *from)
		}
		start = *from
	}

	end := int64(start) - int64(n) + 1
	if end < 0 {
		end = 0
	}

	var page LatestInscriptionsPage
	for seq := int64(start); seq >= end; seq-- {
		if id, ok := t.BySequence(uint64(seq)); ok {
			page.IDs = append(page.IDs, id)
		}
	}
	if start+1 < total {
		p := start + 1
		page.Prev = &p
	}
	if end > 0 {
		next := uint64(end) - 1
		page.Next = &next
	}
	return page, nil
}

