package index

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
)

// SchemaVersion identifies the on-disk table layout this package writes.
// Bump it whenever a key format in meta.go, satledger, inscription, or
// runes changes incompatibly; §8's "byte-identical tables" property is
// only meaningful between two indexes built at the same SchemaVersion.
const SchemaVersion = 1

var (
	keyOutputsTraversed = []byte("s/outputs_traversed")
	keyCommitCount      = []byte("s/commit_count")
)

// statsTable persists the two counters the driver itself is in a
// position to maintain (outputs traversed, commit count); the rest of
// spec.md §3's Statistics bullet is read straight off C4/C5's own
// counters rather than duplicated here.
type statsTable struct {
	db storage.DB
}

func newStatsTable(db storage.DB) *statsTable {
	return &statsTable{db: db}
}

func (s *statsTable) readCounter(key []byte) uint64 {
	data, err := s.db.Get(key)
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func (s *statsTable) writeCounter(key []byte, v uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, v)
	return s.db.Put(key, data)
}

func (s *statsTable) addOutputsTraversed(n uint64) error {
	return s.writeCounter(keyOutputsTraversed, s.readCounter(keyOutputsTraversed)+n)
}

func (s *statsTable) incCommitCount() error {
	return s.writeCounter(keyCommitCount, s.readCounter(keyCommitCount)+1)
}

// Stats is a point-in-time snapshot of every counter named in spec.md
// §3's Statistics bullet, assembled from whichever component already
// owns each one.
type Stats struct {
	SchemaVersion    int
	IndexSats        bool
	IndexRunes       bool
	BlessedCount     uint64
	CursedCount      uint64
	UnboundCount     uint64
	LostSatsTotal    uint64
	SatRangesCount   uint64
	OutputsTraversed uint64
	CommitCount      uint64
}

// Statistics returns the current counter values for the query surface
// (C10). Reads are not wrapped in a transaction: per spec.md §5,
// counters are only guaranteed consistent with table reads taken from
// the same commit, and the driver only ever calls this between blocks.
func (d *Driver) Statistics() Stats {
	st := Stats{
		SchemaVersion: SchemaVersion,
		IndexSats:     d.params.IndexSats,
		IndexRunes:    d.params.IndexRunes,
		BlessedCount:  d.inscriptions.BlessedCount(),
		CursedCount:   d.inscriptions.CursedCount(),
		UnboundCount:  d.inscriptions.UnboundCount(),
	}
	if d.params.IndexSats {
		st.LostSatsTotal = d.sats.LostSats()
		st.SatRangesCount = d.sats.RangeCount()
	}
	st.OutputsTraversed = d.stats.readCounter(keyOutputsTraversed)
	st.CommitCount = d.stats.readCounter(keyCommitCount)
	return st
}
