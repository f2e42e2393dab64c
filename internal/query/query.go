// Package query implements the read-only query surface (C10): lock-free
// lookups over whatever the driver (C8) has committed so far. There is
// no transport here, per the Non-goals this is a library API, not an
// HTTP/JSON server, shaped after (but not wired to) internal/rpc's
// handler style: one method per operation, returning a result plus an
// explicit "present" flag rather than panicking or erroring on a miss.
package query

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-chain/internal/index"
	"github.com/Klingon-tech/klingnet-chain/internal/inscription"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-chain/internal/runes"
	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
	"github.com/Klingon-tech/klingnet-chain/pkg/satrange"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/varint"
)

// nodeClient is the one RPC call list() needs beyond the local index: a
// transaction carrying no current sat ranges is "Spent" only if it is
// still confirmed somewhere in the node's active chain, "None" (never
// existed here) otherwise (§6).
type nodeClient interface {
	GetRawTransactionInfo(txid string) (*rpcclient.RawTransactionInfo, error)
}

// Store answers every read named in spec.md §4.10 against whatever the
// driver has committed. It holds no lock of its own: every table read
// underneath is already safe for concurrent readers against a single
// writer (§5).
type Store struct {
	driver *index.Driver
	node   nodeClient
}

// New returns a query Store reading from driver, backfilling chain
// membership checks for Spent/None disambiguation through node.
func New(driver *index.Driver, node nodeClient) *Store {
	return &Store{driver: driver, node: node}
}

// BlockHeight returns the tip height, or ok=false if nothing has been
// indexed yet.
func (s *Store) BlockHeight() (uint64, bool, error) {
	return s.driver.TipHeight()
}

// BlockCount returns the number of blocks indexed so far (tip height + 1,
// or 0 before the first block).
func (s *Store) BlockCount() (uint64, error) {
	tip, ok, err := s.driver.TipHeight()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return tip + 1, nil
}

// Statistics returns the current counter snapshot named in spec.md §3's
// Statistics bullet.
func (s *Store) Statistics() index.Stats {
	return s.driver.Statistics()
}

// BlockHash returns the canonical hash at height, or the tip's hash if
// height is nil.
func (s *Store) BlockHash(height *uint64) (types.Hash, bool, error) {
	h := height
	if h == nil {
		tip, ok, err := s.driver.TipHeight()
		if err != nil || !ok {
			return types.Hash{}, false, err
		}
		h = &tip
	}
	return s.driver.BlockHash(*h)
}

// Find returns the current location of sat. Sats rarer than Common are
// served directly from the rarity index; Common sats require a full
// scan of live outputs, since no sequence-ordered index over them exists
// (matching ord's own fallback for this case).
func (s *Store) Find(sat ordinal.Sat) (types.SatPoint, bool, error) {
	ledger := s.driver.Sats()
	if sp, ok, err := ledger.SatPoint(sat); err != nil {
		return types.SatPoint{}, false, err
	} else if ok {
		return sp, true, nil
	}

	var found types.SatPoint
	var ok bool
	err := ledger.ForEachOutput(func(op types.Outpoint, ranges []satrange.Range) error {
		if ok {
			return nil
		}
		var offset uint64
		for _, r := range ranges {
			if uint64(sat) >= uint64(r.Start) && uint64(sat) < uint64(r.End) {
				found = types.SatPoint{Outpoint: op, Offset: offset + (uint64(sat) - uint64(r.Start))}
				ok = true
				return nil
			}
			offset += r.Len()
		}
		return nil
	})
	if err != nil {
		return types.SatPoint{}, false, err
	}
	return found, ok, nil
}

// Segment is one overlap between a requested sat range and a live
// output's ranges, returned by FindRange.
type Segment struct {
	Outpoint types.Outpoint
	Start    ordinal.Sat
	End      ordinal.Sat
	Offset   uint64 // offset within Outpoint where Start lands
}

// FindRange returns every live output overlapping [start, end), requiring
// a full scan for the same reason Find's Common-sat fallback does.
func (s *Store) FindRange(start, end ordinal.Sat) ([]Segment, error) {
	if end <= start {
		return nil, fmt.Errorf("query: empty or inverted range [%d, %d)", start, end)
	}
	var segments []Segment
	err := s.driver.Sats().ForEachOutput(func(op types.Outpoint, ranges []satrange.Range) error {
		var offset uint64
		for _, r := range ranges {
			overlapStart := maxSat(r.Start, start)
			overlapEnd := minSat(r.End, end)
			if overlapStart < overlapEnd {
				segments = append(segments, Segment{
					Outpoint: op,
					Start:    overlapStart,
					End:      overlapEnd,
					Offset:   offset + (uint64(overlapStart) - uint64(r.Start)),
				})
			}
			offset += r.Len()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	return segments, nil
}

func maxSat(a, b ordinal.Sat) ordinal.Sat {
	if a > b {
		return a
	}
	return b
}

func minSat(a, b ordinal.Sat) ordinal.Sat {
	if a < b {
		return a
	}
	return b
}

// OutputStatus names the three outcomes of List (§4.10).
type OutputStatus int

const (
	// StatusNone means the outpoint has never been seen on the active chain.
	StatusNone OutputStatus = iota
	// StatusUnspent means the outpoint currently holds sat ranges.
	StatusUnspent
	// StatusSpent means the outpoint was seen (its transaction confirms on
	// the active chain) but its ranges have since moved on.
	StatusSpent
)

// ListResult is List's result: Ranges is only meaningful when Status is
// StatusUnspent.
type ListResult struct {
	Status OutputStatus
	Ranges []satrange.Range
}

// List reports an outpoint's sat-range status: Unspent if the ledger
// still holds ranges for it, Spent if not but its transaction still
// confirms on the node's active chain, None otherwise (§4.10, §6).
func (s *Store) List(op types.Outpoint) (ListResult, error) {
	ranges, ok, err := s.driver.Sats().Lookup(op)
	if err != nil {
		return ListResult{}, err
	}
	if ok {
		return ListResult{Status: StatusUnspent, Ranges: ranges}, nil
	}

	info, err := s.node.GetRawTransactionInfo(op.TxID.String())
	if err != nil {
		return ListResult{}, fmt.Errorf("query: confirm chain membership for %s: %w", op.TxID, err)
	}
	if info == nil || info.BlockHash == "" {
		return ListResult{Status: StatusNone}, nil
	}
	return ListResult{Status: StatusSpent}, nil
}

// GetInscriptionByID returns the persisted entry for id.
func (s *Store) GetInscriptionByID(id types.InscriptionId) (inscription.Entry, bool, error) {
	return s.driver.Inscriptions().Entry(id)
}

// GetInscriptionByNumber resolves an inscription number (negative for
// cursed) to its id and entry.
func (s *Store) GetInscriptionByNumber(n int64) (types.InscriptionId, inscription.Entry, bool, error) {
	id, ok := s.driver.Inscriptions().ByNumber(n)
	if !ok {
		return types.InscriptionId{}, inscription.Entry{}, false, nil
	}
	entry, ok, err := s.driver.Inscriptions().Entry(id)
	return id, entry, ok, err
}

// GetInscriptionBySequence resolves a sequence number to its id and entry.
func (s *Store) GetInscriptionBySequence(seq uint64) (types.InscriptionId, inscription.Entry, bool, error) {
	id, ok := s.driver.Inscriptions().BySequence(seq)
	if !ok {
		return types.InscriptionId{}, inscription.Entry{}, false, nil
	}
	entry, ok, err := s.driver.Inscriptions().Entry(id)
	return id, entry, ok, err
}

// GetInscriptionSatPoint returns an inscription's current location.
func (s *Store) GetInscriptionSatPoint(id types.InscriptionId) (types.SatPoint, bool, error) {
	return s.driver.Inscriptions().Location(id)
}

// GetInscriptionsOnOutput returns the inscriptions bound within op,
// ordered by sequence number.
func (s *Store) GetInscriptionsOnOutput(op types.Outpoint) ([]types.InscriptionId, error) {
	return s.driver.Inscriptions().InscriptionsOnOutput(op)
}

// GetLatestInscriptionsWithPrevAndNext pages back through the sequence
// number space, most recent first.
func (s *Store) GetLatestInscriptionsWithPrevAndNext(n uint64, from *uint64) (inscription.LatestInscriptionsPage, error) {
	return s.driver.Inscriptions().LatestInscriptionsWithPrevAndNext(n, from)
}

// GetRuneByID returns the issuance entry reserved at id.
func (s *Store) GetRuneByID(id types.RuneId) (runes.RuneEntry, bool, error) {
	return s.driver.Runes().Entry(id)
}

// GetRuneByNumber resolves a rune's raw numeric name to its id and entry.
// The corpus's rune updater (C6) only ever deals in this raw Uint128
// form: it has no base-26 spelled-name codec, so that's the form
// exposed here too (see DESIGN.md).
func (s *Store) GetRuneByNumber(number varint.Uint128) (types.RuneId, runes.RuneEntry, bool, error) {
	id, ok, err := s.driver.Runes().RuneID(number)
	if err != nil || !ok {
		return types.RuneId{}, runes.RuneEntry{}, false, err
	}
	entry, ok, err := s.driver.Runes().Entry(id)
	return id, entry, ok, err
}

// GetRuneBalancesForOutpoint returns the rune balances currently held at op.
func (s *Store) GetRuneBalancesForOutpoint(op types.Outpoint) ([]runes.Balance, error) {
	return s.driver.Runes().Balances(op)
}

// RareSatSatpoint returns the current location of a single rare sat.
func (s *Store) RareSatSatpoint(sat ordinal.Sat) (types.SatPoint, bool, error) {
	return s.driver.Sats().SatPoint(sat)
}

// RareSatSatpoints returns every indexed rare sat's current location.
func (s *Store) RareSatSatpoints() (map[ordinal.Sat]types.SatPoint, error) {
	return s.driver.Sats().RareSatPoints()
}
