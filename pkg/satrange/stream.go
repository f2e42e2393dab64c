package satrange

import "github.com/Klingon-tech/klingnet-chain/pkg/ordinal"

// Stream is a FIFO queue of sat ranges, used by the sat-range ledger (C4)
// to move ranges from an ordered concatenation of spent inputs into an
// ordered sequence of new outputs, splitting ranges at output boundaries.
type Stream struct {
	ranges []Range
}

// NewStream builds a stream from ranges, in the given order.
func NewStream(ranges ...Range) *Stream {
	s := &Stream{}
	for _, r := range ranges {
		s.Push(r)
	}
	return s
}

// Push appends a range to the back of the stream.
func (s *Stream) Push(r Range) {
	if r.Len() == 0 {
		return
	}
	s.ranges = append(s.ranges, r)
}

// Remaining returns the total sats left in the stream.
func (s *Stream) Remaining() uint64 {
	return TotalSats(s.ranges)
}

// Empty reports whether the stream has no sats left.
func (s *Stream) Empty() bool {
	return len(s.ranges) == 0
}

// Pop removes n sats from the front of the stream (splitting the
// boundary range if n doesn't land exactly on a range edge) and returns
// them as an ordered list of ranges. If the stream holds fewer than n
// sats, Pop drains everything it has and returns ok=false.
func (s *Stream) Pop(n uint64) (popped []Range, ok bool) {
	for n > 0 && len(s.ranges) > 0 {
		r := s.ranges[0]
		avail := r.Len()
		if avail <= n {
			popped = append(popped, r)
			s.ranges = s.ranges[1:]
			n -= avail
			continue
		}
		// Split: take the first n sats of r, leave the rest at the front.
		split := ordinal.Sat(uint64(r.Start) + n)
		popped = append(popped, Range{Start: r.Start, End: split})
		s.ranges[0] = Range{Start: split, End: r.End}
		n = 0
	}
	return popped, n == 0
}

// RareSats scans ranges for sats whose rarity is above Common and returns
// each such sat together with its offset within the range list
// (concatenated across ranges). Used by C4 to populate Sat→SatPoint.
//
// Every rarity class above Common is defined as "the first sat of a
// block" (mythic/legendary/epic/rare/uncommon are all, by construction,
// the first sat of some block's coinbase subsidy — see pkg/ordinal). A
// range only ever represents a contiguous slice of sats that began life
// as a single block's subsidy chunk, so the one sat that could possibly
// be non-common is always r.Start — scanning the rest of a
// multi-billion-sat range sat-by-sat would be needless and, for a full
// block subsidy, prohibitively slow.
func RareSats(ranges []Range) []RarePosition {
	var out []RarePosition
	var offset uint64
	for _, r := range ranges {
		if rarity, err := ordinal.RarityOf(r.Start); err == nil && rarity > ordinal.Common {
			out = append(out, RarePosition{Sat: r.Start, Offset: offset})
		}
		offset += r.Len()
	}
	return out
}

// RarePosition names a non-common sat and its offset within a sat range
// list (e.g. within one output's SatRanges).
type RarePosition struct {
	Sat    ordinal.Sat
	Offset uint64
}

// SatAtOffset returns the sat number located at the given offset into the
// concatenation of ranges (offset 0 is the first sat of the first range).
// ok is false if offset is beyond the total length.
func SatAtOffset(ranges []Range, offset uint64) (sat ordinal.Sat, ok bool) {
	for _, r := range ranges {
		n := r.Len()
		if offset < n {
			return ordinal.Sat(uint64(r.Start) + offset), true
		}
		offset -= n
	}
	return 0, false
}
