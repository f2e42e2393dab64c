// Package satrange implements the packed on-disk encoding for per-output
// sat ranges (C4's data model, spec §3: "packed sequence of 11-byte
// records encoding [start,end) sat intervals") and the FIFO stream
// operations the sat-range ledger needs to move ranges from inputs to
// outputs.
package satrange

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
)

// RecordSize is the width of one packed sat-range record: a 7-byte (56-bit)
// big-endian start sat followed by a 4-byte (32-bit) big-endian length in
// sats. 56 bits comfortably covers ordinal.SupplyLimit (needs 51 bits); a
// 32-bit length caps a single record at ~4.29 billion sats — ranges wider
// than that (e.g. a merged lost-sat tail) are stored as consecutive
// records rather than widening the format.
const RecordSize = 11

const maxRecordLength = (1 << 32) - 1

// Range is a half-open interval of sat numbers [Start, End).
type Range struct {
	Start ordinal.Sat
	End   ordinal.Sat
}

// Len returns the number of sats in the range.
func (r Range) Len() uint64 {
	return uint64(r.End - r.Start)
}

// Encode appends r to buf as one or more 11-byte records (splitting if the
// range is wider than maxRecordLength).
func Encode(buf []byte, r Range) []byte {
	start := uint64(r.Start)
	remaining := r.Len()
	for remaining > 0 {
		n := remaining
		if n > maxRecordLength {
			n = maxRecordLength
		}
		var rec [RecordSize]byte
		putUint56(rec[:7], start)
		binary.BigEndian.PutUint32(rec[7:], uint32(n))
		buf = append(buf, rec[:]...)
		start += n
		remaining -= n
	}
	return buf
}

// EncodeAll encodes a list of ranges, in order, as a flat byte slice.
func EncodeAll(ranges []Range) []byte {
	var buf []byte
	for _, r := range ranges {
		buf = Encode(buf, r)
	}
	return buf
}

// DecodeAll decodes a flat byte slice of concatenated 11-byte records.
func DecodeAll(buf []byte) ([]Range, error) {
	if len(buf)%RecordSize != 0 {
		return nil, fmt.Errorf("satrange: corrupt encoding, length %d not a multiple of %d", len(buf), RecordSize)
	}
	n := len(buf) / RecordSize
	ranges := make([]Range, 0, n)
	for i := 0; i < n; i++ {
		rec := buf[i*RecordSize : (i+1)*RecordSize]
		start := getUint56(rec[:7])
		length := binary.BigEndian.Uint32(rec[7:])
		ranges = append(ranges, Range{Start: ordinal.Sat(start), End: ordinal.Sat(start + uint64(length))})
	}
	return coalesce(ranges), nil
}

// coalesce merges adjacent ranges produced by splitting a too-wide range
// back into single logical ranges, so callers iterating decoded output
// see the same ranges that were originally stored.
func coalesce(ranges []Range) []Range {
	if len(ranges) < 2 {
		return ranges
	}
	out := make([]Range, 0, len(ranges))
	cur := ranges[0]
	for _, r := range ranges[1:] {
		if cur.End == r.Start {
			cur.End = r.End
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}

func putUint56(b []byte, v uint64) {
	b[0] = byte(v >> 48)
	b[1] = byte(v >> 40)
	b[2] = byte(v >> 32)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 16)
	b[5] = byte(v >> 8)
	b[6] = byte(v)
}

func getUint56(b []byte) uint64 {
	return uint64(b[0])<<48 | uint64(b[1])<<40 | uint64(b[2])<<32 |
		uint64(b[3])<<24 | uint64(b[4])<<16 | uint64(b[5])<<8 | uint64(b[6])
}

// TotalSats sums the length of every range in the list.
func TotalSats(ranges []Range) uint64 {
	var total uint64
	for _, r := range ranges {
		total += r.Len()
	}
	return total
}
