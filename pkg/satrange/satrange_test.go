package satrange

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/ordinal"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ranges := []Range{
		{Start: 0, End: 5_000_000_000},
		{Start: 10_000_000_000, End: 12_499_999_995},
	}
	buf := EncodeAll(ranges)
	if len(buf)%RecordSize != 0 {
		t.Fatalf("encoded length %d not a multiple of %d", len(buf), RecordSize)
	}
	got, err := DecodeAll(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(ranges) {
		t.Fatalf("got %d ranges, want %d", len(got), len(ranges))
	}
	for i, r := range ranges {
		if got[i] != r {
			t.Errorf("range %d: got %+v, want %+v", i, got[i], r)
		}
	}
}

func TestDecodeCorruptLength(t *testing.T) {
	if _, err := DecodeAll(make([]byte, RecordSize+3)); err == nil {
		t.Error("expected error for non-multiple-of-11 length")
	}
}

func TestStreamPopExact(t *testing.T) {
	s := NewStream(Range{Start: 0, End: 100})
	popped, ok := s.Pop(100)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(popped) != 1 || popped[0] != (Range{Start: 0, End: 100}) {
		t.Errorf("got %+v", popped)
	}
	if !s.Empty() {
		t.Error("stream should be empty after popping everything")
	}
}

func TestStreamPopSplit(t *testing.T) {
	s := NewStream(Range{Start: 0, End: 100})
	popped, ok := s.Pop(30)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(popped) != 1 || popped[0] != (Range{Start: 0, End: 30}) {
		t.Errorf("first pop: got %+v", popped)
	}
	if s.Remaining() != 70 {
		t.Errorf("remaining = %d, want 70", s.Remaining())
	}
	popped2, ok := s.Pop(70)
	if !ok || len(popped2) != 1 || popped2[0] != (Range{Start: 30, End: 100}) {
		t.Errorf("second pop: got %+v, ok=%v", popped2, ok)
	}
}

func TestStreamPopAcrossMultipleRanges(t *testing.T) {
	s := NewStream(Range{Start: 0, End: 10}, Range{Start: 100, End: 110})
	popped, ok := s.Pop(15)
	if !ok {
		t.Fatal("expected ok")
	}
	want := []Range{{Start: 0, End: 10}, {Start: 100, End: 105}}
	if len(popped) != 2 || popped[0] != want[0] || popped[1] != want[1] {
		t.Errorf("got %+v, want %+v", popped, want)
	}
}

func TestStreamPopInsufficient(t *testing.T) {
	s := NewStream(Range{Start: 0, End: 10})
	popped, ok := s.Pop(20)
	if ok {
		t.Error("expected ok=false when stream underflows")
	}
	if TotalSats(popped) != 10 {
		t.Errorf("should drain everything available, got %d sats", TotalSats(popped))
	}
}

func TestSatAtOffset(t *testing.T) {
	ranges := []Range{{Start: 0, End: 10}, {Start: 100, End: 110}}
	sat, ok := SatAtOffset(ranges, 5)
	if !ok || sat != 5 {
		t.Errorf("offset 5: got %d, ok=%v", sat, ok)
	}
	sat, ok = SatAtOffset(ranges, 12)
	if !ok || sat != 102 {
		t.Errorf("offset 12: got %d, ok=%v", sat, ok)
	}
	_, ok = SatAtOffset(ranges, 100)
	if ok {
		t.Error("expected ok=false for out-of-range offset")
	}
}

func TestRareSatsOnlyAtRangeStart(t *testing.T) {
	// Sat 0 is mythic; the rest of a genesis-subsidy-sized range is common.
	ranges := []Range{{Start: 0, End: ordinal.Sat(ordinal.Subsidy(0))}}
	rare := RareSats(ranges)
	if len(rare) != 1 || rare[0].Sat != 0 || rare[0].Offset != 0 {
		t.Errorf("got %+v", rare)
	}
}
