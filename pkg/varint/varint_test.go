package varint

import "testing"

func TestRoundTripSmall(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 129, 16383, 16384, 1 << 40, ^uint64(0)}
	for _, v := range cases {
		buf := EncodeUint64(nil, v)
		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode(%d): %v", v, err)
		}
		if n != len(buf) {
			t.Errorf("decode(%d) consumed %d bytes, want %d", v, n, len(buf))
		}
		if got.Hi != 0 || got.Lo != v {
			t.Errorf("round trip %d: got %s", v, got.String())
		}
	}
}

func TestRoundTripMax128(t *testing.T) {
	buf := Encode(nil, Max128)
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d, want %d", n, len(buf))
	}
	if got != Max128 {
		t.Errorf("got %s, want max128", got.String())
	}
}

func TestDecodeTruncated(t *testing.T) {
	// 0x80 signals "more bytes follow" but none do.
	if _, _, err := Decode([]byte{0x80}); err == nil {
		t.Error("expected error for truncated varint")
	}
}

func TestDecodeSequential(t *testing.T) {
	var buf []byte
	buf = EncodeUint64(buf, 100)
	buf = EncodeUint64(buf, 5000)
	v1, n1, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	v2, _, err := Decode(buf[n1:])
	if err != nil {
		t.Fatal(err)
	}
	if v1.Lo != 100 || v2.Lo != 5000 {
		t.Errorf("sequential decode = %d, %d, want 100, 5000", v1.Lo, v2.Lo)
	}
}

func TestUint128Cmp(t *testing.T) {
	a := Uint128{Lo: 5}
	b := Uint128{Lo: 10}
	if a.Cmp(b) >= 0 {
		t.Error("5 should be less than 10")
	}
	if b.Cmp(a) <= 0 {
		t.Error("10 should be greater than 5")
	}
	if a.Cmp(a) != 0 {
		t.Error("a should equal a")
	}
}

func TestUint128AddSaturates(t *testing.T) {
	got := Max128.Add(FromUint64(1))
	if got != Max128 {
		t.Errorf("Max128+1 should saturate at Max128, got %s", got.String())
	}
}

func TestUint128SubAndMin(t *testing.T) {
	a := FromUint64(100)
	b := FromUint64(30)
	if got := a.Sub(b); got.Lo != 70 {
		t.Errorf("100-30 = %d, want 70", got.Lo)
	}
	if got := a.Min(b); got.Lo != 30 {
		t.Errorf("min(100,30) = %d, want 30", got.Lo)
	}
}

func TestUint128String(t *testing.T) {
	cases := map[uint64]string{0: "0", 1: "1", 12345: "12345"}
	for v, want := range cases {
		if got := FromUint64(v).String(); got != want {
			t.Errorf("String(%d) = %s, want %s", v, got, want)
		}
	}
	big := Uint128{Hi: 1, Lo: 0} // 2^64
	if got := big.String(); got != "18446744073709551616" {
		t.Errorf("String(2^64) = %s, want 18446744073709551616", got)
	}
}
