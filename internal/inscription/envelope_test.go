package inscription

import (
	"bytes"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/script"
)

// buildEnvelopeScript assembles a minimal tapscript carrying one
// envelope with the given content type and body, for test purposes —
// it skips the leading pubkey-push/OP_CHECKSIG prefix real reveal
// scripts carry, since the parser doesn't look at anything before the
// OP_FALSE OP_IF.
func buildEnvelopeScript(contentType, body []byte) []byte {
	var buf bytes.Buffer
	push := func(b []byte) {
		buf.WriteByte(byte(len(b)))
		buf.Write(b)
	}
	buf.WriteByte(script.OpFalse)
	buf.WriteByte(script.OpIf)
	push([]byte("ord"))
	push([]byte{TagContentType})
	push(contentType)
	push(nil) // empty tag: start of body
	push(body)
	buf.WriteByte(script.OpEndIf)
	return buf.Bytes()
}

func TestParseEnvelopeBasic(t *testing.T) {
	scr := buildEnvelopeScript([]byte("text/plain"), []byte("hello"))
	witness := [][]byte{{0x01}, scr, {0xc0}} // [signature-ish, tapscript, control block]
	envs := ParseEnvelopes(0, witness)
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(envs))
	}
	e := envs[0]
	if string(e.ContentType) != "text/plain" {
		t.Errorf("content type = %q", e.ContentType)
	}
	if string(e.Body) != "hello" {
		t.Errorf("body = %q", e.Body)
	}
	if e.UnrecognizedEvenField || e.DuplicateField || e.HasPointer || e.HasParent {
		t.Errorf("unexpected flags: %+v", e)
	}
}

func TestParseEnvelopeNoTapscript(t *testing.T) {
	if envs := ParseEnvelopes(0, [][]byte{{0x01}}); envs != nil {
		t.Errorf("expected nil for short witness, got %+v", envs)
	}
}

func TestParseEnvelopeUnrecognizedEvenField(t *testing.T) {
	var buf bytes.Buffer
	push := func(b []byte) {
		buf.WriteByte(byte(len(b)))
		buf.Write(b)
	}
	buf.WriteByte(script.OpFalse)
	buf.WriteByte(script.OpIf)
	push([]byte("ord"))
	push([]byte{4}) // even, unrecognized
	push([]byte{0xaa})
	push(nil)
	buf.WriteByte(script.OpEndIf)

	envs := ParseEnvelopes(0, [][]byte{{0x01}, buf.Bytes(), {0xc0}})
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes", len(envs))
	}
	if !envs[0].UnrecognizedEvenField {
		t.Error("expected UnrecognizedEvenField")
	}
}

func TestParseEnvelopeDuplicateField(t *testing.T) {
	var buf bytes.Buffer
	push := func(b []byte) {
		buf.WriteByte(byte(len(b)))
		buf.Write(b)
	}
	buf.WriteByte(script.OpFalse)
	buf.WriteByte(script.OpIf)
	push([]byte("ord"))
	push([]byte{TagContentType})
	push([]byte("a"))
	push([]byte{TagContentType})
	push([]byte("b"))
	push(nil)
	buf.WriteByte(script.OpEndIf)

	envs := ParseEnvelopes(0, [][]byte{{0x01}, buf.Bytes(), {0xc0}})
	if len(envs) != 1 || !envs[0].DuplicateField {
		t.Fatalf("got %+v", envs)
	}
}

func TestParseMultipleEnvelopesPerWitness(t *testing.T) {
	a := buildEnvelopeScript([]byte("text/plain"), []byte("one"))
	b := buildEnvelopeScript([]byte("text/plain"), []byte("two"))
	combined := append(append([]byte{}, a...), b...)
	envs := ParseEnvelopes(0, [][]byte{{0x01}, combined, {0xc0}})
	if len(envs) != 2 {
		t.Fatalf("got %d envelopes, want 2", len(envs))
	}
	if string(envs[0].Body) != "one" || string(envs[1].Body) != "two" {
		t.Errorf("got bodies %q, %q", envs[0].Body, envs[1].Body)
	}
	if envs[0].Offset != 0 || envs[1].Offset != 1 {
		t.Errorf("offsets: %d, %d", envs[0].Offset, envs[1].Offset)
	}
}

// TestParseEnvelopeValidFollowedByMalformedDiscardsWitness matches
// original_source/src/inscription.rs's InscriptionParser::parse: a
// structurally malformed construct anywhere in a witness invalidates every
// envelope found in that witness, including ones that parsed cleanly
// earlier in the same tapscript — the parser never returns "some of the
// witness's envelopes."
func TestParseEnvelopeValidFollowedByMalformedDiscardsWitness(t *testing.T) {
	good := buildEnvelopeScript([]byte("text/plain"), []byte("one"))

	var bad bytes.Buffer
	push := func(b []byte) {
		bad.WriteByte(byte(len(b)))
		bad.Write(b)
	}
	bad.WriteByte(script.OpFalse)
	bad.WriteByte(script.OpIf)
	push([]byte("ord"))
	push([]byte{TagContentType})
	// OP_IF where a push was expected: a non-push opcode inside the
	// envelope body, with more tapscript left — a structural failure, not
	// a clean end of script.
	bad.WriteByte(script.OpIf)
	bad.WriteByte(script.OpEndIf)

	combined := append(append([]byte{}, good...), bad.Bytes()...)
	envs := ParseEnvelopes(0, [][]byte{{0x01}, combined, {0xc0}})
	if envs != nil {
		t.Fatalf("expected nil (whole witness discarded), got %+v", envs)
	}
}

// TestParseEnvelopeTruncatedAtScriptEndDiscardsWitness covers the other
// structural-failure shape the review called out: a started envelope
// whose tapscript simply ends before a closing OP_ENDIF, rather than
// hitting an explicit non-push opcode. internal/script.Tokenize collapses
// "ran out of bytes because the script is well-formed and finished" and
// "ran out of bytes because a push's declared length overruns the script"
// into the same truncated instruction list, so this parser can't
// distinguish them the way the original's instruction iterator (which
// surfaces a decode error for the latter) can — both are treated as
// structural failure here, a deliberate, documented simplification (see
// DESIGN.md).
func TestParseEnvelopeTruncatedAtScriptEndDiscardsWitness(t *testing.T) {
	good := buildEnvelopeScript([]byte("text/plain"), []byte("one"))

	var bad bytes.Buffer
	push := func(b []byte) {
		bad.WriteByte(byte(len(b)))
		bad.Write(b)
	}
	bad.WriteByte(script.OpFalse)
	bad.WriteByte(script.OpIf)
	push([]byte("ord"))
	push([]byte{TagContentType})
	// No closing OP_ENDIF, and no more tapscript follows.

	combined := append(append([]byte{}, good...), bad.Bytes()...)
	envs := ParseEnvelopes(0, [][]byte{{0x01}, combined, {0xc0}})
	if envs != nil {
		t.Fatalf("expected nil (whole witness discarded), got %+v", envs)
	}
}
