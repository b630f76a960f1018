package cellular

import (
	"bytes"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := newFrameWriter(&buf)

	payloads := [][]byte{
		[]byte(`{"command":"dial"}`),
		[]byte(""),
		[]byte(`{"report":true,"type":"CALL_STATE"}`),
	}
	for _, p := range payloads {
		if err := fw.WriteFrame(p); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	fr := newFrameReader(&buf)
	for _, want := range payloads {
		got, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame = %q, want %q", got, want)
		}
	}
}

func TestReadFrameBadTrailer(t *testing.T) {
	fr := newFrameReader(strings.NewReader("5:hello;"))
	if _, err := fr.ReadFrame(); err == nil {
		t.Error("ReadFrame accepted a bad trailer")
	}
}

func TestReadFrameBadLength(t *testing.T) {
	fr := newFrameReader(strings.NewReader("abc:hello,"))
	if _, err := fr.ReadFrame(); err == nil {
		t.Error("ReadFrame accepted a non-numeric length")
	}
}

func TestReadFrameOversized(t *testing.T) {
	fr := newFrameReader(strings.NewReader("2097152:"))
	if _, err := fr.ReadFrame(); err == nil {
		t.Error("ReadFrame accepted an oversized frame")
	}
}
