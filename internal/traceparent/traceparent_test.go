package traceparent

import (
	"errors"
	"testing"
)

func TestParseFormatRoundTrips(t *testing.T) {
	cases := []string{
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		"00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-00",
	}
	for _, header := range cases {
		tp, err := Parse(header)
		if err != nil {
			t.Fatalf("Parse(%q): %v", header, err)
		}
		if got := tp.String(); got != header {
			t.Fatalf("round-trip mismatch: parsed %q, formatted %q", header, got)
		}
	}
}

func TestParseRejectsReservedVersion(t *testing.T) {
	_, err := Parse("ff-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	if !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestParseAcceptsUnknownNonReservedVersion(t *testing.T) {
	tp, err := Parse("01-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01-extra")
	if err != nil {
		t.Fatalf("expected an unknown version to be accepted leniently, got %v", err)
	}
	if tp.Version != 0x01 {
		t.Fatalf("expected version 0x01, got %#x", tp.Version)
	}
}

func TestParseRejectsMalformedHeader(t *testing.T) {
	cases := []string{
		"",
		"00-short-00f067aa0ba902b7-01",
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7",
		"zz-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	for _, header := range cases {
		if _, err := Parse(header); err == nil {
			t.Fatalf("expected Parse(%q) to fail", header)
		}
	}
}

func TestNewGeneratesRoundTrippableTraceParent(t *testing.T) {
	tp, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if tp.Version != 0x00 {
		t.Fatalf("expected version 00, got %#x", tp.Version)
	}
	reparsed, err := Parse(tp.String())
	if err != nil {
		t.Fatalf("expected a generated TraceParent to parse back, got %v", err)
	}
	if reparsed != tp {
		t.Fatalf("expected round-trip equality, got %+v vs %+v", reparsed, tp)
	}
}
