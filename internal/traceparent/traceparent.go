// Package traceparent parses and formats the W3C Trace Context traceparent
// header (version-trace_id-parent_id-flags), so process_logs rows can carry
// a real trace_id/span_id instead of leaving them perpetually empty. There
// is no teacher or pack precedent for this wire format — written fresh, in
// the small-package, table-driven-test idiom of internal/tenantguard.
package traceparent

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// versionReserved is the one version byte the spec reserves and forbids
// parsing, to leave room for a future incompatible wire change.
const versionReserved = 0xff

// ErrInvalidVersion is returned by Parse for the reserved ff version byte.
var ErrInvalidVersion = errors.New("traceparent: version ff is reserved")

// ErrMalformed is returned by Parse for any header that isn't at least a
// well-formed version-trace_id-parent_id-flags quadruple.
var ErrMalformed = errors.New("traceparent: malformed header")

// TraceParent is one parsed traceparent header.
type TraceParent struct {
	Version byte
	TraceID [16]byte
	SpanID  [8]byte
	Flags   byte
}

// Parse decodes a traceparent header value. Version 00 requires exactly
// four hyphen-separated fields of the documented lengths. Any other
// non-reserved version is accepted leniently (future versions may append
// fields after flags), so a forward-compatible sender is never rejected.
func Parse(header string) (TraceParent, error) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) < 4 {
		return TraceParent{}, ErrMalformed
	}

	versionBytes, err := decodeFixed(parts[0], 1)
	if err != nil {
		return TraceParent{}, fmt.Errorf("%w: version: %v", ErrMalformed, err)
	}
	version := versionBytes[0]
	if version == versionReserved {
		return TraceParent{}, ErrInvalidVersion
	}
	if version == 0x00 && len(parts) != 4 {
		return TraceParent{}, fmt.Errorf("%w: version 00 requires exactly 4 fields, got %d", ErrMalformed, len(parts))
	}

	traceIDBytes, err := decodeFixed(parts[1], 16)
	if err != nil {
		return TraceParent{}, fmt.Errorf("%w: trace_id: %v", ErrMalformed, err)
	}
	spanIDBytes, err := decodeFixed(parts[2], 8)
	if err != nil {
		return TraceParent{}, fmt.Errorf("%w: parent_id: %v", ErrMalformed, err)
	}
	flagsBytes, err := decodeFixed(parts[3], 1)
	if err != nil {
		return TraceParent{}, fmt.Errorf("%w: flags: %v", ErrMalformed, err)
	}

	var tp TraceParent
	tp.Version = version
	copy(tp.TraceID[:], traceIDBytes)
	copy(tp.SpanID[:], spanIDBytes)
	tp.Flags = flagsBytes[0]
	return tp, nil
}

func decodeFixed(hexStr string, wantLen int) ([]byte, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, err
	}
	if len(b) != wantLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", wantLen, len(b))
	}
	return b, nil
}

// String formats tp back into the canonical version-trace_id-parent_id-flags
// header shape. Parse(tp.String()) round-trips for any tp Parse produced.
func (tp TraceParent) String() string {
	return fmt.Sprintf("%02x-%s-%s-%02x", tp.Version, hex.EncodeToString(tp.TraceID[:]), hex.EncodeToString(tp.SpanID[:]), tp.Flags)
}

// TraceIDHex returns the 32-hex-digit trace ID for storage in a log row.
func (tp TraceParent) TraceIDHex() string {
	return hex.EncodeToString(tp.TraceID[:])
}

// SpanIDHex returns the 16-hex-digit span (parent) ID for storage in a log row.
func (tp TraceParent) SpanIDHex() string {
	return hex.EncodeToString(tp.SpanID[:])
}

// New generates a fresh version-00 TraceParent with random trace/span IDs,
// for events that arrive with no incoming trace context of their own (e.g.
// AQ-dequeued events, which carry no HTTP header to extract one from).
func New() (TraceParent, error) {
	var tp TraceParent
	if _, err := rand.Read(tp.TraceID[:]); err != nil {
		return TraceParent{}, fmt.Errorf("traceparent: generating trace_id: %w", err)
	}
	if _, err := rand.Read(tp.SpanID[:]); err != nil {
		return TraceParent{}, fmt.Errorf("traceparent: generating parent_id: %w", err)
	}
	return tp, nil
}
