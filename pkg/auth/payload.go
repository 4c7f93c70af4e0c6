package auth

import (
	"net/url"
	"strconv"
	"strings"
)

// Payload is the canonical signing string for one request:
//
//	instruction=<name>[&<sorted-urlencoded-params>]&timestamp=<ms>&window=<ms>
//
// Payloads are built fresh per request and never reused; replay protection
// at the exchange depends on the timestamp being current.
type Payload struct {
	// Query is the fully-assembled instruction+params segment, without the
	// trailing timestamp/window pair. For batch requests it contains one
	// instruction=... segment per array element.
	Query     string
	Timestamp int64
	Window    int64
}

// NewPayload canonicalizes a single-object request. Parameter keys are
// sorted lexicographically and URL-encoded.
func NewPayload(instruction string, params url.Values, timestampMs, windowMs int64) Payload {
	var b strings.Builder
	b.WriteString("instruction=")
	b.WriteString(instruction)
	if encoded := params.Encode(); encoded != "" {
		b.WriteByte('&')
		b.WriteString(encoded)
	}
	return Payload{Query: b.String(), Timestamp: timestampMs, Window: windowMs}
}

// NewBatchPayload canonicalizes a batch request (an array of objects, e.g.
// multi-order submission). Each element contributes its own
// instruction=<name>&<sorted params> segment; the segments are joined with
// '&' and no additional instruction prefix is added outside the loop.
func NewBatchPayload(instruction string, batch []url.Values, timestampMs, windowMs int64) Payload {
	segments := make([]string, 0, len(batch))
	for _, params := range batch {
		segment := "instruction=" + instruction
		if encoded := params.Encode(); encoded != "" {
			segment += "&" + encoded
		}
		segments = append(segments, segment)
	}
	return Payload{Query: strings.Join(segments, "&"), Timestamp: timestampMs, Window: windowMs}
}

// String renders the full signing string, appending the timestamp and
// validity window to the query segment.
func (p Payload) String() string {
	var b strings.Builder
	b.WriteString(p.Query)
	b.WriteString("&timestamp=")
	b.WriteString(strconv.FormatInt(p.Timestamp, 10))
	b.WriteString("&window=")
	b.WriteString(strconv.FormatInt(p.Window, 10))
	return b.String()
}
