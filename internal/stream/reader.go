package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// maxLineSize bounds one SSE line. Stage outputs can be long.
const maxLineSize = 4 * 1024 * 1024

// Event is one decoded stream event.
type Event struct {
	// Type is the payload's "type" field.
	Type string
	// Raw is the full JSON payload.
	Raw json.RawMessage
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// Reader decodes an SSE stream of JSON objects. Blank lines, comments,
// non-data fields and data lines that are not JSON objects are skipped.
type Reader struct {
	scanner *bufio.Scanner
	skipped int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: sc}
}

// Next returns the next event, or io.EOF when the stream ends.
func (r *Reader) Next() (Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(payload), &head); err != nil {
			r.skipped++
			continue
		}
		return Event{Type: head.Type, Raw: json.RawMessage(payload)}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Skipped returns how many malformed data lines were ignored.
func (r *Reader) Skipped() int {
	return r.skipped
}
