package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeLine serializes a record as one newline-delimited JSON
// document. The trailing newline is included so callers can
// concatenate encoded lines into a single append write.
func EncodeLine(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeLine parses a single NDJSON line back into a record.
func DecodeLine(line []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(bytes.TrimSpace(line), &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}
