// internal/data/parser.go
package data

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/relvacode/iso8601"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrNotNumeric   = errors.New("value is not a finite number")
	ErrBadTimestamp = errors.New("invalid timestamp")
)

// ParseError describes a line that could not be turned into a Record.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	line := e.Line
	if len(line) > 64 {
		line = line[:64] + "..."
	}
	return fmt.Sprintf("parse record %q: %v", line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type rawRecord struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// ParseRecord parses one JSON line of the shape
// {"timestamp": "<ISO-8601>", "value": <number>}. Extra fields are ignored.
func ParseRecord(line []byte) (Record, error) {
	line = bytes.TrimSpace(line)

	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, &ParseError{Line: string(line), Err: err}
	}
	if isNull(raw.Timestamp) {
		return Record{}, &ParseError{Line: string(line), Err: fmt.Errorf("timestamp: %w", ErrMissingField)}
	}
	if isNull(raw.Value) {
		return Record{}, &ParseError{Line: string(line), Err: fmt.Errorf("value: %w", ErrMissingField)}
	}

	var tsStr string
	if err := json.Unmarshal(raw.Timestamp, &tsStr); err != nil {
		return Record{}, &ParseError{Line: string(line), Err: ErrBadTimestamp}
	}
	ts, err := iso8601.ParseString(strings.TrimSpace(tsStr))
	if err != nil {
		return Record{}, &ParseError{Line: string(line), Err: fmt.Errorf("%w: %v", ErrBadTimestamp, err)}
	}

	value, err := parseValue(raw.Value)
	if err != nil {
		return Record{}, &ParseError{Line: string(line), Err: err}
	}

	return Record{Timestamp: ts, Value: value}, nil
}

// parseValue accepts a JSON number or a string holding one.
func parseValue(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, ErrNotNumeric
		}
		v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, ErrNotNumeric
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotNumeric
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
