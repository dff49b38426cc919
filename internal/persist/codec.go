// Package persist saves and restores organ health.
package persist

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/invisible-tech/aion/internal/organism"
)

// FormatVersion is written as the first record of every state file.
const FormatVersion = 1

// ParseError reports a malformed record.
type ParseError struct {
	Line   int
	Record string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse state line %d %q: %s", e.Line, e.Record, e.Reason)
}

// WriteError reports a failed save. In-memory state is unaffected.
type WriteError struct {
	Target string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write state to %s: %v", e.Target, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Encode renders every organ as a kind=health record in stable order.
func Encode(t *organism.Topology) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "format=%d\n", FormatVersion)
	for _, o := range t.Organs() {
		buf.WriteString(o.Kind().String())
		buf.WriteByte('=')
		buf.WriteString(strconv.FormatFloat(o.Health(), 'f', -1, 64))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode parses kind=health records. Blank lines and lines starting with #
// are ignored. Any malformed record fails the whole decode.
func Decode(data []byte) (map[organism.OrganKind]float64, error) {
	records := make(map[organism.OrganKind]float64)
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Text()
		rec := strings.TrimSpace(raw)
		if rec == "" || strings.HasPrefix(rec, "#") {
			continue
		}
		key, value, ok := strings.Cut(rec, "=")
		if !ok {
			return nil, &ParseError{Line: line, Record: raw, Reason: "missing '='"}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key == "format" {
			if value != strconv.Itoa(FormatVersion) {
				return nil, &ParseError{Line: line, Record: raw, Reason: "unsupported format " + value}
			}
			continue
		}

		kind, err := organism.ParseOrganKind(key)
		if err != nil {
			return nil, &ParseError{Line: line, Record: raw, Reason: "unknown organ"}
		}
		if _, dup := records[kind]; dup {
			return nil, &ParseError{Line: line, Record: raw, Reason: "duplicate organ"}
		}
		h, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, &ParseError{Line: line, Record: raw, Reason: "health is not a number"}
		}
		if math.IsNaN(h) || math.IsInf(h, 0) {
			return nil, &ParseError{Line: line, Record: raw, Reason: "health is not finite"}
		}
		records[kind] = h
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Line: line + 1, Reason: err.Error()}
	}
	return records, nil
}

// Apply overwrites the health of every organ named in records, clamped.
// Organs absent from records keep their value.
// Either every record is applied or none is.
func Apply(records map[organism.OrganKind]float64, t *organism.Topology) error {
	for kind := range records {
		if _, ok := t.Organ(kind); !ok {
			return fmt.Errorf("%w: %s", organism.ErrUnknownOrgan, kind)
		}
	}
	for _, kind := range organism.OrganKinds {
		h, ok := records[kind]
		if !ok {
			continue
		}
		if _, err := t.SetHealth(kind, h); err != nil {
			return err
		}
	}
	return nil
}
