// Package telemetry turns raw agent lines into typed telemetry records.
//
// Agents submit heterogeneous text: generic "timestamp,wattage" pairs in a
// variety of delimiters, or fixed 6-field system-metrics CSV. Parsing never
// drops a line; anything unrecognizable is retained verbatim so it can be
// inspected later.
package telemetry

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Record is a single parsed telemetry line.
//
// A record is structured if at least one of Timestamp or Wattage was
// recognized. Raw always holds the original line text.
type Record struct {
	Source    string
	Timestamp *time.Time
	Wattage   *float64
	Raw       string
}

// Structured reports whether at least one typed field was recognized.
func (r Record) Structured() bool {
	return r.Timestamp != nil || r.Wattage != nil
}

// timestampLayouts are the accepted timestamp shapes, most specific first.
// Tokens cannot contain whitespace, so space-separated datetime forms split
// into a bare date token followed by a time token.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseLine parses one raw line into a Record. It never fails: a line that
// yields neither a timestamp nor a wattage comes back unstructured with the
// raw text preserved.
//
// The line is split on commas and runs of whitespace. With two or more
// tokens, the first is tried as a timestamp and the second as a wattage;
// whichever parses is kept. Timestamps are normalized to UTC with second
// precision. An empty source defaults to "unknown".
func ParseLine(line, source string) Record {
	if source == "" {
		source = "unknown"
	}
	rec := Record{Source: source, Raw: line}

	tokens := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(tokens) < 2 {
		return rec
	}

	if ts, ok := parseTimestamp(tokens[0]); ok {
		rec.Timestamp = &ts
	}
	if w, ok := parseWattage(tokens[1]); ok {
		rec.Wattage = &w
	}

	return rec
}

// Lines splits a raw payload into its non-blank lines, trimmed.
func Lines(payload string) []string {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(payload, "\r\n", "\n"), "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func parseWattage(s string) (float64, bool) {
	w, err := strconv.ParseFloat(s, 64)
	return w, err == nil
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return t.UTC().Truncate(time.Second), true
	}
	return time.Time{}, false
}
