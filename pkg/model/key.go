package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyKind tells how ordering-key values are rendered in a search query.
type KeyKind int

const (
	// KeyNumeric keys are plain integers (stars, forks, size).
	KeyNumeric KeyKind = iota

	// KeyDate keys are days since the Unix epoch (created, pushed).
	KeyDate
)

const dateLayout = "2006-01-02"

// OrderingKey is the search qualifier used to partition the search space.
type OrderingKey struct {
	Field string
	Kind  KeyKind
}

var knownKeys = map[string]KeyKind{
	"stars":     KeyNumeric,
	"forks":     KeyNumeric,
	"size":      KeyNumeric,
	"followers": KeyNumeric,
	"created":   KeyDate,
	"pushed":    KeyDate,
}

// ParseOrderingKey resolves a qualifier name.
func ParseOrderingKey(field string) (OrderingKey, error) {
	field = strings.ToLower(strings.TrimSpace(field))
	kind, ok := knownKeys[field]
	if !ok {
		return OrderingKey{}, fmt.Errorf("unsupported ordering key %q", field)
	}
	return OrderingKey{Field: field, Kind: kind}, nil
}

// ParseValue converts a configured bound into a key value.
// Date keys accept YYYY-MM-DD or the literal "today".
func (k OrderingKey) ParseValue(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if k.Kind == KeyNumeric {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s bound %q: %w", k.Field, s, err)
		}
		return v, nil
	}

	var t time.Time
	if strings.EqualFold(s, "today") {
		t = time.Now().UTC()
	} else {
		var err error
		t, err = time.Parse(dateLayout, s)
		if err != nil {
			return 0, fmt.Errorf("parse %s bound %q: %w", k.Field, s, err)
		}
	}
	return DaysSinceEpoch(t), nil
}

// FormatValue renders a key value the way the search syntax expects it.
func (k OrderingKey) FormatValue(v int64) string {
	if k.Kind == KeyDate {
		return time.Unix(v*86400, 0).UTC().Format(dateLayout)
	}
	return strconv.FormatInt(v, 10)
}

// Qualifier renders a range as an inclusive search qualifier,
// e.g. "stars:10..19" for [10,20).
func (k OrderingKey) Qualifier(r Range) string {
	return fmt.Sprintf("%s:%s..%s", k.Field, k.FormatValue(r.Low), k.FormatValue(r.High-1))
}

// DaysSinceEpoch truncates t to a whole UTC day count.
func DaysSinceEpoch(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}
