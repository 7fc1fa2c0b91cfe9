package model

import "fmt"

// Range is a half-open interval [Low, High) over the ordering key.
type Range struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

// Width returns the number of key values covered by the range.
func (r Range) Width() int64 {
	if r.High <= r.Low {
		return 0
	}
	return r.High - r.Low
}

// Empty reports whether the range covers no key values.
func (r Range) Empty() bool {
	return r.Width() == 0
}

// Split bisects the range at the value midpoint.
// Both halves are non-empty when Width() >= 2.
func (r Range) Split() (Range, Range) {
	mid := r.Low + r.Width()/2
	return Range{Low: r.Low, High: mid}, Range{Low: mid, High: r.High}
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v int64) bool {
	return v >= r.Low && v < r.High
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Low, r.High)
}

// Status is the lifecycle state of a chunk.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusExhausted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusExhausted:
		return "exhausted"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further work will happen on a chunk.
func (s Status) Terminal() bool {
	return s == StatusExhausted || s == StatusFailed
}

// Chunk describes one bounded query over a sub-range of the ordering key.
type Chunk struct {
	ID     int
	Range  Range
	Status Status

	// Total is the result count observed when the chunk was planned.
	Total int

	// Oversized is set when the chunk holds more results than the window
	// limit but cannot be split further.
	Oversized bool

	// Err holds the failure cause of a Failed chunk.
	Err error
}
