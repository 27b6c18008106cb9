// Package clock provides the injectable regulatory clock. Monitors must
// derive "the current regulatory day" from a Clock, never from the ambient
// system clock, so date-keyed upserts and batch idempotence stay testable.
package clock

import "time"

// DateFormat is the canonical regulatory-day key (UTC calendar date).
const DateFormat = "2006-01-02"

// MonthFormat is the canonical key for monthly regulatory reports.
const MonthFormat = "2006-01"

// Clock supplies the current instant and the regulatory day derived from it.
type Clock interface {
	Now() time.Time
	Today() string
}

// System reads the real wall clock in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

func (s System) Today() string { return s.Now().Format(DateFormat) }

// Fixed always reports the same instant. Test use only.
type Fixed struct {
	T time.Time
}

// NewFixed returns a Fixed clock pinned to t (normalized to UTC).
func NewFixed(t time.Time) Fixed { return Fixed{T: t.UTC()} }

func (f Fixed) Now() time.Time { return f.T }

func (f Fixed) Today() string { return f.T.Format(DateFormat) }
