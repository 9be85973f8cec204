package tle

import "time"

// Record is one satellite's name line plus its two element lines, as served by the API.
type Record struct {
	Name  string `json:"name"`
	Line1 string `json:"tleLine1"`
	Line2 string `json:"tleLine2"`

	// Derived from Line1 on a best-effort basis. Zero when the line does not
	// carry a parseable catalog number or epoch.
	NORADID int       `json:"-"`
	Epoch   time.Time `json:"-"`
}

// EpochRange represents the minimum and maximum epoch times in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// RangeOf returns the epoch range over records with a known epoch.
// Both bounds are zero when no record has one.
func RangeOf(records []Record) EpochRange {
	var r EpochRange
	for _, rec := range records {
		if rec.Epoch.IsZero() {
			continue
		}
		if r.Min.IsZero() || rec.Epoch.Before(r.Min) {
			r.Min = rec.Epoch
		}
		if r.Max.IsZero() || rec.Epoch.After(r.Max) {
			r.Max = rec.Epoch
		}
	}
	return r
}
