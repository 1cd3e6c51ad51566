package codec

import "crewcal/internal/model"

// ToStoreSpan converts an inclusive [start, end] span into the store's
// all-day form with an exclusive end (the day after the last day).
func ToStoreSpan(start, end model.Date) (model.Date, model.Date) {
	if end.Before(start) {
		end = start
	}
	return start, end.AddDays(1)
}

// FromStoreSpan converts a stored [start, endExclusive) span back to an
// inclusive one. Degenerate spans read as a single day.
func FromStoreSpan(start, endExclusive model.Date) (model.Date, model.Date) {
	end := endExclusive.AddDays(-1)
	if end.Before(start) {
		end = start
	}
	return start, end
}
