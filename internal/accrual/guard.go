package accrual

import "time"

// Result is the guard's verdict on an elapsed-time claim. AdjustedElapsed
// is always usable; Flagged is the honesty signal consumed by review
// tooling and forwarded to the authoritative ledger.
type Result struct {
	AdjustedElapsed time.Duration
	Flagged         bool
}

// Guard validates a session's wall-clock elapsed claim against the
// monotonic delta observed for the same session.
//
// Policy: credit the user and flag, never reject. A flagged accrual still
// reaches the pending balance; the server side may later reverse it.
type Guard struct {
	// Tolerance is how far the wall-clock claim may deviate from the
	// monotonic delta before the claim is distrusted. Small deviations
	// are normal (NTP adjustments, app backgrounding slack).
	Tolerance time.Duration
	// MaxPlausible caps any session's creditable duration. Longer
	// sessions are clamped and flagged.
	MaxPlausible time.Duration
}

// Validate returns the elapsed value to credit and whether the claim was
// anomalous. It never fails.
//
//   - If claimed deviates from monotonic by more than Tolerance, the
//     monotonic delta wins and the result is flagged.
//   - If the trusted value exceeds MaxPlausible, it is clamped and flagged.
//   - Negative inputs are treated as zero and flagged.
func (g Guard) Validate(claimed, monotonic time.Duration) Result {
	var res Result

	if claimed < 0 || monotonic < 0 {
		res.Flagged = true
		if monotonic < 0 {
			monotonic = 0
		}
	}

	trusted := claimed
	diff := claimed - monotonic
	if diff < 0 {
		diff = -diff
	}
	if diff > g.Tolerance {
		trusted = monotonic
		res.Flagged = true
	}

	if g.MaxPlausible > 0 && trusted > g.MaxPlausible {
		trusted = g.MaxPlausible
		res.Flagged = true
	}

	if trusted < 0 {
		trusted = 0
	}
	res.AdjustedElapsed = trusted
	return res
}
