package accrual

import (
	"testing"
	"time"
)

func TestValidate_HonestClaimPasses(t *testing.T) {
	g := Guard{Tolerance: 5 * time.Second, MaxPlausible: 24 * time.Hour}

	res := g.Validate(3600*time.Second, 3602*time.Second)
	if res.Flagged {
		t.Error("claim within tolerance should not be flagged")
	}
	if res.AdjustedElapsed != 3600*time.Second {
		t.Errorf("AdjustedElapsed = %v, want claimed 3600s", res.AdjustedElapsed)
	}
}

func TestValidate_WallClockTamperUsesMonotonic(t *testing.T) {
	// Claimed 10000s of wall time but only 50s of monotonic progress:
	// the device clock was wound forward. Credit the monotonic 50s, flag.
	g := Guard{Tolerance: 5 * time.Second, MaxPlausible: 24 * time.Hour}

	res := g.Validate(10000*time.Second, 50*time.Second)
	if !res.Flagged {
		t.Error("tampered claim must be flagged")
	}
	if res.AdjustedElapsed != 50*time.Second {
		t.Errorf("AdjustedElapsed = %v, want monotonic 50s", res.AdjustedElapsed)
	}
}

func TestValidate_WallClockBehindUsesMonotonic(t *testing.T) {
	// Clock wound backward: claimed less than actually elapsed. The
	// monotonic value still wins; the user is not shorted.
	g := Guard{Tolerance: 5 * time.Second, MaxPlausible: 24 * time.Hour}

	res := g.Validate(10*time.Second, 500*time.Second)
	if !res.Flagged {
		t.Error("deviating claim must be flagged")
	}
	if res.AdjustedElapsed != 500*time.Second {
		t.Errorf("AdjustedElapsed = %v, want monotonic 500s", res.AdjustedElapsed)
	}
}

func TestValidate_ClampsToMaxPlausible(t *testing.T) {
	g := Guard{Tolerance: 5 * time.Second, MaxPlausible: time.Hour}

	res := g.Validate(3*time.Hour, 3*time.Hour)
	if !res.Flagged {
		t.Error("over-maximum session must be flagged")
	}
	if res.AdjustedElapsed != time.Hour {
		t.Errorf("AdjustedElapsed = %v, want clamped 1h", res.AdjustedElapsed)
	}
}

func TestValidate_NeverNegative(t *testing.T) {
	g := Guard{Tolerance: 5 * time.Second, MaxPlausible: time.Hour}

	res := g.Validate(-30*time.Second, -10*time.Second)
	if !res.Flagged {
		t.Error("negative inputs must be flagged")
	}
	if res.AdjustedElapsed < 0 {
		t.Errorf("AdjustedElapsed = %v, must be non-negative", res.AdjustedElapsed)
	}
}

func TestValidate_ZeroDurationIsClean(t *testing.T) {
	g := Guard{Tolerance: 5 * time.Second, MaxPlausible: time.Hour}

	res := g.Validate(0, 0)
	if res.Flagged {
		t.Error("zero-duration session is a graceful cancel, not an anomaly")
	}
	if res.AdjustedElapsed != 0 {
		t.Errorf("AdjustedElapsed = %v, want 0", res.AdjustedElapsed)
	}
}
