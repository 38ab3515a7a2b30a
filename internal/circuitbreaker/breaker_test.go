package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("ledger") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("ledger")
	b.RecordFailure("ledger")
	if !b.Allow("ledger") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("ledger")
	if b.Allow("ledger") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("ledger") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("ledger"))
	}
}

func TestBreaker_OpenToHalfOpenAfterDuration(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("ledger")
	b.RecordFailure("ledger")
	if b.Allow("ledger") {
		t.Fatal("should be open")
	}

	time.Sleep(60 * time.Millisecond)

	// One probe is allowed while half-open.
	if !b.Allow("ledger") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("ledger") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("ledger"))
	}
	if b.Allow("ledger") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("ledger")
	b.RecordFailure("ledger")
	time.Sleep(60 * time.Millisecond)
	b.Allow("ledger")

	b.RecordSuccess("ledger")
	if b.State("ledger") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("ledger"))
	}
	if !b.Allow("ledger") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("ledger")
	b.RecordFailure("ledger")
	time.Sleep(60 * time.Millisecond)
	b.Allow("ledger")

	b.RecordFailure("ledger")
	if b.State("ledger") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("ledger"))
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("ledger")
	b.RecordFailure("ledger")
	b.RecordSuccess("ledger")

	b.RecordFailure("ledger")
	if !b.Allow("ledger") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentEndpoints(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("push")
	b.RecordFailure("push")

	if b.Allow("push") {
		t.Fatal("push should be open")
	}
	if !b.Allow("balance") {
		t.Fatal("balance should be closed")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
