// Package accrual computes CELF earned by a mining session and validates
// the session's elapsed-time claim before any amount is credited.
//
// The calculator is a pure function over (elapsed, rate snapshot): no
// state, no I/O, no wall-clock reads. The same inputs always produce the
// same smallest-unit amount, which lets the server recompute any accrual
// for audit and lets tests assert exact values.
package accrual

import (
	"errors"
	"math/big"
	"time"
)

// ErrInvalidInput marks a programming-contract violation (negative
// elapsed time). It is not a recoverable runtime case.
var ErrInvalidInput = errors.New("accrual: invalid input")

var bpsScale = big.NewInt(BpsScale)

// Calculator turns elapsed active time into a token amount.
type Calculator struct{}

// Compute returns the smallest-unit amount accrued for the given elapsed
// active duration under the given rate snapshot.
//
//	amount = floor(floor(seconds * base * boost/10000) * referral/10000)
//
// Partial seconds are floored before the rate is applied. Each multiplier
// step floors independently so the result is reproducible regardless of
// platform float behavior (no floats are involved at all).
func (Calculator) Compute(elapsed time.Duration, rc RateConfig) (*big.Int, error) {
	if elapsed < 0 {
		return nil, ErrInvalidInput
	}
	rc, err := rc.Normalize()
	if err != nil {
		return nil, err
	}

	seconds := big.NewInt(int64(elapsed / time.Second))

	amount := new(big.Int).Mul(seconds, big.NewInt(rc.BaseRateUnits))
	amount.Mul(amount, big.NewInt(rc.BoostBps))
	amount.Quo(amount, bpsScale)
	amount.Mul(amount, big.NewInt(rc.ReferralBps))
	amount.Quo(amount, bpsScale)

	return amount, nil
}
