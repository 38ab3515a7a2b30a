package accrual

import "errors"

var ErrInvalidRate = errors.New("accrual: invalid rate configuration")

// BpsScale is the basis-point denominator: 10000 bps = 1.0x.
const BpsScale = 10000

// RateConfig is the rate snapshot taken when a mining session starts.
// It is immutable for the life of the session so rate changes or boost
// expiry mid-session can never retroactively alter what a session earns.
//
// BaseRateUnits is in smallest token units per active second.
// Multipliers are in basis points to keep the math in integers.
type RateConfig struct {
	BaseRateUnits int64 `json:"baseRateUnits"`
	BoostBps      int64 `json:"boostBps"`
	ReferralBps   int64 `json:"referralBps"`
}

// Normalize fills zero multipliers with the neutral 1.0x value and
// validates ranges. Returns ErrInvalidRate for negative fields.
func (rc RateConfig) Normalize() (RateConfig, error) {
	if rc.BaseRateUnits < 0 || rc.BoostBps < 0 || rc.ReferralBps < 0 {
		return RateConfig{}, ErrInvalidRate
	}
	if rc.BoostBps == 0 {
		rc.BoostBps = BpsScale
	}
	if rc.ReferralBps == 0 {
		rc.ReferralBps = BpsScale
	}
	return rc, nil
}
