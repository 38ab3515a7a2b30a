package accrual

import "time"

// Record is the finalized outcome of a mining session: the amount to
// credit and the anomaly flag. Exactly one Record exists per session and
// it is immutable once produced.
//
// Amount is a decimal CELF string (token.Format output). The session ID
// doubles as the ledger transaction ID, which is what makes ledger
// application idempotent.
type Record struct {
	SessionID  string    `json:"sessionId"`
	AccountID  string    `json:"accountId"`
	Amount     string    `json:"amount"`
	Elapsed    int64     `json:"elapsedSeconds"`
	Flagged    bool      `json:"flagged"`
	ComputedAt time.Time `json:"computedAt"`
}
