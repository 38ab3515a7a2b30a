// Package reconciliation periodically compares local confirmed balances
// against the remote ledger and adopts the server's value on divergence.
//
// Divergence is expected: the server may apply fraud clawbacks or manual
// adjustments that never flow through a transaction ack. The server is
// authoritative for confirmed balances, so the sweep corrects the local
// view rather than raising an error.
package reconciliation

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/celf-labs/celfd/internal/syncer"
	"github.com/celf-labs/celfd/internal/token"
	"github.com/celf-labs/celfd/internal/wallet"
)

var driftsCorrected = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "celfd",
	Subsystem: "reconciliation",
	Name:      "drifts_corrected_total",
	Help:      "Local confirmed balances corrected to the server's value.",
})

func init() {
	prometheus.MustRegister(driftsCorrected)
}

// Service sweeps accounts against the remote ledger.
type Service struct {
	ledger   *wallet.Ledger
	remote   syncer.Remote
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a reconciliation service.
func New(ledger *wallet.Ledger, remote syncer.Remote, interval time.Duration, logger *slog.Logger) *Service {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Service{
		ledger:   ledger,
		remote:   remote,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one immediate sweep, then sweeps on the configured interval.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("reconciliation service started", "interval", s.interval)
	go s.loop(ctx)
}

// Stop stops the sweep loop and waits for the current sweep to finish.
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	if _, err := s.Reconcile(ctx); err != nil {
		s.logger.Error("startup reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil {
				s.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// Drift is one corrected account from a sweep.
type Drift struct {
	AccountID      string `json:"accountId"`
	LocalConfirmed string `json:"localConfirmed"`
	ServerBalance  string `json:"serverBalance"`
}

// Reconcile sweeps every known account once and returns the corrections
// it made. An unreachable server skips the remaining accounts; the next
// sweep picks them up.
func (s *Service) Reconcile(ctx context.Context) ([]Drift, error) {
	accounts, err := s.ledger.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, accountID := range accounts {
		serverBalance, err := s.remote.FetchBalance(ctx, accountID)
		if err != nil {
			s.logger.Warn("balance fetch failed, deferring sweep",
				"account_id", accountID, "error", err)
			return drifts, err
		}

		acct, err := s.ledger.Balance(ctx, accountID)
		if err != nil {
			return drifts, err
		}

		if balancesEqual(acct.ConfirmedBalance, serverBalance) {
			continue
		}

		if err := s.ledger.AdoptConfirmed(ctx, accountID, serverBalance); err != nil {
			s.logger.Error("failed to adopt server balance",
				"account_id", accountID, "error", err)
			continue
		}

		driftsCorrected.Inc()
		drifts = append(drifts, Drift{
			AccountID:      accountID,
			LocalConfirmed: acct.ConfirmedBalance,
			ServerBalance:  serverBalance,
		})
		s.logger.Warn("confirmed balance corrected from server",
			"account_id", accountID,
			"local", acct.ConfirmedBalance, "server", serverBalance)
	}
	return drifts, nil
}

// balancesEqual compares two decimal amounts by value, so "0" and
// "0.00000000" are the same balance.
func balancesEqual(a, b string) bool {
	av, aok := token.Parse(a)
	bv, bok := token.Parse(b)
	if !aok || !bok {
		return a == b
	}
	return av.Cmp(bv) == 0
}
