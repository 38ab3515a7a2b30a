// Package syncer pushes unsynced ledger transactions to the
// server-authoritative remote ledger.
//
// The client runs on its own ticker, fully decoupled from the session
// state machine: mining sessions start, pause, and stop normally while
// the remote ledger is unreachable, and the backlog drains when it
// comes back. Transactions are pushed in creation order per account; a
// failed push parks the rest of that account's queue until the next
// cycle so the server always sees accruals in order.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/celf-labs/celfd/internal/circuitbreaker"
	"github.com/celf-labs/celfd/internal/retry"
	"github.com/celf-labs/celfd/internal/traces"
	"github.com/celf-labs/celfd/internal/wallet"
)

const breakerEndpoint = "remote_ledger"

// Config controls sync cadence and retry behavior.
type Config struct {
	Interval    time.Duration // how often the backlog is drained
	BatchSize   int           // max transactions fetched per cycle
	MaxAttempts int           // push attempts per transaction per cycle
	BaseDelay   time.Duration // initial backoff between attempts
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		BatchSize:   100,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
}

// Client drains the wallet's unsynced backlog into the remote ledger.
type Client struct {
	ledger  *wallet.Ledger
	remote  Remote
	breaker *circuitbreaker.Breaker
	config  Config
	logger  *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a sync client.
func New(ledger *wallet.Ledger, remote Remote, cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		ledger:  ledger,
		remote:  remote,
		breaker: circuitbreaker.New(5, 2*cfg.Interval),
		config:  cfg,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the background sync loop.
func (c *Client) Start(ctx context.Context) {
	c.logger.Info("sync client started",
		"interval", c.config.Interval, "batch_size", c.config.BatchSize)
	go c.loop(ctx)
}

// Stop stops the sync loop and waits for the current cycle to finish.
func (c *Client) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Client) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.SyncOnce(ctx); err != nil {
				c.logger.Error("sync cycle failed", "error", err)
			}
		}
	}
}

// SyncOnce drains one batch of the unsynced backlog. Exported so the
// server can trigger an immediate drain after a session closes.
func (c *Client) SyncOnce(ctx context.Context) error {
	txns, err := c.ledger.ListUnsynced(ctx, c.config.BatchSize)
	if err != nil {
		return err
	}
	unsyncedBacklog.Set(float64(len(txns)))
	if len(txns) == 0 {
		return nil
	}

	// Creation order within an account must be preserved: once a push
	// for an account fails, later transactions for it wait for the next
	// cycle. Other accounts keep draining.
	parked := make(map[string]bool)

	for _, tx := range txns {
		if parked[tx.AccountID] {
			continue
		}
		if !c.breaker.Allow(breakerEndpoint) {
			c.logger.Warn("remote ledger circuit open, deferring sync",
				"pending", len(txns))
			return nil
		}

		if err := c.pushOne(ctx, tx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			parked[tx.AccountID] = true
			c.logger.Warn("push failed, parking account until next cycle",
				"tx_id", tx.TxID, "account_id", tx.AccountID, "error", err)
		}
	}

	lastSyncUnix.SetToCurrentTime()
	return nil
}

// pushOne pushes a single transaction and applies the server's verdict.
func (c *Client) pushOne(ctx context.Context, tx *wallet.Transaction) error {
	ctx, span := traces.StartSpan(ctx, "syncer.Push",
		traces.TxID(tx.TxID), traces.AccountID(tx.AccountID), traces.Amount(tx.Amount))
	defer span.End()

	var result *PushResult

	err := retry.Do(ctx, c.config.MaxAttempts, c.config.BaseDelay, func() error {
		res, err := c.remote.PushTransaction(ctx, &PushRequest{
			TxID:      tx.TxID,
			AccountID: tx.AccountID,
			Amount:    tx.Amount,
			Flagged:   tx.Flagged,
		})
		if err != nil {
			if errors.Is(err, ErrSyncUnavailable) {
				return err
			}
			return retry.Permanent(err)
		}
		result = res
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(breakerEndpoint)
		pushesTotal.WithLabelValues("failed").Inc()
		return err
	}
	c.breaker.RecordSuccess(breakerEndpoint)

	switch result.Status {
	case StatusAccepted:
		pushesTotal.WithLabelValues("accepted").Inc()
		if err := c.ledger.MarkSynced(ctx, tx.TxID, result.ConfirmedBalance); err != nil {
			if errors.Is(err, wallet.ErrAlreadyResolved) {
				return nil
			}
			return err
		}
		c.logger.Info("transaction confirmed",
			"tx_id", tx.TxID, "account_id", tx.AccountID,
			"confirmed_balance", result.ConfirmedBalance)
		return nil

	case StatusRejected:
		pushesTotal.WithLabelValues("rejected").Inc()
		if err := c.ledger.MarkRejected(ctx, tx.TxID, result.Reason); err != nil {
			if errors.Is(err, wallet.ErrAlreadyResolved) {
				return nil
			}
			return err
		}
		return nil

	default:
		pushesTotal.WithLabelValues("failed").Inc()
		c.breaker.RecordFailure(breakerEndpoint)
		return errors.New("syncer: unknown push status " + result.Status)
	}
}
