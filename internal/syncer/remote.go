package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrSyncUnavailable means the remote ledger could not be reached or
	// answered with a server error. The push stays queued and is retried.
	ErrSyncUnavailable = errors.New("syncer: remote ledger unavailable")
)

// PushRequest is one transaction submitted to the remote ledger.
type PushRequest struct {
	TxID      string `json:"txId"`
	AccountID string `json:"accountId"`
	Amount    string `json:"amount"`
	Flagged   bool   `json:"flagged"`
}

// PushResult is the remote ledger's verdict on a pushed transaction.
// The server is authoritative: Status "accepted" carries the new
// confirmed balance, "rejected" carries a reason.
type PushResult struct {
	Status           string `json:"status"`
	ConfirmedBalance string `json:"confirmedBalance"`
	Reason           string `json:"reason,omitempty"`
}

const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Remote is the remote ledger API surface the sync client needs.
type Remote interface {
	// PushTransaction submits one transaction. A network or server
	// failure returns an error wrapping ErrSyncUnavailable; a rejection
	// is a successful call with Status "rejected".
	PushTransaction(ctx context.Context, req *PushRequest) (*PushResult, error)
	// FetchBalance returns the server's confirmed balance for an account.
	FetchBalance(ctx context.Context, accountID string) (string, error)
}

// HTTPRemote talks to the remote ledger over HTTP.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemote creates a remote ledger client for the given base URL.
func NewHTTPRemote(baseURL string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *HTTPRemote) PushTransaction(ctx context.Context, req *PushRequest) (*PushResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/ledger/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: server returned %d", ErrSyncUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote ledger returned %d", resp.StatusCode)
	}

	var result PushResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}
	return &result, nil
}

func (r *HTTPRemote) FetchBalance(ctx context.Context, accountID string) (string, error) {
	u := r.baseURL + "/ledger/balance?accountId=" + url.QueryEscape(accountID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: server returned %d", ErrSyncUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("remote ledger returned %d", resp.StatusCode)
	}

	var result struct {
		ConfirmedBalance string `json:"confirmedBalance"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode balance response: %w", err)
	}
	return result.ConfirmedBalance, nil
}
