// Package ledger talks to the external credit ledger service and keeps the
// book of in-flight credit operations for the deduct → complete|refund saga.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// InsufficientCreditError reports a deduct attempt the ledger declined.
// Nothing was charged; the caller must not refund.
type InsufficientCreditError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit (need %d, have %d)", e.Required, e.Available)
}

type deductRequest struct {
	ModelName    string `json:"modelName"`
	QuestionType string `json:"questionType"`
	OperationID  string `json:"operationId"`
}

type deductResponse struct {
	Success        bool   `json:"success"`
	Sufficient     bool   `json:"sufficient"`
	CurrentPoints  int    `json:"currentPoints"`
	NewBalance     *int   `json:"newBalance,omitempty"`
	RequiredPoints *int   `json:"requiredPoints,omitempty"`
	Message        string `json:"message"`
}

type refundRequest struct {
	OperationID string `json:"operationId"`
	Amount      int    `json:"amount"`
	Reason      string `json:"reason"`
}

type refundResponse struct {
	Success bool `json:"success"`
}

type creditsResponse struct {
	Credits int `json:"credits"`
}

// Client is the ledger HTTP client plus local saga bookkeeping. Safe for
// concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	ttl     time.Duration
	log     zerolog.Logger
	journal Journal

	mu        sync.Mutex
	ops       map[string]*CreditOperation
	balance   int
	balanceAt time.Time
}

type Option func(*Client)

// WithJournal persists every operation transition so a crash between deduct
// and complete/refund leaves a reconcilable record.
func WithJournal(j Journal) Option {
	return func(c *Client) { c.journal = j }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpc = h
		}
	}
}

func New(baseURL, token string, ttl time.Duration, log zerolog.Logger, opts ...Option) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   16,
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 45 * time.Second, Transport: tr},
		ttl:     ttl,
		log:     log,
		ops:     make(map[string]*CreditOperation),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CheckAndDeduct performs the single atomic check-and-deduct call. On success
// it registers a pending CreditOperation and returns it. An insufficient
// balance comes back as *InsufficientCreditError with no balance change on
// the remote side.
func (c *Client) CheckAndDeduct(ctx context.Context, model, questionType, operationID string) (*CreditOperation, error) {
	var out deductResponse
	err := c.post(ctx, "/credits/check-and-deduct", deductRequest{
		ModelName:    model,
		QuestionType: questionType,
		OperationID:  operationID,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("ledger deduct: %w", err)
	}

	if !out.Sufficient {
		required := 0
		if out.RequiredPoints != nil {
			required = *out.RequiredPoints
		}
		return nil, &InsufficientCreditError{Required: required, Available: out.CurrentPoints}
	}
	if !out.Success {
		return nil, fmt.Errorf("ledger deduct rejected: %s", out.Message)
	}

	amount := 0
	if out.NewBalance != nil {
		amount = out.CurrentPoints - *out.NewBalance
	} else if out.RequiredPoints != nil {
		amount = *out.RequiredPoints
	}

	op := &CreditOperation{
		ID:           operationID,
		Model:        model,
		QuestionType: questionType,
		Amount:       amount,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}

	c.mu.Lock()
	c.ops[operationID] = op
	if out.NewBalance != nil {
		c.balance = *out.NewBalance
		c.balanceAt = time.Now()
	}
	c.mu.Unlock()

	c.journalRecord(ctx, op)
	c.log.Info().Str("op", operationID).Int("amount", amount).Msg("credit deducted")
	return op, nil
}

// Refund is the compensating call for a pending operation. At most one
// refund attempt reaches the wire per operation id; a concurrent or repeated
// attempt (or one after Complete) is rejected locally before any network
// traffic. A transport failure does not re-arm it: the operation stays
// pending for reconciliation.
func (c *Client) Refund(ctx context.Context, operationID string, amount int, reason string) error {
	c.mu.Lock()
	op, ok := c.ops[operationID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("refund: unknown operation %s", operationID)
	}
	if op.Status != StatusPending {
		c.mu.Unlock()
		return fmt.Errorf("refund: operation %s already %s", operationID, op.Status)
	}
	if op.refundStarted {
		c.mu.Unlock()
		return fmt.Errorf("refund: operation %s already has a refund attempt", operationID)
	}
	op.refundStarted = true
	c.mu.Unlock()

	var out refundResponse
	err := c.post(ctx, "/credits/refund", refundRequest{
		OperationID: operationID,
		Amount:      amount,
		Reason:      reason,
	}, &out)
	if err != nil {
		// Deducted remotely, refund unreachable: an unrecoverable
		// reconciliation gap without external intervention.
		c.log.Error().Err(err).Str("op", operationID).Int("amount", amount).
			Msg("refund call failed after successful deduct")
		return fmt.Errorf("ledger refund: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("ledger refund rejected for %s", operationID)
	}

	c.mu.Lock()
	op.Status = StatusRefunded
	op.ResolvedAt = time.Now()
	c.balanceAt = time.Time{} // balance changed remotely, drop the cache
	c.mu.Unlock()

	c.journalResolve(ctx, op)
	c.log.Info().Str("op", operationID).Int("amount", amount).Str("reason", reason).Msg("credit refunded")
	return nil
}

// Complete closes a pending operation locally. The remote deduction already
// happened, so no network call is made. Completing twice is a no-op;
// completing a refunded operation is an error.
func (c *Client) Complete(operationID string) error {
	c.mu.Lock()
	op, ok := c.ops[operationID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("complete: unknown operation %s", operationID)
	}
	switch op.Status {
	case StatusCompleted:
		c.mu.Unlock()
		return nil
	case StatusRefunded:
		c.mu.Unlock()
		return fmt.Errorf("complete: operation %s already refunded", operationID)
	}
	op.Status = StatusCompleted
	op.ResolvedAt = time.Now()
	c.mu.Unlock()

	c.journalResolve(context.Background(), op)
	return nil
}

// Operation returns a copy of the tracked operation, if any.
func (c *Client) Operation(operationID string) (CreditOperation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[operationID]
	if !ok {
		return CreditOperation{}, false
	}
	return *op, true
}

// Balance returns the credit balance, served from a short-TTL cache.
func (c *Client) Balance(ctx context.Context) (int, error) {
	c.mu.Lock()
	if !c.balanceAt.IsZero() && time.Since(c.balanceAt) < c.ttl {
		b := c.balance
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()
	return c.ForceBalance(ctx)
}

// ForceBalance bypasses the cache and refreshes it.
func (c *Client) ForceBalance(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/credits", nil)
	if err != nil {
		return 0, err
	}
	c.auth(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ledger balance: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("ledger balance %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}
	var out creditsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.balance = out.Credits
	c.balanceAt = time.Now()
	c.mu.Unlock()
	return out.Credits, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, _ := json.Marshal(in)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) journalRecord(ctx context.Context, op *CreditOperation) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(ctx, *op); err != nil {
		c.log.Warn().Err(err).Str("op", op.ID).Msg("journal record failed")
	}
}

func (c *Client) journalResolve(ctx context.Context, op *CreditOperation) {
	if c.journal == nil {
		return
	}
	if err := c.journal.MarkResolved(ctx, op.ID, op.Status); err != nil {
		c.log.Warn().Err(err).Str("op", op.ID).Msg("journal update failed")
	}
}
