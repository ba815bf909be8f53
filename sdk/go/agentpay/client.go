package agentpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// CallerHeader carries the settlement address of the caller. The gateway in
// front of the engine is expected to have verified the signature already.
const CallerHeader = "X-Caller-Address"

// Client wraps the HTTP interactions with the AgentPay settlement REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	caller string
}

// Payment mirrors an escrow payment record as returned by the API.
type Payment struct {
	ID                    string `json:"id"`
	FromAgent             uint64 `json:"from_agent"`
	ToAgent               uint64 `json:"to_agent"`
	Amount                uint64 `json:"amount"`
	Target                string `json:"target"`
	TaskRef               string `json:"task_ref,omitempty"`
	RequiresValidation    bool   `json:"requires_validation"`
	Status                string `json:"status"`
	CancelRequestedByFrom bool   `json:"cancel_requested_by_from"`
	CancelRequestedByTo   bool   `json:"cancel_requested_by_to"`
	CreatedAt             int64  `json:"created_at"`
	ResolvedAt            int64  `json:"resolved_at,omitempty"`
}

// PaymentSubmission is the payload required to open an escrow payment.
// Value must repeat Amount; the server rejects mismatches.
type PaymentSubmission struct {
	FromAgent          uint64 `json:"from_agent"`
	ToAgent            uint64 `json:"to_agent"`
	Amount             uint64 `json:"amount"`
	Value              uint64 `json:"value"`
	Target             string `json:"target"`
	TaskRef            string `json:"task_ref,omitempty"`
	RequiresValidation bool   `json:"requires_validation,omitempty"`
}

// Agreement mirrors a revenue split agreement.
type Agreement struct {
	ID           string   `json:"id"`
	CreatorAgent uint64   `json:"creator_agent"`
	Participants []uint64 `json:"participants"`
	SharesBps    []uint32 `json:"shares_bps"`
	IsActive     bool     `json:"is_active"`
	CreatedAt    int64    `json:"created_at"`
}

// SplitSubmission is the payload required to register a split agreement.
type SplitSubmission struct {
	CreatorAgent uint64   `json:"creator_agent"`
	Participants []uint64 `json:"participants"`
	SharesBps    []uint32 `json:"shares_bps"`
}

// Deposit mirrors a deposit held against a split agreement.
type Deposit struct {
	ID            string `json:"id"`
	SplitID       string `json:"split_id"`
	Amount        uint64 `json:"amount"`
	Target        string `json:"target"`
	Payer         string `json:"payer"`
	TaskRef       string `json:"task_ref,omitempty"`
	Distributed   bool   `json:"distributed"`
	CreatedAt     int64  `json:"created_at"`
	DistributedAt int64  `json:"distributed_at,omitempty"`
}

// DepositSubmission is the payload required to pay into a split agreement.
type DepositSubmission struct {
	Amount  uint64 `json:"amount"`
	Value   uint64 `json:"value"`
	Target  string `json:"target"`
	TaskRef string `json:"task_ref,omitempty"`
}

// Earnings aggregates what an agent has earned and paid through the engine.
type Earnings struct {
	AgentID     uint64 `json:"agent_id"`
	TotalEarned uint64 `json:"total_earned"`
	TotalPaid   uint64 `json:"total_paid"`
}

// TrustProfile summarises the risk terms derived from an agent's trust tier.
type TrustProfile struct {
	CollateralMultiplierBps uint32 `json:"collateral_multiplier_bps"`
	RateDiscountBps         uint32 `json:"rate_discount_bps"`
	PriorityScore           uint64 `json:"priority_score"`
	MaxTrustedValue         uint64 `json:"max_trusted_value"`
	TrustedForValue         *bool  `json:"trusted_for_value,omitempty"`
}

// APIError represents server side validation or settlement errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentpay api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentpay api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentPay settlement API. When
// httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SetCaller stores the settlement address attached to subsequent calls.
func (c *Client) SetCaller(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caller = address
}

// Caller returns the currently stored settlement address.
func (c *Client) Caller() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caller
}

// CreatePayment opens a new escrow payment on behalf of the stored caller.
func (c *Client) CreatePayment(ctx context.Context, submission PaymentSubmission) (Payment, error) {
	var payment Payment
	if err := c.post(ctx, "/api/v1/payments", submission, &payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// GetPayment fetches an escrow payment by identifier.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var payment Payment
	if err := c.get(ctx, "/api/v1/payments/"+url.PathEscape(paymentID), &payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// ReleasePayment settles an escrowed payment to the payee.
func (c *Client) ReleasePayment(ctx context.Context, paymentID string) (Payment, error) {
	var payment Payment
	endpoint := fmt.Sprintf("/api/v1/payments/%s/release", url.PathEscape(paymentID))
	if err := c.post(ctx, endpoint, nil, &payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// RefundPayment returns an expired escrow to the payer. The server rejects
// refunds before the refund window has elapsed.
func (c *Client) RefundPayment(ctx context.Context, paymentID string) (Payment, error) {
	var payment Payment
	endpoint := fmt.Sprintf("/api/v1/payments/%s/refund", url.PathEscape(paymentID))
	if err := c.post(ctx, endpoint, nil, &payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// CancelPayment records the caller's consent to cancel. Once both parties
// have consented the payment is refunded in full.
func (c *Client) CancelPayment(ctx context.Context, paymentID string) (Payment, error) {
	var payment Payment
	endpoint := fmt.Sprintf("/api/v1/payments/%s/cancel", url.PathEscape(paymentID))
	if err := c.post(ctx, endpoint, nil, &payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// CreateSplit registers a revenue split agreement.
func (c *Client) CreateSplit(ctx context.Context, submission SplitSubmission) (Agreement, error) {
	var agreement Agreement
	if err := c.post(ctx, "/api/v1/splits", submission, &agreement); err != nil {
		return Agreement{}, err
	}
	return agreement, nil
}

// GetSplit fetches a split agreement by identifier.
func (c *Client) GetSplit(ctx context.Context, splitID string) (Agreement, error) {
	var agreement Agreement
	if err := c.get(ctx, "/api/v1/splits/"+url.PathEscape(splitID), &agreement); err != nil {
		return Agreement{}, err
	}
	return agreement, nil
}

// DeactivateSplit permanently closes an agreement to new deposits.
func (c *Client) DeactivateSplit(ctx context.Context, splitID string) error {
	endpoint := fmt.Sprintf("/api/v1/splits/%s/deactivate", url.PathEscape(splitID))
	return c.post(ctx, endpoint, nil, nil)
}

// PayToSplit deposits value against an active split agreement.
func (c *Client) PayToSplit(ctx context.Context, splitID string, submission DepositSubmission) (Deposit, error) {
	var deposit Deposit
	endpoint := fmt.Sprintf("/api/v1/splits/%s/deposits", url.PathEscape(splitID))
	if err := c.post(ctx, endpoint, submission, &deposit); err != nil {
		return Deposit{}, err
	}
	return deposit, nil
}

// DistributeDeposit fans a held deposit out to the agreement participants.
func (c *Client) DistributeDeposit(ctx context.Context, depositID string) (Deposit, error) {
	var deposit Deposit
	endpoint := fmt.Sprintf("/api/v1/deposits/%s/distribute", url.PathEscape(depositID))
	if err := c.post(ctx, endpoint, nil, &deposit); err != nil {
		return Deposit{}, err
	}
	return deposit, nil
}

// AgentPayments lists every payment in which the agent is payer or payee.
func (c *Client) AgentPayments(ctx context.Context, agentID uint64) ([]Payment, error) {
	var payments []Payment
	endpoint := fmt.Sprintf("/api/v1/agents/%d/payments", agentID)
	if err := c.get(ctx, endpoint, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// AgentEarnings fetches the lifetime earnings totals of an agent.
func (c *Client) AgentEarnings(ctx context.Context, agentID uint64) (Earnings, error) {
	var earnings Earnings
	endpoint := fmt.Sprintf("/api/v1/agents/%d/earnings", agentID)
	if err := c.get(ctx, endpoint, &earnings); err != nil {
		return Earnings{}, err
	}
	return earnings, nil
}

// AgentTrust fetches the trust-derived risk profile of an agent. When value
// is non-zero the response also reports whether the agent is trusted for a
// settlement of that size.
func (c *Client) AgentTrust(ctx context.Context, agentID uint64, value uint64) (TrustProfile, error) {
	endpoint := fmt.Sprintf("/api/v1/agents/%d/trust", agentID)
	if value > 0 {
		endpoint = fmt.Sprintf("%s?value=%d", endpoint, value)
	}
	var profile TrustProfile
	if err := c.get(ctx, endpoint, &profile); err != nil {
		return TrustProfile{}, err
	}
	return profile, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	caller := c.Caller()
	if caller == "" {
		return nil, errors.New("agentpay: caller address is not set")
	}
	req.Header.Set(CallerHeader, caller)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
