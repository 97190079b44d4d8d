package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIError is a non-2xx response from the payment service.
type APIError struct {
	StatusCode int
	Code       string // stable error code, e.g. "split_mismatch"
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed (%s): %s", e.Code, e.Message)
}

// IsCode reports whether err is an *APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Splits describes how a purchase is divided between the prize pool and admin wallets.
type Splits struct {
	PrizePoolLamports uint64 `json:"prize_pool_lamports"`
	AdminLamports     uint64 `json:"admin_lamports"`
	TotalLamports     uint64 `json:"total_lamports"`
	PrizePoolSOL      string `json:"prize_pool_sol"`
	AdminSOL          string `json:"admin_sol"`
}

// Transfer is an unsigned split transfer for the payer to sign and submit.
type Transfer struct {
	Transaction          string `json:"transaction"` // base64
	Splits               Splits `json:"splits"`
	ExpectedCredits      int64  `json:"expected_credits"`
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
	PaymentURL           string `json:"payment_url,omitempty"`
	QRCodeData           string `json:"qr_code_data,omitempty"`
}

// TransactionSummary describes a credited transfer.
type TransactionSummary struct {
	Signature         string    `json:"signature"`
	WalletAddress     string    `json:"wallet_address"`
	TotalLamports     uint64    `json:"total_lamports"`
	TotalSOL          string    `json:"total_sol"`
	PrizePoolLamports int64     `json:"prize_pool_lamports"`
	AdminLamports     int64     `json:"admin_lamports"`
	Fee               uint64    `json:"fee"`
	Reconciled        bool      `json:"reconciled"`
	FlaggedForAudit   bool      `json:"flagged_for_audit"`
	CreditedAt        time.Time `json:"credited_at"`
}

// Credit is the result of validating a transfer.
type Credit struct {
	Credits            int64              `json:"credits"`
	NewBalance         int64              `json:"new_balance"`
	TransactionSummary TransactionSummary `json:"transaction_summary"`
}

// TransactionStatus is a signature's ledger status.
type TransactionStatus struct {
	Signature string `json:"signature"`
	Status    string `json:"status"` // not_found, processed, confirmed, finalized, failed
	Slot      uint64 `json:"slot"`
	Credited  bool   `json:"credited"`
}

// Rate is a credit quote for a SOL amount.
type Rate struct {
	CreditsPerSOL int64  `json:"credits_per_sol"`
	Amount        string `json:"amount"`
	Credits       int64  `json:"credits"`
}

// User is a player's balance.
type User struct {
	WalletAddress string    `json:"wallet_address"`
	Username      string    `json:"username"`
	Credits       int64     `json:"credits"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreditEntry is one credited payment.
type CreditEntry struct {
	Signature                 string    `json:"signature"`
	WalletAddress             string    `json:"wallet_address"`
	TotalLamports             int64     `json:"total_lamports"`
	PrizePoolLamports         int64     `json:"prize_pool_lamports"`
	AdminLamports             int64     `json:"admin_lamports"`
	ExpectedPrizePoolLamports int64     `json:"expected_prize_pool_lamports"`
	ExpectedAdminLamports     int64     `json:"expected_admin_lamports"`
	Credits                   int64     `json:"credits"`
	Reconciled                bool      `json:"reconciled"`
	FlaggedForAudit           bool      `json:"flagged_for_audit"`
	CreatedAt                 time.Time `json:"created_at"`
}

// Settlement identifies a started settlement workflow.
type Settlement struct {
	WorkflowID string `json:"workflow_id"`
	StatusURL  string `json:"status_url"`
}

// SettlementStatus is the state of a settlement workflow.
type SettlementStatus struct {
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	Result     *struct {
		Signature       string    `json:"signature"`
		WalletAddress   string    `json:"wallet_address"`
		CreditsAwarded  int64     `json:"credits_awarded"`
		NewBalance      int64     `json:"new_balance"`
		TotalLamports   uint64    `json:"total_lamports"`
		FlaggedForAudit bool      `json:"flagged_for_audit"`
		Attempts        int32     `json:"attempts"`
		SettledAt       time.Time `json:"settled_at"`
	} `json:"result,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Client is the HTTP client for the wishpay payment service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new payment service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateTransaction asks the server to build an unsigned split transfer.
// amount is a decimal SOL string such as "0.5".
func (c *Client) CreateTransaction(ctx context.Context, amount, payerAddress string) (*Transfer, error) {
	var out Transfer
	err := c.do(ctx, http.MethodPost, "/api/v1/payments/create-transaction", map[string]string{
		"amount":        amount,
		"payer_address": payerAddress,
	}, http.StatusOK, &out)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("transaction created", "payer", payerAddress, "expected_credits", out.ExpectedCredits)
	return &out, nil
}

// ValidateTransfer submits a signed transfer's signature for crediting.
func (c *Client) ValidateTransfer(ctx context.Context, payerAddress, signature string) (*Credit, error) {
	var out Credit
	err := c.do(ctx, http.MethodPost, "/api/v1/payments/validate-transfer", map[string]string{
		"payer_address": payerAddress,
		"signature":     signature,
	}, http.StatusOK, &out)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("transfer validated", "signature", signature, "credits", out.Credits)
	return &out, nil
}

// TransactionStatus reports a signature's ledger status.
func (c *Client) TransactionStatus(ctx context.Context, signature string) (*TransactionStatus, error) {
	var out TransactionStatus
	path := "/api/v1/payments/transaction-status/" + url.PathEscape(signature)
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rate quotes the credits amount buys. An empty amount quotes 1 SOL.
func (c *Client) Rate(ctx context.Context, amount string) (*Rate, error) {
	path := "/api/v1/payments/rate"
	if amount != "" {
		path += "?" + url.Values{"amount": {amount}}.Encode()
	}
	var out Rate
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser returns a player's balance.
func (c *Client) GetUser(ctx context.Context, walletAddress string) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(walletAddress), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCredits lists a wallet's credited payments, newest first.
// Zero limit uses the server default.
func (c *Client) ListCredits(ctx context.Context, walletAddress string, limit, offset int) ([]*CreditEntry, error) {
	q := url.Values{"wallet_address": {walletAddress}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var out struct {
		Credits []*CreditEntry `json:"credits"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/credits?"+q.Encode(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Credits, nil
}

// StartSettlement hands a submitted transfer to the settlement workflow.
func (c *Client) StartSettlement(ctx context.Context, payerAddress, signature string) (*Settlement, error) {
	var out Settlement
	err := c.do(ctx, http.MethodPost, "/api/v1/payments/settlements", map[string]string{
		"payer_address": payerAddress,
		"signature":     signature,
	}, http.StatusAccepted, &out)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("settlement started", "signature", signature, "workflow_id", out.WorkflowID)
	return &out, nil
}

// SettlementStatus reports the state of a settlement workflow.
func (c *Client) SettlementStatus(ctx context.Context, workflowID string) (*SettlementStatus, error) {
	var out SettlementStatus
	path := "/api/v1/payments/settlements/" + url.PathEscape(workflowID)
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the server and its database are up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

// do sends a JSON request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in interface{}, wantStatus int, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse converts an error response from the server into an *APIError.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Message = errResp.Error
		apiErr.Code = errResp.Code
	}

	c.logger.Debug("request failed", "status", resp.StatusCode, "code", apiErr.Code)
	return apiErr
}
