package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"
	"unicode"

	"github.com/brojonat/wishpay/service/db"
	"github.com/brojonat/wishpay/service/payment"
	"github.com/brojonat/wishpay/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 16 // 64KB - requests carry an amount and two base58 strings
	maxAddressLength   = 44
	maxSignatureLength = 88
	defaultListLimit   = 100
	maxListLimit       = 1000
)

var (
	// Valid base58 characters (no 0, O, I, l)
	base58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// Codes for request problems that don't come from the payment package.
const (
	codeInvalidRequest   = "invalid_request"
	codeNotFound         = "not_found"
	codeSettlementExists = "settlement_exists"
)

// handleCreateTransaction builds an unsigned split transfer for the payer to sign.
// POST /api/v1/payments/create-transaction
func handleCreateTransaction(builder TransferBuilder, publicBaseURL string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount       json.Number `json:"amount"`
			PayerAddress string      `json:"payer_address"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		amount, err := payment.ParseAmount(req.Amount.String())
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}
		if err := validateAddress(req.PayerAddress); err != nil {
			writeError(w, err.Error(), payment.CodeInvalidAddress, http.StatusBadRequest)
			return
		}

		built, err := builder.BuildSplitTransfer(r.Context(), amount, req.PayerAddress)
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		resp := createTransactionResponse{
			Transaction:          built.Transaction,
			Splits:               splitToResponse(built.Split),
			ExpectedCredits:      built.ExpectedCredits,
			Blockhash:            built.Blockhash,
			LastValidBlockHeight: built.LastValidBlockHeight,
		}

		if publicBaseURL != "" {
			pr := newPaymentRequest(publicBaseURL, amount, logger)
			resp.PaymentURL = pr.URL
			resp.QRCodeData = pr.QRCodeData
		}

		logger.InfoContext(r.Context(), "split transfer built",
			"payer", built.Payer,
			"total_lamports", built.Split.Total,
			"expected_credits", built.ExpectedCredits,
		)

		writeJSON(w, resp, http.StatusOK)
	})
}

type splitsResponse struct {
	PrizePoolLamports uint64 `json:"prize_pool_lamports"`
	AdminLamports     uint64 `json:"admin_lamports"`
	TotalLamports     uint64 `json:"total_lamports"`
	PrizePoolSOL      string `json:"prize_pool_sol"`
	AdminSOL          string `json:"admin_sol"`
}

type createTransactionResponse struct {
	Transaction          string         `json:"transaction"`
	Splits               splitsResponse `json:"splits"`
	ExpectedCredits      int64          `json:"expected_credits"`
	Blockhash            string         `json:"blockhash"`
	LastValidBlockHeight uint64         `json:"last_valid_block_height"`
	PaymentURL           string         `json:"payment_url,omitempty"`
	QRCodeData           string         `json:"qr_code_data,omitempty"`
}

func splitToResponse(s payment.Split) splitsResponse {
	return splitsResponse{
		PrizePoolLamports: s.PrizePool,
		AdminLamports:     s.Admin,
		TotalLamports:     s.Total,
		PrizePoolSOL:      payment.LamportsToSOL(s.PrizePool).String(),
		AdminSOL:          payment.LamportsToSOL(s.Admin).String(),
	}
}

// handleValidateTransfer verifies a submitted transfer and credits the payer.
// POST /api/v1/payments/validate-transfer
func handleValidateTransfer(validator TransferValidator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if !req.validate(w) {
			return
		}

		res, err := validator.ValidateAndCredit(r.Context(), req.PayerAddress, req.Signature)
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		writeJSON(w, validateTransferResponse{
			Credits:    res.CreditsAwarded,
			NewBalance: res.NewBalance,
			TransactionSummary: transactionSummary{
				Signature:         res.Signature,
				WalletAddress:     res.WalletAddress,
				TotalLamports:     res.TotalLamports,
				TotalSOL:          payment.LamportsToSOL(res.TotalLamports).String(),
				PrizePoolLamports: res.Validation.ActualPrizePool,
				AdminLamports:     res.Validation.ActualAdmin,
				Fee:               res.Validation.Fee,
				Reconciled:        res.Validation.Reconciled(),
				FlaggedForAudit:   res.FlaggedForAudit,
				CreditedAt:        res.CreditedAt,
			},
		}, http.StatusOK)
	})
}

type transferRequest struct {
	PayerAddress string `json:"payer_address"`
	Signature    string `json:"signature"`
}

func (req transferRequest) validate(w http.ResponseWriter) bool {
	if err := validateAddress(req.PayerAddress); err != nil {
		writeError(w, err.Error(), payment.CodeInvalidAddress, http.StatusBadRequest)
		return false
	}
	if err := validateSignature(req.Signature); err != nil {
		writeError(w, err.Error(), payment.CodeInvalidSignature, http.StatusBadRequest)
		return false
	}
	return true
}

type transactionSummary struct {
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

type validateTransferResponse struct {
	Credits            int64              `json:"credits"`
	NewBalance         int64              `json:"new_balance"`
	TransactionSummary transactionSummary `json:"transaction_summary"`
}

// handleTransactionStatus reports a signature's ledger status and whether it was credited.
// GET /api/v1/payments/transaction-status/{signature}
func handleTransactionStatus(ledger StatusReader, store CreditReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("signature")
		if err := validateSignature(raw); err != nil {
			writeError(w, err.Error(), payment.CodeInvalidSignature, http.StatusBadRequest)
			return
		}
		sig, err := solanago.SignatureFromBase58(raw)
		if err != nil {
			writeError(w, "invalid signature: not a base58 ed25519 signature", payment.CodeInvalidSignature, http.StatusBadRequest)
			return
		}

		status, err := ledger.GetSignatureStatus(r.Context(), sig)
		if err != nil {
			logger.WarnContext(r.Context(), "signature status lookup failed", "signature", raw, "error", err)
			writeError(w, "ledger unavailable", payment.CodeLedgerUnavailable, http.StatusServiceUnavailable)
			return
		}

		credited := true
		if _, err := store.GetCreditEntry(r.Context(), raw); err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				logger.ErrorContext(r.Context(), "failed to read credit entry", "signature", raw, "error", err)
				writeError(w, "internal server error", payment.CodeInternal, http.StatusInternalServerError)
				return
			}
			credited = false
		}

		writeJSON(w, map[string]interface{}{
			"signature": raw,
			"status":    status.Status,
			"slot":      status.Slot,
			"credited":  credited,
		}, http.StatusOK)
	})
}

// handleRate quotes the credits a SOL amount buys. The amount defaults to 1 SOL.
// GET /api/v1/payments/rate?amount=0.5
func handleRate(rate *payment.RateCalculator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("amount")
		if raw == "" {
			raw = "1"
		}
		amount, err := payment.ParseAmount(raw)
		if err != nil {
			writeError(w, err.Error(), payment.CodeInvalidAmount, http.StatusBadRequest)
			return
		}
		credits, err := rate.CreditsForAmount(amount)
		if err != nil {
			writeError(w, err.Error(), payment.CodeInvalidAmount, http.StatusBadRequest)
			return
		}

		writeJSON(w, map[string]interface{}{
			"credits_per_sol": rate.CreditsPerSOL(),
			"amount":          amount.String(),
			"credits":         credits,
		}, http.StatusOK)
	})
}

// handleStartSettlement hands a submitted transfer to the settlement workflow.
// POST /api/v1/payments/settlements
func handleStartSettlement(settler Settler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if !req.validate(w) {
			return
		}

		workflowID, err := settler.StartSettlement(r.Context(), req.PayerAddress, req.Signature)
		if errors.Is(err, temporal.ErrSettlementExists) {
			writeJSON(w, map[string]string{
				"error":       err.Error(),
				"code":        codeSettlementExists,
				"workflow_id": workflowID,
				"status_url":  settlementStatusURL(workflowID),
			}, http.StatusConflict)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to start settlement", "signature", req.Signature, "error", err)
			writeError(w, "failed to start settlement", payment.CodeInternal, http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, map[string]string{
			"workflow_id": workflowID,
			"status_url":  settlementStatusURL(workflowID),
		}, http.StatusAccepted)
	})
}

func settlementStatusURL(workflowID string) string {
	return "/api/v1/payments/settlements/" + workflowID
}

// handleSettlementStatus reports a settlement workflow's state.
// GET /api/v1/payments/settlements/{workflow_id}
func handleSettlementStatus(settler Settler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workflowID := r.PathValue("workflow_id")
		if workflowID == "" || len(workflowID) > 128 {
			writeError(w, "invalid workflow id", codeInvalidRequest, http.StatusBadRequest)
			return
		}

		status, err := settler.GetSettlementStatus(r.Context(), workflowID)
		if errors.Is(err, temporal.ErrSettlementNotFound) {
			writeError(w, "settlement not found", codeNotFound, http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get settlement status", "workflow_id", workflowID, "error", err)
			writeError(w, "failed to get settlement status", payment.CodeInternal, http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, status, http.StatusOK)
	})
}

// handleGetUser returns a player's credit balance.
// GET /api/v1/users/{address}
func handleGetUser(store CreditReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), payment.CodeInvalidAddress, http.StatusBadRequest)
			return
		}

		user, err := store.GetUser(r.Context(), address)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "user not found", codeNotFound, http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get user", "address", address, "error", err)
			writeError(w, "internal server error", payment.CodeInternal, http.StatusInternalServerError)
			return
		}

		writeJSON(w, userResponse{
			WalletAddress: user.WalletAddress,
			Username:      user.Username,
			Credits:       user.Credits,
			CreatedAt:     user.CreatedAt,
			UpdatedAt:     user.UpdatedAt,
		}, http.StatusOK)
	})
}

type userResponse struct {
	WalletAddress string    `json:"wallet_address"`
	Username      string    `json:"username"`
	Credits       int64     `json:"credits"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// handleListCredits lists credited payments for a wallet, newest first.
// GET /api/v1/credits?wallet_address=ADDRESS&limit=N&offset=N
func handleListCredits(store CreditReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		walletAddress := query.Get("wallet_address")
		if walletAddress == "" {
			writeError(w, "wallet_address query parameter is required", codeInvalidRequest, http.StatusBadRequest)
			return
		}
		if err := validateAddress(walletAddress); err != nil {
			writeError(w, err.Error(), payment.CodeInvalidAddress, http.StatusBadRequest)
			return
		}

		limit, err := parseBoundedInt(query.Get("limit"), defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, "invalid limit: "+err.Error(), codeInvalidRequest, http.StatusBadRequest)
			return
		}
		offset, err := parseBoundedInt(query.Get("offset"), 0, 0, 1<<31-1)
		if err != nil {
			writeError(w, "invalid offset: "+err.Error(), codeInvalidRequest, http.StatusBadRequest)
			return
		}

		entries, err := store.ListCreditEntriesByWallet(r.Context(), db.ListCreditEntriesByWalletParams{
			WalletAddress: walletAddress,
			Limit:         int32(limit),
			Offset:        int32(offset),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list credits", "wallet", walletAddress, "error", err)
			writeError(w, "internal server error", payment.CodeInternal, http.StatusInternalServerError)
			return
		}

		resp := make([]creditEntryResponse, len(entries))
		for i, e := range entries {
			resp[i] = creditEntryToResponse(e)
		}

		writeJSON(w, map[string]interface{}{
			"credits": resp,
			"count":   len(resp),
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

type creditEntryResponse struct {
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

func creditEntryToResponse(e *db.CreditEntry) creditEntryResponse {
	return creditEntryResponse{
		Signature:                 e.Signature,
		WalletAddress:             e.WalletAddress,
		TotalLamports:             e.TotalLamports,
		PrizePoolLamports:         e.PrizePoolLamports,
		AdminLamports:             e.AdminLamports,
		ExpectedPrizePoolLamports: e.ExpectedPrizePoolLamports,
		ExpectedAdminLamports:     e.ExpectedAdminLamports,
		Credits:                   e.Credits,
		Reconciled:                e.Reconciled,
		FlaggedForAudit:           e.FlaggedForAudit,
		CreatedAt:                 e.CreatedAt,
	}
}

// decodeBody decodes a size-limited JSON body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, fmt.Sprintf("request body too large: maximum size is %d bytes", maxRequestBodySize), codeInvalidRequest, http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", codeInvalidRequest, http.StatusBadRequest)
		return false
	}
	return true
}

// statusForError maps payment errors onto HTTP statuses.
func statusForError(err error) int {
	switch payment.ErrorCode(err) {
	case payment.CodeInvalidAmount, payment.CodeInvalidAddress, payment.CodeInvalidSignature:
		return http.StatusBadRequest
	case payment.CodeTransactionNotFound:
		return http.StatusNotFound
	case payment.CodeAlreadyProcessed:
		return http.StatusConflict
	case payment.CodeMissingRecipient, payment.CodeSplitMismatch,
		payment.CodeTransactionFailed, payment.CodePayerMismatch:
		return http.StatusUnprocessableEntity
	case payment.CodeLedgerUnavailable, payment.CodeCreditFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writePaymentError writes err as a JSON error with its stable code.
// Messages of unexpected errors are not exposed to clients.
func writePaymentError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	status := statusForError(err)
	code := payment.ErrorCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", code, "error", err)
		message = "internal server error"
	}
	if code == payment.CodeCreditFailed {
		logger.ErrorContext(r.Context(), "credit not recorded", "path", r.URL.Path, "error", err)
		message = "failed to record credit, retry the request"
	}
	writeError(w, message, code, status)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, statusCode int) {
	writeJSON(w, map[string]string{
		"error": message,
		"code":  code,
	}, statusCode)
}

// validateAddress checks that address is a well-formed Solana public key.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}
	if !validBase58(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}
	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid address: not a 32-byte public key")
	}
	return nil
}

// validateSignature checks the shape of a transaction signature.
func validateSignature(sig string) error {
	if sig == "" {
		return errorf("signature is required")
	}
	if len(sig) > maxSignatureLength {
		return errorf("signature too long: maximum length is %d characters", maxSignatureLength)
	}
	if !validBase58(sig) {
		return errorf("invalid signature format: must contain only valid base58 characters")
	}
	return nil
}

func validBase58(s string) bool {
	for _, r := range s {
		if r == 0 || unicode.IsControl(r) {
			return false
		}
	}
	return base58Regex.MatchString(s)
}

func parseBoundedInt(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("must be an integer")
	}
	if n < min || n > max {
		return 0, errorf("must be between %d and %d", min, max)
	}
	return n, nil
}

// errorf is a helper to format validation errors.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
