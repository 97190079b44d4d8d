package server

import (
	_ "embed"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/brojonat/wishpay/service/payment"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const (
	solanaPayLabel = "Wish Credits"
	solanaPayPath  = "/api/v1/payments/solana-pay"
)

//go:embed static/icon.svg
var iconSVG []byte

// PaymentRequest is a Solana Pay transaction request link for a purchase.
type PaymentRequest struct {
	URL        string `json:"payment_url"`
	QRCodeData string `json:"qr_code_data"` // Base64 encoded PNG
}

// newPaymentRequest builds the Solana Pay link a wallet app scans to fetch
// the split transfer for amount. The QR code is omitted if it cannot be rendered.
func newPaymentRequest(publicBaseURL string, amount decimal.Decimal, logger *slog.Logger) PaymentRequest {
	link := buildSolanaPayURL(publicBaseURL, amount)

	qrCodeData, err := generateQRCode(link)
	if err != nil {
		logger.Warn("failed to generate QR code", "error", err)
		qrCodeData = ""
	}

	return PaymentRequest{
		URL:        link,
		QRCodeData: qrCodeData,
	}
}

// buildSolanaPayURL creates a Solana Pay transaction request URL.
// Format: solana:{urlencoded https link}
func buildSolanaPayURL(publicBaseURL string, amount decimal.Decimal) string {
	params := url.Values{}
	params.Set("amount", amount.String())
	link := publicBaseURL + solanaPayPath + "?" + params.Encode()
	return "solana:" + url.QueryEscape(link)
}

// generateQRCode creates a QR code image from a payment URL and returns it as base64-encoded PNG.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}

// handleSolanaPayMetadata answers the wallet's initial GET of a transaction request.
// GET /api/v1/payments/solana-pay
func handleSolanaPayMetadata(publicBaseURL string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"label": solanaPayLabel,
			"icon":  publicBaseURL + "/icon.svg",
		}, http.StatusOK)
	})
}

// handleSolanaPayTransaction returns the split transfer for the wallet's account to sign.
// POST /api/v1/payments/solana-pay?amount=0.5
func handleSolanaPayTransaction(builder TransferBuilder, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		amount, err := payment.ParseAmount(r.URL.Query().Get("amount"))
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		var req struct {
			Account string `json:"account"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if err := validateAddress(req.Account); err != nil {
			writeError(w, err.Error(), payment.CodeInvalidAddress, http.StatusBadRequest)
			return
		}

		built, err := builder.BuildSplitTransfer(r.Context(), amount, req.Account)
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		logger.InfoContext(r.Context(), "solana pay transaction served",
			"account", req.Account,
			"total_lamports", built.Split.Total,
		)

		writeJSON(w, map[string]string{
			"transaction": built.Transaction,
			"message":     fmt.Sprintf("Buy %d wish credits for %s SOL", built.ExpectedCredits, amount.String()),
		}, http.StatusOK)
	})
}

// handleIcon serves the icon shown by wallet apps for transaction requests.
func handleIcon() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write(iconSVG)
	})
}
