package server

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/brojonat/wishpay/service/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSolanaPayURL(t *testing.T) {
	link := buildSolanaPayURL("https://wish.example.com", decimal.RequireFromString("0.25"))

	require.True(t, strings.HasPrefix(link, "solana:"))
	inner, err := url.QueryUnescape(strings.TrimPrefix(link, "solana:"))
	require.NoError(t, err)

	u, err := url.Parse(inner)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "wish.example.com", u.Host)
	assert.Equal(t, solanaPayPath, u.Path)
	assert.Equal(t, "0.25", u.Query().Get("amount"))
}

func TestNewPaymentRequest_QRCode(t *testing.T) {
	pr := newPaymentRequest("https://wish.example.com", decimal.RequireFromString("1"), discardLogger())

	raw, err := base64.StdEncoding.DecodeString(pr.QRCodeData)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	if img.Bounds().Dx() != 256 {
		t.Errorf("expected 256px QR code, got %d", img.Bounds().Dx())
	}
}

func TestSolanaPayEndpoints(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) { d.PublicBaseURL = "https://wish.example.com" })

	rec := ts.do("GET", "/api/v1/payments/solana-pay", "")
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decodeJSON(t, rec)
	assert.Equal(t, solanaPayLabel, meta["label"])
	assert.Equal(t, "https://wish.example.com/icon.svg", meta["icon"])

	rec = ts.do("POST", "/api/v1/payments/solana-pay?amount=2", fmt.Sprintf(`{"account":%q}`, testPayer))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)
	assert.Equal(t, "AQID", body["transaction"])
	assert.Equal(t, "Buy 12 wish credits for 2 SOL", body["message"])
	assert.Equal(t, testPayer, ts.builder.lastPayer)

	rec = ts.do("POST", "/api/v1/payments/solana-pay?amount=-1", fmt.Sprintf(`{"account":%q}`, testPayer))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, payment.CodeInvalidAmount, decodeJSON(t, rec)["code"])

	rec = ts.do("POST", "/api/v1/payments/solana-pay?amount=1", `{"account":"nope!"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do("GET", "/icon.svg", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
}

func TestSolanaPayDisabledWithoutBaseURL(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do("GET", "/api/v1/payments/solana-pay", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
