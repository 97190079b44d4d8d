package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPayer     = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testSignature = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"wishpay"}, args...))
	return out.String(), err
}

func TestPaymentsCreate(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payments/create-transaction", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0.5", body["amount"])
		assert.Equal(t, testPayer, body["payer_address"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"transaction":      "AQID",
			"expected_credits": 3,
			"splits": map[string]interface{}{
				"prize_pool_lamports": 400_000_000,
				"admin_lamports":      100_000_000,
				"prize_pool_sol":      "0.4",
				"admin_sol":           "0.1",
			},
			"payment_url":  "solana:https%3A%2F%2Fwish.example.com",
			"qr_code_data": base64.StdEncoding.EncodeToString(png),
		})
	}))
	defer server.Close()

	qrPath := filepath.Join(t.TempDir(), "qr.png")
	out, err := runApp(t, "--server-url", server.URL, "payments", "create", "--qr-out", qrPath, testPayer, "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "Expected credits: 3")
	assert.Contains(t, out, "0.4 SOL")
	assert.Contains(t, out, "AQID")

	written, err := os.ReadFile(qrPath)
	require.NoError(t, err)
	assert.Equal(t, png, written)
}

func TestPaymentsCreate_WrongArgs(t *testing.T) {
	_, err := runApp(t, "payments", "create", testPayer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires two arguments")
}

func TestPaymentsValidate(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		response   map[string]interface{}
		wantErr    string
		wantOutput string
	}{
		{
			name:   "credited",
			status: http.StatusOK,
			response: map[string]interface{}{
				"credits":     6,
				"new_balance": 9,
				"transaction_summary": map[string]interface{}{
					"total_sol": "1",
				},
			},
			wantOutput: "Credited 6 wishes (balance 9)",
		},
		{
			name:   "flagged",
			status: http.StatusOK,
			response: map[string]interface{}{
				"credits":     6,
				"new_balance": 6,
				"transaction_summary": map[string]interface{}{
					"flagged_for_audit": true,
				},
			},
			wantOutput: "flagged for audit",
		},
		{
			name:     "split mismatch",
			status:   http.StatusBadRequest,
			response: map[string]interface{}{"error": "split does not match", "code": "split_mismatch"},
			wantErr:  "split_mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/payments/validate-transfer", r.URL.Path)
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			out, err := runApp(t, "--server-url", server.URL, "payments", "validate", testPayer, testSignature)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, tt.wantOutput)
		})
	}
}

func TestPaymentsRate_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("amount"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"credits_per_sol": 6, "amount": "1", "credits": 6,
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "--json", "payments", "rate")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(6), got["credits"])
}

func TestPaymentsSettle_Wait(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"workflow_id": "settle-transfer:" + testSignature})
			return
		}

		polls++
		status := "running"
		var result interface{}
		if polls >= 2 {
			status = "completed"
			result = map[string]interface{}{"credits_awarded": 6, "new_balance": 6, "attempts": 2}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"workflow_id": "settle-transfer:" + testSignature,
			"status":      status,
			"result":      result,
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL,
		"payments", "settle", "--wait", "--poll-interval", "10ms", testPayer, testSignature)
	require.NoError(t, err)
	assert.Equal(t, 2, polls)
	assert.Contains(t, out, "Status:   completed")
	assert.Contains(t, out, "Attempts: 2")
}

func TestPaymentsSettlementStatus_Failed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"workflow_id": "settle-transfer:abc",
			"status":      "failed",
			"error":       "transfer failed on chain",
			"code":        "transaction_failed",
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "payments", "settlement-status", "settle-transfer:abc")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   failed")
	assert.Contains(t, out, "(transaction_failed)")
}
