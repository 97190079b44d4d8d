package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/wishpay/service/metrics"
	"github.com/brojonat/wishpay/service/payment"
)

const sseKeepaliveInterval = 10 * time.Second

// handleStreamCredits streams credit events as Server-Sent Events.
// Without an address path parameter every wallet's credits are streamed.
func handleStreamCredits(subscriber CreditSubscriber, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		stream := "wallet"
		walletDesc := address
		if address == "" {
			stream = "all"
			walletDesc = "all wallets"
		} else if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), payment.CodeInvalidAddress, http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", payment.CodeInternal, http.StatusInternalServerError)
			return
		}

		events, err := subscriber.Subscribe(r.Context(), address)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to subscribe to credit events",
				"wallet", walletDesc,
				"error", err,
			)
			writeError(w, "failed to subscribe", payment.CodeInternal, http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		m.RecordSSEConnectionChange(stream, 1)
		defer m.RecordSSEConnectionChange(stream, -1)

		logger.DebugContext(r.Context(), "SSE client connected",
			"wallet", walletDesc,
			"remote_addr", r.RemoteAddr,
		)

		connected, _ := json.Marshal(map[string]string{"wallet": walletDesc})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		flusher.Flush()

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case event, ok := <-events:
				if !ok {
					logger.DebugContext(r.Context(), "credit stream closed", "wallet", walletDesc)
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal credit event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: credit\ndata: %s\n\n", data)
				flusher.Flush()
				m.RecordSSEEventSent(stream, "credit")

				logger.DebugContext(r.Context(), "sent credit event",
					"wallet", event.WalletAddress,
					"signature", event.Signature,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"wallet", walletDesc,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
