package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/wishpay/service/db"
	"github.com/brojonat/wishpay/service/metrics"
	natspkg "github.com/brojonat/wishpay/service/nats"
	"github.com/brojonat/wishpay/service/payment"
	"github.com/brojonat/wishpay/service/solana"
	"github.com/brojonat/wishpay/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// TransferBuilder builds unsigned split transfers.
type TransferBuilder interface {
	BuildSplitTransfer(ctx context.Context, amount decimal.Decimal, payerAddress string) (*payment.BuiltTransfer, error)
}

// TransferValidator verifies a submitted transfer and credits the payer.
type TransferValidator interface {
	ValidateAndCredit(ctx context.Context, payerAddress, signature string) (*payment.CreditResult, error)
}

// StatusReader reports a signature's confirmation state on the ledger.
type StatusReader interface {
	GetSignatureStatus(ctx context.Context, signature solanago.Signature) (*solana.SignatureStatus, error)
}

// CreditReader reads users and credit entries.
type CreditReader interface {
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, walletAddress string) (*db.User, error)
	GetCreditEntry(ctx context.Context, signature string) (*db.CreditEntry, error)
	ListCreditEntriesByWallet(ctx context.Context, params db.ListCreditEntriesByWalletParams) ([]*db.CreditEntry, error)
}

// Settler starts and inspects delayed-finality settlements.
type Settler interface {
	StartSettlement(ctx context.Context, payerAddress, signature string) (string, error)
	GetSettlementStatus(ctx context.Context, workflowID string) (*temporal.SettlementStatus, error)
}

// CreditSubscriber streams credit events for SSE clients.
type CreditSubscriber interface {
	Subscribe(ctx context.Context, walletAddress string) (<-chan *natspkg.CreditEvent, error)
}

// Deps are the server's collaborators. Settler, Subscriber, Metrics and
// Gatherer are optional; the routes that need them are left out when nil.
type Deps struct {
	Builder    TransferBuilder
	Validator  TransferValidator
	Ledger     StatusReader
	Store      CreditReader
	Settler    Settler
	Subscriber CreditSubscriber
	Rate       *payment.RateCalculator

	// PublicBaseURL enables Solana Pay transaction requests when set.
	PublicBaseURL string

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server represents the HTTP server for the payment service.
type Server struct {
	addr   string
	deps   Deps
	logger *slog.Logger
	server *http.Server
}

// New creates a new HTTP server with the given dependencies.
func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		deps:   deps,
		logger: deps.Logger,
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	d := s.deps
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(d.Metrics, name)(h))
	}

	// Payment routes
	route("POST /api/v1/payments/create-transaction", "create_transaction", handleCreateTransaction(d.Builder, d.PublicBaseURL, s.logger))
	route("POST /api/v1/payments/validate-transfer", "validate_transfer", handleValidateTransfer(d.Validator, s.logger))
	route("GET /api/v1/payments/transaction-status/{signature}", "transaction_status", handleTransactionStatus(d.Ledger, d.Store, s.logger))
	route("GET /api/v1/payments/rate", "rate", handleRate(d.Rate))

	if d.PublicBaseURL != "" {
		route("GET /api/v1/payments/solana-pay", "solana_pay_meta", handleSolanaPayMetadata(d.PublicBaseURL))
		route("POST /api/v1/payments/solana-pay", "solana_pay_transaction", handleSolanaPayTransaction(d.Builder, s.logger))
		mux.Handle("GET /icon.svg", handleIcon())
		s.logger.Info("Solana Pay transaction requests enabled", "base_url", d.PublicBaseURL)
	}

	if d.Settler != nil {
		route("POST /api/v1/payments/settlements", "start_settlement", handleStartSettlement(d.Settler, s.logger))
		route("GET /api/v1/payments/settlements/{workflow_id}", "settlement_status", handleSettlementStatus(d.Settler, s.logger))
	} else {
		s.logger.Warn("temporal not configured, settlement endpoints disabled")
	}

	// User and ledger routes
	route("GET /api/v1/users/{address}", "get_user", handleGetUser(d.Store, s.logger))
	route("GET /api/v1/credits", "list_credits", handleListCredits(d.Store, s.logger))

	// SSE streaming endpoints (if a subscriber is configured)
	if d.Subscriber != nil {
		mux.Handle("GET /api/v1/stream/credits/{address}", handleStreamCredits(d.Subscriber, d.Metrics, s.logger))
		mux.Handle("GET /api/v1/stream/credits", handleStreamCredits(d.Subscriber, d.Metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("NATS subscriber not configured, streaming endpoints disabled")
	}

	mux.Handle("GET /health", handleHealth(d.Store))

	if d.Metrics != nil {
		if d.Gatherer != nil {
			mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
		} else {
			mux.Handle("GET /metrics", promhttp.Handler())
		}
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return requestIDMiddleware(corsMiddleware(mux))
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// SSE streams are long-lived; handlers bound their own work.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware echoes the caller's X-Request-ID or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func handleHealth(store CreditReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				writeError(w, "database unavailable", "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}
