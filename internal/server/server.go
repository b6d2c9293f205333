// Package server hosts the HTTP and WebSocket API for the clearinghouse.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/server/handler"
	"github.com/alanyoungcy/clearinghouse/internal/server/middleware"
	"github.com/alanyoungcy/clearinghouse/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per window per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Agreements *handler.AgreementHandler
	Channels   *handler.ChannelHandler
	Loans      *handler.LoanHandler
	Markets    *handler.MarketHandler
	Auctions   *handler.AuctionHandler
	Games      *handler.GameHandler
}

// Server is the headless HTTP + WebSocket API server for the clearinghouse.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, logging, CORS, auth) and attaches the
// WebSocket hub. The limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Agreement snapshots and event logs.
	mux.HandleFunc("GET /api/agreements", handlers.Agreements.ListAgreements)
	mux.HandleFunc("GET /api/agreements/{id}", handlers.Agreements.GetAgreement)
	mux.HandleFunc("GET /api/agreements/{id}/events", handlers.Agreements.ListAgreementEvents)
	mux.HandleFunc("GET /api/events/recent", handlers.Agreements.ListRecentEvents)

	// Payment channels.
	mux.HandleFunc("POST /api/channels", handlers.Channels.OpenChannel)
	mux.HandleFunc("POST /api/channels/{id}/close", handlers.Channels.CloseChannel)
	mux.HandleFunc("POST /api/channels/{id}/extend", handlers.Channels.ExtendChannel)
	mux.HandleFunc("POST /api/channels/{id}/claim-timeout", handlers.Channels.ClaimChannelTimeout)

	// Receiver-pays pools.
	mux.HandleFunc("POST /api/pools", handlers.Channels.OpenPool)
	mux.HandleFunc("POST /api/pools/{id}/claim", handlers.Channels.ClaimPayment)
	mux.HandleFunc("POST /api/pools/{id}/kill", handlers.Channels.KillPool)

	// Periodic loans.
	mux.HandleFunc("POST /api/loans", handlers.Loans.OpenLoan)
	mux.HandleFunc("POST /api/loans/{id}/lend", handlers.Loans.Lend)
	mux.HandleFunc("POST /api/loans/{id}/pay", handlers.Loans.MakePayment)
	mux.HandleFunc("POST /api/loans/{id}/liquidate", handlers.Loans.LiquidateLoan)
	mux.HandleFunc("POST /api/loans/{id}/close", handlers.Loans.CloseLoan)

	// Loan marketplaces.
	mux.HandleFunc("POST /api/loan-markets", handlers.Loans.OpenLoanMarket)
	mux.HandleFunc("POST /api/loan-markets/{id}/requests", handlers.Loans.CreateLoanRequest)
	mux.HandleFunc("GET /api/loan-markets/{id}/requests/{rid}", handlers.Loans.GetLoanRequest)
	mux.HandleFunc("POST /api/loan-markets/{id}/requests/{rid}/lend", handlers.Loans.LendToRequest)
	mux.HandleFunc("POST /api/loan-markets/{id}/requests/{rid}/pay", handlers.Loans.PayRequest)
	mux.HandleFunc("POST /api/loan-markets/{id}/requests/{rid}/liquidate", handlers.Loans.LiquidateRequest)

	// Token markets.
	mux.HandleFunc("POST /api/token-markets", handlers.Markets.OpenMarket)
	mux.HandleFunc("POST /api/token-markets/{id}/listings", handlers.Markets.CreateListing)
	mux.HandleFunc("GET /api/token-markets/{id}/listings/{token}", handlers.Markets.GetListing)
	mux.HandleFunc("POST /api/token-markets/{id}/listings/{token}/buy", handlers.Markets.Buy)
	mux.HandleFunc("POST /api/token-markets/{id}/listings/{token}/cancel", handlers.Markets.CancelListing)

	// Open-outcry auctions.
	mux.HandleFunc("POST /api/auctions", handlers.Auctions.OpenAuction)
	mux.HandleFunc("POST /api/auctions/{id}/bid", handlers.Auctions.Bid)
	mux.HandleFunc("POST /api/auctions/{id}/end", handlers.Auctions.End)
	mux.HandleFunc("POST /api/auctions/{id}/settle", handlers.Auctions.Settle)
	mux.HandleFunc("POST /api/auctions/{id}/proceeds", handlers.Auctions.WithdrawProceeds)

	// Sealed-bid auctions.
	mux.HandleFunc("POST /api/sealed-auctions", handlers.Auctions.OpenSealedBid)
	mux.HandleFunc("POST /api/sealed-auctions/{id}/bid", handlers.Auctions.SealedBid)
	mux.HandleFunc("POST /api/sealed-auctions/{id}/reveal", handlers.Auctions.SealedReveal)
	mux.HandleFunc("POST /api/sealed-auctions/{id}/claim", handlers.Auctions.SealedClaim)
	mux.HandleFunc("POST /api/sealed-auctions/{id}/withdraw", handlers.Auctions.SealedWithdraw)
	mux.HandleFunc("POST /api/sealed-auctions/{id}/proceeds", handlers.Auctions.SealedProceeds)

	// Coin flips.
	mux.HandleFunc("POST /api/coin-flips", handlers.Games.OpenCoinFlip)
	mux.HandleFunc("POST /api/coin-flips/{id}/flip", handlers.Games.Flip)
	mux.HandleFunc("POST /api/coin-flips/{id}/guess", handlers.Games.Guess)
	mux.HandleFunc("POST /api/coin-flips/{id}/reveal", handlers.Games.RevealFlip)

	// Twenty-one games.
	mux.HandleFunc("POST /api/twenty-one", handlers.Games.OpenTwentyOne)
	mux.HandleFunc("POST /api/twenty-one/{id}/join", handlers.Games.JoinTwentyOne)
	mux.HandleFunc("POST /api/twenty-one/{id}/guess", handlers.Games.GuessNumber)
	mux.HandleFunc("POST /api/twenty-one/{id}/claim-timeout", handlers.Games.ClaimGameTimeout)
	mux.HandleFunc("POST /api/twenty-one/{id}/cancel", handlers.Games.CancelTwentyOne)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
