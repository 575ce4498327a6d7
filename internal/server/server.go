// Package server provides the HTTP control surface for the order robot.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/config"
	"github.com/jonathan/order-robot/internal/logging"
	"github.com/jonathan/order-robot/internal/server/middleware"
	"github.com/jonathan/order-robot/internal/server/ratelimit"
)

const keepAliveInterval = 15 * time.Second

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	auth        *config.AuthConfig
	jwtService  *JWTService
	runs        *runManager
	lookup      RunLookup
	rateLimiter *ratelimit.Limiter
	logger      *zap.Logger
}

// Config holds server configuration
type Config struct {
	Port      int
	Auth      *config.AuthConfig
	Runner    RunFunc
	Lookup    RunLookup         // optional; serves runs from earlier processes
	RateLimit *ratelimit.Config // defaults to ratelimit.LoadConfig()
	Logger    *zap.Logger
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("server requires a runner")
	}
	if cfg.Auth == nil || cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("server requires an auth config with a JWT secret")
	}

	logger := logging.OrNop(cfg.Logger)
	rl := cfg.RateLimit
	if rl == nil {
		rl = ratelimit.LoadConfig()
	}

	s := &Server{
		auth:        cfg.Auth,
		jwtService:  NewJWTService(cfg.Auth),
		runs:        newRunManager(cfg.Runner, logger),
		lookup:      cfg.Lookup,
		rateLimiter: ratelimit.NewLimiter(rl),
		logger:      logger,
	}

	requireAuth := middleware.AuthMiddleware(s.jwtService.AsTokenValidator())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/token", s.handleToken)
	mux.Handle("POST /runs", requireAuth(http.HandlerFunc(s.handleCreateRun)))
	mux.Handle("GET /runs/{id}", requireAuth(http.HandlerFunc(s.handleGetRun)))
	mux.Handle("GET /runs/{id}/events", requireAuth(http.HandlerFunc(s.handleRunEvents)))
	mux.Handle("GET /runs/{id}/archive", requireAuth(http.HandlerFunc(s.handleRunArchive)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams stay open for the length of a run
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until ctx is cancelled, then shuts down gracefully and waits
// for the active run to return.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}
	if err := s.runs.shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for active run: %w", err))
	}
	s.rateLimiter.Stop()
	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Close cancels any active run and releases background resources without
// going through the listener. Used when Start was never called.
func (s *Server) Close() {
	s.runs.shutdown(context.Background()) //nolint:errcheck
	s.rateLimiter.Stop()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)
		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)

		if !allowed {
			s.rateLimitResponse(w, clientID, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps event streams working through the logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	s.runs.mu.Lock()
	if s.runs.active != nil {
		resp["active_run"] = s.runs.active.view.ID.String()
	}
	s.runs.mu.Unlock()
	s.jsonResponse(w, http.StatusOK, resp)
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleToken exchanges operator credentials for a bearer token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, &ErrValidation{Field: "body", Message: "invalid JSON"})
		return
	}
	if req.Username == "" || req.Password == "" {
		s.writeError(w, &ErrValidation{Field: "credentials", Message: "username and password are required"})
		return
	}
	if !s.auth.LoginEnabled() {
		s.errorResponse(w, http.StatusServiceUnavailable, "operator login is not configured")
		return
	}
	if !s.auth.VerifyOperator(req.Username, req.Password) {
		s.logger.Warn("rejected operator login", zap.String("username", req.Username))
		s.writeError(w, &ErrInvalidCredentials{})
		return
	}

	token, expiresAt, err := s.jwtService.GenerateToken(req.Username)
	if err != nil {
		s.logger.Error("failed to issue token", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	s.jsonResponse(w, http.StatusOK, tokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt})
}

// handleCreateRun starts a run in the background.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	state, err := s.runs.start()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if subject, err := middleware.Subject(r); err == nil {
		s.logger.Info("run requested", zap.String("run_id", state.view.ID.String()), zap.String("operator", subject))
	}

	id := state.view.ID.String()
	w.Header().Set("Location", "/runs/"+id)
	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"run_id": id,
		"status": "running",
		"events": "/runs/" + id + "/events",
	})
}

// handleGetRun returns the status and artifacts of a run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.findRun(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

// handleRunEvents streams progress events, replaying those already emitted.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	state, ok := s.runs.get(id)
	if !ok {
		// Runs from earlier processes have no event history; report completion only.
		view, err := s.findRun(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		sse, err := NewSSEWriter(w)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		sse.WriteComplete(*view)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	next := 0
	for {
		events, done, changed := state.eventsSince(next)
		for _, event := range events {
			if err := sse.WriteEvent(event.Step, event); err != nil {
				return
			}
		}
		next += len(events)
		if done {
			sse.WriteComplete(state.snapshot())
			return
		}

		select {
		case <-changed:
		case <-ticker.C:
			if err := sse.WriteKeepAlive(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleRunArchive downloads the receipts archive of a finished run.
func (s *Server) handleRunArchive(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.findRun(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if view.ArchivePath == "" {
		s.writeError(w, &ErrArchiveUnavailable{RunID: id})
		return
	}
	if info, err := os.Stat(view.ArchivePath); err != nil || info.IsDir() {
		s.writeError(w, &ErrArchiveUnavailable{RunID: id})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(view.ArchivePath)))
	http.ServeFile(w, r, view.ArchivePath)
}

// findRun looks a run up in memory first, then in the ledger.
func (s *Server) findRun(ctx context.Context, id uuid.UUID) (*RunView, error) {
	if state, ok := s.runs.get(id); ok {
		view := state.snapshot()
		return &view, nil
	}
	if s.lookup == nil {
		return nil, &ErrRunNotFound{RunID: id}
	}

	run, err := s.lookup.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return nil, &ErrRunNotFound{RunID: id}
	}
	receipts, err := s.lookup.ListReceipts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipts: %w", err)
	}
	return &RunView{
		ID:          run.ID,
		Status:      run.Status,
		Rows:        run.Rows,
		Receipts:    receipts,
		ArchivePath: run.ArchivePath,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	}, nil
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: "id", Message: "must be a UUID"}
	}
	return id, nil
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// writeError maps a typed error to its status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID extracts the client identifier from the request.
// X-Forwarded-For is not trusted; the peer IP from RemoteAddr is used.
func (s *Server) extractClientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, clientID string, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	s.logger.Warn("rate limit exceeded",
		zap.String("client", clientID),
		zap.Int("limit", info.Limit),
		zap.Time("reset", info.ResetTime),
	)

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
