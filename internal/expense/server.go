package expense

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/ingest"
)

const shutdownTimeout = 10 * time.Second

// Server handles HTTP requests for expense reports
type Server struct {
	service    *Service
	basicAuth  BasicAuth
	mux        *http.ServeMux
	ingestOpts []ingest.Option
	sweepGrace time.Duration
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithIngestOptions sets the multipart limits
func WithIngestOptions(opts ...ingest.Option) ServerOption {
	return func(s *Server) {
		s.ingestOpts = append(s.ingestOpts, opts...)
	}
}

// WithSweepGrace sets the grace period used by the sweep endpoint
func WithSweepGrace(d time.Duration) ServerOption {
	return func(s *Server) {
		s.sweepGrace = d
	}
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, opts ...ServerOption) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux(), opts...)
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux, opts ...ServerOption) *Server {
	s := &Server{
		service:    service,
		basicAuth:  basicAuth,
		mux:        mux,
		sweepGrace: DefaultSweepGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Expense Tracker"`)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsMiddleware sets CORS headers on every response and answers preflights
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request with its status and duration.
// Client errors log at warn, server errors at error.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "HTTP request completed",
			"http_method", r.Method,
			"http_path", r.URL.Path,
			"http_status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", r.RemoteAddr,
		)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// fixed segments win over {id} under ServeMux precedence
	s.mux.HandleFunc("GET /api/v1/expenses/receipt/{key}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("POST /api/v1/expenses/receipt/{key}/scan", s.requireAuth(s.handleScanReceipt))
	s.mux.HandleFunc("GET /api/v1/expenses/stats/summary", s.requireAuth(s.handleSummary))
	s.mux.HandleFunc("GET /api/v1/expenses/stats/project/{project}", s.requireAuth(s.handleProjectStats))
	s.mux.HandleFunc("GET /api/v1/expenses/projects", s.requireAuth(s.handleProjects))
	s.mux.HandleFunc("POST /api/v1/expenses/maintenance/sweep", s.requireAuth(s.handleSweep))

	s.mux.HandleFunc("POST /api/v1/expenses/{id}/{action}", s.requireAuth(s.handleTransition))
	s.mux.HandleFunc("GET /api/v1/expenses/{id}", s.requireAuth(s.handleGetExpense))
	s.mux.HandleFunc("PUT /api/v1/expenses/{id}", s.requireAuth(s.handleUpdateExpense))
	s.mux.HandleFunc("DELETE /api/v1/expenses/{id}", s.requireAuth(s.handleDeleteExpense))
	s.mux.HandleFunc("GET /api/v1/expenses", s.requireAuth(s.handleListExpenses))
	s.mux.HandleFunc("POST /api/v1/expenses", s.requireAuth(s.handleCreateExpense))
}

// Handler returns the mux wrapped in the logging and CORS middleware
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(corsMiddleware(s.mux))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
