package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAPIKeyHeader = "X-API-Key"
	defaultRunsLimit    = 20
	shutdownTimeout     = 30 * time.Second
)

// Exporter runs exports and lists past runs
type Exporter interface {
	Export(ctx context.Context, cred core.Credential) (*core.ExportReport, *core.ExportArtifact, error)
	Recent(ctx context.Context, limit int) ([]*core.RunRecord, error)
}

// Options configures the HTTP surface
type Options struct {
	Addr           string
	APIKey         string
	APIKeyHeader   string
	RequestTimeout time.Duration

	// RateLimit is the number of export requests allowed per minute; 0 disables limiting
	RateLimit float64
	RateBurst int
}

// Server exposes the export trigger over HTTP
type Server struct {
	exporter    Exporter
	credentials func() core.Credential
	opts        Options
	limiter     *rate.Limiter
	logger      *zap.Logger
	server      *http.Server
	listener    net.Listener
}

// NewServer creates a new HTTP server. credentials is read on every request so the
// credential is never cached beyond one export.
func NewServer(exporter Exporter, credentials func() core.Credential, opts Options, logger *zap.Logger) *Server {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = defaultAPIKeyHeader
	}

	s := &Server{
		exporter:    exporter,
		credentials: credentials,
		opts:        opts,
		logger:      logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit/60), burst)
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.requireAPIKey)
	api.Handle("/export-csv", s.rateLimited(http.HandlerFunc(s.handleExport))).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)

	return r
}

// Start starts serving in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP server started", zap.String("address", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Stop waits for in-flight exports to finish, up to a bound
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey == "" {
			s.logger.Error("Rejecting request, no API key is configured")
			writeError(w, http.StatusInternalServerError, string(core.KindConfiguration), "server API key is not configured")
			return
		}
		got := r.Header.Get(s.opts.APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many export requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	report, artifact, err := s.exporter.Export(ctx, s.credentials())
	if err != nil {
		status := StatusFor(err)
		s.logger.Error("Export failed", zap.Int("status", status), zap.Error(err))
		writeError(w, status, string(core.KindOf(err)), err.Error())
		return
	}

	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		w.Header().Set("Content-Type", artifact.MediaType())
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
		w.Header().Set("Content-Length", strconv.Itoa(artifact.Size()))
		w.Header().Set("X-Run-ID", report.RunID)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(artifact.Data); err != nil {
			s.logger.Warn("Failed to stream artifact", zap.Error(err))
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.exporter.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list export runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history_error", "failed to list export runs")
		return
	}
	if runs == nil {
		runs = []*core.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// StatusFor maps an export error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrConfiguration):
		return http.StatusBadRequest
	case core.IsTimeout(err):
		return http.StatusGatewayTimeout
	case core.IsLoginFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	if kind == "" {
		kind = "internal_error"
	}
	writeJSON(w, status, errorBody{Error: kind, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
