package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Server is a JSON-RPC 2.0 HTTP server.
type Server struct {
	handler   *Handler
	addr      string
	authToken string // empty → no auth required
	limiter   *rate.Limiter
	log       logrus.FieldLogger
	srv       *http.Server
}

// ServerOptions configures optional server behaviour.
type ServerOptions struct {
	// AuthToken, when set, must be presented as "Authorization: Bearer
	// <token>" by sendTx callers. Queries stay public.
	AuthToken string
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// Gatherer is served on /metrics when non-nil.
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger
}

// NewServer creates a Server on addr.
func NewServer(addr string, handler *Handler, opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		handler:   handler,
		addr:      addr,
		authToken: opts.AuthToken,
		log:       log.WithField("component", "rpc"),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.serveRPC).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.serveHealth).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("server error")
		}
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("rpc listening")
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "height": s.handler.bc.Height()})
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		writeJSON(w, errResponse(nil, CodeRateLimited, "rate limit exceeded"))
		return
	}

	// Limit request body to 1 MB to prevent memory exhaustion.
	r.Body = http.MaxBytesReader(w, r.Body, 1*1024*1024)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}
	if req.Method == "sendTx" && s.authToken != "" &&
		r.Header.Get("Authorization") != "Bearer "+s.authToken {
		writeJSON(w, errResponse(req.ID, CodeUnauthorized, "unauthorized"))
		return
	}

	resp := s.handler.Dispatch(req)
	if resp.Error != nil {
		s.log.WithFields(logrus.Fields{"method": req.Method, "code": resp.Error.Code}).Debug(resp.Error.Message)
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
