package mgmt

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emberd/internal/logging"
)

// Server exposes the thin management-plane HTTP surface named in §11:
// /status, /metrics, /debug/network, /debug/events. It mirrors the
// teacher's internal/node.Server — an instrumenting handler wrapper around
// a mux.Router — generalized to this node's own data sources instead of a
// key/value store's.
type Server struct {
	sources Sources
	metrics *Metrics
	limiter *RateLimiter
	start   time.Time
}

// NewServer constructs the management HTTP server. metrics must already be
// registered (mgmt.NewMetrics does this); sources is read fresh on every
// request, so the caller may keep mutating the underlying components.
// The management plane allows 20 req/s per caller, bursting to 40 — it is
// a debugging surface, not the data path, so this is deliberately tighter
// than the teacher's data-plane default.
func NewServer(sources Sources, metrics *Metrics) *Server {
	return &Server{sources: sources, metrics: metrics, start: time.Now(), limiter: NewRateLimiter(20, 40)}
}

// Close releases background resources (the rate limiter's sweep worker).
func (s *Server) Close() { s.limiter.Close() }

// Router builds the mux.Router serving every management endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RateLimitMiddleware(s.limiter))

	r.HandleFunc("/status", s.instrument("status", s.statusHandler)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/debug/network", s.instrument("debug_network", s.debugNetworkHandler)).Methods(http.MethodGet)
	r.HandleFunc("/debug/events", s.instrument("debug_events", s.debugEventsHandler)).Methods(http.MethodGet)

	return r
}

// ListenAndServe starts the management HTTP server on addr. It blocks until
// the listener fails or the process exits; callers run it in its own
// goroutine.
func (s *Server) ListenAndServe(addr string) error {
	logging.Info("mgmt: listening on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	stats := Collect(s.sources)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"uptime":    time.Since(s.start).String(),
		"statistics": stats,
	})
}

func (s *Server) debugNetworkHandler(w http.ResponseWriter, r *http.Request) {
	if s.sources.State == nil {
		http.Error(w, "network state unavailable", http.StatusServiceUnavailable)
		return
	}
	raw, err := DumpNetwork(s.sources.State)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) debugEventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.sources.Log == nil {
		http.Error(w, "event log unavailable", http.StatusServiceUnavailable)
		return
	}
	raw, err := DumpEvents(s.sources.Log)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// instrument wraps handler with the request-count/duration collectors,
// the same responseWriter-wrapping shape the teacher's
// internal/node.Server.instrumentHandler uses.
func (s *Server) instrument(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(wrapped, r)
		s.metrics.HTTPRequestDur.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		s.metrics.HTTPRequestTotal.WithLabelValues(endpoint, strconv.Itoa(wrapped.statusCode)).Inc()
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
