// Package httpapi exposes the read-only RTLS surface (anchors, wearables,
// latest positions/scans/anchor status, aggregate stats) plus the push
// channel's websocket upgrade route (spec §4.7/§4.8, §6).
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/wbh-rtls/rtls-core/internal/authstub"
	"github.com/wbh-rtls/rtls-core/internal/broadcast"
	"github.com/wbh-rtls/rtls-core/internal/store"
)

// apiStore is the narrow slice of *store.Store the read-only routes need;
// declaring it here (rather than depending on the concrete type) lets
// tests exercise the router against a fake.
type apiStore interface {
	ListAnchors(ctx context.Context) ([]store.AnchorFull, error)
	ListWearables(ctx context.Context) ([]store.WearableFull, error)
	LatestPositions(ctx context.Context, within time.Duration) ([]store.PositionRow, error)
	LatestScanSummaries(ctx context.Context) ([]store.ScanSummary, error)
	LatestAnchorStatuses(ctx context.Context) ([]store.AnchorStatusRow, error)
	FetchStats(ctx context.Context) (store.Stats, error)
}

// Server wires the store, the broadcast hub and an auth issuer into one
// gorilla/mux router.
type Server struct {
	store apiStore
	hub   *broadcast.Hub
	iss   *authstub.Issuer
	addr  string
}

func New(addr string, s *store.Store, hub *broadcast.Hub, iss *authstub.Issuer) *Server {
	return &Server{store: s, hub: hub, iss: iss, addr: addr}
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/anchors", s.handleListAnchors).Methods(http.MethodGet)
	r.HandleFunc("/wearables", s.handleListWearables).Methods(http.MethodGet)
	r.HandleFunc("/positions/latest", s.handleLatestPositions).Methods(http.MethodGet)
	r.HandleFunc("/scans/latest", s.handleLatestScans).Methods(http.MethodGet)
	r.HandleFunc("/anchor_status/latest", s.handleLatestAnchorStatus).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/ws/data", s.handleWSData).Methods(http.MethodGet)

	// Provisioning routes aren't part of the ingest/locate/broadcast
	// pipeline (spec §1 non-goals exclude device provisioning); they're
	// stubbed here as a documented surface rather than omitted silently,
	// and gated/rate-limited the way a real write route would be.
	limiter := newWriteLimiter()
	r.Handle("/anchors", authstub.RequireRole(s.iss, authstub.RoleOperator,
		limiter.wrap(http.HandlerFunc(notImplemented)))).Methods(http.MethodPost)
	r.Handle("/wearables", authstub.RequireRole(s.iss, authstub.RoleOperator,
		limiter.wrap(http.HandlerFunc(notImplemented)))).Methods(http.MethodPost)

	return r
}

// Run blocks serving HTTP until the process is killed.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	slog.Info("HTTP API server started", "addr", "http://"+s.addr)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ws_clients": s.hub.ClientCount(),
		"queues":     s.hub.QueueDepths(),
	})
}

func (s *Server) handleListAnchors(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListAnchors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anchorsToModel(rows))
}

func (s *Server) handleListWearables(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListWearables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wearablesToModel(rows))
}

func (s *Server) handleLatestPositions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.LatestPositions(r.Context(), 10*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionsToModel(rows))
}

func (s *Server) handleLatestScans(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.LatestScanSummaries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLatestAnchorStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.LatestAnchorStatuses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anchorStatusesToModel(rows))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.FetchStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleWSData upgrades to a websocket and hands the connection to the hub
// for the lifetime of the session (spec §4.8).
func (s *Server) handleWSData(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("websocket accept failed", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if err := s.hub.Serve(r.Context(), conn); err != nil {
		slog.Info("websocket client disconnected", "err", err)
	}
}

func notImplemented(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"error": "provisioning is not implemented by this service",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// writeLimiter rate-limits the provisioning stubs. Each wrapped route gets
// one limiter shared by all callers; callers are not tracked per IP.
type writeLimiter struct {
	rate rate.Limit
	burst int
}

func newWriteLimiter() *writeLimiter {
	return &writeLimiter{rate: rate.Every(time.Second), burst: 5}
}

func (l *writeLimiter) wrap(next http.Handler) http.Handler {
	lim := rate.NewLimiter(l.rate, l.burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !lim.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
