// Package server exposes a small debug HTTP surface over a running
// exchange session: health, counters, ledger contents, and recent
// sightings. It is read-only and meant for operators, not peers.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/exchange"
	"github.com/MiSideKick/BLE-Proximity/identity"
	"github.com/MiSideKick/BLE-Proximity/journal"
)

// shutdownGrace bounds how long in-flight requests may run after the
// serve context ends.
const shutdownGrace = 5 * time.Second

// defaultSightingLimit caps /api/sightings responses when the caller
// gives no limit.
const defaultSightingLimit = 50

// Server is the debug HTTP handler. The journal may be nil when
// journaling is disabled.
type Server struct {
	session *exchange.Session
	journal *journal.DB
	router  chi.Router
	log     *zap.Logger
	version string
}

// New builds the handler around a session.
func New(session *exchange.Session, jdb *journal.DB, version string, log *zap.Logger) *Server {
	s := &Server{
		session: session,
		journal: jdb,
		log:     log,
		version: version,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve listens on addr until ctx ends, then shuts down with a grace
// period for in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Debug server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.log.Info("Debug server shutting down")
	return httpServer.Shutdown(sctx)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/ledger/{name}", s.handleLedger)
		r.Get("/sightings", s.handleSightings)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	journalOK := true
	if s.journal != nil {
		if err := s.journal.Ping(); err != nil {
			journalOK = false
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"journal": journalOK,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.session.Status()
	body := map[string]any{
		"device_id":      st.DeviceID,
		"current_id":     st.Current.String(),
		"my_ids":         st.MyIDs,
		"peer_ids":       st.PeerIDs,
		"exchanges":      st.Exchanges,
		"received":       st.Received,
		"rejected":       st.Rejected,
		"uptime_seconds": st.Uptime.Seconds(),
	}
	if s.journal != nil {
		if n, err := s.journal.CountSince(time.Now().Add(-24 * time.Hour)); err == nil {
			body["sightings_24h"] = n
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	var entries []identity.Entry
	switch name := chi.URLParam(r, "name"); name {
	case identity.LedgerMine:
		entries = s.session.Store().SnapshotMine()
	case identity.LedgerPeers:
		entries = s.session.Store().SnapshotPeers()
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown ledger " + name})
		return
	}

	rows := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]any{
			"id":          e.ID.String(),
			"observed_at": time.Unix(e.ObservedAt, 0).UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "entries": rows})
}

func (s *Server) handleSightings(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
		return
	}

	limit := defaultSightingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	sightings, err := s.journal.Recent(limit)
	if err != nil {
		s.log.Warn("Sighting query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	rows := make([]map[string]any, 0, len(sightings))
	for _, sg := range sightings {
		row := map[string]any{
			"peer_device": sg.PeerDevice,
			"peer_id":     sg.PeerID.String(),
			"role":        sg.Role,
			"observed_at": sg.ObservedAt.UTC().Format(time.RFC3339),
		}
		if sg.RSSI != nil {
			row["rssi"] = *sg.RSSI
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "sightings": rows})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
