// Package admin implements the Admin HTTP surface (§6): JSON endpoints
// under /admin for inspecting and steering a running instance — endpoint
// records, dispatch mode, chaos profiles, drift alerts, health scores, and
// a live transaction stream over WebSocket.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"learnproxy/internal/behavior"
	"learnproxy/internal/broadcast"
	"learnproxy/internal/chaos"
	"learnproxy/internal/config"
	"learnproxy/internal/dispatch"
	"learnproxy/internal/health"
	"learnproxy/internal/logger"
	"learnproxy/internal/metrics"
	"learnproxy/internal/store"
)

// Server is the admin API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time

	core          *dispatch.Core
	chaosRegistry *chaos.Registry
	behaviorStore *behavior.Store
	health        *health.Monitor
	store         *store.Store // nil disables persisted endpoint/drift-alert lookups
	broadcaster   *broadcast.Broadcaster
	metrics       *metrics.Metrics
	log           *logger.Logger

	token    string // bearer token for auth; empty = no auth
	upgrader websocket.Upgrader
}

// New creates an admin Server wired to the running instance's components.
func New(cfg *config.Config, core *dispatch.Core, chaosRegistry *chaos.Registry, behaviorStore *behavior.Store, h *health.Monitor, st *store.Store, b *broadcast.Broadcaster, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:           cfg,
		startTime:     time.Now(),
		core:          core,
		chaosRegistry: chaosRegistry,
		behaviorStore: behaviorStore,
		health:        h,
		store:         st,
		broadcaster:   b,
		metrics:       m,
		log:           log,
		token:         cfg.AdminToken,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The admin surface is already gated by authMiddleware; a
			// dashboard served from a different origin is expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if s.token != "" {
		log.Info("init", "bearer token authentication enabled for /admin")
	}
	return s
}

// Handler returns the HTTP handler for the admin API, mounted at "/admin".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/endpoints", s.handleListEndpoints)
	mux.HandleFunc("GET /admin/endpoints/{id}", s.handleGetEndpoint)
	mux.HandleFunc("POST /admin/mode", s.handleSetMode)
	mux.HandleFunc("GET /admin/chaos", s.handleGetChaos)
	mux.HandleFunc("POST /admin/chaos", s.handleSetChaos)
	mux.HandleFunc("GET /admin/drift-alerts", s.handleListDriftAlerts)
	mux.HandleFunc("POST /admin/drift-alerts/{id}/resolve", s.handleResolveDriftAlert)
	mux.HandleFunc("GET /admin/health", s.handleHealthAll)
	mux.HandleFunc("GET /admin/health/global", s.handleHealthGlobal)
	mux.HandleFunc("GET /admin/health/{id}", s.handleHealthEndpoint)
	mux.HandleFunc("GET /admin/metrics", s.handleMetrics)
	mux.HandleFunc("GET /admin/stream", s.handleStream)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- endpoints ---

// endpointSummary is the list-view shape for GET /admin/endpoints.
type endpointSummary struct {
	Key           string    `json:"key"`
	Method        string    `json:"method"`
	Pattern       string    `json:"pattern"`
	SampleCount   int       `json:"sampleCount"`
	FirstSeen     time.Time `json:"firstSeen,omitzero"`
	LastSeen      time.Time `json:"lastSeen,omitzero"`
	LatencyMeanMS float64   `json:"latencyMeanMs"`
	HealthScore   int       `json:"healthScore"`
	HealthStatus  string    `json:"healthStatus"`
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, _ *http.Request) {
	var keys []string
	summaries := make(map[string]endpointSummary)

	if s.store != nil {
		records, err := s.store.AllEndpoints()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "storage_read_failed", err.Error())
			return
		}
		for _, rec := range records {
			keys = append(keys, rec.Key())
			summaries[rec.Key()] = endpointSummary{
				Key:           rec.Key(),
				Method:        rec.Method,
				Pattern:       rec.PatternKey,
				SampleCount:   rec.SampleCount,
				FirstSeen:     rec.FirstSeen,
				LastSeen:      rec.LastSeen,
				LatencyMeanMS: rec.LatencyMeanMS,
			}
		}
	} else {
		for _, snap := range s.behaviorStore.All() {
			keys = append(keys, snap.Key)
			method, pattern := splitKey(snap.Key)
			summaries[snap.Key] = endpointSummary{
				Key:           snap.Key,
				Method:        method,
				Pattern:       pattern,
				SampleCount:   snap.Count,
				LatencyMeanMS: snap.LatencyMean,
			}
		}
	}

	out := make([]endpointSummary, 0, len(keys))
	for _, k := range keys {
		summary := summaries[k]
		if score, ok := s.health.Score(k); ok {
			summary.HealthScore = score
			summary.HealthStatus = health.StatusBand(score)
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	key, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	if s.store != nil {
		rec, ok, err := s.store.GetEndpoint(key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "storage_read_failed", err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	snap, ok := s.behaviorStore.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func splitKey(key string) (method, pattern string) {
	parts := strings.SplitN(key, " ", 2)
	if len(parts) != 2 {
		return key, ""
	}
	return parts[0], parts[1]
}

func pathID(r *http.Request) (string, error) {
	raw := r.PathValue("id")
	return url.PathUnescape(raw)
}

// --- mode ---

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode config.Mode `json:"mode"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Mode != config.ModeProxy && req.Mode != config.ModeMock {
		writeError(w, http.StatusBadRequest, "invalid_mode", "mode must be \"proxy\" or \"mock\"")
		return
	}
	s.core.SetMode(req.Mode)
	s.log.Infof("mode", "dispatch mode switched to %s", req.Mode)
	writeJSON(w, http.StatusOK, map[string]config.Mode{"mode": req.Mode})
}

// --- chaos ---

// chaosProfileBody is the wire shape for reading/writing a chaos.Profile,
// optionally scoped to one endpoint key.
type chaosProfileBody struct {
	Endpoint           string  `json:"endpoint,omitempty"`
	FailureProbability float64 `json:"failureProbability"`
	ExtraLatencyMS     int     `json:"extraLatencyMs"`
	ForcedStatusCode   int     `json:"forcedStatusCode"`
}

func (s *Server) handleGetChaos(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	var profile chaos.Profile
	if endpoint != "" {
		profile = s.chaosRegistry.ForEndpoint(endpoint)
	} else {
		profile = s.chaosRegistry.Global()
	}
	writeJSON(w, http.StatusOK, chaosProfileBody{
		Endpoint:           endpoint,
		FailureProbability: profile.FailureProbability,
		ExtraLatencyMS:     profile.ExtraLatencyMS,
		ForcedStatusCode:   profile.ForcedStatusCode,
	})
}

func (s *Server) handleSetChaos(w http.ResponseWriter, r *http.Request) {
	var body chaosProfileBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if body.FailureProbability < 0 || body.FailureProbability > 1 {
		writeError(w, http.StatusBadRequest, "invalid_failure_probability", "must be within [0,1]")
		return
	}
	profile := chaos.Profile{
		FailureProbability: body.FailureProbability,
		ExtraLatencyMS:     body.ExtraLatencyMS,
		ForcedStatusCode:   body.ForcedStatusCode,
	}

	if body.Endpoint == "" {
		s.chaosRegistry.SetGlobal(profile)
		s.log.Infof("chaos", "global profile updated: %+v", profile)
		writeJSON(w, http.StatusOK, chaosProfileBody{FailureProbability: profile.FailureProbability, ExtraLatencyMS: profile.ExtraLatencyMS, ForcedStatusCode: profile.ForcedStatusCode})
		return
	}

	if profile.IsZero() {
		s.chaosRegistry.ClearEndpoint(body.Endpoint)
		s.log.Infof("chaos", "per-endpoint override cleared for %s", body.Endpoint)
	} else {
		s.chaosRegistry.SetEndpoint(body.Endpoint, profile)
		s.log.Infof("chaos", "per-endpoint profile updated for %s: %+v", body.Endpoint, profile)
	}
	writeJSON(w, http.StatusOK, body)
}

// --- drift alerts ---

func (s *Server) handleListDriftAlerts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	unresolvedOnly := false
	if v := r.URL.Query().Get("unresolved_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "unresolved_only must be a boolean")
			return
		}
		unresolvedOnly = parsed
	}
	alerts, err := s.store.AllDriftAlerts(unresolvedOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_read_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleResolveDriftAlert(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage_disabled", "persistence is not configured")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	alert, found, err := s.store.GetDriftAlert(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_read_failed", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "no such drift alert")
		return
	}

	if _, err := s.store.ResolveDriftAlert(id); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_write_failed", err.Error())
		return
	}
	s.log.Infof("drift", "alert %s resolved", id)

	remaining, err := s.store.AllDriftAlerts(true)
	if err == nil {
		stillActive := false
		for _, a := range remaining {
			if a.EndpointKey == alert.EndpointKey {
				stillActive = true
				break
			}
		}
		if !stillActive {
			s.health.SetActiveDrift(alert.EndpointKey, false)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

// --- health ---

type healthEntry struct {
	Key    string `json:"key"`
	Score  int    `json:"score"`
	Status string `json:"status"`
}

func (s *Server) handleHealthAll(w http.ResponseWriter, _ *http.Request) {
	keys := s.behaviorStore.Keys()
	out := make([]healthEntry, 0, len(keys))
	for _, k := range keys {
		score, ok := s.health.Score(k)
		if !ok {
			continue
		}
		out = append(out, healthEntry{Key: k, Score: score, Status: health.StatusBand(score)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"global":    s.health.GlobalScore(),
		"endpoints": out,
	})
}

func (s *Server) handleHealthGlobal(w http.ResponseWriter, _ *http.Request) {
	score := s.health.GlobalScore()
	writeJSON(w, http.StatusOK, healthEntry{Key: "global", Score: score, Status: health.StatusBand(score)})
}

func (s *Server) handleHealthEndpoint(w http.ResponseWriter, r *http.Request) {
	key, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	score, ok := s.health.Score(key)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "endpoint has no health history")
		return
	}
	writeJSON(w, http.StatusOK, healthEntry{Key: key, Score: score, Status: health.StatusBand(score)})
}

// --- metrics ---

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// --- live stream ---

// handleStream upgrades to a WebSocket and relays broadcast.Event values
// as JSON text frames until the client disconnects (§4.9).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("stream", "upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.broadcaster.Subscribe()
	defer unsubscribe()

	go s.drainClientReads(conn)

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// drainClientReads discards inbound frames so the client's close handshake
// and pong frames are processed; it returns (and the read loop's error
// surfaces by closing conn) once the connection goes away.
func (s *Server) drainClientReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

// --- shared helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client hung up mid-write is not actionable here
}

// errorBody is the §7 structured error shape: {"error": "...", "code": "..."}.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
