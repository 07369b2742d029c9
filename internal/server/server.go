// Package server implements the HTTP and WebSocket surface described in
// SPEC_FULL.md §6: recognition requests, cache read/write/sync endpoints,
// formation queries, admin/health/metrics endpoints, and the subscription
// and raw-ingest WebSocket upgrades. Grounded on the donor's
// internal/server/server.go router/middleware shape (gorilla/mux subrouter,
// loggingMiddleware, responseWriter status capture, websocket.Upgrader), with
// the client lifecycle itself delegated to internal/bus.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rhino11/formation/internal/bus"
	"github.com/rhino11/formation/internal/cache"
	"github.com/rhino11/formation/internal/config"
	"github.com/rhino11/formation/internal/deltasync"
	"github.com/rhino11/formation/internal/errs"
	"github.com/rhino11/formation/internal/geo"
	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/metrics"
	"github.com/rhino11/formation/internal/models"
	"github.com/rhino11/formation/internal/recognition"
	"github.com/rhino11/formation/internal/rules"
	"github.com/rhino11/formation/internal/scheduler"
	"github.com/rhino11/formation/internal/store"
	"github.com/rhino11/formation/internal/stream"
)

// Deps wires the already-constructed recognition stack into the server.
// Metrics may be nil, disabling /metrics.
type Deps struct {
	Cache     *cache.TargetCache
	Rules     *rules.Manager
	Engine    *recognition.Engine
	Store     *store.Store
	Sync      *deltasync.Service
	Bus       *bus.Bus
	Stream    *stream.Service
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Registry
}

// Server serves the recognition stack's HTTP and WebSocket surface.
type Server struct {
	config   *config.Config
	deps     Deps
	router   *mux.Router
	upgrader websocket.Upgrader

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	startedAt  time.Time
}

// NewServer creates a Server over cfg and deps.
func NewServer(cfg *config.Config, deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config: cfg,
		deps:   deps,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures every route from SPEC_FULL.md §6. The three
// websocket upgrades are registered directly on the root router, ahead of
// the logging-middleware subrouter, so an upgrade's hijacked connection never
// passes through the status-capturing responseWriter wrapper.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/cache/ws/{client_id}", s.handleCacheWebSocket)
	s.router.HandleFunc("/stream/ws/push", s.handleStreamPushWebSocket)
	s.router.HandleFunc("/stream/ws/results", s.handleStreamResultsWebSocket)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/metrics", s.handlePrometheusMetrics).Methods("GET")
	api.HandleFunc("/ws/status", s.handleWSStatus).Methods("GET")

	api.HandleFunc("/recognize", s.handleRecognize).Methods("POST")
	api.HandleFunc("/recognize/incremental", s.handleRecognizeIncremental).Methods("POST")

	api.HandleFunc("/cache/targets/batch_update", s.handleBatchUpdate).Methods("POST")
	api.HandleFunc("/cache/targets/batch_query", s.handleBatchQuery).Methods("POST")
	api.HandleFunc("/cache/targets/active", s.handleTargetsActive).Methods("GET")
	api.HandleFunc("/cache/targets/{id}/delta", s.handleTargetDelta).Methods("GET")
	api.HandleFunc("/cache/targets/{id}/history", s.handleTargetHistory).Methods("GET")
	api.HandleFunc("/cache/targets/{id}/state", s.handleTargetState).Methods("GET")

	api.HandleFunc("/cache/sync/session", s.handleSyncSession).Methods("POST")
	api.HandleFunc("/cache/sync/pull", s.handleSyncPull).Methods("POST")
	api.HandleFunc("/cache/sync/compare", s.handleSyncCompare).Methods("POST")

	// Order matters: the literal formation routes must be registered before
	// the trailing {id} catch-all so "recent"/"range"/etc. never get parsed
	// as a formation id.
	api.HandleFunc("/cache/formations/recent", s.handleFormationsRecent).Methods("GET")
	api.HandleFunc("/cache/formations/range", s.handleFormationsRange).Methods("GET")
	api.HandleFunc("/cache/formations/date/{date}", s.handleFormationsByDate).Methods("GET")
	api.HandleFunc("/cache/formations/statistics/overview", s.handleFormationsStatistics).Methods("GET")
	api.HandleFunc("/cache/formations/{id}", s.handleFormationByID).Methods("GET")

	api.HandleFunc("/cache/admin/cleanup", s.handleAdminCleanup).Methods("POST")
	api.HandleFunc("/cache/admin/status", s.handleAdminStatus).Methods("GET")
	api.HandleFunc("/cache/admin/clear", s.handleAdminClear).Methods("POST")
	api.HandleFunc("/cache/health", s.handleCacheHealth).Methods("GET")

	logging.For("http").Info("[INIT] router configured")
}

// Start binds and serves. Blocks until the listener fails or Stop shuts it
// down, matching the donor's Server.Start/http.Server.ListenAndServe pairing.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logging.For("http").WithField("addr", addr).Info("[INIT] server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP lets a *Server itself be used as an http.Handler, e.g. in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// loggingMiddleware mirrors the donor's own request/response logging wrapper.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		logging.WebRequest(r.Method, r.URL.Path, wrapper.statusCode, time.Since(start).Milliseconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// writeJSON encodes v as the response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.For("http").WithField("error", err.Error()).Error("[WEB-ERROR] encode response")
	}
}

// writeError maps err's sentinel class to an HTTP status per SPEC_FULL.md §7.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsInvalidInput(err):
		status = http.StatusBadRequest
	case errs.IsTransient(err):
		status = http.StatusServiceUnavailable
	case errs.IsInvariant(err):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]interface{}{"success": false, "error": err.Error()})
}

func parseIntQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseInt64Query(r *http.Request, name string, def int64) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseTimeRangeQuery(r *http.Request) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end query parameters are required")
	}
	start, err = time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err = time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	return start, end, nil
}

// formationTypeCaser renders a formation's snake_case classification (e.g.
// "tight_fighter") as a human-readable label, mirroring the donor's
// generateDescription use of cases.Title(language.English) over
// strings.Title's deprecated Unicode handling.
var formationTypeCaser = cases.Title(language.English)

func formationTypeLabel(formationType string) string {
	if formationType == "" {
		return "Unclassified"
	}
	return formationTypeCaser.String(strings.ReplaceAll(formationType, "_", " "))
}

func formationTypeLabels(formations []models.Formation) []string {
	seen := make(map[string]bool, len(formations))
	var labels []string
	for _, f := range formations {
		label := formationTypeLabel(f.Type)
		if !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}
	return labels
}

// targetRecordDTO is the wire shape of one inbound target record, shared by
// /recognize, /recognize/incremental, and /cache/targets/batch_update.
type targetRecordDTO struct {
	TargetID  string    `json:"target_id"`
	Timestamp time.Time `json:"timestamp"`
	Position  struct {
		Longitude float64 `json:"longitude"`
		Latitude  float64 `json:"latitude"`
		Altitude  float64 `json:"altitude"`
	} `json:"position"`
	Heading    float64 `json:"heading"`
	Speed      float64 `json:"speed"`
	Pitch      float64 `json:"pitch"`
	Roll       float64 `json:"roll"`
	Attributes struct {
		PlatformType string `json:"platform_type"`
		Nation       string `json:"nation"`
		Alliance     string `json:"alliance"`
		Theatre      string `json:"theatre"`
		Airport      string `json:"airport"`
		Squadron     string `json:"squadron"`
		Mission      string `json:"mission"`
	} `json:"attributes"`
}

func (d targetRecordDTO) toObservation() (models.TargetObservation, error) {
	if d.TargetID == "" {
		return models.TargetObservation{}, errs.InvalidInput("target_id is required")
	}
	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return models.TargetObservation{
		TargetID: d.TargetID,
		Attrs: models.TargetAttributes{
			PlatformType: models.PlatformType(d.Attributes.PlatformType),
			Nation:       d.Attributes.Nation,
			Alliance:     d.Attributes.Alliance,
			Theatre:      d.Attributes.Theatre,
			Airport:      d.Attributes.Airport,
			Squadron:     d.Attributes.Squadron,
			Mission:      d.Attributes.Mission,
		},
		State: models.TargetState{
			Timestamp: ts,
			Position:  geo.Position{Longitude: d.Position.Longitude, Latitude: d.Position.Latitude, Altitude: d.Position.Altitude},
			Heading:   d.Heading,
			Speed:     d.Speed,
			Pitch:     d.Pitch,
			Roll:      d.Roll,
		},
	}, nil
}

func toObservations(records []targetRecordDTO) ([]models.TargetObservation, error) {
	out := make([]models.TargetObservation, 0, len(records))
	for _, rec := range records {
		obs, err := rec.toObservation()
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}

// recognizeRequest is the body of /recognize and /recognize/incremental.
type recognizeRequest struct {
	Targets   []targetRecordDTO `json:"targets"`
	Preset    string            `json:"preset,omitempty"`
	SceneType string            `json:"scene_type,omitempty"`
	TimeRange *struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"time_range,omitempty"`
	Incremental bool `json:"incremental,omitempty"`
}

type recognizeResponse struct {
	Success          bool                   `json:"success"`
	Message          string                 `json:"message"`
	FormationCount   int                    `json:"formation_count"`
	Formations       []models.Formation     `json:"formations"`
	ProcessingTimeMS int64                  `json:"processing_time_ms"`
	Metadata         map[string]interface{} `json:"metadata"`
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	s.handleRecognizeCommon(w, r, false)
}

func (s *Server) handleRecognizeIncremental(w http.ResponseWriter, r *http.Request) {
	s.handleRecognizeCommon(w, r, true)
}

// handleRecognizeCommon always caches the pushed targets through the stream
// service, optionally applies a preset, and then either forces an
// incremental pass or runs a full batch recognition over the accumulated
// tracks, per SPEC_FULL.md §6.
func (s *Server) handleRecognizeCommon(w http.ResponseWriter, r *http.Request, forceIncremental bool) {
	start := time.Now()

	var req recognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.InvalidInput("malformed request body: %v", err))
		return
	}

	observations, err := toObservations(req.Targets)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if req.Preset != "" && !s.deps.Engine.ApplyPreset(req.Preset) {
		s.writeError(w, errs.InvalidInput("unknown preset %q", req.Preset))
		return
	}

	pushResult := s.deps.Stream.Push(r.Context(), observations)

	var formations []models.Formation
	incremental := forceIncremental || req.Incremental
	if incremental {
		formations, err = s.deps.Stream.ForceRecognize(r.Context())
	} else {
		var window *recognition.TimeRange
		if req.TimeRange != nil {
			window = &recognition.TimeRange{Start: req.TimeRange.Start, End: req.TimeRange.End}
		}
		formations, err = s.deps.Engine.Recognize(r.Context(), window)
	}
	if err != nil {
		s.writeError(w, errs.Transient("recognition failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, recognizeResponse{
		Success:          true,
		Message:          "recognition complete",
		FormationCount:   len(formations),
		Formations:       formations,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Metadata: map[string]interface{}{
			"received":        pushResult.Received,
			"changed":         pushResult.Changed,
			"scene_type":      req.SceneType,
			"incremental":     incremental,
			"formation_types": formationTypeLabels(formations),
		},
	})
}

type batchUpdateRequest struct {
	Targets []targetRecordDTO `json:"targets"`
}

type batchUpdateResult struct {
	TargetID string `json:"target_id"`
	Version  int64  `json:"version"`
	IsUpdate bool   `json:"is_update"`
	HasDelta bool   `json:"has_delta"`
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req batchUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.InvalidInput("malformed request body: %v", err))
		return
	}

	results := make([]batchUpdateResult, 0, len(req.Targets))
	for _, rec := range req.Targets {
		obs, err := rec.toObservation()
		if err != nil {
			s.writeError(w, err)
			return
		}
		updated, version, delta, err := s.deps.Cache.Put(obs.TargetID, obs.State)
		if err != nil {
			s.writeError(w, errs.Transient("cache put failed: %v", err))
			return
		}
		results = append(results, batchUpdateResult{
			TargetID: obs.TargetID,
			Version:  version,
			IsUpdate: updated,
			HasDelta: delta != nil,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type batchQueryRequest struct {
	TargetIDs []string `json:"target_ids"`
}

func (s *Server) handleBatchQuery(w http.ResponseWriter, r *http.Request) {
	var req batchQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.InvalidInput("malformed request body: %v", err))
		return
	}
	states := s.deps.Cache.GetBatch(req.TargetIDs)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"targets": states})
}

func (s *Server) handleTargetsActive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"target_ids": s.deps.Cache.AllActive()})
}

func (s *Server) handleTargetState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	state, ok := s.deps.Cache.Get(id)
	if !ok {
		s.writeError(w, errs.InvalidInput("target %q not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"target_id": id,
		"state":     state,
		"version":   s.deps.Cache.VersionOf(id),
	})
}

func (s *Server) handleTargetDelta(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	since := parseInt64Query(r, "since_version", 0)
	limit := parseIntQuery(r, "limit", 0)

	events := s.deps.Cache.DeltaSince(id, since)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"target_id": id, "events": events})
}

// handleTargetHistory reuses the delta log as the target's queryable history
// window; the server boundary exposes no separate track store (tracks are
// owned internally by the recognition engine, per SPEC_FULL.md §9's one-way
// track->cache write path).
func (s *Server) handleTargetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	start, end, err := parseTimeRangeQuery(r)
	if err != nil {
		s.writeError(w, errs.InvalidInput("%v", err))
		return
	}
	events := s.deps.Cache.DeltaInRange(id, start, end)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"target_id": id, "history": events})
}

type syncSessionRequest struct {
	ClientID  string   `json:"client_id"`
	TargetIDs []string `json:"target_ids,omitempty"`
}

func (s *Server) handleSyncSession(w http.ResponseWriter, r *http.Request) {
	var req syncSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.InvalidInput("malformed request body: %v", err))
		return
	}
	if req.ClientID == "" {
		s.writeError(w, errs.InvalidInput("client_id is required"))
		return
	}

	sessionID := s.deps.Sync.CreateSession(req.ClientID, req.TargetIDs)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"expires_in": int64(config.Dur(s.config.Sync.SessionTTL).Seconds()),
	})
}

type syncPullRequest struct {
	SessionID     string           `json:"session_id,omitempty"`
	SinceVersions map[string]int64 `json:"since_versions,omitempty"`
	TargetIDs     []string         `json:"target_ids,omitempty"`
}

func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	var req syncPullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.InvalidInput("malformed request body: %v", err))
		return
	}
	pkg := s.deps.Sync.Pull(req.SessionID, req.TargetIDs, req.SinceVersions)
	s.writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleSyncCompare(w http.ResponseWriter, r *http.Request) {
	var req map[string]deltasync.ClientState
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.InvalidInput("malformed request body: %v", err))
		return
	}
	result := s.deps.Sync.CompareAndSync(req)
	s.writeJSON(w, http.StatusOK, result)
}

func stripTracks(formations []models.Formation) []models.Formation {
	out := make([]models.Formation, len(formations))
	for i, f := range formations {
		members := make([]models.FormationMember, len(f.Members))
		for j, m := range f.Members {
			m.States = nil
			members[j] = m
		}
		f.Members = members
		out[i] = f
	}
	return out
}

func (s *Server) handleFormationsRecent(w http.ResponseWriter, r *http.Request) {
	count := parseIntQuery(r, "count", 10)
	formations := s.deps.Store.Latest(count)
	if r.URL.Query().Get("include_tracks") != "true" {
		formations = stripTracks(formations)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"formations":      formations,
		"count":           len(formations),
		"formation_types": formationTypeLabels(formations),
	})
}

func (s *Server) handleFormationsRange(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRangeQuery(r)
	if err != nil {
		s.writeError(w, errs.InvalidInput("%v", err))
		return
	}
	limit := parseIntQuery(r, "limit", 0)
	formations := s.deps.Store.ByTimeRange(start, end, limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"formations":      formations,
		"count":           len(formations),
		"formation_types": formationTypeLabels(formations),
	})
}

func (s *Server) handleFormationsByDate(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if len(date) != 8 {
		s.writeError(w, errs.InvalidInput("date must be YYYYMMDD"))
		return
	}
	limit := parseIntQuery(r, "limit", 0)
	formations := s.deps.Store.ByDate(date, limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"formations":      formations,
		"count":           len(formations),
		"formation_types": formationTypeLabels(formations),
	})
}

func (s *Server) handleFormationsStatistics(w http.ResponseWriter, r *http.Request) {
	days := parseIntQuery(r, "days", 7)
	s.writeJSON(w, http.StatusOK, s.deps.Store.Statistics(days))
}

func (s *Server) handleFormationByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f, ok := s.deps.Store.Get(id)
	if !ok {
		s.writeError(w, errs.InvalidInput("formation %q not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"formation":  f,
		"type_label": formationTypeLabel(f.Type),
	})
}

func (s *Server) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Scheduler.RunDailyNow())
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_targets":    len(s.deps.Cache.AllActive()),
		"scheduler_running": s.deps.Scheduler.IsRunning(),
		"stream":            s.deps.Stream.Status(),
		"bus_clients":       s.deps.Bus.ClientCount(),
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleAdminClear(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.Clear()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

func (s *Server) handleCacheHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"active_targets": len(s.deps.Cache.AllActive()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleWSStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"connected_clients": s.deps.Bus.ClientCount()})
}

func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	promhttp.HandlerFor(s.deps.Metrics.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// handleCacheWebSocket upgrades to the subscription-protocol client, per
// SPEC_FULL.md §4.7/§6.
func (s *Server) handleCacheWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.For("ws").WithField("error", err.Error()).Error("[WS] upgrade failed")
		return
	}
	client := s.deps.Bus.Connect(clientID, conn)
	go client.WritePump()
	client.ReadPump()
}

// handleStreamResultsWebSocket is a results-only subscriber: it receives
// every broadcast FORMATION_DETECTED message without needing to SUBSCRIBE to
// any particular target.
func (s *Server) handleStreamResultsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.For("ws").WithField("error", err.Error()).Error("[WS] results upgrade failed")
		return
	}
	clientID := fmt.Sprintf("results-%d", time.Now().UnixNano())
	client := s.deps.Bus.Connect(clientID, conn)
	go client.WritePump()
	client.ReadPump()
}

// pushFrame is the raw observation batch accepted by the push-ingest socket.
type pushFrame struct {
	Targets []targetRecordDTO `json:"targets"`
}

// handleStreamPushWebSocket is a raw ingest pipe: each inbound frame is a
// batch of target observations fed directly into the stream service,
// bypassing the subscribe/unsubscribe protocol entirely since a push client
// has nothing to subscribe to.
func (s *Server) handleStreamPushWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.For("ws").WithField("error", err.Error()).Error("[WS] push upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame pushFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.For("ws").WithField("error", err.Error()).Warn("[WS] malformed push frame")
			continue
		}
		observations, err := toObservations(frame.Targets)
		if err != nil {
			logging.For("ws").WithField("error", err.Error()).Warn("[WS] invalid push frame")
			continue
		}
		s.deps.Stream.Push(r.Context(), observations)
	}
}
