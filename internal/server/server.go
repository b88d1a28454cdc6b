package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/voyagen/collectarr/api"
	"github.com/voyagen/collectarr/internal/cache"
	"github.com/voyagen/collectarr/internal/config"
	"github.com/voyagen/collectarr/internal/dispatcharr"
	"github.com/voyagen/collectarr/internal/dvr"
	"github.com/voyagen/collectarr/internal/models"
	"github.com/voyagen/collectarr/internal/scheduler"
	"github.com/voyagen/collectarr/internal/service"
	"github.com/voyagen/collectarr/internal/store"
)

// Server holds dependencies for the HTTP API.
type Server struct {
	store store.Store
	cfg   *config.Config
	sync  *service.Sync
	disp  *dispatcharr.Client  // nil when DISPATCHARR_URL is not set
	sched *scheduler.Scheduler // nil in tests
	rds   *cache.Redis         // nil when REDIS_URL is not set
	mux   *http.ServeMux
}

// New creates a Server and registers routes.
// disp, sched and rds may each be nil when the subsystem is not configured.
func New(s store.Store, cfg *config.Config, syncSvc *service.Sync, disp *dispatcharr.Client, sched *scheduler.Scheduler, rds *cache.Redis) *Server {
	srv := &Server{store: s, cfg: cfg, sync: syncSvc, disp: disp, sched: sched, rds: rds, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	// Rules
	s.mux.HandleFunc("GET /api/rules", s.handleListRules)
	s.mux.HandleFunc("POST /api/rules", s.handleCreateRule)
	s.mux.HandleFunc("GET /api/rules/{id}", s.handleGetRule)
	s.mux.HandleFunc("PUT /api/rules/{id}", s.handleUpdateRule)
	s.mux.HandleFunc("DELETE /api/rules/{id}", s.handleDeleteRule)

	// DVR data
	s.mux.HandleFunc("GET /api/channels", s.handleListChannels)
	s.mux.HandleFunc("GET /api/sources", s.handleListSources)
	s.mux.HandleFunc("GET /api/collections", s.handleListCollections)
	s.mux.HandleFunc("GET /api/collections/{slug}", s.handleGetCollection)
	s.mux.HandleFunc("GET /api/test-connection", s.handleTestConnection)

	// Matching
	s.mux.HandleFunc("POST /api/preview", s.handlePreview)

	// Sync
	s.mux.HandleFunc("POST /api/sync", s.handleSyncAll)
	s.mux.HandleFunc("POST /api/sync/rules/{id}", s.handleSyncRule)
	s.mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)

	// Dispatcharr
	s.mux.HandleFunc("GET /api/dispatcharr/groups", s.handleDispatcharrGroups)
	s.mux.HandleFunc("POST /api/dispatcharr/test", s.handleDispatcharrTest)

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.cfg.ServerPort
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      withCORS(withLogging(s)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	enabled := 0
	for _, rule := range rules {
		if rule.Enabled {
			enabled++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "ok",
		"dvr_url":                s.cfg.DVRURL,
		"dispatcharr_configured": s.disp != nil,
		"redis_connected":        s.rds != nil,
		"rules":                  len(rules),
		"enabled_rules":          enabled,
		"sync_interval_minutes":  int(s.cfg.SyncInterval.Minutes()),
		"sync":                   s.sync.Status(),
	})
}

// --- rule handlers ---

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if rules == nil {
		rules = []models.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if err := validateRule(&rule); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	created, err := s.store.CreateRule(r.Context(), &rule)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	s.reloadScheduler(r.Context())
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("rule %s not found", id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if err := validateRule(&rule); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	updated, err := s.store.UpdateRule(r.Context(), id, &rule)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("rule %s not found", id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	s.reloadScheduler(r.Context())
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("rule %s not found", id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	s.reloadScheduler(r.Context())
	writeNoContent(w)
}

// validateRule rejects rules the engine cannot plan. It also fills the
// match type default so stored rules are always explicit.
func validateRule(rule *models.Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !rule.AutoSync && len(rule.Patterns) == 0 {
		return fmt.Errorf("at least one pattern is required")
	}
	if rule.AutoSync && rule.AutoSyncGroupID == 0 {
		return fmt.Errorf("auto_sync requires auto_sync_group_id")
	}
	if len(rule.MatchTypes) == 0 {
		rule.MatchTypes = []string{models.MatchTypeName}
	}
	for _, mt := range rule.MatchTypes {
		switch mt {
		case models.MatchTypeName, models.MatchTypeNumber, models.MatchTypeEPG:
		default:
			return fmt.Errorf("unknown match type %q", mt)
		}
	}
	switch rule.SortOrder {
	case "", models.SortNone, models.SortNameAsc, models.SortNameDesc,
		models.SortNumberAsc, models.SortNumberDesc, models.SortEventsLast:
	default:
		if !strings.HasPrefix(rule.SortOrder, models.SortRegexPrefix) {
			return fmt.Errorf("unknown sort order %q", rule.SortOrder)
		}
	}
	return nil
}

// reloadScheduler rebuilds the per-rule jobs after a rule mutation.
func (s *Server) reloadScheduler(ctx context.Context) {
	if s.sched == nil {
		return
	}
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		log.Printf("schedule: reload rules: %v", err)
		return
	}
	s.sched.Reload(rules)
}

// --- DVR data handlers ---

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.sync.Inventory(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"total":    len(channels),
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sync.Sources(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.sync.Collections(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	if collections == nil {
		collections = []models.Collection{}
	}
	writeJSON(w, http.StatusOK, collections)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	col, err := s.sync.Collection(r.Context(), slug)
	if err != nil {
		if errors.Is(err, dvr.ErrCollectionNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("collection %s not found", slug))
			return
		}
		writeErr(w, http.StatusBadGateway, err)
		return
	}

	// Resolve item IDs against the inventory so the UI can show names and
	// numbers; IDs the DVR no longer knows stay in items but get no channel.
	channels, err := s.sync.Inventory(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	byID := make(map[string]models.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}
	resolved := make([]models.Channel, 0, len(col.Items))
	for _, id := range col.Items {
		if ch, ok := byID[id]; ok {
			resolved = append(resolved, ch)
		}
	}

	// syncing reports whether a sync pass currently holds this
	// collection's write lock. Always false without Redis.
	syncing := s.rds != nil && cache.IsLocked(r.Context(), s.rds, cache.CollectionLockKey(slug))

	writeJSON(w, http.StatusOK, map[string]any{
		"slug":     col.Slug,
		"name":     col.Name,
		"items":    col.Items,
		"channels": resolved,
		"syncing":  syncing,
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sync.Sources(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"sources":   len(sources),
	})
}

// --- matching handlers ---

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if len(rule.MatchTypes) == 0 {
		rule.MatchTypes = []string{models.MatchTypeName}
	}

	preview, err := s.sync.Preview(r.Context(), &rule)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// --- sync handlers ---

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	s.triggerSync(w, r, "")
}

func (s *Server) handleSyncRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetRule(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("rule %s not found", id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.triggerSync(w, r, id)
}

// triggerSync accepts a sync request. With Redis the job goes on the queue
// for the worker; without it the pass runs in the background with a
// detached context so request shutdown does not cancel it.
func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request, ruleID string) {
	resp := map[string]any{}
	if ruleID != "" {
		resp["rule_id"] = ruleID
	}

	if s.rds != nil {
		job := cache.SyncJob{RuleID: ruleID, RequestedAt: time.Now().UTC()}
		if err := cache.Enqueue(r.Context(), s.rds, cache.DefaultQueue, job); err != nil {
			writeErr(w, http.StatusInternalServerError, fmt.Errorf("enqueue sync: %w", err))
			return
		}
		resp["status"] = "queued"
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	go func() {
		var err error
		if ruleID != "" {
			_, err = s.sync.SyncRule(context.Background(), ruleID)
		} else {
			_, err = s.sync.SyncAll(context.Background())
		}
		if err != nil {
			log.Printf("sync: background pass: %v", err)
		}
	}()
	resp["status"] = "started"
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status := s.sync.Status()
	if status.LastResult == nil {
		// Fresh process: fall back to the persisted run history.
		run, err := s.store.LatestSyncRun(r.Context())
		if err == nil {
			status.LastResult = &run.Result
		} else if !errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// --- dispatcharr handlers ---

func (s *Server) handleDispatcharrGroups(w http.ResponseWriter, r *http.Request) {
	if s.disp == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("dispatcharr is not configured (DISPATCHARR_URL not set)"))
		return
	}
	groups, err := s.disp.ListEnabledGroups(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleDispatcharrTest(w http.ResponseWriter, r *http.Request) {
	if s.disp == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("dispatcharr is not configured (DISPATCHARR_URL not set)"))
		return
	}
	writeJSON(w, http.StatusOK, s.disp.TestConnection(r.Context()))
}

// --- middleware ---

// withCORS adds CORS headers to every response and handles preflight OPTIONS requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withLogging wraps a handler and logs each request with method, path, status, and duration.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		statusCode := sw.status

		// Color the status code for terminal readability.
		statusColor := colorForStatus(statusCode)
		methodColor := colorForMethod(r.Method)

		log.Printf("%s %-7s %s\x1b[0m  %s %3d %s\x1b[0m  %s",
			methodColor, r.Method, "\x1b[0m",
			statusColor, statusCode, "\x1b[0m",
			formatDuration(duration),
		)
		if r.URL.RawQuery != "" {
			log.Printf("         %s?%s", r.URL.Path, r.URL.RawQuery)
		} else {
			log.Printf("         %s", r.URL.Path)
		}
	})
}

func colorForStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "\x1b[32m" // green
	case code >= 300 && code < 400:
		return "\x1b[36m" // cyan
	case code >= 400 && code < 500:
		return "\x1b[33m" // yellow
	default:
		return "\x1b[31m" // red
	}
}

func colorForMethod(method string) string {
	switch method {
	case http.MethodGet:
		return "\x1b[36m" // cyan
	case http.MethodPost:
		return "\x1b[32m" // green
	case http.MethodPatch, http.MethodPut:
		return "\x1b[33m" // yellow
	case http.MethodDelete:
		return "\x1b[31m" // red
	default:
		return "\x1b[37m" // white
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// --- helpers ---

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: %v", err)
	}
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		log.Printf("ERROR %d: %v", status, err)
	}
	writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}

// --- docs handlers ---

func handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.OpenAPISpec)
}

func handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, swaggerUIHTML)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Collectarr API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>html{box-sizing:border-box;overflow-y:scroll}*,*:before,*:after{box-sizing:inherit}body{margin:0;background:#fafafa}</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/docs/openapi.yaml",
      dom_id: "#swagger-ui",
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: "BaseLayout",
    });
  </script>
</body>
</html>`
