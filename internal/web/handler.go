package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/internal/replay"
	"github.com/funnyzak/reportsync/internal/results"
	"github.com/funnyzak/reportsync/internal/storage"
	"github.com/funnyzak/reportsync/pkg/request"
)

const (
	sessionCookieName = "reportsync_session"
	defaultListLimit  = 100
	maxListLimit      = 500
	maxMappingBytes   = 4 << 20
	contextSessionKey = contextKey("web_session")
	contentTypeJSON   = "application/json"
)

type contextKey string

// Orchestrator is the replay surface the API drives.
type Orchestrator interface {
	Add(*request.CapturedRequest) bool
	Remove(id string) bool
	Clear()
	Selection() []*request.CapturedRequest
	Running() bool
	Run(ctx context.Context, cmd request.BatchCommand) (string, <-chan events.Event, error)
}

// EventSource hands out event subscriptions.
type EventSource interface {
	Subscribe() (uint64, <-chan events.Event)
	Unsubscribe(id uint64)
}

// Deps are the collaborators behind the API.
type Deps struct {
	Store        storage.Store
	Orchestrator Orchestrator
	Events       EventSource
	LinkTemplate string
}

// Service bundles the control API and the live event stream.
type Service struct {
	cfg        *config.WebConfig
	logger     logger.Logger
	deps       Deps
	auth       *AuthManager
	hub        *WebsocketHub
	formats    []string
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// NewService builds a Service from configuration.
func NewService(cfg *config.WebConfig, log logger.Logger, deps Deps) *Service {
	log = log.With("web")
	runCtx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		cfg:        cfg,
		logger:     log,
		deps:       deps,
		auth:       NewAuthManager(cfg.Auth),
		hub:        NewWebsocketHub(log, deps.LinkTemplate),
		formats:    AllowedFormats(cfg.Export.Formats),
		runCtx:     runCtx,
		cancelRuns: cancel,
	}

	go svc.auth.RunSweeper(runCtx)

	return svc
}

// RegisterRoutes wires HTTP routes into the provided router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	if s == nil || !s.cfg.Enable {
		return
	}

	api := router.PathPrefix(normalizePath(s.cfg.AdminPath)).Subrouter()
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	api.Handle("/auth/me", s.authMiddleware(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)

	api.Handle("/captures", s.authMiddleware(http.HandlerFunc(s.handleCaptures))).Methods(http.MethodGet)

	api.Handle("/selection", s.authMiddleware(http.HandlerFunc(s.handleSelection))).Methods(http.MethodGet)
	api.Handle("/selection", s.require(PermSelect, s.handleClearSelection)).Methods(http.MethodDelete)
	api.Handle("/selection/{id}", s.require(PermSelect, s.handleSelect)).Methods(http.MethodPost)
	api.Handle("/selection/{id}", s.require(PermSelect, s.handleDeselect)).Methods(http.MethodDelete)

	api.Handle("/runs", s.require(PermReplay, s.handleRun)).Methods(http.MethodPost)
	api.Handle("/results", s.authMiddleware(http.HandlerFunc(s.handleResults))).Methods(http.MethodGet)
	api.Handle("/results", s.require(PermClear, s.handleClearResults)).Methods(http.MethodDelete)
	api.Handle("/results/export", s.authMiddleware(http.HandlerFunc(s.handleExport))).Methods(http.MethodGet)
	api.Handle("/mappings/preview", s.authMiddleware(http.HandlerFunc(s.handleMappingPreview))).Methods(http.MethodPost)

	api.Handle("/ws", s.authMiddleware(http.HandlerFunc(s.handleWebsocket))).Methods(http.MethodGet)
}

// Run streams pipeline events to websocket clients until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s == nil || s.deps.Events == nil {
		<-ctx.Done()
		return nil
	}
	id, ch := s.deps.Events.Subscribe()
	defer s.deps.Events.Unsubscribe(id)
	s.hub.Pump(ctx, ch)
	return nil
}

// Close releases resources and cancels runs started through the API.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.cancelRuns()
	s.hub.Close()
}

func (s *Service) handleCaptures(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseIntDefault(query.Get("limit"), defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset := parseIntDefault(query.Get("offset"), 0)

	items, total, err := s.deps.Store.ListCaptures(storage.ListOptions{
		Search: query.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("Failed to list captures", "error", err)
		http.Error(w, "Failed to list captures", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*request.CapturedRequest{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":   items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

type selectionItem struct {
	ID                 string               `json:"id"`
	DisplayName        string               `json:"display_name"`
	ResourceKind       request.ResourceKind `json:"resource_kind"`
	OriginalResourceID string               `json:"original_resource_id,omitempty"`
	SourcePropertyID   string               `json:"source_property_id,omitempty"`
	Timestamp          time.Time            `json:"timestamp"`
}

func (s *Service) handleSelection(w http.ResponseWriter, r *http.Request) {
	selection := s.deps.Orchestrator.Selection()
	items := make([]selectionItem, 0, len(selection))
	for _, c := range selection {
		items = append(items, selectionItem{
			ID:                 c.ID,
			DisplayName:        c.DisplayName,
			ResourceKind:       c.ResourceKind,
			OriginalResourceID: c.OriginalResourceID,
			SourcePropertyID:   c.SourcePropertyID,
			Timestamp:          c.Timestamp,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":    items,
		"total":   len(items),
		"running": s.deps.Orchestrator.Running(),
	})
}

func (s *Service) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	capture, err := s.deps.Store.GetCapture(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Capture not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to load capture", "id", id, "error", err)
		http.Error(w, "Failed to load capture", http.StatusInternalServerError)
		return
	}
	added := s.deps.Orchestrator.Add(capture)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "added": added})
}

func (s *Service) handleDeselect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.deps.Orchestrator.Remove(id) {
		http.Error(w, "Capture not selected", http.StatusNotFound)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "removed": true})
}

func (s *Service) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	s.deps.Orchestrator.Clear()
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "selection cleared"})
}

type runRequest struct {
	Action             string   `json:"action"`
	Destinations       []string `json:"destinations"`
	TemplatePropertyID string   `json:"template_property_id"`
	MappingsCSV        string   `json:"mappings_csv"`
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMappingBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	action, err := request.ParseAction(req.Action)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd := request.BatchCommand{
		Action:             action,
		Destinations:       req.Destinations,
		TemplatePropertyID: req.TemplatePropertyID,
	}
	if strings.TrimSpace(req.MappingsCSV) != "" {
		mappings, err := results.ReadCSV(strings.NewReader(req.MappingsCSV))
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid mappings: %v", err), http.StatusBadRequest)
			return
		}
		cmd.Mappings = mappings
	}

	runID, ch, err := s.deps.Orchestrator.Run(s.runCtx, cmd)
	switch {
	case errors.Is(err, replay.ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// events also reach subscribers through the bus
	go func() {
		for range ch {
		}
	}()

	s.logger.Info("Replay run started", "run_id", runID, "action", string(action))
	s.respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

type resultItem struct {
	request.ReplayResult
	Link string `json:"link,omitempty"`
}

func (s *Service) handleResults(w http.ResponseWriter, r *http.Request) {
	list, err := s.listResults(r)
	if err != nil {
		s.logger.Error("Failed to list results", "error", err)
		http.Error(w, "Failed to list results", http.StatusInternalServerError)
		return
	}
	items := make([]resultItem, 0, len(list))
	for _, res := range list {
		items = append(items, resultItem{
			ReplayResult: res,
			Link:         results.LinkWithTemplate(s.deps.LinkTemplate, res),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":    items,
		"summary": results.Summarize(list),
	})
}

func (s *Service) listResults(r *http.Request) ([]request.ReplayResult, error) {
	query := r.URL.Query()
	failedOnly, _ := strconv.ParseBool(query.Get("failed"))
	return s.deps.Store.ListResults(storage.ResultFilter{
		RunID:      query.Get("run_id"),
		FailedOnly: failedOnly,
		Limit:      parseIntDefault(query.Get("limit"), 0),
	})
}

func (s *Service) handleClearResults(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.ClearResults(); err != nil {
		s.logger.Error("Failed to clear results", "error", err)
		http.Error(w, "Failed to clear results", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "results cleared"})
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Export.Enable {
		http.Error(w, "Export disabled", http.StatusForbidden)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if !containsFormat(s.formats, format) {
		http.Error(w, fmt.Sprintf("Unsupported export format: %s", format), http.StatusBadRequest)
		return
	}

	list, err := s.listResults(r)
	if err != nil {
		s.logger.Error("Failed to list results", "error", err)
		http.Error(w, "Failed to list results", http.StatusInternalServerError)
		return
	}
	data, contentType, ext, err := ExportResults(list, format)
	if err != nil {
		http.Error(w, "Failed to export data", http.StatusInternalServerError)
		s.logger.Error("Export failed", "error", err)
		return
	}

	filename := fmt.Sprintf("reportsync_results_%d.%s", time.Now().Unix(), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Service) handleMappingPreview(w http.ResponseWriter, r *http.Request) {
	mappings, err := results.ReadCSV(io.LimitReader(r.Body, maxMappingBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid mappings: %v", err), http.StatusBadRequest)
		return
	}
	usable := 0
	for _, m := range mappings {
		if m.OriginalResourceID != "" && m.NewResourceID != "" && m.DestinationPropertyID != "" {
			usable++
		}
	}
	if mappings == nil {
		mappings = []request.ReplayResult{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":   mappings,
		"total":  len(mappings),
		"usable": usable,
	})
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	session, err := s.auth.Login(creds.Username, creds.Password)
	if errors.Is(err, ErrInvalidCredential) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.logger.Error("Login failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if s.auth.Enabled() {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    session.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Expires:  session.ExpiresAt,
			Secure:   r.TLS != nil,
		})
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"username": session.Username,
		"role":     session.Role,
		"expires":  session.ExpiresAt,
	})
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.auth.Logout(cookie.Value)
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
			SameSite: http.SameSiteLaxMode,
			Secure:   r.TLS != nil,
		})
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Service) handleMe(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFromContext(r.Context())
	if session == nil {
		session = guestSession()
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"username": session.Username,
		"role":     session.Role,
		"auth":     s.auth.Enabled(),
	})
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.hub.Upgrade(w, r); err != nil {
		s.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}
}

func (s *Service) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextSessionKey, guestSession())))
			return
		}

		session, err := s.auth.Validate(s.extractToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), contextSessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require guards a route with a permission of the caller's role.
func (s *Service) require(p Permission, next http.HandlerFunc) http.Handler {
	return s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session := s.sessionFromContext(r.Context()); !session.Can(p) {
			http.Error(w, "Forbidden: insufficient role", http.StatusForbidden)
			return
		}
		next(w, r)
	}))
}

func (s *Service) extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}

	return ""
}

func (s *Service) sessionFromContext(ctx context.Context) *Session {
	if v := ctx.Value(contextSessionKey); v != nil {
		if session, ok := v.(*Session); ok {
			return session
		}
	}
	return nil
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}

	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return def
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func containsFormat(formats []string, target string) bool {
	for _, f := range formats {
		if f == target {
			return true
		}
	}
	return false
}

var (
	_ Orchestrator = (*replay.Orchestrator)(nil)
	_ EventSource  = (*events.Bus[events.Event])(nil)
)
