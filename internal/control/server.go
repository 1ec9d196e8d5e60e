package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/internal/metrics"
)

// DefaultListen is loopback-only.
const DefaultListen = "127.0.0.1:7787"

// Controller is the daemon surface the API drives.
type Controller interface {
	StartMonitoring()
	StopMonitoring()
	UpdateMonitoredApps(appIDs []string)
	UpdateAppConfig(appID string, patch domain.AppConfigPatch)
	SetCooldownEnd(appID string, end time.Time)
	ResolvePrompt(resp domain.PromptResponse)
	ActiveSession(appID string) *domain.Session
	Status(ctx context.Context) (domain.Status, error)
}

// UsageRecorder accepts usage events from external foreground agents.
type UsageRecorder interface {
	Record(ev domain.UsageEvent)
}

// ServerConfig defines runtime options for the control server.
type ServerConfig struct {
	Listen string
	Token  string // Empty disables auth
}

// Server is the local control API.
type Server struct {
	cfg        ServerConfig
	ctrl       Controller
	usage      UsageRecorder
	hub        *Hub
	clock      domain.Clock
	logger     *zap.Logger
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

// NewServer creates the control server and its routes.
func NewServer(cfg ServerConfig, ctrl Controller, usage UsageRecorder, hub *Hub, clock domain.Clock, logger *zap.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		usage:  usage,
		hub:    hub,
		clock:  clock,
		logger: logger,
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/monitoring/start", s.handleStart)
	mux.HandleFunc("POST /v1/monitoring/stop", s.handleStop)
	mux.HandleFunc("PUT /v1/apps", s.handleSetApps)
	mux.HandleFunc("PATCH /v1/apps/{id}/config", s.handlePatchConfig)
	mux.HandleFunc("PUT /v1/apps/{id}/cooldown", s.handleSetCooldown)
	mux.HandleFunc("GET /v1/apps/{id}/session", s.handleSession)
	mux.HandleFunc("POST /v1/usage-events", s.handleUsageEvent)
	mux.HandleFunc("POST /v1/prompts/{id}/response", s.handlePromptResponse)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/ws", s.handleWS)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.withRecover(s.withAuth(mux)),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("control listen on %s: %w", s.cfg.Listen, err)
	}
	s.logger.Info("control server listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the server, force-closing long-lived websocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return s.httpServer.Close()
	}
	return err
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.ctrl.StartMonitoring()
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.StopMonitoring()
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": false})
}

type appsRequest struct {
	Apps []string `json:"apps"`
}

func (s *Server) handleSetApps(w http.ResponseWriter, r *http.Request) {
	var req appsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Apps == nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "apps is required")
		return
	}
	s.ctrl.UpdateMonitoredApps(req.Apps)
	writeJSON(w, http.StatusAccepted, req)
}

type configRequest struct {
	Behavior             *string `json:"behavior,omitempty"`
	CooldownMinutes      *int    `json:"cooldownMinutes,omitempty"`
	CoolingPeriodMinutes *int    `json:"coolingPeriodMinutes,omitempty"`
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("id")
	var req configRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var patch domain.AppConfigPatch
	if req.Behavior != nil {
		b := domain.Behavior(strings.ToLower(strings.TrimSpace(*req.Behavior)))
		if !b.Valid() {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", `behavior must be "ask" or "stop"`)
			return
		}
		patch.Behavior = &b
	}
	patch.CooldownMinutes = req.CooldownMinutes
	if patch.CooldownMinutes == nil {
		patch.CooldownMinutes = req.CoolingPeriodMinutes
	}
	if patch.Behavior == nil && patch.CooldownMinutes == nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "nothing to update")
		return
	}

	s.ctrl.UpdateAppConfig(appID, patch)
	writeJSON(w, http.StatusAccepted, patch)
}

type cooldownRequest struct {
	EndTime *int64 `json:"endTime"`
}

func (s *Server) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	var req cooldownRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EndTime == nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "endTime is required")
		return
	}
	s.ctrl.SetCooldownEnd(r.PathValue("id"), domain.FromMillis(*req.EndTime))
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	// nil encodes as null
	writeJSON(w, http.StatusOK, s.ctrl.ActiveSession(r.PathValue("id")))
}

type usageEventRequest struct {
	AppID string                `json:"appId"`
	Type  domain.UsageEventType `json:"type"`
	Time  int64                 `json:"time,omitempty"` // epoch ms, defaults to now
}

func (s *Server) handleUsageEvent(w http.ResponseWriter, r *http.Request) {
	var req usageEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AppID == "" || req.Type == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "appId and type are required")
		return
	}
	at := s.clock.Now()
	if req.Time > 0 {
		at = domain.FromMillis(req.Time)
	}
	s.usage.Record(domain.UsageEvent{AppID: req.AppID, Type: req.Type, Time: at})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePromptResponse(w http.ResponseWriter, r *http.Request) {
	var resp domain.PromptResponse
	if !decodeBody(w, r, &resp) {
		return
	}
	resp.PromptID = r.PathValue("id")
	s.ctrl.ResolvePrompt(resp)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Status(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	stop := context.AfterFunc(r.Context(), func() { conn.Close() })
	defer stop()
	s.hub.Attach(conn, s.ctrl.ResolvePrompt)
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && !s.authorizeRequest(r) {
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.Any("recover", rec),
					zap.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" && secureEqual(t, s.cfg.Token) {
		return true
	}
	if t := bearerToken(r.Header.Get("Authorization")); t != "" && secureEqual(t, s.cfg.Token) {
		return true
	}
	return false
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return strings.EqualFold(host, r.Host)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{Error: apiError{Code: code, Message: message}})
}
