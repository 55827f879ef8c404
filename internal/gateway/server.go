package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/agents"
	"github.com/arborhq/arbor/internal/common/config"
	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/connectors"
	"github.com/arborhq/arbor/internal/governance"
	"github.com/arborhq/arbor/internal/jobs"
	"github.com/arborhq/arbor/internal/packaging"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/tools"
	"github.com/arborhq/arbor/pkg/ws"
)

// maxImportSize caps an uploaded package archive.
const maxImportSize = 64 << 20 // 64MB

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin once a deployment origin list exists
		return true
	},
}

// Server is the HTTP and WebSocket surface of the platform.
type Server struct {
	engine     *agents.Engine
	jobs       *jobs.Service
	registry   *agents.Registry
	tools      *tools.Registry
	connectors *connectors.Registry
	sessions   *session.Store
	authz      governance.AuthZ
	hub        *Hub

	exporter  *packaging.Exporter
	importer  *packaging.Importer
	agentsDir string

	http   *http.Server
	logger *logger.Logger
}

// NewServer wires the routes and the WebSocket hub.
func NewServer(cfg config.ServerConfig, engine *agents.Engine, jobService *jobs.Service, registry *agents.Registry, toolReg *tools.Registry, connReg *connectors.Registry, sessions *session.Store, authz governance.AuthZ, hub *Hub, log *logger.Logger) *Server {
	s := &Server{
		engine:     engine,
		jobs:       jobService,
		registry:   registry,
		tools:      toolReg,
		connectors: connReg,
		sessions:   sessions,
		authz:      authz,
		hub:        hub,
		logger:     log.WithFields(zap.String("component", "gateway")),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)

	v1 := router.Group("/v1")
	{
		v1.GET("/agents", s.handleListAgents)
		v1.GET("/tools", s.handleListTools)
		v1.GET("/connectors", s.handleListConnectors)

		v1.POST("/agents/:slug/turns", s.handleTurn)
		v1.POST("/agents/:slug/jobs", s.handleEnqueue)
		v1.GET("/agents/:slug/sessions", s.handleListSessions)

		v1.GET("/jobs/:id", s.handleGetJob)
		v1.POST("/jobs/:id/cancel", s.handleCancelJob)

		v1.GET("/sessions/:id/messages", s.handleSessionMessages)
		v1.DELETE("/sessions/:id", s.handleCloseSession)

		v1.POST("/agents/:slug/export", s.handleExport)
		v1.POST("/packages/import", s.handleImport)
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// userID extracts the caller identity. Authentication itself is an upstream
// concern; the gateway trusts the header and consults the AuthZ collaborator.
func userID(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	if id := c.Query("user_id"); id != "" {
		return id
	}
	return "anonymous"
}

func (s *Server) authorize(c *gin.Context, resource, action string) bool {
	allowed, err := s.authz.Check(c.Request.Context(), userID(c), resource, action)
	if err != nil {
		s.logger.Warn("AuthZ check failed", zap.Error(err))
		return true // fail-open, same policy as the governance collaborators
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
	return allowed
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "arbor",
	})
}

// turnRequest is the body of POST /v1/agents/:slug/turns and .../jobs.
type turnRequest struct {
	SessionID      string                `json:"session_id,omitempty"`
	WorkspaceID    string                `json:"workspace_id,omitempty"`
	Lang           string                `json:"lang,omitempty"`
	Message        *platform.UserMessage `json:"message"`
	Streaming      bool                  `json:"streaming,omitempty"`
	TimeoutSeconds int                   `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleTurn(c *gin.Context) {
	slug := c.Param("slug")
	if !s.authorize(c, "agent:"+slug, "execute") {
		return
	}

	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Message == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	engineReq := &agents.Request{
		AgentSlug:   slug,
		UserID:      userID(c),
		SessionID:   req.SessionID,
		WorkspaceID: req.WorkspaceID,
		Lang:        req.Lang,
		Message:     req.Message,
	}
	result := s.engine.Execute(c.Request.Context(), engineReq)

	c.JSON(statusFor(result), gin.H{
		"session_id": engineReq.SessionID,
		"result":     result,
	})
}

func (s *Server) handleEnqueue(c *gin.Context) {
	slug := c.Param("slug")
	if !s.authorize(c, "agent:"+slug, "execute") {
		return
	}

	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Message == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if !s.registry.Has(slug) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent: " + slug})
		return
	}

	job, err := s.jobs.Enqueue(c.Request.Context(), &jobs.Task{
		AgentSlug:      slug,
		UserID:         userID(c),
		SessionID:      req.SessionID,
		WorkspaceID:    req.WorkspaceID,
		Lang:           req.Lang,
		Streaming:      req.Streaming,
		Message:        req.Message,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		s.logger.Error("Enqueue failed", zap.String("agent_slug", slug), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job lookup failed"})
		return
	}
	if job.UserID != userID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	id := c.Param("id")
	job, err := s.jobs.Get(c.Request.Context(), id)
	if err != nil || job.UserID != userID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err := s.jobs.Cancel(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": "cancel_requested"})
}

func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.registry.List()})
}

func (s *Server) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.tools.List()})
}

func (s *Server) handleListConnectors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connectors": s.connectors.List()})
}

func (s *Server) handleListSessions(c *gin.Context) {
	limit, offset := 50, 0
	sessions, err := s.sessions.ListSessions(c.Request.Context(), c.Param("slug"), userID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleSessionMessages(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if sess.UserID != userID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	messages, err := s.sessions.GetMessages(c.Request.Context(), id, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) handleCloseSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.sessions.GetSession(c.Request.Context(), id)
	if err != nil || sess.UserID != userID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := s.engine.CloseSession(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session close failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "is_active": false})
}

// EnablePackaging wires the package export/import routes. Without it the
// routes answer 503.
func (s *Server) EnablePackaging(exporter *packaging.Exporter, importer *packaging.Importer, agentsDir string) {
	s.exporter = exporter
	s.importer = importer
	s.agentsDir = agentsDir
}

func (s *Server) handleExport(c *gin.Context) {
	if s.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "packaging not configured"})
		return
	}
	slug := c.Param("slug")
	if !s.authorize(c, "agent:"+slug, "export") {
		return
	}
	if !platform.ValidSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slug"})
		return
	}

	result, err := s.exporter.Export(c.Request.Context(), filepath.Join(s.agentsDir, slug))
	if err != nil {
		if errors.Is(err, packaging.ErrValidationFailed) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "result": result})
			return
		}
		s.logger.Error("Export failed", zap.String("agent_slug", slug), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleImport(c *gin.Context) {
	if s.importer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "packaging not configured"})
		return
	}
	if !s.authorize(c, "packages", "import") {
		return
	}

	archive, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read archive: " + err.Error()})
		return
	}
	overwrite := c.Query("overwrite") == "true"

	result, err := s.importer.Import(archive, overwrite)
	if err != nil {
		switch {
		case errors.Is(err, packaging.ErrSlugExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, packaging.ErrUnsafeArchive), errors.Is(err, packaging.ErrManifestMissing):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.logger.Error("Import failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "import failed"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if !s.authorize(c, "gateway", "connect") {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), userID(c), conn, s.hub, s.logger)
	s.hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

// statusFor maps a pipeline result to an HTTP status. The result body always
// carries the full error code; the status is a coarse hint.
func statusFor(result *platform.Result) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.ErrorCode {
	case platform.ErrValidation:
		return http.StatusBadRequest
	case platform.ErrQuotaExceeded:
		return http.StatusTooManyRequests
	case platform.ErrAgentNotFound, platform.ErrSessionNotFound:
		return http.StatusNotFound
	case platform.ErrModerationBlockedInput, platform.ErrModerationBlockedOutput:
		return http.StatusUnprocessableEntity
	case platform.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RegisterHealthHandler registers the WebSocket health action.
func RegisterHealthHandler(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionHealthCheck, func(_ context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, map[string]any{
			"status":  "ok",
			"service": "arbor",
		})
	})
}
