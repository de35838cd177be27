package runservice

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"snipbridge/internal/agentrun"
	"snipbridge/internal/httpx"
	"snipbridge/internal/runstate"
)

const maxRequestBytes = 1 << 20

// ServerConfig configures the HTTP front of the run service.
type ServerConfig struct {
	// APIKey, when set, must be sent in the api-key header.
	APIKey string
	// AllowedOrigins enables CORS for the listed origins. "*" allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server serves the Agent-Run API.
type Server struct {
	store    *Store
	engine   *Engine
	apiKey   string
	logger   *slog.Logger
	validate *validator.Validate
	router   *gin.Engine
}

// NewServer builds the router for store and engine.
func NewServer(store *Store, engine *Engine, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:    store,
		engine:   engine,
		apiKey:   cfg.APIKey,
		logger:   logger,
		validate: newValidator(),
		router:   gin.New(),
	}

	s.router.Use(gin.CustomRecovery(s.recover))
	s.router.Use(httpx.RequestLogger(logger, "thread_id", "run_id", "agent_id"))
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		if slices.Contains(cfg.AllowedOrigins, "*") {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = cfg.AllowedOrigins
		}
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, agentrun.APIKeyHeader)
		s.router.Use(cors.New(corsConfig))
	}

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/")
	api.Use(s.requireAPIKey)
	api.POST("/assistants", s.createAgent)
	api.GET("/assistants/:agent_id", s.getAgent)
	api.DELETE("/assistants/:agent_id", s.deleteAgent)
	api.POST("/threads", s.createThread)
	api.POST("/threads/:thread_id/messages", s.createMessage)
	api.GET("/threads/:thread_id/messages", s.listMessages)
	api.POST("/threads/:thread_id/runs", s.createRun)
	api.GET("/threads/:thread_id/runs/:run_id", s.getRun)
	api.GET("/threads/:thread_id/runs/:run_id/steps", s.listSteps)
	api.POST("/threads/:thread_id/runs/:run_id/cancel", s.cancelRun)

	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requireAPIKey(c *gin.Context) {
	if s.apiKey == "" {
		c.Next()
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader(agentrun.APIKeyHeader)), []byte(s.apiKey)) != 1 {
		abortError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
		return
	}
	c.Next()
}

func (s *Server) createAgent(c *gin.Context) {
	var req agentrun.CreateAgentRequest
	if !s.bind(c, &req) {
		return
	}
	agent := s.store.CreateAgent(req)
	s.logger.Info("agent created", "agent_id", agent.ID, "tools", len(agent.Tools))
	c.JSON(http.StatusOK, agent)
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.store.Agent(c.Param("agent_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) deleteAgent(c *gin.Context) {
	id := c.Param("agent_id")
	if err := s.store.DeleteAgent(id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agentrun.DeleteResponse{ID: id, Object: "assistant.deleted", Deleted: true})
}

func (s *Server) createThread(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.CreateThread())
}

func (s *Server) createMessage(c *gin.Context) {
	var req agentrun.CreateMessageRequest
	if !s.bind(c, &req) {
		return
	}
	msg, err := s.store.AppendUserMessage(c.Param("thread_id"), req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) listMessages(c *gin.Context) {
	messages, err := s.store.Messages(c.Param("thread_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if c.Query("order") == "desc" {
		slices.Reverse(messages)
	}
	c.JSON(http.StatusOK, agentrun.ListResponse[agentrun.Message]{Object: "list", Data: messages})
}

func (s *Server) createRun(c *gin.Context) {
	var req agentrun.CreateRunRequest
	if !s.bind(c, &req) {
		return
	}
	run, err := s.store.CreateRun(c.Param("thread_id"), req.AssistantID, s.engine.TTL())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.engine.Start(run)
	s.logger.Info("run created", "run_id", run.ID, "thread_id", run.ThreadID)
	c.JSON(http.StatusOK, run)
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.store.Run(c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) listSteps(c *gin.Context) {
	steps, err := s.store.Steps(c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if c.Query("order") == "desc" {
		slices.Reverse(steps)
	}
	c.JSON(http.StatusOK, agentrun.ListResponse[agentrun.RunStep]{Object: "list", Data: steps})
}

func (s *Server) cancelRun(c *gin.Context) {
	run, err := s.engine.Cancel(c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// bind decodes a JSON body into dst and validates it, writing a 400 on failure.
func (s *Server) bind(c *gin.Context, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBytes))
	if err != nil {
		abortError(c, http.StatusBadRequest, "invalid_request", "read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_request", describeValidation(err))
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		abortError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrConflict):
		abortError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, runstate.ErrInvalidTransition):
		abortError(c, http.StatusConflict, "invalid_state", err.Error())
	default:
		s.logger.Error("run service request failed", "path", c.Request.URL.Path, "err", err)
		abortError(c, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.logger.Error("run service panic", "path", c.Request.URL.Path, "panic", recovered)
	abortError(c, http.StatusInternalServerError, "server_error", "internal error")
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, agentrun.ErrorResponse{Error: agentrun.ErrorBody{Code: code, Message: message}})
}
