// Package toolserver exposes the snippet tools over HTTP.
package toolserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"snipbridge/internal/httpx"
	"snipbridge/internal/tools"
)

const (
	// FunctionKeyHeader carries the invocation key when it is not passed as ?code=.
	FunctionKeyHeader = "x-functions-key"

	msgUnauthorized    = "Unauthorized"
	msgTooManyRequests = "Too many requests"
)

// Config configures the tool server.
type Config struct {
	// FunctionKey, when set, must accompany every tool invocation.
	FunctionKey string
	RateLimit   httpx.RateLimitConfig
	Logger      *slog.Logger
	// Registry receives the server's collectors and backs /metrics. Nil creates a private registry.
	Registry *prometheus.Registry
}

// route binds a URL to a tool and the generic message returned when it fails.
type route struct {
	tool        string
	failure     string
	requireBody bool
}

var routes = []route{
	{tool: tools.HelloToolName, failure: "Error executing hello_mcp"},
	{tool: tools.GetSnippetToolName, failure: "Error retrieving snippet", requireBody: true},
	{tool: tools.SaveSnippetToolName, failure: "Error saving snippet", requireBody: true},
}

// Server is a stateless HTTP front for a tool registry.
type Server struct {
	registry    *tools.Registry
	functionKey string
	logger      *slog.Logger
	metrics     *Metrics
	engine      *gin.Engine
}

type contentResponse struct {
	Content string `json:"content"`
}

// New builds the gin engine and its routes.
func New(registry *tools.Registry, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	promRegistry := cfg.Registry
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}

	s := &Server{
		registry:    registry,
		functionKey: cfg.FunctionKey,
		logger:      logger,
		metrics:     MustNewMetrics(promRegistry),
		engine:      gin.New(),
	}

	s.engine.Use(gin.CustomRecovery(s.recover))
	s.engine.Use(httpx.RequestLogger(logger))
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	api.Use(httpx.RateLimit(cfg.RateLimit, func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, contentResponse{Content: msgTooManyRequests})
	}))
	api.Use(s.requireFunctionKey)
	for _, r := range routes {
		api.POST("/"+r.tool, s.handleTool(r))
	}

	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requireFunctionKey(c *gin.Context) {
	if s.functionKey == "" {
		c.Next()
		return
	}
	key := c.Query("code")
	if key == "" {
		key = c.GetHeader(FunctionKeyHeader)
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.functionKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, contentResponse{Content: msgUnauthorized})
		return
	}
	c.Next()
}

func (s *Server) handleTool(r route) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		status, content := s.invoke(c, r)
		s.metrics.observe(r.tool, status, time.Since(start))
		c.JSON(status, contentResponse{Content: content})
	}
}

func (s *Server) invoke(c *gin.Context, r route) (int, string) {
	ctx := c.Request.Context()
	logger := s.logger.With("tool", r.tool)

	var args json.RawMessage
	if r.requireBody {
		body, err := c.GetRawData()
		if err != nil {
			logger.Error("read request body", "err", err)
			return http.StatusInternalServerError, r.failure
		}
		if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
			logger.Error("malformed request body", "bytes", len(body))
			return http.StatusInternalServerError, r.failure
		}
		if field := gjson.GetBytes(body, "arguments"); field.Exists() {
			args = json.RawMessage(field.Raw)
		}
	}

	result, err := s.registry.Execute(ctx, r.tool, args)
	if err != nil {
		var argErr *tools.ArgumentError
		if errors.As(err, &argErr) {
			logger.Info("tool arguments rejected", "reason", argErr.Message)
			return http.StatusBadRequest, argErr.Message
		}
		logger.Error(r.failure, "err", err)
		return http.StatusInternalServerError, r.failure
	}

	logger.Info("tool executed", "content_bytes", len(result.Content))
	return http.StatusOK, result.Content
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.logger.Error("tool handler panic", "path", c.Request.URL.Path, "panic", recovered)
	c.AbortWithStatusJSON(http.StatusInternalServerError, contentResponse{Content: "Internal server error"})
}
