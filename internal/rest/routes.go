// Package rest exposes the orchestrator over HTTP.
package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/orchestrator"
	"github.com/kamir/global-schema-registry/internal/schema"
)

// APIVersion is reported by the root endpoint.
const APIVersion = "1.0.0"

// ErrorResponse represents an error message
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// CompatibilityCheckRequest checks content against a subject.
type CompatibilityCheckRequest struct {
	Subject       string `json:"subject" binding:"required"`
	SchemaContent string `json:"schema_content" binding:"required"`
	SchemaFormat  string `json:"schema_format"`
	Version       int    `json:"version,omitempty"`
}

// RegisterRequest registers content under a subject.
type RegisterRequest struct {
	SchemaContent string                 `json:"schema_content" binding:"required"`
	SchemaFormat  string                 `json:"schema_format"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// SetCompatibilityRequest sets a global or subject mode.
type SetCompatibilityRequest struct {
	Mode    string `json:"mode" binding:"required"`
	Subject string `json:"subject,omitempty"`
}

// BulkCheckRequest starts a bulk compatibility run.
type BulkCheckRequest struct {
	RegistryIDs   []string `json:"registry_ids"`
	TargetMode    string   `json:"target_mode" binding:"required"`
	SubjectFilter string   `json:"subject_filter,omitempty"`
}

// BulkSetRequest sets a mode across registries.
type BulkSetRequest struct {
	RegistryIDs   []string `json:"registry_ids"`
	Mode          string   `json:"mode" binding:"required"`
	SubjectFilter string   `json:"subject_filter,omitempty"`
}

// Server holds the handler dependencies.
type Server struct {
	orch        *orchestrator.Orchestrator
	metrics     http.Handler
	metricsPath string
	log         *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h at /metrics, or at the WithMetricsPath path.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMetricsPath moves the metrics endpoint.
func WithMetricsPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer creates the handler set for o.
func NewServer(o *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{orch: o, metricsPath: "/metrics", log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router creates and configures a Gin router with all federation routes
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.root)
	if s.metrics != nil {
		r.GET(s.metricsPath, gin.WrapH(s.metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/registries", s.listRegistries)
		v1.GET("/health/all", s.healthAll)
		v1.GET("/schemas/find", s.findSchema)
		v1.GET("/compatibility/overview", s.compatibilityOverview)
		v1.GET("/compatibility/transitions", s.transitions)
		v1.POST("/bulk/check-compatibility", s.bulkCheck)
		v1.POST("/bulk/set-compatibility", s.bulkSet)
	}

	reg := v1.Group("/registries/:id")
	{
		reg.GET("/health", s.registryHealth)
		reg.GET("/subjects", s.listSubjects)
		reg.GET("/subjects/:subject/versions", s.listVersions)
		reg.POST("/subjects/:subject/versions", s.registerSchema)
		reg.GET("/subjects/:subject/versions/:version", s.getSchema)
		reg.POST("/compatibility/check", s.checkCompatibility)
		reg.GET("/compatibility/mode", s.getCompatibilityMode)
		reg.PUT("/compatibility/mode", s.setCompatibilityMode)
	}
	return r
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.Router()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidArgument), errors.Is(err, schema.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrUnsupportedOperation):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, ErrorResponse{ErrorCode: status, Message: err.Error()})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: http.StatusBadRequest, Message: err.Error()})
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "Global Schema Registry API",
		"version": APIVersion,
		"health":  "/api/v1/health/all",
	})
}

func (s *Server) listRegistries(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.ListRegistries())
}

func (s *Server) healthAll(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.HealthCheckAll(c.Request.Context()))
}

func (s *Server) registryHealth(c *gin.Context) {
	reg, err := s.orch.GetRegistry(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reg.HealthCheck(c.Request.Context()))
}

func (s *Server) findSchema(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		s.badRequest(c, schema.InvalidArgumentf("subject query parameter is required"))
		return
	}
	c.JSON(http.StatusOK, s.orch.FindSchema(c.Request.Context(), subject))
}

func (s *Server) listSubjects(c *gin.Context) {
	reg, err := s.orch.GetRegistry(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	subjects, err := reg.ListSubjects(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if subjects == nil {
		subjects = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

func (s *Server) listVersions(c *gin.Context) {
	reg, err := s.orch.GetRegistry(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	versions, err := reg.ListVersions(c.Request.Context(), c.Param("subject"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": c.Param("subject"), "versions": versions})
}

func (s *Server) getSchema(c *gin.Context) {
	reg, err := s.orch.GetRegistry(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	subject := c.Param("subject")
	if v := c.Param("version"); v == "latest" {
		sc, err := reg.GetLatestSchema(ctx, subject)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, sc)
		return
	}

	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		s.badRequest(c, schema.InvalidArgumentf("invalid version %q", c.Param("version")))
		return
	}
	sc, err := reg.GetSchema(ctx, subject, version)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) registerSchema(c *gin.Context) {
	reg, err := s.orch.GetRegistry(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	format, err := schema.ParseFormat(req.SchemaFormat)
	if err != nil {
		s.fail(c, err)
		return
	}

	sc, err := reg.RegisterSchema(c.Request.Context(), c.Param("subject"), req.SchemaContent, format, req.Metadata)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) checkCompatibility(c *gin.Context) {
	reg, err := s.orch.GetRegistry(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var req CompatibilityCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	format, err := schema.ParseFormat(req.SchemaFormat)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := reg.CheckCompatibility(c.Request.Context(), req.Subject, req.SchemaContent, format, req.Version)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func subjectLabel(subject string) string {
	if subject == "" {
		return "global"
	}
	return subject
}

func (s *Server) getCompatibilityMode(c *gin.Context) {
	reg, err := s.orch.GetRegistry(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	subject := c.Query("subject")
	mode, err := reg.GetCompatibilityMode(c.Request.Context(), subject)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "subject": subjectLabel(subject)})
}

func (s *Server) setCompatibilityMode(c *gin.Context) {
	id := c.Param("id")
	reg, err := s.orch.GetRegistry(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	var req SetCompatibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	mode, err := schema.ParseCompatibilityMode(req.Mode)
	if err != nil {
		s.fail(c, err)
		return
	}

	if err := reg.SetCompatibilityMode(c.Request.Context(), mode, req.Subject); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"registry_id": id,
		"mode":        mode,
		"subject":     subjectLabel(req.Subject),
	})
}

func (s *Server) compatibilityOverview(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.CompareCompatibilityModes(c.Request.Context()))
}

func (s *Server) transitions(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" && to == "" {
		c.JSON(http.StatusOK, compat.TransitionTable())
		return
	}

	fromMode, err := schema.ParseCompatibilityMode(from)
	if err != nil {
		s.fail(c, err)
		return
	}
	toMode, err := schema.ParseCompatibilityMode(to)
	if err != nil {
		s.fail(c, err)
		return
	}
	t, ok := compat.LookupTransition(fromMode, toMode)
	if !ok {
		s.fail(c, schema.NotFoundf("transition %s -> %s", fromMode, toMode))
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) bulkCheck(c *gin.Context) {
	var req BulkCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	mode, err := schema.ParseCompatibilityMode(req.TargetMode)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := s.orch.BulkCheckCompatibility(c.Request.Context(), req.RegistryIDs, mode, req.SubjectFilter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) bulkSet(c *gin.Context) {
	var req BulkSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	mode, err := schema.ParseCompatibilityMode(req.Mode)
	if err != nil {
		s.fail(c, err)
		return
	}

	results, err := s.orch.BulkSetCompatibility(c.Request.Context(), req.RegistryIDs, mode, req.SubjectFilter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
