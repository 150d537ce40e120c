package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"sportsfetch/pkg/config"
	"sportsfetch/pkg/fetch"
	"sportsfetch/pkg/logger"
	"sportsfetch/pkg/provider"
	"sportsfetch/pkg/scheduler"
)

// Server 运维 HTTP 服务，暴露状态查询、调试取数和缓存管理端点。
type Server struct {
	svc    *fetch.Service
	sched  *scheduler.Scheduler
	server *http.Server
	log    *logrus.Entry
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// fetchRequest 调试取数端点的请求体。
type fetchRequest struct {
	Provider   string            `json:"provider" binding:"required"`
	Endpoint   string            `json:"endpoint" binding:"required"`
	CacheKey   string            `json:"cache_key"`
	TTLSeconds int               `json:"ttl_seconds"`
	Headers    map[string]string `json:"headers"`
	Params     map[string]string `json:"params"`
}

// fetchResponse 调试取数端点的响应。载荷是合法 JSON 时原样内联，
// 否则按 base64 编码放在 payload_base64 字段。
type fetchResponse struct {
	Payload       json.RawMessage `json:"payload,omitempty"`
	PayloadBase64 string          `json:"payload_base64,omitempty"`
	Degraded      bool            `json:"degraded"`
}

// NewServer 组装运维服务
func NewServer(cfg *config.Config, svc *fetch.Service, sched *scheduler.Scheduler) *Server {
	s := &Server{
		svc:   svc,
		sched: sched,
		log:   logger.WithComponent("fetchd.server"),
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/providers", s.getProviders)
		v1.GET("/providers/:name/status", s.getProviderStatus)
		v1.POST("/fetch", s.postFetch)
		v1.POST("/cache/clear", s.postCacheClear)
		v1.POST("/cache/cleanup", s.postCacheCleanup)
		v1.GET("/cache/stats", s.getCacheStats)
		v1.GET("/health/backends", s.getBackendHealth)
		v1.GET("/jobs", s.getJobs)
	}

	s.server = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}
	return s
}

// Start 后台启动 HTTP 监听
func (s *Server) Start() {
	s.log.WithField("addr", s.server.Addr).Info("运维服务启动")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Fatal("HTTP 服务启动失败")
		}
	}()
}

// Stop 优雅停止
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.log.WithError(err).Error("HTTP 服务停止失败")
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
}

func (s *Server) getProviders(c *gin.Context) {
	statuses, err := s.svc.ProviderStatuses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": statuses, "count": len(statuses)})
}

func (s *Server) getProviderStatus(c *gin.Context) {
	id := provider.ID(c.Param("name"))

	status, err := s.svc.ProviderStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) postFetch(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
		return
	}

	payload, degraded, err := s.svc.FetchWithPolicy(c.Request.Context(), provider.ID(req.Provider),
		req.Endpoint, req.CacheKey, req.TTLSeconds, req.Headers, req.Params)
	if err != nil {
		c.JSON(statusForError(err), errorResponse{Error: "fetch_failed", Message: err.Error()})
		return
	}

	resp := fetchResponse{Degraded: degraded}
	if json.Valid(payload) {
		resp.Payload = payload
	} else {
		resp.PayloadBase64 = base64.StdEncoding.EncodeToString(payload)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) postCacheClear(c *gin.Context) {
	var req struct {
		Pattern string `json:"pattern" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
		return
	}

	removed, err := s.svc.ClearCache(c.Request.Context(), req.Pattern)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) postCacheCleanup(c *gin.Context) {
	removed, err := s.svc.CleanupExpired(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) getCacheStats(c *gin.Context) {
	stats, err := s.svc.CacheStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getBackendHealth(c *gin.Context) {
	health := s.svc.TestBackendConnectivity(c.Request.Context())

	status := http.StatusOK
	for _, tier := range health {
		if tier.Configured && !tier.Healthy {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, health)
}

func (s *Server) getJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.sched.Jobs()})
}

// statusForError 将取数层的类型化错误映射为 HTTP 状态码。
func statusForError(err error) int {
	switch {
	case errors.Is(err, fetch.ErrRateLimitDenied):
		return http.StatusTooManyRequests
	case errors.Is(err, fetch.ErrCircuitDenied), errors.Is(err, fetch.ErrUpstreamDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, fetch.ErrUpstreamForbidden):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
