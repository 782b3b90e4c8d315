// file: internal/server/server.go
// version: 2.0.0
// guid: 4c5d6e7f-8a9b-0c1d-2e3f-4a5b6c7d8e9f

package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdfalk/ebook-organizer/internal/engine"
	"github.com/jdfalk/ebook-organizer/internal/metrics"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
	"github.com/jdfalk/ebook-organizer/internal/server/middleware"
)

const (
	apiVersion = "2.0.0"

	maxJSONBodyBytes   = 1 << 20
	requestsPerMinute  = 600
	requestBurst       = 100
	heartbeatInterval  = 5 * time.Second
	gracefulShutdownIn = 30 * time.Second
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	eng        *engine.Engine
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new server over an opened engine.
func NewServer(eng *engine.Engine) *Server {
	router := gin.New()

	// Remote ids may contain slashes; clients send them percent-encoded.
	router.UseRawPath = true
	router.UnescapePathValues = true

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(corsMiddleware())
	router.Use(middleware.MaxRequestBodySize(maxJSONBodyBytes))

	metrics.Register()

	server := &Server{
		router: router,
		eng:    eng,
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start(cfg ServerConfig) error {
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	stopHeartbeat := make(chan struct{})
	go s.heartbeat(stopHeartbeat)
	defer close(stopHeartbeat)

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}

	log.Println("Shutting down server...")

	if s.eng.Hub != nil {
		s.eng.Hub.Broadcast(&realtime.Event{
			Type: "system.shutdown",
			Data: map[string]interface{}{
				"message": "Server is shutting down",
			},
		})
		// Give SSE clients a moment to receive the event
		time.Sleep(500 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownIn)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exited")
	return nil
}

// heartbeat pushes system.status events and refreshes gauges while the
// server runs.
func (s *Server) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sendSystemStatus()
		case <-stop:
			return
		}
	}
}

func (s *Server) sendSystemStatus() {
	if s.eng.Hub == nil {
		return
	}
	var alloc runtime.MemStats
	runtime.ReadMemStats(&alloc)

	records, err := s.eng.RefreshRecordGauge()
	if err != nil {
		log.Printf("[DEBUG] Heartbeat: failed to count records: %v", err)
	}
	metrics.SetIndexDocuments(s.eng.Index.Len())

	s.eng.Hub.SendSystemStatus(map[string]interface{}{
		"records":      records,
		"indexed":      s.eng.Index.Len(),
		"providers":    len(s.eng.Registry.IDs()),
		"operations":   len(s.eng.Queue.ActiveOperations()),
		"sse_clients":  s.eng.Hub.GetClientCount(),
		"memory_alloc": alloc.Alloc,
		"goroutines":   runtime.NumGoroutine(),
		"timestamp":    time.Now().Unix(),
	})
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint (standard path)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/api/health", s.healthCheck)
	s.router.GET("/api/v1/health", s.healthCheck)

	// Real-time events (SSE)
	s.router.GET("/api/events", s.handleEvents)

	// Redirect /api/* to /api/v1/* for v1 compatibility
	s.router.Use(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") &&
			!strings.HasPrefix(path, "/api/v1/") &&
			!strings.HasPrefix(path, "/api/health") &&
			!strings.HasPrefix(path, "/api/events") {
			newPath := strings.Replace(path, "/api/", "/api/v1/", 1)
			if c.Request.URL.RawQuery != "" {
				newPath += "?" + c.Request.URL.RawQuery
			}
			c.Redirect(http.StatusMovedPermanently, newPath)
			c.Abort()
			return
		}
		c.Next()
	})

	api := s.router.Group("/api/v1")
	api.Use(middleware.NewIPRateLimiter(requestsPerMinute, requestBurst).Middleware())
	{
		// Search
		api.GET("/search", s.searchEbooks)
		api.GET("/suggest", s.suggest)

		// Cached library
		api.GET("/ebooks", s.listEbooks)
		api.GET("/ebooks/:provider/:remote_id", s.getEbook)
		api.PATCH("/ebooks/:provider/:remote_id", s.editEbook)
		api.DELETE("/ebooks/:provider/:remote_id", s.deleteEbook)
		api.DELETE("/ebooks/:provider/:remote_id/overlay", s.discardEdit)
		api.GET("/ebooks/:provider/:remote_id/tags", s.listTags)
		api.POST("/ebooks/:provider/:remote_id/tags", s.addTag)
		api.DELETE("/ebooks/:provider/:remote_id/tags/:tag", s.removeTag)
		api.GET("/stats", s.libraryStats)

		// Organization
		api.GET("/taxonomy", s.getTaxonomy)
		api.GET("/organization/stats", s.classificationStats)
		api.GET("/organization/preview", s.previewClassification)
		api.GET("/organization/unclassified", s.listUnclassified)
		api.POST("/organization/batch-classify", s.batchClassify)
		api.POST("/ebooks/:provider/:remote_id/classify", s.classifyEbook)
		api.PUT("/ebooks/:provider/:remote_id/classification", s.setClassification)

		// Conflicts
		api.GET("/conflicts", s.listConflicts)
		api.POST("/conflicts/:provider/:remote_id/resolve", s.resolveConflict)

		// Sync
		api.GET("/sync", s.listSyncStatus)
		api.POST("/sync", s.triggerAll)
		api.GET("/sync/:provider", s.getSyncStatus)
		api.POST("/sync/:provider", s.triggerSync)
		api.POST("/sync/:provider/resume", s.resumeProvider)
		api.GET("/sync/:provider/log", s.syncLog)

		// Metadata
		api.POST("/metadata/refresh", s.refreshMetadata)

		// Operations
		api.GET("/operations/active", s.listActiveOperations)
		api.GET("/operations/:id", s.getOperationStatus)
		api.DELETE("/operations/:id", s.cancelOperation)
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, X-Request-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:       "ok",
		Timestamp:    time.Now().Unix(),
		Version:      apiVersion,
		DatabaseType: s.eng.Config.DatabaseType,
		Metrics: map[string]int{
			"providers":  len(s.eng.Registry.IDs()),
			"indexed":    s.eng.Index.Len(),
			"operations": len(s.eng.Queue.ActiveOperations()),
		},
	}
	// Tolerate store errors; a partial answer is still a live server.
	if stats, err := s.eng.Library.Stats(); err == nil {
		resp.Metrics["records"] = stats.TotalRecords
		resp.Metrics["conflicts"] = stats.Conflicts
	} else {
		resp.PartialError = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.eng.Hub == nil {
		RespondWithUnavailable(c, "event hub not initialized")
		return
	}
	s.eng.Hub.HandleSSE(c)
}

// GetDefaultServerConfig returns default server configuration
func GetDefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Host:         "localhost",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
