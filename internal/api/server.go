package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/config"
	"github.com/rustpanel-project/rustpanel/internal/db"
	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/metrics"
	"github.com/rustpanel-project/rustpanel/internal/monitor"
	"github.com/rustpanel-project/rustpanel/internal/util"
)

// Monitor is the live server view and control surface the API exposes.
type Monitor interface {
	Status() monitor.Status
	MapInfo() (events.MapInfo, bool)
	Entities() []events.MapEntity
	Players() []events.Player
	Connect(ctx context.Context, host string, port int, password string, save bool) error
	Disconnect()
	Console(ctx context.Context, command string) error
	Chat(ctx context.Context, message string) error
	Send(ctx context.Context, frame []byte) error
}

// Store is the persisted history and saved server list. It may be nil.
type Store interface {
	History(ctx context.Context, since time.Time, limit int) ([]db.Sample, error)
	ListServers(ctx context.Context) ([]db.Server, error)
	DeleteServer(ctx context.Context, id int64) error
}

// Server is the local REST API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	monitor  Monitor
	store    Store
	metrics  *metrics.Metrics
	version  string

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. store and m may be nil.
func NewServer(cfg *config.Config, eventBus *events.EventBus, mon Monitor, store Store, m *metrics.Metrics, version string) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		monitor:  mon,
		store:    store,
		metrics:  m,
		version:  version,
	}
}

// Handler returns the HTTP handler, building the router on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()

	addr := net.JoinHostPort(apiCfg.Host, fmt.Sprintf("%d", apiCfg.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if apiCfg.TLSEnabled {
		if err := util.EnsureCertificate(apiCfg.TLSCertFile, apiCfg.TLSKeyFile); err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := reuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}
	err = s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	router.GET("/api/ping", s.handlePing)

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(apiCfg.Token))
	{
		protected.GET("/status", s.handleGetStatus)
		protected.GET("/map", s.handleGetMap)
		protected.GET("/map/image", s.handleGetMapImage)
		protected.GET("/entities", s.handleGetEntities)
		protected.GET("/players", s.handleGetPlayers)

		protected.GET("/history", s.handleGetHistory)
		protected.GET("/servers", s.handleGetServers)
		protected.DELETE("/servers/:id", s.handleDeleteServer)

		protected.GET("/system", s.handleGetSystem)
		protected.GET("/rpc", s.handleGetRPCTable)
		protected.GET("/logs", s.handleGetLogEntries)
		protected.GET("/config", s.handleGetConfig)

		protected.POST("/connect", s.handleConnect)
		protected.POST("/disconnect", s.handleDisconnect)
		protected.POST("/console", s.handleConsole)
		protected.POST("/chat", s.handleChat)
		protected.POST("/rpc/:name", s.handleSendRPC)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
