// Package api provides the HTTP control API and the websocket notification
// stream for a running client
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/network"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/roster"
	"github.com/ZentaChain/zentalk-icq/pkg/session"
)

// Controller is the client surface the API drives. *network.Client
// implements it.
type Controller interface {
	State() session.State
	AccountID() string
	Status() uint32
	Self() network.Self
	Roster() *roster.Manager

	Logon(ctx context.Context) error
	Logoff()
	SetStatus(status uint32) error
	SendMessage(to, text string) (*event.Event, error)
	SendURL(to, description, url string) (*event.Event, error)
	Search(uin uint32) (*event.Event, error)
	RequestInfo(uin uint32) (*event.Event, error)
}

var _ Controller = (*network.Client)(nil)

// Subscriber hands out notification streams
type Subscriber interface {
	Subscribe(buffer int) (<-chan notify.Signal, func())
}

// Server represents the HTTP API server
type Server struct {
	ctrl       Controller
	bus        Subscriber
	router     *gin.Engine
	httpServer *http.Server
	limiter    *RateLimiter
	log        *zap.SugaredLogger
	addr       string
	wait       time.Duration
}

// Config holds server configuration
type Config struct {
	Addr         string
	EnableCORS   bool
	RateLimit    int // Requests per minute
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// WaitTimeout bounds how long ?wait=true requests block for a reply
	WaitTimeout time.Duration
	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8080",
		EnableCORS:   true,
		RateLimit:    100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		WaitTimeout:  15 * time.Second,
	}
}

// NewServer creates a new HTTP API server
func NewServer(ctrl Controller, bus Subscriber, config *Config, log *zap.SugaredLogger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = 15 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		ctrl:    ctrl,
		bus:     bus,
		router:  gin.New(),
		limiter: NewRateLimiter(config.RateLimit),
		log:     log,
		addr:    config.Addr,
		wait:    config.WaitTimeout,
	}
	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.setupMiddleware(config)
	s.setupRoutes(config)
	return s
}

func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(s.limiter.Middleware())
	s.router.Use(LoggingMiddleware(s.log))
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes(config *Config) {
	v1 := s.router.Group("/api/v1")
	{
		sess := v1.Group("/session")
		{
			sess.GET("", s.handleSession)
			sess.POST("/logon", s.handleLogon)
			sess.POST("/logoff", s.handleLogoff)
		}
		v1.PUT("/status", s.handleSetStatus)

		contacts := v1.Group("/contacts")
		{
			contacts.GET("", s.handleContacts)
			contacts.POST("", s.handleAddContact)
			contacts.PATCH("/:id", s.handleUpdateContact)
			contacts.DELETE("/:id", s.handleRemoveContact)
		}

		groups := v1.Group("/groups")
		{
			groups.GET("", s.handleGroups)
			groups.POST("", s.handleAddGroup)
			groups.PATCH("/:gsid", s.handleRenameGroup)
			groups.DELETE("/:gsid", s.handleRemoveGroup)
		}
		v1.POST("/roster/clear", s.handleClearServerList)

		v1.POST("/message", s.handleMessage)
		v1.POST("/search", s.handleSearch)
		v1.GET("/info/:uin", s.handleInfo)
		v1.GET("/events", s.handleEvents)
		v1.GET("/health", s.handleHealth)
	}

	s.router.GET("/health", s.handleHealth)
	if config.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("🌐 HTTP API server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("🛑 Shutting down HTTP API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.limiter.Stop()
	return s.httpServer.Shutdown(shutdownCtx)
}
