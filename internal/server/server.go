// Package server hosts the HTTP surface of the broker: the websocket
// endpoint that runs the client protocol and the REST endpoints for
// publishing, subscription auth and channel introspection.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/adred-codev/pusherd/internal/broker"
	"github.com/adred-codev/pusherd/internal/config"
	"github.com/adred-codev/pusherd/internal/metrics"
)

// Server owns the application registry and the HTTP listener.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	apps   *broker.ApplicationRegistry

	router  *gin.Engine
	httpSrv *http.Server
	started time.Time
}

// New builds a server with the bootstrap application registered.
func New(cfg *config.Config, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "server").Logger(),
		apps:   broker.NewApplicationRegistry(),
	}

	if err := s.apps.Add(broker.NewApplication(cfg.AppID, cfg.AppKey, cfg.AppSecret)); err != nil {
		// The registry is empty at this point; Add can only fail on
		// duplicates.
		s.logger.Error().Err(err).Msg("Bootstrap application registration failed")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/app/:app_id", s.handleWebSocket)

	router.POST("/apps", s.handleCreateApp)
	router.POST("/apps/:app_id/auth", s.handleAuth)
	router.POST("/apps/:app_id/events", s.handlePublish)
	router.GET("/apps/:app_id/channels/:channel_name", s.handleChannelState)
	router.DELETE("/apps/:app_id/channels/:channel_name", s.handleDeleteChannel)
	router.GET("/apps/:app_id/channels/:channel_name/users", s.handleChannelUsers)

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.router = router
	return s
}

// Apps exposes the application registry; the admin handlers and tests go
// through it.
func (s *Server) Apps() *broker.ApplicationRegistry { return s.apps }

// Handler returns the HTTP handler. Tests mount it on httptest servers.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.started = time.Now()
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown closes every live connection with a shutdown reason, then stops
// the listener. Connection writers flush their queues and emit close frames
// before their transports drop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down")

	for _, app := range s.apps.All() {
		for _, conn := range app.Connections.All() {
			conn.Close("server shutting down")
		}
	}

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
