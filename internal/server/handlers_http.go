package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/adred-codev/pusherd/internal/broker"
	"github.com/adred-codev/pusherd/internal/metrics"
	"github.com/adred-codev/pusherd/internal/protocol"
)

// errorResponse writes the conventional {error, message} body with the status
// derived from the error kind.
func errorResponse(c *gin.Context, err error) {
	kind := broker.KindOf(err)
	message := err.Error()
	if be, ok := err.(*broker.Error); ok {
		message = be.Message
	}
	c.JSON(kind.HTTPStatus(), gin.H{
		"error":   kind.String(),
		"message": message,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   broker.KindBadRequest.String(),
		"message": message,
	})
}

// handleCreateApp registers a new application. POST /apps.
func (s *Server) handleCreateApp(c *gin.Context) {
	var req struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Secret string `json:"secret"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.ID == "" || req.Key == "" || req.Secret == "" {
		badRequest(c, "id, key and secret are required")
		return
	}

	app := broker.NewApplication(req.ID, req.Key, req.Secret)
	if err := s.apps.Add(app); err != nil {
		errorResponse(c, err)
		return
	}

	s.logger.Info().Str("app_id", app.ID).Msg("Application created")
	c.JSON(http.StatusCreated, gin.H{"id": app.ID, "key": app.Key})
}

// handleAuth issues a subscription auth token. POST /apps/:app_id/auth.
func (s *Server) handleAuth(c *gin.Context) {
	app, err := s.apps.Get(c.Param("app_id"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	var req struct {
		SocketID    string `json:"socket_id"`
		ChannelName string `json:"channel_name"`
		ChannelData string `json:"channel_data,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.SocketID == "" || req.ChannelName == "" {
		badRequest(c, "socket_id and channel_name are required")
		return
	}
	if !broker.TypeOf(req.ChannelName).RequiresAuth() {
		badRequest(c, "Public channels don't need authentication")
		return
	}

	token := protocol.SubscriptionToken(app.Key, app.Secret, req.SocketID, req.ChannelName, req.ChannelData)
	c.JSON(http.StatusOK, gin.H{"auth": token})
}

// handlePublish fans an event out to its target channels.
// POST /apps/:app_id/events.
//
// The request must carry the full set of auth query parameters; the key, the
// body digest and the signature are all verified before anything is
// broadcast. Missing channels are strict 404s: targets before the missing one
// have already been fanned out.
func (s *Server) handlePublish(c *gin.Context) {
	app, err := s.apps.Get(c.Param("app_id"))
	if err != nil {
		metrics.PublishRejected.WithLabelValues("app_not_found").Inc()
		errorResponse(c, err)
		return
	}

	params := c.Request.URL.Query()
	for _, name := range []string{"auth_key", "auth_timestamp", "auth_version", "body_md5", "auth_signature"} {
		if params.Get(name) == "" {
			metrics.PublishRejected.WithLabelValues("missing_auth_params").Inc()
			badRequest(c, "missing query parameter "+name)
			return
		}
	}

	body, err := c.GetRawData()
	if err != nil {
		errorResponse(c, broker.NewError(broker.KindIO, "failed to read request body: %v", err))
		return
	}

	if params.Get("auth_key") != app.Key {
		metrics.PublishRejected.WithLabelValues("bad_key").Inc()
		errorResponse(c, broker.NewError(broker.KindAuthenticationFailed, "unknown auth_key"))
		return
	}
	if params.Get("body_md5") != protocol.BodyMD5(body) {
		metrics.PublishRejected.WithLabelValues("bad_body_md5").Inc()
		errorResponse(c, broker.NewError(broker.KindAuthenticationFailed, "body_md5 mismatch"))
		return
	}
	if !protocol.VerifyAPISignature(params.Get("auth_signature"), app.Secret, "POST", c.Request.URL.Path, params) {
		metrics.PublishRejected.WithLabelValues("bad_signature").Inc()
		errorResponse(c, broker.NewError(broker.KindAuthenticationFailed, "invalid auth_signature"))
		return
	}

	var req struct {
		Name     string          `json:"name"`
		Data     json.RawMessage `json:"data"`
		Channels []string        `json:"channels"`
		Channel  string          `json:"channel,omitempty"`
		SocketID string          `json:"socket_id,omitempty"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.PublishRejected.WithLabelValues("bad_body").Inc()
		badRequest(c, "invalid request body")
		return
	}
	if req.Name == "" {
		badRequest(c, "name is required")
		return
	}

	targets := req.Channels
	if len(targets) == 0 && req.Channel != "" {
		targets = []string{req.Channel}
	}

	for _, name := range targets {
		ch, ok := app.Channels.Get(name)
		if !ok {
			metrics.PublishRejected.WithLabelValues("channel_not_found").Inc()
			errorResponse(c, broker.NewError(broker.KindChannelNotFound, "channel %s not found", name))
			return
		}
		frame := protocol.ChannelEvent(req.Name, name, req.Data)
		if req.SocketID != "" {
			ch.BroadcastExcept(frame, req.SocketID)
		} else {
			ch.Broadcast(frame)
		}
	}

	metrics.PublishedEvents.Inc()
	c.JSON(http.StatusOK, gin.H{})
}

// handleChannelState reports occupancy. GET /apps/:app_id/channels/:channel_name.
// A name that was never registered is a 404; a drained channel stays
// registered and reports unoccupied.
func (s *Server) handleChannelState(c *gin.Context) {
	app, err := s.apps.Get(c.Param("app_id"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	ch, ok := app.Channels.Get(c.Param("channel_name"))
	if !ok {
		errorResponse(c, broker.NewError(broker.KindChannelNotFound, "channel %s not found", c.Param("channel_name")))
		return
	}

	count := ch.Count()
	c.JSON(http.StatusOK, gin.H{
		"occupied":           count > 0,
		"subscription_count": count,
	})
}

// handleChannelUsers lists subscriber socket ids.
// GET /apps/:app_id/channels/:channel_name/users.
func (s *Server) handleChannelUsers(c *gin.Context) {
	app, err := s.apps.Get(c.Param("app_id"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	ch, ok := app.Channels.Get(c.Param("channel_name"))
	if !ok {
		errorResponse(c, broker.NewError(broker.KindChannelNotFound, "channel %s not found", c.Param("channel_name")))
		return
	}

	ids := ch.Subscribers()
	sort.Strings(ids)
	c.JSON(http.StatusOK, ids)
}

// handleDeleteChannel evicts a channel from the registry. Live subscriber
// references keep the channel object alive until dropped.
// DELETE /apps/:app_id/channels/:channel_name.
func (s *Server) handleDeleteChannel(c *gin.Context) {
	app, err := s.apps.Get(c.Param("app_id"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	name := c.Param("channel_name")
	app.Channels.Remove(name)
	s.logger.Info().Str("app_id", app.ID).Str("channel", name).Msg("Channel removed")
	c.JSON(http.StatusOK, gin.H{})
}

// handleHealth reports process vitals. GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	totalConns := 0
	totalChannels := 0
	for _, app := range s.apps.All() {
		totalConns += app.Connections.Len()
		totalChannels += app.Channels.Len()
	}

	var memoryMB, cpuPercent float64
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			memoryMB = float64(memInfo.RSS) / 1024 / 1024
		}
		if pct, err := proc.CPUPercent(); err == nil {
			cpuPercent = pct
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"applications":   s.apps.Len(),
		"connections":    totalConns,
		"channels":       totalChannels,
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      memoryMB,
		"cpu_percent":    cpuPercent,
	})
}
