package server

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/adred-codev/pusherd/internal/broker"
	"github.com/adred-codev/pusherd/internal/logging"
	"github.com/adred-codev/pusherd/internal/metrics"
	"github.com/adred-codev/pusherd/internal/protocol"
	"github.com/adred-codev/pusherd/internal/transport"
)

// handleWebSocket upgrades GET /app/:app_id and runs one client session to
// completion. Query parameters (protocol, client, version, flash) are logged,
// not validated.
func (s *Server) handleWebSocket(c *gin.Context) {
	app, err := s.apps.Get(c.Param("app_id"))
	if err != nil {
		metrics.ConnectionsFailed.Inc()
		errorResponse(c, err)
		return
	}

	tr, err := transport.Upgrade(c.Writer, c.Request)
	if err != nil {
		metrics.ConnectionsFailed.Inc()
		s.logger.Warn().Err(err).Str("app_id", app.ID).Msg("WebSocket upgrade failed")
		return
	}

	socketID := broker.NewSocketID()
	conn := broker.NewConnection(socketID, tr, s.logger)

	sess := &session{
		srv:  s,
		app:  app,
		conn: conn,
		logger: s.logger.With().
			Str("app_id", app.ID).
			Str("socket_id", socketID).
			Str("client", c.Query("client")).
			Str("protocol", c.Query("protocol")).
			Logger(),
	}
	sess.run()
}

// session drives the protocol engine for one connection: the NEW →
// ESTABLISHED → CLOSED lifecycle, envelope dispatch, and teardown.
type session struct {
	srv    *Server
	app    *broker.Application
	conn   *broker.Connection
	logger zerolog.Logger
}

func (s *session) run() {
	defer logging.RecoverPanic(s.logger, "session", nil)

	s.app.Connections.Add(s.conn)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	defer s.teardown()

	s.logger.Debug().Msg("Connection established")
	s.conn.Send(protocol.ConnectionEstablished(s.conn.SocketID(), int(s.srv.cfg.ActivityTimeout.Seconds())))

	for {
		ev, err := s.conn.Recv()
		if err != nil {
			s.logger.Debug().Err(err).Msg("Transport read failed")
			return
		}

		switch ev.Type {
		case transport.Data:
			metrics.MessagesReceived.Inc()
			metrics.BytesReceived.Add(float64(len(ev.Payload)))
			s.handleFrame(ev.Payload)

		case transport.Close:
			s.logger.Debug().Str("reason", string(ev.Payload)).Msg("Client closed connection")
			return

		case transport.Ping, transport.Pong:
			// Transport-level liveness only; nothing to do.
		}
	}
}

// handleFrame dispatches one inbound envelope. A malformed frame never kills
// the session; the client gets a pusher:error and the loop continues.
func (s *session) handleFrame(raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Malformed envelope")
		s.conn.Send(protocol.ErrorEvent(nil, "invalid message"))
		return
	}

	switch env.Event {
	case protocol.EventSubscribe:
		s.handleSubscribe(env)
	case protocol.EventUnsubscribe:
		s.handleUnsubscribe(env)
	case protocol.EventPing:
		s.conn.Send(protocol.Pong())
	default:
		if protocol.IsClientEvent(env.Event) {
			s.handleClientEvent(env)
			return
		}
		// Unknown events are ignored without erroring the session.
		s.logger.Debug().Str("event", env.Event).Msg("Ignoring unknown event")
	}
}

func (s *session) handleSubscribe(env protocol.Envelope) {
	var p protocol.SubscribePayload
	if err := protocol.DecodeData(env.Data, &p); err != nil || p.Channel == "" {
		s.logger.Debug().Err(err).Msg("Malformed subscribe payload")
		s.conn.Send(protocol.ErrorEvent(nil, "invalid subscribe payload"))
		return
	}

	name := p.Channel
	typ := broker.TypeOf(name)
	logger := s.logger.With().Str("channel", name).Logger()

	if typ.RequiresAuth() {
		if !protocol.VerifySubscription(p.Auth, s.app.Key, s.app.Secret, s.conn.SocketID(), name, p.ChannelData) {
			logger.Debug().Msg("Subscribe rejected: invalid signature")
			metrics.SubscriptionErrors.WithLabelValues("invalid_signature").Inc()
			s.conn.Send(protocol.SubscriptionError(name, "invalid signature"))
			return
		}
	}

	var user broker.PresenceUser
	if typ == broker.ChannelPresence {
		if err := json.Unmarshal([]byte(p.ChannelData), &user); err != nil || user.UserID == "" {
			logger.Debug().Err(err).Msg("Subscribe rejected: invalid channel_data")
			metrics.SubscriptionErrors.WithLabelValues("invalid_channel_data").Inc()
			s.conn.Send(protocol.SubscriptionError(name, "invalid channel_data"))
			return
		}
	}

	ch := s.app.Channels.GetOrCreate(name)

	// A repeat subscribe is acknowledged again but must not re-announce a
	// join or recount a membership that is already in place.
	rejoin := s.conn.IsSubscribed(name)

	if typ == broker.ChannelPresence {
		pch := ch.(broker.PresenceChannel)
		if err := pch.AddPresenceUser(s.conn, user); err != nil {
			logger.Warn().Err(err).Msg("Presence registration failed")
			s.conn.Send(protocol.SubscriptionError(name, "presence registration failed"))
			return
		}
		s.conn.SetPresence(user)
	}

	if err := ch.Subscribe(s.conn); err != nil {
		logger.Warn().Err(err).Msg("Subscribe failed")
		metrics.SubscriptionErrors.WithLabelValues("channel_error").Inc()
		s.conn.Send(protocol.SubscriptionError(name, err.Error()))
		return
	}
	s.conn.Subscribe(name)
	if !rejoin {
		metrics.SubscriptionsActive.Inc()
	}
	logger.Debug().Str("type", typ.String()).Msg("Subscribed")

	if typ == broker.ChannelPresence {
		pch := ch.(broker.PresenceChannel)
		pd := protocol.PresenceData{}
		summary := pch.PresenceData()
		pd.Presence.Count = summary.Count
		pd.Presence.IDs = summary.IDs
		pd.Presence.Hash = summary.Hash
		s.conn.Send(protocol.SubscriptionSucceeded(name, pd))
		if !rejoin {
			ch.BroadcastExcept(protocol.MemberAdded(name, user.UserID, user.UserInfo), s.conn.SocketID())
		}
		return
	}
	s.conn.Send(protocol.SubscriptionSucceeded(name, struct{}{}))
}

func (s *session) handleUnsubscribe(env protocol.Envelope) {
	var p protocol.UnsubscribePayload
	if err := protocol.DecodeData(env.Data, &p); err != nil || p.Channel == "" {
		s.logger.Debug().Err(err).Msg("Malformed unsubscribe payload")
		return
	}

	// Unsubscribing from an unknown or never-joined channel is a no-op.
	if !s.conn.IsSubscribed(p.Channel) {
		return
	}
	s.leaveChannel(p.Channel)
}

// leaveChannel removes the connection from one channel, announcing the
// departure on presence channels.
func (s *session) leaveChannel(name string) {
	socketID := s.conn.SocketID()

	if ch, ok := s.app.Channels.Get(name); ok {
		var member broker.PresenceUser
		hadIdentity := false
		if pch, isPresence := ch.(broker.PresenceChannel); isPresence {
			member, hadIdentity = pch.Member(socketID)
		}

		ch.Unsubscribe(socketID)
		if hadIdentity {
			ch.Broadcast(protocol.MemberRemoved(name, member.UserID))
		}
	}

	s.conn.Unsubscribe(name)
	metrics.SubscriptionsActive.Dec()
}

func (s *session) handleClientEvent(env protocol.Envelope) {
	name := env.Channel
	event := env.Event
	data := env.Data

	// Legacy inbound form carries the channel inside data.
	if name == "" {
		var p protocol.ClientEventPayload
		if err := protocol.DecodeData(env.Data, &p); err != nil || p.Channel == "" {
			s.logger.Debug().Err(err).Msg("Malformed client event payload")
			return
		}
		name = p.Channel
		if p.Event != "" {
			event = p.Event
		}
		data = p.Data
	}

	logger := s.logger.With().Str("channel", name).Str("event", event).Logger()

	if !protocol.IsClientEvent(event) {
		logger.Debug().Msg("Client event dropped: bad event name")
		return
	}
	if !broker.TypeOf(name).RequiresAuth() {
		logger.Debug().Msg("Client event dropped: public channel")
		return
	}

	ch, ok := s.app.Channels.Get(name)
	if !ok || !s.conn.IsSubscribed(name) {
		logger.Debug().Msg("Client event dropped: not subscribed")
		return
	}

	ch.BroadcastExcept(protocol.ChannelEvent(event, name, data), s.conn.SocketID())
	metrics.ClientEventsTotal.Inc()
}

// teardown unwinds the session: every channel membership is dropped (with
// member_removed announcements on presence channels), the connection leaves
// the registry, and the writer flushes and closes the transport.
func (s *session) teardown() {
	for _, name := range s.conn.SubscribedChannels() {
		s.leaveChannel(name)
	}
	s.app.Connections.Remove(s.conn.SocketID())

	s.conn.Close("")
	metrics.ConnectionsActive.Dec()
	s.logger.Debug().Msg("Connection closed")
}
