package protocol

import "encoding/json"

// Server-to-client frame constructors. Every constructor returns the final
// wire bytes; payload fields are fixed shapes plus raw JSON already validated
// on the way in, so marshaling cannot fail in practice. The fallback frame
// keeps a session alive if it ever does.

var fallbackFrame = []byte(`{"event":"pusher:error","data":{"message":"internal serialization error"}}`)

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return fallbackFrame
	}
	return b
}

// ConnectionEstablished is the first frame of every session.
func ConnectionEstablished(socketID string, activityTimeout int) []byte {
	return marshal(Envelope{
		Event: EventConnectionEstablished,
		Data: marshal(struct {
			SocketID        string `json:"socket_id"`
			ActivityTimeout int    `json:"activity_timeout"`
		}{socketID, activityTimeout}),
	})
}

// Pong answers pusher:ping. The data field is always an empty object, even
// when the ping carried none.
func Pong() []byte {
	return marshal(Envelope{Event: EventPong, Data: json.RawMessage(`{}`)})
}

// SubscriptionSucceeded confirms a subscribe. data is {} for public and
// private channels and the presence summary for presence channels.
func SubscriptionSucceeded(channel string, data any) []byte {
	return marshal(Envelope{
		Event:   EventSubscriptionSucceeded,
		Channel: channel,
		Data:    marshal(data),
	})
}

// SubscriptionError rejects a subscribe without touching the subscriber set.
func SubscriptionError(channel, reason string) []byte {
	return marshal(Envelope{
		Event: EventSubscriptionError,
		Data: marshal(struct {
			Channel string `json:"channel"`
			Error   string `json:"error"`
		}{channel, reason}),
	})
}

// MemberAdded announces a presence join to the other subscribers.
func MemberAdded(channel, userID string, userInfo json.RawMessage) []byte {
	if len(userInfo) == 0 {
		userInfo = json.RawMessage(`null`)
	}
	return marshal(Envelope{
		Event: EventMemberAdded,
		Data: marshal(struct {
			Channel  string          `json:"channel"`
			UserID   string          `json:"user_id"`
			UserInfo json.RawMessage `json:"user_info"`
		}{channel, userID, userInfo}),
	})
}

// MemberRemoved announces a presence leave to the remaining subscribers.
func MemberRemoved(channel, userID string) []byte {
	return marshal(Envelope{
		Event: EventMemberRemoved,
		Data: marshal(struct {
			Channel string `json:"channel"`
			UserID  string `json:"user_id"`
		}{channel, userID}),
	})
}

// ErrorEvent is the engine-level error frame. code is optional.
func ErrorEvent(code *int, message string) []byte {
	return marshal(Envelope{
		Event: EventError,
		Data: marshal(struct {
			Code    *int   `json:"code,omitempty"`
			Message string `json:"message"`
		}{code, message}),
	})
}

// ChannelEvent is the fan-out frame for published events and client event
// rebroadcasts: {event, data, channel} with data carried verbatim.
func ChannelEvent(event, channel string, data json.RawMessage) []byte {
	return marshal(Envelope{Event: event, Channel: channel, Data: data})
}
