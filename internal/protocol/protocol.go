// Package protocol implements the Pusher wire protocol: the JSON envelopes
// exchanged over the websocket transport and the signature schemes used to
// authorize channel subscriptions and server-side API calls.
package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event names exchanged between broker and client.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventError                 = "pusher:error"
	EventSubscriptionError     = "pusher:subscription_error"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventMemberAdded           = "pusher_internal:member_added"
	EventMemberRemoved         = "pusher_internal:member_removed"

	// ClientEventPrefix marks client-originated events rebroadcast on
	// private and presence channels.
	ClientEventPrefix = "client-"
)

// Envelope is the outer JSON object of every frame on the wire. The channel
// field is only present on some server-to-client events (published events,
// client event rebroadcasts, subscription_succeeded).
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes an inbound frame.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, errors.New("envelope missing event")
	}
	return env, nil
}

// IsClientEvent reports whether an event name belongs to the client event
// namespace.
func IsClientEvent(event string) bool {
	return strings.HasPrefix(event, ClientEventPrefix)
}

// DecodeData unmarshals an envelope data field into v. Pusher clients send
// data either as a JSON object literal or as a string containing JSON;
// receivers must accept both forms.
func DecodeData(raw json.RawMessage, v any) error {
	trimmed := trimSpace(raw)
	if len(trimmed) == 0 {
		return errors.New("empty data")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		return json.Unmarshal([]byte(s), v)
	}
	return json.Unmarshal(trimmed, v)
}

func trimSpace(raw json.RawMessage) json.RawMessage {
	i := 0
	for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t' || raw[i] == '\n' || raw[i] == '\r') {
		i++
	}
	return raw[i:]
}

// SubscribePayload is the data field of pusher:subscribe. ChannelData is the
// stringified JSON presence identity; it is signed verbatim, so it stays a
// string here.
type SubscribePayload struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// UnsubscribePayload is the data field of pusher:unsubscribe.
type UnsubscribePayload struct {
	Channel string `json:"channel"`
}

// ClientEventPayload covers the legacy inbound form where the channel rides
// inside data instead of on the envelope.
type ClientEventPayload struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// PresenceData is the data field of a presence subscription_succeeded reply.
type PresenceData struct {
	Presence struct {
		Count int                        `json:"count"`
		IDs   []string                   `json:"ids"`
		Hash  map[string]json.RawMessage `json:"hash"`
	} `json:"presence"`
}
