package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"pusher:subscribe","data":{"channel":"chat-room"}}`))
	require.NoError(t, err)
	assert.Equal(t, "pusher:subscribe", env.Event)
	assert.JSONEq(t, `{"channel":"chat-room"}`, string(env.Data))
}

func TestParseEnvelopeWithChannel(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"client-typing","channel":"private-chat","data":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "client-typing", env.Event)
	assert.Equal(t, "private-chat", env.Channel)
}

func TestParseEnvelopeRejectsMissingEvent(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	original := Envelope{
		Event:   "new-msg",
		Channel: "chat-room",
		Data:    json.RawMessage(`"hi"`),
	}
	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := ParseEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, original.Event, decoded.Event)
	assert.Equal(t, original.Channel, decoded.Channel)
	assert.JSONEq(t, string(original.Data), string(decoded.Data))
}

func TestIsClientEvent(t *testing.T) {
	assert.True(t, IsClientEvent("client-typing"))
	assert.True(t, IsClientEvent("client-"))
	assert.False(t, IsClientEvent("pusher:ping"))
	assert.False(t, IsClientEvent("new-msg"))
}

func TestDecodeDataObjectForm(t *testing.T) {
	var p SubscribePayload
	err := DecodeData(json.RawMessage(`{"channel":"private-x","auth":"k:abc"}`), &p)
	require.NoError(t, err)
	assert.Equal(t, "private-x", p.Channel)
	assert.Equal(t, "k:abc", p.Auth)
}

func TestDecodeDataStringForm(t *testing.T) {
	// Some clients double-encode data as a JSON string containing JSON.
	var p SubscribePayload
	err := DecodeData(json.RawMessage(`"{\"channel\":\"chat-room\"}"`), &p)
	require.NoError(t, err)
	assert.Equal(t, "chat-room", p.Channel)
}

func TestDecodeDataLeadingWhitespace(t *testing.T) {
	var p UnsubscribePayload
	err := DecodeData(json.RawMessage("  \n {\"channel\":\"chat-room\"}"), &p)
	require.NoError(t, err)
	assert.Equal(t, "chat-room", p.Channel)
}

func TestDecodeDataEmpty(t *testing.T) {
	var p SubscribePayload
	assert.Error(t, DecodeData(nil, &p))
	assert.Error(t, DecodeData(json.RawMessage(``), &p))
}

func TestConnectionEstablishedShape(t *testing.T) {
	frame := ConnectionEstablished("123.456", 120)

	env, err := ParseEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, EventConnectionEstablished, env.Event)

	var data struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "123.456", data.SocketID)
	assert.Equal(t, 120, data.ActivityTimeout)
}

func TestPongShape(t *testing.T) {
	assert.JSONEq(t, `{"event":"pusher:pong","data":{}}`, string(Pong()))
}

func TestSubscriptionSucceededShape(t *testing.T) {
	frame := SubscriptionSucceeded("chat-room", struct{}{})
	assert.JSONEq(t, `{"event":"pusher_internal:subscription_succeeded","channel":"chat-room","data":{}}`, string(frame))
}

func TestSubscriptionErrorShape(t *testing.T) {
	frame := SubscriptionError("private-x", "invalid signature")
	assert.JSONEq(t, `{"event":"pusher:subscription_error","data":{"channel":"private-x","error":"invalid signature"}}`, string(frame))
}

func TestMemberAddedShape(t *testing.T) {
	frame := MemberAdded("presence-room", "u1", json.RawMessage(`{"name":"alice"}`))
	assert.JSONEq(t, `{"event":"pusher_internal:member_added","data":{"channel":"presence-room","user_id":"u1","user_info":{"name":"alice"}}}`, string(frame))
}

func TestMemberAddedNullInfo(t *testing.T) {
	frame := MemberAdded("presence-room", "u1", nil)
	assert.JSONEq(t, `{"event":"pusher_internal:member_added","data":{"channel":"presence-room","user_id":"u1","user_info":null}}`, string(frame))
}

func TestMemberRemovedShape(t *testing.T) {
	frame := MemberRemoved("presence-room", "u1")
	assert.JSONEq(t, `{"event":"pusher_internal:member_removed","data":{"channel":"presence-room","user_id":"u1"}}`, string(frame))
}

func TestErrorEventShape(t *testing.T) {
	frame := ErrorEvent(nil, "boom")
	assert.JSONEq(t, `{"event":"pusher:error","data":{"message":"boom"}}`, string(frame))

	code := 4001
	frame = ErrorEvent(&code, "over quota")
	assert.JSONEq(t, `{"event":"pusher:error","data":{"code":4001,"message":"over quota"}}`, string(frame))
}

func TestChannelEventCarriesDataVerbatim(t *testing.T) {
	frame := ChannelEvent("new-msg", "chat-room", json.RawMessage(`"hi"`))
	assert.JSONEq(t, `{"event":"new-msg","channel":"chat-room","data":"hi"}`, string(frame))
}
