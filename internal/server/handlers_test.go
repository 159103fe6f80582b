package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/pusherd/internal/broker"
	"github.com/adred-codev/pusherd/internal/config"
	"github.com/adred-codev/pusherd/internal/protocol"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Addr:            ":0",
		AppID:           "test",
		AppKey:          "test",
		AppSecret:       "test",
		ActivityTimeout: 120 * time.Second,
		ShutdownGrace:   time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
	require.NoError(t, cfg.Validate())
	return New(cfg, zerolog.Nop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// signedPublish posts an events request carrying the full auth query.
func signedPublish(t *testing.T, h http.Handler, appID, key, secret string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	path := "/apps/" + appID + "/events"
	params := url.Values{}
	params.Set("auth_key", key)
	params.Set("auth_timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("auth_version", "1.0")
	params.Set("body_md5", protocol.BodyMD5(body))
	params.Set("auth_signature", protocol.APISignature(secret, "POST", path, params))

	req := httptest.NewRequest(http.MethodPost, path+"?"+params.Encode(), bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAuthEndpointPrivateChannel(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/apps/test/auth", map[string]string{
		"socket_id":    "1.2",
		"channel_name": "private-x",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Auth string `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// sha256("1.2:private-x:test")
	assert.Equal(t, "test:5133dba9e1f2f565c7242df5ddfd6568cb00f2ae19e359c16abf5ec5076a5f03", resp.Auth)
}

func TestAuthEndpointRejectsPublicChannel(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/apps/test/auth", map[string]string{
		"socket_id":    "1.2",
		"channel_name": "chat-room",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Public channels don't need authentication")
}

func TestAuthEndpointValidation(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/apps/test/auth", map[string]string{"socket_id": "1.2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodPost, "/apps/missing/auth", map[string]string{
		"socket_id":    "1.2",
		"channel_name": "private-x",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthEndpointBindsChannelData(t *testing.T) {
	srv := newTestServer(t)
	channelData := `{"user_id":"u1"}`

	w := doJSON(t, srv.Handler(), http.MethodPost, "/apps/test/auth", map[string]string{
		"socket_id":    "1.2",
		"channel_name": "presence-room",
		"channel_data": channelData,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Auth string `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, protocol.SubscriptionToken("test", "test", "1.2", "presence-room", channelData), resp.Auth)
}

func TestCreateApp(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/apps", map[string]string{
		"id": "acme", "key": "acme-key", "secret": "acme-secret",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// The new application serves auth requests with its own secret.
	w = doJSON(t, srv.Handler(), http.MethodPost, "/apps/acme/auth", map[string]string{
		"socket_id":    "1.2",
		"channel_name": "private-x",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Auth string `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Auth, "acme-key:"))
}

func TestCreateAppValidation(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/apps", map[string]string{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The bootstrap app id is taken.
	w = doJSON(t, srv.Handler(), http.MethodPost, "/apps", map[string]string{
		"id": "test", "key": "k", "secret": "s",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishRequiresAuthParams(t *testing.T) {
	srv := newTestServer(t)
	body := []byte(`{"name":"new-msg","data":"hi","channels":[]}`)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/apps/test/events", json.RawMessage(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "auth_key")
}

func TestPublishRejectsBadKey(t *testing.T) {
	srv := newTestServer(t)
	body := []byte(`{"name":"new-msg","data":"hi","channels":[]}`)

	w := signedPublish(t, srv.Handler(), "test", "wrong-key", "test", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPublishRejectsBadBodyMD5(t *testing.T) {
	srv := newTestServer(t)
	body := []byte(`{"name":"new-msg","data":"hi","channels":[]}`)

	path := "/apps/test/events"
	params := url.Values{}
	params.Set("auth_key", "test")
	params.Set("auth_timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("auth_version", "1.0")
	params.Set("body_md5", protocol.BodyMD5([]byte("other body")))
	params.Set("auth_signature", protocol.APISignature("test", "POST", path, params))

	req := httptest.NewRequest(http.MethodPost, path+"?"+params.Encode(), bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPublishRejectsBadSignature(t *testing.T) {
	srv := newTestServer(t)
	body := []byte(`{"name":"new-msg","data":"hi","channels":[]}`)

	w := signedPublish(t, srv.Handler(), "test", "test", "wrong-secret", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPublishEmptyChannelsIsNoOp(t *testing.T) {
	srv := newTestServer(t)
	body := []byte(`{"name":"new-msg","data":"hi","channels":[]}`)

	w := signedPublish(t, srv.Handler(), "test", "test", "test", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublishMissingChannelIs404(t *testing.T) {
	srv := newTestServer(t)
	body := []byte(`{"name":"new-msg","data":"hi","channels":["nonexistent"]}`)

	w := signedPublish(t, srv.Handler(), "test", "test", "test", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ChannelNotFound")
}

func TestPublishToEmptyChannelSucceeds(t *testing.T) {
	srv := newTestServer(t)
	app, err := srv.Apps().Get("test")
	require.NoError(t, err)
	app.Channels.GetOrCreate("chat-room")

	body := []byte(`{"name":"new-msg","data":"hi","channels":["chat-room"]}`)
	w := signedPublish(t, srv.Handler(), "test", "test", "test", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublishMissingAppIs404(t *testing.T) {
	srv := newTestServer(t)
	body := []byte(`{"name":"new-msg","data":"hi","channels":[]}`)

	w := signedPublish(t, srv.Handler(), "missing", "test", "test", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChannelStateUnknownChannelIs404(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/apps/test/channels/chat-room", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ChannelNotFound")
}

func TestChannelStateEmptyChannel(t *testing.T) {
	srv := newTestServer(t)
	app, err := srv.Apps().Get("test")
	require.NoError(t, err)
	app.Channels.GetOrCreate("chat-room")

	w := doJSON(t, srv.Handler(), http.MethodGet, "/apps/test/channels/chat-room", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"occupied":false,"subscription_count":0}`, w.Body.String())
}

func TestChannelUsersMissingChannelIs404(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/apps/test/channels/chat-room/users", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteChannel(t *testing.T) {
	srv := newTestServer(t)
	app, err := srv.Apps().Get("test")
	require.NoError(t, err)
	app.Channels.GetOrCreate("chat-room")

	w := doJSON(t, srv.Handler(), http.MethodDelete, "/apps/test/channels/chat-room", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, app.Channels.Exists("chat-room"))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.EqualValues(t, 1, resp["applications"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pusherd_connections_total")
}

func TestErrorResponseShape(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/apps/missing/channels/chat-room", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, broker.KindApplicationNotFound.String(), resp.Error)
	assert.NotEmpty(t, resp.Message)
}
