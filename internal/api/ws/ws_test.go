package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

type wsFixture struct {
	hub *Hub
	srv *httptest.Server
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(logging.NewNop(), nil)
	go hub.Run()

	router := gin.New()
	router.GET("/stream", hub.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &wsFixture{hub: hub, srv: srv}
}

// dial connects a stream client and consumes the welcome frame so the
// caller knows registration completed.
func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	welcome := readFrame(t, conn)
	require.Equal(t, "system", welcome["type"])
	require.NotEmpty(t, welcome["client_id"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestStreamPingPong(t *testing.T) {
	f := newWSFixture(t)
	t.Cleanup(f.hub.Stop)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame["type"])
	assert.NotNil(t, frame["timestamp"])
}

func TestStreamRejectsUnknownFrames(t *testing.T) {
	f := newWSFixture(t)
	t.Cleanup(f.hub.Stop)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "teleport"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "unknown message type", frame["message"])
}

func TestStreamBroadcastsToEveryClient(t *testing.T) {
	f := newWSFixture(t)
	t.Cleanup(f.hub.Stop)

	first := f.dial(t)
	second := f.dial(t)

	f.hub.Publish(types.Event{
		Type:   types.EventPluginInstalled,
		UserID: "alice",
		Slug:   "weather-widget",
		Data:   map[string]interface{}{"version": "1.2.0"},
	})

	for _, conn := range []*websocket.Conn{first, second} {
		frame := readFrame(t, conn)
		assert.Equal(t, "plugin.installed", frame["type"])
		assert.Equal(t, "alice", frame["user_id"])
		assert.Equal(t, "weather-widget", frame["slug"])

		data, ok := frame["data"].(map[string]interface{})
		require.True(t, ok, "event data should survive the trip")
		assert.Equal(t, "1.2.0", data["version"])
	}
}

func TestStreamCarriesServiceEvents(t *testing.T) {
	f := newWSFixture(t)
	t.Cleanup(f.hub.Stop)
	conn := f.dial(t)

	f.hub.Publish(types.Event{
		Type:    types.EventServiceFailed,
		UserID:  "alice",
		Slug:    "weather-widget",
		Service: "api",
		Data:    map[string]interface{}{"operation": "start", "reason": "missing required environment variables: WEATHER_TOKEN"},
	})

	frame := readFrame(t, conn)
	assert.Equal(t, "service.failed", frame["type"])
	assert.Equal(t, "api", frame["service"])
	assert.NotEmpty(t, frame["timestamp"], "publish should stamp the event")
}

func TestStopDisconnectsClients(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	f.hub.Stop()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]interface{}
	err := conn.ReadJSON(&frame)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"expected a normal close, got %v", err)
}

func TestPublishAfterStopIsDiscarded(t *testing.T) {
	f := newWSFixture(t)
	f.hub.Stop()

	// Must not panic or block.
	f.hub.Publish(types.Event{Type: types.EventPluginUpdated, Slug: "weather-widget"})
}
