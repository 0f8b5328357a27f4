package session_live_api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_recorder "github.com/coachlyai/api/session-api/internal/audio/recorder"
	"github.com/coachlyai/pkg/commons"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newTestApi(t *testing.T) *LiveApi {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return &LiveApi{logger: logger}
}

// The serve loop and the transcription channel's read loop both write to
// the client socket. This hammers send from many goroutines at once the
// way a flood of partials interleaved with control responses would, and
// checks every message still lands intact on the client side.
func TestSendSerializesConcurrentWriters(t *testing.T) {
	api := newTestApi(t)

	const writers = 8
	const perWriter = 50

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer socket.Close()
		conn := &clientConn{conn: socket}

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(turn int) {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					api.send(conn, serverMessage{Type: "partial", TurnIndex: turn, Text: "ninety"})
				}
			}(i)
		}
		wg.Wait()
		api.send(conn, serverMessage{Type: "sessionEnded"})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	partials := 0
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg serverMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "sessionEnded" {
			break
		}
		require.Equal(t, "partial", msg.Type)
		partials++
	}
	assert.Equal(t, writers*perWriter, partials)
}

func TestDeviceClassFromQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/session/live/s-1?deviceClass=constrained", nil)
	assert.Equal(t, internal_recorder.DeviceClassConstrained, deviceClassFor(c))

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/session/live/s-1", nil)
	assert.Equal(t, internal_recorder.DeviceClassStandard, deviceClassFor(c))
}
