package internal_transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	internal_audio "github.com/coachlyai/api/session-api/internal/audio"
	internal_type "github.com/coachlyai/api/session-api/internal/type"
	"github.com/coachlyai/pkg/commons"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test server
// ============================================================================

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newSTTServer runs a fake speech-recognition endpoint. The handler is
// invoked after the handshake has been acknowledged.
func newSTTServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var hello clientMessage
		if err := conn.ReadJSON(&hello); err != nil {
			return
		}
		if hello.Type != messageTypeStart || hello.SampleRate == 0 {
			_ = conn.WriteJSON(serverEvent{Type: eventError, Kind: "bad_handshake"})
			return
		}
		_ = conn.WriteJSON(serverEvent{Type: eventSessionStarted})
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestChannel(t *testing.T, srv *httptest.Server, cfg Config, opts ...ChannelOption) *Channel {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	cfg.Endpoint = wsURL(srv)

	ch, err := NewChannel(context.Background(), logger, cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Stop(context.Background()) })
	return ch
}

// drain keeps reading client messages so writes never block; finalize
// requests are forwarded to onFinalize when set.
func drain(conn *websocket.Conn, onFinalize func()) {
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == messageTypeFinalize && onFinalize != nil {
			onFinalize()
		}
	}
}

// awaitAudio blocks until the client streams its first audio frame. Tests
// use it to sequence server events after the window under test is open.
func awaitAudio(conn *websocket.Conn) error {
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == messageTypeAudio {
			return nil
		}
	}
}

// pushFrame streams exactly one full frame at the internal rate.
func pushFrame(t *testing.T, ch *Channel) {
	t.Helper()
	frame := make([]byte, ch.frameBytes())
	require.NoError(t, ch.PushAudio(frame, internal_audio.COACHLY_INTERNAL_AUDIO_CONFIG))
}

// ============================================================================
// Handshake & events
// ============================================================================

func TestHandshakeAndCommittedTranscript(t *testing.T) {
	srv := newSTTServer(t, func(conn *websocket.Conn) {
		if awaitAudio(conn) != nil {
			return
		}
		_ = conn.WriteJSON(serverEvent{Type: eventPartialTranscript, Text: "ninety"})
		_ = conn.WriteJSON(serverEvent{Type: eventPartialTranscript, Text: "ninety-five"})
		_ = conn.WriteJSON(serverEvent{Type: eventCommittedTranscript, Text: "ninety-five dollars"})
		drain(conn, nil)
	})

	ch := newTestChannel(t, srv, Config{})
	ch.ResetWindow(0)
	pushFrame(t, ch)

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.hasCommitted
	}, 2*time.Second, 10*time.Millisecond)

	seg, err := ch.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, internal_type.SegmentCommitted, seg.Kind)
	assert.Equal(t, "ninety-five dollars", seg.Text)
	assert.False(t, seg.Forced)
	assert.Equal(t, 0, seg.TurnIndex)
}

func TestPartialCallbackObservesLiveText(t *testing.T) {
	srv := newSTTServer(t, func(conn *websocket.Conn) {
		if awaitAudio(conn) != nil {
			return
		}
		_ = conn.WriteJSON(serverEvent{Type: eventPartialTranscript, Text: "i don't"})
		drain(conn, nil)
	})

	var gotText atomic.Value
	ch := newTestChannel(t, srv, Config{}, WithPartialCallback(func(turnIndex int, text string) {
		gotText.Store(text)
	}))
	ch.ResetWindow(3)
	pushFrame(t, ch)

	require.Eventually(t, func() bool {
		v, _ := gotText.Load().(string)
		return v == "i don't"
	}, 2*time.Second, 10*time.Millisecond)
}

// ============================================================================
// Finalization
// ============================================================================

func TestForcedFinalizePromotesLastPartial(t *testing.T) {
	srv := newSTTServer(t, func(conn *websocket.Conn) {
		if awaitAudio(conn) != nil {
			return
		}
		_ = conn.WriteJSON(serverEvent{Type: eventPartialTranscript, Text: "it's on the second shelf"})
		drain(conn, nil) // never commits
	})

	ch := newTestChannel(t, srv, Config{FinalizeGrace: 150 * time.Millisecond})
	ch.ResetWindow(2)
	pushFrame(t, ch)

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.partial != ""
	}, 2*time.Second, 10*time.Millisecond)

	seg, err := ch.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "it's on the second shelf", seg.Text)
	assert.True(t, seg.Forced, "promotion from partial must be distinguishable from a VAD commit")
}

func TestCommitDuringForcedFinalizeWins(t *testing.T) {
	srv := newSTTServer(t, func(conn *websocket.Conn) {
		if awaitAudio(conn) != nil {
			return
		}
		_ = conn.WriteJSON(serverEvent{Type: eventPartialTranscript, Text: "i don't"})
		drain(conn, func() {
			_ = conn.WriteJSON(serverEvent{Type: eventCommittedTranscript, Text: "i don't know"})
		})
	})

	ch := newTestChannel(t, srv, Config{FinalizeGrace: 3 * time.Second})
	ch.ResetWindow(1)
	pushFrame(t, ch)

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.partial != ""
	}, 2*time.Second, 10*time.Millisecond)

	seg, err := ch.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "i don't know", seg.Text, "a commit arriving before forced finalize resolves wins verbatim")
	assert.False(t, seg.Forced)
}

func TestResetWindowDiscardsPreviousCommit(t *testing.T) {
	srv := newSTTServer(t, func(conn *websocket.Conn) {
		if awaitAudio(conn) != nil {
			return
		}
		_ = conn.WriteJSON(serverEvent{Type: eventCommittedTranscript, Text: "first answer"})
		drain(conn, nil)
	})

	ch := newTestChannel(t, srv, Config{FinalizeGrace: 100 * time.Millisecond})
	ch.ResetWindow(0)
	pushFrame(t, ch)

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.hasCommitted
	}, 2*time.Second, 10*time.Millisecond)

	ch.ResetWindow(1)
	seg, err := ch.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, seg.TurnIndex)
	assert.Empty(t, seg.Text, "the previous turn's commit must not leak into the new window")
	assert.True(t, seg.Forced)
}

// ============================================================================
// Audio streaming
// ============================================================================

func TestPushAudioStreamsFixedDurationFrames(t *testing.T) {
	frames := make(chan map[string]any, 16)
	srv := newSTTServer(t, func(conn *websocket.Conn) {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(raw, &msg) == nil && msg["type"] == messageTypeAudio {
				frames <- msg
			}
		}
	})

	// 10ms at 16kHz mono LINEAR16 = 320 bytes per frame.
	ch := newTestChannel(t, srv, Config{FrameDuration: 10 * time.Millisecond})
	ch.ResetWindow(0)

	require.NoError(t, ch.PushAudio(make([]byte, 700), internal_audio.COACHLY_INTERNAL_AUDIO_CONFIG))

	for i := 0; i < 2; i++ {
		select {
		case frame := <-frames:
			payload, err := base64.StdEncoding.DecodeString(frame["audioChunkBase64"].(string))
			require.NoError(t, err)
			assert.Len(t, payload, 320)
			assert.Equal(t, float64(16000), frame["sampleRate"])
			assert.NotContains(t, frame, "frameSampleRate")
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for audio frame")
		}
	}
	// 60 bytes remain buffered until the next push completes a frame.
	ch.mu.Lock()
	assert.Len(t, ch.frameBuf, 60)
	ch.mu.Unlock()
}

// ============================================================================
// Reconnect & degradation
// ============================================================================

func TestReconnectFailureDegradesWithoutAborting(t *testing.T) {
	var accepted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accepted.Add(1) > 1 {
			// Reject the reconnect attempt outright.
			http.Error(w, "gone", http.StatusGone)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var hello clientMessage
		_ = conn.ReadJSON(&hello)
		_ = conn.WriteJSON(serverEvent{Type: eventSessionStarted})
		_ = conn.WriteJSON(serverEvent{Type: eventPartialTranscript, Text: "hello"})
		_ = conn.Close() // unexpected close mid-session
	}))
	t.Cleanup(srv.Close)

	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	ch, err := NewChannel(context.Background(), logger, Config{
		Endpoint:         wsURL(srv),
		HandshakeTimeout: time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Stop(context.Background()) })
	ch.ResetWindow(0)

	require.Eventually(t, ch.Degraded, 5*time.Second, 20*time.Millisecond)

	// Audio on a degraded channel is dropped, not an error.
	require.NoError(t, ch.PushAudio(make([]byte, 320), internal_audio.COACHLY_INTERNAL_AUDIO_CONFIG))

	seg, err := ch.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, internal_type.SegmentUnavailable, seg.Kind)
	assert.True(t, seg.Forced)
}

func TestStopIsIdempotent(t *testing.T) {
	srv := newSTTServer(t, func(conn *websocket.Conn) {
		drain(conn, nil)
	})
	ch := newTestChannel(t, srv, Config{})

	require.NoError(t, ch.Stop(context.Background()))
	require.NoError(t, ch.Stop(context.Background()))
}
