// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package session_live_api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/coachlyai/api/session-api/config"
	internal_audio "github.com/coachlyai/api/session-api/internal/audio"
	internal_mixer "github.com/coachlyai/api/session-api/internal/audio/mixer"
	internal_recorder "github.com/coachlyai/api/session-api/internal/audio/recorder"
	internal_resampler "github.com/coachlyai/api/session-api/internal/audio/resampler"
	internal_session "github.com/coachlyai/api/session-api/internal/session"
	internal_sessioncontext "github.com/coachlyai/api/session-api/internal/sessioncontext"
	internal_transcription "github.com/coachlyai/api/session-api/internal/transcription"
	internal_type "github.com/coachlyai/api/session-api/internal/type"
	internal_upload "github.com/coachlyai/api/session-api/internal/upload"
	"github.com/coachlyai/pkg/commons"
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client control messages multiplexed with binary mic frames on one socket.
type controlMessage struct {
	Type   string `json:"type"` // beginTurn | advanceTurn | endSession
	Prompt string `json:"prompt,omitempty"`
}

type serverMessage struct {
	Type      string                          `json:"type"` // turnOpened | partial | sessionEnded | error
	TurnIndex int                             `json:"turnIndex,omitempty"`
	Text      string                          `json:"text,omitempty"`
	Record    *internal_session.SessionRecord `json:"record,omitempty"`
	Message   string                          `json:"message,omitempty"`
}

// clientConn serializes writes to the client socket. The serve loop and
// the transcription channel's read loop both emit server messages, and
// gorilla/websocket allows only one concurrent writer per connection.
type clientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *clientConn) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, payload)
}

// LiveApi terminates the live training-session socket: control messages
// drive the turn lifecycle, binary frames carry trainee microphone PCM.
type LiveApi struct {
	cfg     *config.AppConfig
	logger  commons.Logger
	store   internal_sessioncontext.Store
	gateway internal_recorder.DeviceGateway
}

// New builds the live session API. gateway may be nil — sessions then run
// transcript-only with a mixed-down audio artifact.
func New(
	cfg *config.AppConfig,
	logger commons.Logger,
	store internal_sessioncontext.Store,
	gateway internal_recorder.DeviceGateway,
) *LiveApi {
	return &LiveApi{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		gateway: gateway,
	}
}

// Connect upgrades the request and runs the session until endSession or
// disconnect.
//
// @Router /v1/session/live/:sessionId [get]
func (api *LiveApi) Connect(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	socket, err := liveUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorw("live: websocket upgrade failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to upgrade to websocket"})
		return
	}
	defer socket.Close()

	conn := &clientConn{conn: socket}
	controller, err := api.buildController(c.Request.Context(), conn, sessionID)
	if err != nil {
		api.logger.Errorw("live: session setup failed", "session", sessionID, "error", err)
		api.send(conn, serverMessage{Type: "error", Message: err.Error()})
		return
	}

	if err := controller.Start(c.Request.Context(), deviceClassFor(c)); err != nil {
		api.logger.Errorw("live: session start failed", "session", sessionID, "error", err)
		api.send(conn, serverMessage{Type: "error", Message: err.Error()})
		return
	}

	api.serve(conn, sessionID, controller)
}

func (api *LiveApi) buildController(ctx context.Context, conn *clientConn, sessionID string) (*internal_session.Controller, error) {
	channel, err := internal_transcription.NewChannel(ctx, api.logger,
		internal_transcription.Config{
			Endpoint:                api.cfg.TranscriptionHost,
			Language:                api.cfg.TranscriptionLanguage,
			SilenceThresholdSeconds: api.cfg.SilenceThreshold,
			VadSensitivity:          api.cfg.VadSensitivity,
		},
		api.resampler(),
		internal_transcription.WithPartialCallback(func(turnIndex int, text string) {
			api.send(conn, serverMessage{Type: "partial", TurnIndex: turnIndex, Text: text})
		}),
	)
	if err != nil {
		return nil, err
	}

	var capture *internal_recorder.CaptureSession
	if api.gateway != nil {
		capture = internal_recorder.NewCaptureSession(api.logger, api.gateway)
	}

	return internal_session.NewController(api.logger, sessionID, internal_session.ControllerDeps{
		Capture: capture,
		Stream:  channel,
		Mixer:   internal_mixer.NewGraph(api.logger),
		Uploader: internal_upload.NewPipeline(api.logger, internal_upload.Config{
			Endpoint: api.cfg.BlobHost,
			Budget:   time.Duration(api.cfg.UploadBudgetSeconds) * time.Second,
		}),
		Assembler: internal_session.NewAssembler(api.logger, internal_session.AssemblerConfig{
			SaveEndpoint: api.cfg.RecordHost,
		}),
		Store: api.store,
	}), nil
}

func (api *LiveApi) resampler() internal_type.AudioResampler {
	r, err := internal_resampler.GetResampler(api.logger)
	if err != nil {
		api.logger.Warnw("live: resampler unavailable, streaming at source rate", "error", err)
		return nil
	}
	return r
}

func (api *LiveApi) serve(conn *clientConn, sessionID string, controller *internal_session.Controller) {
	defer func() {
		// Disconnect without endSession still ends the session cleanly:
		// finalize, drain, upload, save.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := controller.EndSession(ctx); err != nil {
			api.logger.Errorw("live: session teardown failed", "session", sessionID, "error", err)
		}
	}()

	for {
		messageType, payload, err := conn.conn.ReadMessage()
		if err != nil {
			api.logger.Infow("live: client disconnected", "session", sessionID, "error", err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := controller.PushMic(payload, internal_audio.CAPTURE_AUDIO_CONFIG); err != nil {
				api.logger.Warnw("live: dropping mic frame", "session", sessionID, "error", err)
			}

		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				api.send(conn, serverMessage{Type: "error", Message: "malformed control message"})
				continue
			}
			if done := api.handleControl(conn, sessionID, controller, msg); done {
				return
			}
		}
	}
}

func (api *LiveApi) handleControl(conn *clientConn, sessionID string, controller *internal_session.Controller, msg controlMessage) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch msg.Type {
	case "beginTurn":
		index, err := controller.BeginTurn(msg.Prompt)
		if err != nil {
			api.send(conn, serverMessage{Type: "error", Message: err.Error()})
			return false
		}
		api.send(conn, serverMessage{Type: "turnOpened", TurnIndex: index})

	case "advanceTurn":
		index, err := controller.AdvanceTurn(ctx, msg.Prompt)
		if err != nil {
			api.send(conn, serverMessage{Type: "error", Message: err.Error()})
			return false
		}
		api.send(conn, serverMessage{Type: "turnOpened", TurnIndex: index})

	case "endSession":
		endCtx, endCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer endCancel()
		record, err := controller.EndSession(endCtx)
		if err != nil {
			api.send(conn, serverMessage{Type: "error", Message: err.Error(), Record: record})
			return true
		}
		api.send(conn, serverMessage{Type: "sessionEnded", Record: record})
		return true

	default:
		api.send(conn, serverMessage{Type: "error", Message: "unknown control message type"})
	}
	return false
}

func (api *LiveApi) send(conn *clientConn, msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := conn.write(websocket.TextMessage, payload); err != nil {
		api.logger.Debugw("live: failed to write server message", "type", msg.Type, "error", err)
	}
}

func deviceClassFor(c *gin.Context) internal_recorder.DeviceClass {
	if c.Query("deviceClass") == "constrained" {
		return internal_recorder.DeviceClassConstrained
	}
	return internal_recorder.DeviceClassStandard
}
