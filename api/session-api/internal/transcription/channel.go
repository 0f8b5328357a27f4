// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/coachlyai/api/session-api/internal/audio"
	internal_type "github.com/coachlyai/api/session-api/internal/type"
	"github.com/coachlyai/pkg/commons"
	"github.com/gorilla/websocket"
)

// Config controls the streaming connection to the speech-recognition
// service.
type Config struct {
	Endpoint                string
	Language                string
	SampleRate              int
	SilenceThresholdSeconds float64
	VadSensitivity          float64

	// FrameDuration is the fixed duration of each audio frame pushed to the
	// service. Audio is always streamed incrementally — never decoded as a
	// whole file.
	FrameDuration time.Duration

	// FinalizeGrace bounds how long Finalize waits for an in-flight commit
	// before promoting the last partial.
	FinalizeGrace time.Duration

	HandshakeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = int(internal_audio.COACHLY_INTERNAL_AUDIO_CONFIG.SampleRate)
	}
	if c.SilenceThresholdSeconds <= 0 {
		c.SilenceThresholdSeconds = 2.0
	}
	if c.VadSensitivity <= 0 {
		c.VadSensitivity = 0.5
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 100 * time.Millisecond
	}
	if c.FinalizeGrace <= 0 {
		c.FinalizeGrace = 750 * time.Millisecond
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
}

// ChannelOption customises channel construction.
type ChannelOption func(*Channel)

// WithPartialCallback registers a live-transcript observer. Partials are
// superseding and ephemeral; the callback must not block.
func WithPartialCallback(fn func(turnIndex int, text string)) ChannelOption {
	return func(c *Channel) {
		c.onPartial = fn
	}
}

// Channel is the long-lived bidirectional streaming connection to the
// speech-recognition service. Exactly one Channel exists per live training
// session; the session controller owns it exclusively.
//
// The channel accumulates recognition results into a per-turn window: the
// turn coordinator resets the window at each turn boundary and finalizes it
// synchronously before any turn-index mutation.
type Channel struct {
	logger    commons.Logger
	cfg       Config
	resampler internal_type.AudioResampler
	dialer    *websocket.Dialer

	// writeMu serialises websocket writes (gorilla permits one writer).
	writeMu sync.Mutex

	mu           sync.Mutex
	conn         *websocket.Conn
	frameBuf     []byte
	windowIndex  int
	partial      string
	committed    string
	hasCommitted bool
	committedAt  time.Time
	commitCh     chan struct{}
	degraded     bool
	closed       bool
	reconnected  bool

	onPartial func(turnIndex int, text string)
	done      chan struct{}
}

// NewChannel dials the service, performs the configuration handshake, and
// starts the event reader. The returned channel is ready to receive audio.
func NewChannel(
	ctx context.Context,
	logger commons.Logger,
	cfg Config,
	resampler internal_type.AudioResampler,
	opts ...ChannelOption,
) (*Channel, error) {
	cfg.applyDefaults()

	c := &Channel{
		logger:    logger,
		cfg:       cfg,
		resampler: resampler,
		dialer:    websocket.DefaultDialer,
		commitCh:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, internal_type.NewFault(internal_type.FaultChannelDisconnected,
			"transcription handshake failed", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return c, nil
}

// connect dials the endpoint, sends the configuration handshake, and waits
// for the sessionStarted acknowledgement.
func (c *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to transcription service: %w", err)
	}

	handshake := clientMessage{
		Type:                    messageTypeStart,
		Language:                c.cfg.Language,
		SampleRate:              c.cfg.SampleRate,
		SilenceThresholdSeconds: c.cfg.SilenceThresholdSeconds,
		VadSensitivity:          c.cfg.VadSensitivity,
	}
	if err := conn.WriteJSON(handshake); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	var ack serverEvent
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake acknowledgement failed: %w", err)
	}
	if ack.Type != eventSessionStarted {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected handshake response %q", ack.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// readLoop consumes server events until the connection closes. One
// reconnect is attempted on unexpected close mid-session; after that the
// channel degrades — remaining turns resolve to unavailable segments
// without aborting the session.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var event serverEvent
		if err := conn.ReadJSON(&event); err != nil {
			c.mu.Lock()
			closed := c.closed
			alreadyReconnected := c.reconnected
			c.mu.Unlock()

			if closed {
				return
			}
			if !alreadyReconnected {
				c.mu.Lock()
				c.reconnected = true
				c.mu.Unlock()

				c.logger.Warnw("transcription: connection lost, attempting single reconnect", "error", err)
				dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
				next, dialErr := c.connect(dialCtx)
				cancel()
				if dialErr == nil {
					c.mu.Lock()
					c.conn = next
					c.mu.Unlock()
					conn = next
					c.logger.Infow("transcription: reconnected")
					continue
				}
				c.logger.Errorw("transcription: reconnect failed, degrading", "error", dialErr)
			}

			c.mu.Lock()
			c.degraded = true
			c.mu.Unlock()
			close(c.done)
			return
		}

		switch event.Type {
		case eventPartialTranscript:
			c.mu.Lock()
			c.partial = event.Text
			index := c.windowIndex
			cb := c.onPartial
			c.mu.Unlock()
			if cb != nil {
				cb(index, event.Text)
			}

		case eventCommittedTranscript:
			c.mu.Lock()
			c.committed = event.Text
			c.hasCommitted = true
			c.committedAt = time.Now()
			c.mu.Unlock()
			select {
			case c.commitCh <- struct{}{}:
			default:
			}

		case eventError:
			c.logger.Warnw("transcription: service reported an error",
				"kind", event.Kind, "message", event.Message)

		case eventSessionStarted:
			// duplicate ack after reconnect, ignore

		default:
			c.logger.Debugw("transcription: unknown event type, skipping", "type", event.Type)
		}
	}
}

// PushAudio resamples mic PCM to the channel's fixed rate and streams it as
// fixed-duration base64 frames. Audio pushed on a degraded channel is
// dropped silently — the session continues without live transcription.
func (c *Channel) PushAudio(pcm []byte, from internal_type.AudioConfig) error {
	c.mu.Lock()
	if c.closed || c.degraded {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	target := internal_type.AudioConfig{
		SampleRate: uint32(c.cfg.SampleRate),
		Channels:   1,
	}
	if from != target && c.resampler != nil {
		resampled, err := c.resampler.Resample(pcm, from, target)
		if err != nil {
			return fmt.Errorf("transcription: resample failed: %w", err)
		}
		pcm = resampled
	}

	frameBytes := c.frameBytes()
	var frames [][]byte

	c.mu.Lock()
	c.frameBuf = append(c.frameBuf, pcm...)
	for len(c.frameBuf) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, c.frameBuf[:frameBytes])
		c.frameBuf = c.frameBuf[frameBytes:]
		frames = append(frames, frame)
	}
	c.mu.Unlock()

	for _, frame := range frames {
		msg := clientMessage{
			Type:             messageTypeAudio,
			AudioChunkBase64: base64.StdEncoding.EncodeToString(frame),
			SampleRate:       c.cfg.SampleRate,
		}
		if err := c.writeJSON(msg); err != nil {
			return internal_type.NewFault(internal_type.FaultChannelDisconnected,
				"failed to stream audio frame", err)
		}
	}
	return nil
}

func (c *Channel) frameBytes() int {
	return int(float64(c.cfg.SampleRate) * 2 * c.cfg.FrameDuration.Seconds())
}

// ResetWindow starts transcript accumulation for a new turn index. Any
// stale partial/committed state from the previous window is discarded.
func (c *Channel) ResetWindow(turnIndex int) {
	c.mu.Lock()
	c.windowIndex = turnIndex
	c.partial = ""
	c.committed = ""
	c.hasCommitted = false
	c.mu.Unlock()

	// Drain a stale commit signal so it cannot satisfy the next finalize.
	select {
	case <-c.commitCh:
	default:
	}
}

// Finalize resolves the current window's transcript. A committed result
// wins verbatim whenever one arrived — or arrives while the forced
// finalize is still in flight. Otherwise the last partial is promoted with
// Forced set. On a degraded channel the segment is marked unavailable.
func (c *Channel) Finalize(ctx context.Context) (internal_type.TranscriptSegment, error) {
	c.mu.Lock()
	index := c.windowIndex
	if c.hasCommitted {
		seg := internal_type.TranscriptSegment{
			TurnIndex:  index,
			Kind:       internal_type.SegmentCommitted,
			Text:       c.committed,
			ReceivedAt: c.committedAt,
		}
		c.mu.Unlock()
		return seg, nil
	}
	degraded := c.degraded
	c.mu.Unlock()

	if degraded {
		return internal_type.TranscriptSegment{
			TurnIndex:  index,
			Kind:       internal_type.SegmentUnavailable,
			Forced:     true,
			ReceivedAt: time.Now(),
		}, nil
	}

	// Ask the service to flush-and-commit now. If it cannot, the last
	// partial is promoted after the grace window.
	if err := c.writeJSON(clientMessage{Type: messageTypeFinalize}); err != nil {
		c.logger.Debugw("transcription: finalize request failed, promoting partial", "error", err)
	}

	grace := time.NewTimer(c.cfg.FinalizeGrace)
	defer grace.Stop()

	select {
	case <-c.commitCh:
		c.mu.Lock()
		seg := internal_type.TranscriptSegment{
			TurnIndex:  index,
			Kind:       internal_type.SegmentCommitted,
			Text:       c.committed,
			ReceivedAt: c.committedAt,
		}
		c.mu.Unlock()
		return seg, nil
	case <-grace.C:
	case <-ctx.Done():
	case <-c.done:
	}

	// No commit arrived: promote the last-seen partial.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasCommitted {
		// Commit raced in just before the lock — it still wins.
		return internal_type.TranscriptSegment{
			TurnIndex:  index,
			Kind:       internal_type.SegmentCommitted,
			Text:       c.committed,
			ReceivedAt: c.committedAt,
		}, nil
	}
	kind := internal_type.SegmentCommitted
	if c.degraded {
		kind = internal_type.SegmentUnavailable
	}
	return internal_type.TranscriptSegment{
		TurnIndex:  index,
		Kind:       kind,
		Text:       c.partial,
		Forced:     true,
		ReceivedAt: time.Now(),
	}, nil
}

// Degraded reports whether the channel lost its connection permanently.
func (c *Channel) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Stop requests a forced finalize of any in-flight partial and closes the
// connection. Idempotent.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		// Best effort: let the server commit the in-flight partial before
		// the close lands.
		_ = c.writeJSON(clientMessage{Type: messageTypeFinalize})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if err := conn.Close(); err != nil {
			return fmt.Errorf("error closing transcription connection: %w", err)
		}
	}
	c.logger.Info("transcription: channel closed")
	return nil
}

func (c *Channel) writeJSON(msg clientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transcription connection is not initialized")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
