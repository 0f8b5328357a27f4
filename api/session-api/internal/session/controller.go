// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_session

import (
	"context"
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/coachlyai/api/session-api/internal/audio"
	internal_mixer "github.com/coachlyai/api/session-api/internal/audio/mixer"
	internal_recorder "github.com/coachlyai/api/session-api/internal/audio/recorder"
	internal_turn "github.com/coachlyai/api/session-api/internal/turn"
	internal_type "github.com/coachlyai/api/session-api/internal/type"
	internal_upload "github.com/coachlyai/api/session-api/internal/upload"
	"github.com/coachlyai/pkg/commons"
)

// TranscriptionStream is what the controller needs from the live
// speech-recognition connection.
type TranscriptionStream interface {
	internal_type.TurnTranscriber
	PushAudio(pcm []byte, from internal_type.AudioConfig) error
	Stop(ctx context.Context) error
	Degraded() bool
}

// Uploader delivers finished recording artifacts.
type Uploader interface {
	Upload(ctx context.Context, sessionID string, artifact *internal_type.UploadArtifact) (*internal_upload.Result, error)
}

// ContextStore tracks the session row through its status lifecycle. Optional:
// a nil store means the session runs unpersisted.
type ContextStore interface {
	Live(ctx context.Context, sessionID string) error
	Complete(ctx context.Context, sessionID string, recordID string, artifactURL *string) error
	Fail(ctx context.Context, sessionID string, reason string) error
}

// ControllerDeps carries the collaborators the controller orchestrates.
type ControllerDeps struct {
	Capture   *internal_recorder.CaptureSession
	Stream    TranscriptionStream
	Mixer     *internal_mixer.Graph
	Uploader  Uploader
	Assembler *Assembler
	Store     ContextStore
	Clock     func() time.Time
}

// Controller owns exactly one live training session: one capture session,
// one transcription stream, one mixing graph. All mutation flows through its
// operations; nothing else touches the collaborators while the session runs.
type Controller struct {
	logger    commons.Logger
	sessionID string
	deps      ControllerDeps

	coordinator *internal_turn.Coordinator

	mu           sync.Mutex
	started      bool
	startedAt    time.Time
	captureDown  bool
	micHandle    internal_mixer.Handle
	micAttached  bool
	agentHandles map[string]internal_mixer.Handle

	endOnce   sync.Once
	endRecord *SessionRecord
	endErr    error
}

func NewController(logger commons.Logger, sessionID string, deps ControllerDeps) *Controller {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Controller{
		logger:       logger,
		sessionID:    sessionID,
		deps:         deps,
		coordinator:  internal_turn.NewCoordinator(logger, deps.Stream),
		agentHandles: make(map[string]internal_mixer.Handle),
	}
}

// Start brings the session live: claims the context row, starts device
// capture, and attaches the trainee microphone to the mixing graph. A
// permission or device failure degrades to a transcript-only session instead
// of failing the start.
func (c *Controller) Start(ctx context.Context, class internal_recorder.DeviceClass) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return internal_type.NewFault(internal_type.FaultAlreadyActive,
			"session is already live", nil)
	}
	c.started = true
	c.startedAt = c.deps.Clock()
	c.mu.Unlock()

	if c.deps.Store != nil {
		if err := c.deps.Store.Live(ctx, c.sessionID); err != nil {
			return fmt.Errorf("failed to claim session %s: %w", c.sessionID, err)
		}
	}

	if c.deps.Capture != nil {
		if err := c.deps.Capture.Start(ctx, class); err != nil {
			kind := internal_type.FaultKindOf(err)
			if kind == internal_type.FaultPermissionDenied || kind == internal_type.FaultDeviceUnavailable {
				c.logger.Warnw("session: continuing transcript-only, capture unavailable",
					"session", c.sessionID, "fault", kind)
				c.mu.Lock()
				c.captureDown = true
				c.mu.Unlock()
			} else {
				return err
			}
		}
	} else {
		c.mu.Lock()
		c.captureDown = true
		c.mu.Unlock()
	}

	if c.deps.Mixer != nil {
		c.deps.Mixer.Start()
		handle, err := c.deps.Mixer.Attach(internal_mixer.Source{
			ID:       "mic:" + c.sessionID,
			Role:     internal_type.SourceRoleMic,
			Config:   internal_audio.CAPTURE_AUDIO_CONFIG,
			Encoding: internal_audio.EncodingLinear16,
		})
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.micHandle = handle
		c.micAttached = true
		c.mu.Unlock()
	}

	c.logger.Infow("session: live", "session", c.sessionID, "transcriptOnly", c.CaptureDown())
	return nil
}

// PushMic routes a trainee microphone frame to both consumers: the mixing
// graph for the recording and the transcription stream for recognition.
func (c *Controller) PushMic(pcm []byte, from internal_type.AudioConfig) error {
	c.mu.Lock()
	attached := c.micAttached
	handle := c.micHandle
	c.mu.Unlock()

	if attached {
		if err := c.deps.Mixer.Write(handle, pcm); err != nil {
			return err
		}
	}
	return c.deps.Stream.PushAudio(pcm, from)
}

// AttachAgentSource registers a coach audio source (remote human or
// synthesized voice) with the mixing graph.
func (c *Controller) AttachAgentSource(id string, role internal_type.SourceRole, cfg internal_type.AudioConfig, encoding internal_audio.Encoding) error {
	if c.deps.Mixer == nil {
		return fmt.Errorf("session has no mixing graph")
	}
	handle, err := c.deps.Mixer.Attach(internal_mixer.Source{
		ID:       id,
		Role:     role,
		Config:   cfg,
		Encoding: encoding,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.agentHandles[id] = handle
	c.mu.Unlock()
	return nil
}

// PushAgent routes coach audio into the recording mix. Agent audio is never
// sent to transcription — only the trainee's responses are recognized.
func (c *Controller) PushAgent(id string, pcm []byte) error {
	c.mu.Lock()
	handle, ok := c.agentHandles[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown agent source %q", id)
	}
	return c.deps.Mixer.Write(handle, pcm)
}

// DetachAgentSource removes a coach source; already-written audio stays in
// the mix.
func (c *Controller) DetachAgentSource(id string) {
	c.mu.Lock()
	handle, ok := c.agentHandles[id]
	delete(c.agentHandles, id)
	c.mu.Unlock()
	if ok && c.deps.Mixer != nil {
		c.deps.Mixer.Detach(handle)
	}
}

// BeginTurn opens the first prompt of the session.
func (c *Controller) BeginTurn(promptText string) (int, error) {
	return c.coordinator.BeginTurn(promptText)
}

// AdvanceTurn finalizes the current turn, then opens the next prompt.
func (c *Controller) AdvanceTurn(ctx context.Context, nextPromptText string) (int, error) {
	return c.coordinator.AdvanceTurn(ctx, nextPromptText)
}

// Transcript exposes the finalized segments collected so far.
func (c *Controller) Transcript() []internal_type.TranscriptSegment {
	return c.coordinator.Transcript()
}

// CaptureDown reports whether the session runs transcript-only.
func (c *Controller) CaptureDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captureDown
}

// EndSession tears the session down in strict order: finalize the open turn,
// stop capture (drain, flush, release), stop the transcription stream, then
// upload and assemble. Idempotent: repeat calls return the first outcome.
func (c *Controller) EndSession(ctx context.Context) (*SessionRecord, error) {
	c.endOnce.Do(func() {
		c.endRecord, c.endErr = c.endSession(ctx)
	})
	return c.endRecord, c.endErr
}

func (c *Controller) endSession(ctx context.Context) (*SessionRecord, error) {
	// 1. The last response is finalized before anything is torn down.
	if err := c.coordinator.FinalizeSession(ctx); err != nil {
		c.logger.Errorw("session: failed to finalize last turn", "session", c.sessionID, "error", err)
	}

	// 2. Capture stops; flush strictly precedes device release inside Stop.
	var artifact *internal_type.UploadArtifact
	if c.deps.Capture != nil && !c.CaptureDown() {
		blob, err := c.deps.Capture.Stop(ctx)
		if err != nil {
			c.logger.Warnw("session: capture stop failed, recording lost",
				"session", c.sessionID, "error", err)
		} else {
			artifact = blob
		}
	}

	// 3. The transcription stream closes after the final transcript exists.
	if err := c.deps.Stream.Stop(ctx); err != nil {
		c.logger.Warnw("session: transcription stop failed", "session", c.sessionID, "error", err)
	}

	// Fall back to the mixed-down WAV when device capture produced nothing
	// but the graph collected audio.
	if artifact == nil && c.deps.Mixer != nil {
		if pcm, err := c.deps.Mixer.MixDown(); err == nil && len(pcm) > 0 {
			artifact = internal_recorder.NewAudioArtifact(pcm, internal_audio.COACHLY_INTERNAL_AUDIO_CONFIG)
		}
	}

	// 4+5. Upload and assembly. The assembler waits for both the transcript
	// and the upload outcome before the single save.
	input := AssemblyInput{
		SessionID: c.sessionID,
		StartedAt: c.startedAt,
		EndedAt:   c.deps.Clock(),
		Turns: func(context.Context) ([]internal_turn.Turn, error) {
			return c.coordinator.Turns(), nil
		},
	}
	if artifact != nil && c.deps.Uploader != nil {
		input.Upload = func(uploadCtx context.Context) (*internal_upload.Result, error) {
			return c.deps.Uploader.Upload(uploadCtx, c.sessionID, artifact)
		}
	}

	record, recordID, err := c.deps.Assembler.Assemble(ctx, input)
	if err != nil {
		if c.deps.Store != nil {
			if failErr := c.deps.Store.Fail(ctx, c.sessionID, err.Error()); failErr != nil {
				c.logger.Errorw("session: failed to mark session failed",
					"session", c.sessionID, "error", failErr)
			}
		}
		return record, err
	}

	if c.deps.Store != nil {
		var artifactURL *string
		if record != nil {
			artifactURL = record.ArtifactURL
		}
		if err := c.deps.Store.Complete(ctx, c.sessionID, recordID, artifactURL); err != nil {
			c.logger.Errorw("session: failed to mark session completed",
				"session", c.sessionID, "error", err)
		}
	}
	c.logger.Infow("session: ended", "session", c.sessionID, "record", recordID)
	return record, nil
}
