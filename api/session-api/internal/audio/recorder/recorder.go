// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	internal_type "github.com/coachlyai/api/session-api/internal/type"
	"github.com/coachlyai/pkg/commons"
	"github.com/google/uuid"
)

// State is the capture lifecycle:
//
//	Idle → AcquiringDevices → Recording → Finalizing → Ready | Failed
type State int

const (
	StateIdle State = iota
	StateAcquiringDevices
	StateRecording
	StateFinalizing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringDevices:
		return "acquiring-devices"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeviceClass is the coarse device heuristic used to bound artifact size.
type DeviceClass int

const (
	DeviceClassStandard DeviceClass = iota
	DeviceClassConstrained
)

// EncodingProfile bounds the recording bitrate/resolution.
type EncodingProfile struct {
	MimeType           string
	VideoBitsPerSecond int
	AudioBitsPerSecond int
	Width              int
	Height             int
}

// ProfileFor picks the encoding profile for a device class: constrained
// (mobile-class) devices record at lower bitrate/resolution.
func ProfileFor(class DeviceClass) EncodingProfile {
	if class == DeviceClassConstrained {
		return EncodingProfile{
			MimeType:           "video/webm;codecs=vp8,opus",
			VideoBitsPerSecond: 1_000_000,
			AudioBitsPerSecond: 64_000,
			Width:              640,
			Height:             480,
		}
	}
	return EncodingProfile{
		MimeType:           "video/webm;codecs=vp8,opus",
		VideoBitsPerSecond: 2_500_000,
		AudioBitsPerSecond: 128_000,
		Width:              1280,
		Height:             720,
	}
}

// Constraints is the device acquisition request.
type Constraints struct {
	Video   bool
	Audio   bool
	Profile EncodingProfile
}

// Chunk is one encoded media fragment. Seq is assigned by the encoder in
// emission order.
type Chunk struct {
	Seq  int
	Data []byte
}

// DeviceSession is an acquired camera+microphone capture. Chunks delivers
// encoded fragments in order and is closed by the implementation after
// Flush has emitted the final chunk. Release must be explicit — correctness
// never relies on garbage-collected release timing.
type DeviceSession interface {
	Chunks() <-chan Chunk
	Flush(ctx context.Context) error
	Release() error
}

// DeviceGateway acquires capture devices with a declared quality profile.
// Acquisition failures are reported as PermissionDenied or
// DeviceUnavailable faults.
type DeviceGateway interface {
	Acquire(ctx context.Context, constraints Constraints) (DeviceSession, error)
}

// CaptureSession owns the video+mixed-audio recording lifecycle for exactly
// one training session. All device handles are owned exclusively by this
// struct; other components interact only through Start/Stop.
type CaptureSession struct {
	logger  commons.Logger
	gateway DeviceGateway

	mu        sync.Mutex
	state     State
	failure   *internal_type.Fault
	device    DeviceSession
	chunks    [][]byte
	nextSeq   int
	encodeErr error
	profile   EncodingProfile
	startedAt time.Time

	consumeDone chan struct{}

	stopOnce sync.Once
	stopDone chan struct{}
	artifact *internal_type.UploadArtifact
	stopErr  error
}

func NewCaptureSession(logger commons.Logger, gateway DeviceGateway) *CaptureSession {
	return &CaptureSession{
		logger:      logger,
		gateway:     gateway,
		state:       StateIdle,
		consumeDone: make(chan struct{}),
		stopDone:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (r *CaptureSession) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Failure returns the fault that moved the session to Failed, if any.
func (r *CaptureSession) Failure() *internal_type.Fault {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// StartedAt returns when recording began.
func (r *CaptureSession) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// Start acquires devices and begins recording. Only valid from Idle; any
// other state yields an AlreadyActive fault. Acquisition denial moves the
// session to Failed(PermissionDenied|DeviceUnavailable) — a recoverable
// condition: the training session continues without recording.
func (r *CaptureSession) Start(ctx context.Context, class DeviceClass) error {
	r.mu.Lock()
	if r.state != StateIdle {
		state := r.state
		r.mu.Unlock()
		return internal_type.NewFault(internal_type.FaultAlreadyActive,
			fmt.Sprintf("capture start is invalid from state %q", state), nil)
	}
	r.state = StateAcquiringDevices
	r.profile = ProfileFor(class)
	profile := r.profile
	r.mu.Unlock()

	device, err := r.gateway.Acquire(ctx, Constraints{Video: true, Audio: true, Profile: profile})
	if err != nil {
		fault := asAcquireFault(err)
		r.mu.Lock()
		r.state = StateFailed
		r.failure = fault
		r.mu.Unlock()
		r.logger.Warnw("capture: device acquisition failed, session continues without recording",
			"kind", fault.Kind, "error", err)
		return fault
	}

	r.mu.Lock()
	r.device = device
	r.state = StateRecording
	r.startedAt = time.Now()
	r.mu.Unlock()

	go r.consumeChunks(device)
	r.logger.Infow("capture: recording started",
		"mimeType", profile.MimeType, "videoBitrate", profile.VideoBitsPerSecond)
	return nil
}

// consumeChunks appends encoded chunks in arrival order. A sequence gap
// means the encoder dropped or reordered data, which poisons the artifact.
func (r *CaptureSession) consumeChunks(device DeviceSession) {
	defer close(r.consumeDone)
	for c := range device.Chunks() {
		r.mu.Lock()
		if c.Seq != r.nextSeq {
			if r.encodeErr == nil {
				r.encodeErr = internal_type.NewFault(internal_type.FaultEncodingFailure,
					fmt.Sprintf("chunk sequence gap: want %d, got %d", r.nextSeq, c.Seq), nil)
			}
			r.mu.Unlock()
			continue
		}
		buf := make([]byte, len(c.Data))
		copy(buf, c.Data)
		r.chunks = append(r.chunks, buf)
		r.nextSeq++
		r.mu.Unlock()
	}
}

// Stop finalizes the recording: encoder flush, final chunk drain, device
// release (strictly after flush), blob assembly. Stop is idempotent — only
// the first call effects the transition; every later call returns the same
// eventual artifact. Device release happens exactly once.
func (r *CaptureSession) Stop(ctx context.Context) (*internal_type.UploadArtifact, error) {
	r.stopOnce.Do(func() {
		defer close(r.stopDone)
		r.artifact, r.stopErr = r.stop(ctx)
	})
	<-r.stopDone
	return r.artifact, r.stopErr
}

func (r *CaptureSession) stop(ctx context.Context) (*internal_type.UploadArtifact, error) {
	r.mu.Lock()
	switch r.state {
	case StateFailed:
		failure := r.failure
		r.mu.Unlock()
		return nil, failure
	case StateRecording:
		// proceed
	default:
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("capture stop is invalid from state %q", state)
	}
	r.state = StateFinalizing
	device := r.device
	r.mu.Unlock()

	flushErr := device.Flush(ctx)
	if flushErr == nil {
		// The final chunk event arrives before Chunks closes; wait for the
		// consumer to drain it so no chunk is lost.
		<-r.consumeDone
	}

	// Release strictly follows flush completion.
	if err := device.Release(); err != nil {
		r.logger.Warnw("capture: device release reported an error", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if flushErr != nil {
		r.state = StateFailed
		r.failure = internal_type.NewFault(internal_type.FaultEncodingFailure,
			"encoder flush failed", flushErr)
		return nil, r.failure
	}
	if r.encodeErr != nil {
		r.state = StateFailed
		if f, ok := r.encodeErr.(*internal_type.Fault); ok {
			r.failure = f
		} else {
			r.failure = internal_type.NewFault(internal_type.FaultEncodingFailure,
				"encoding failed", r.encodeErr)
		}
		return nil, r.failure
	}

	total := 0
	for _, c := range r.chunks {
		total += len(c)
	}
	blob := make([]byte, 0, total)
	for _, c := range r.chunks {
		blob = append(blob, c...)
	}

	r.state = StateReady
	artifact := &internal_type.UploadArtifact{
		BlobRef:  uuid.New().String(),
		Blob:     blob,
		ByteSize: len(blob),
		MimeType: r.profile.MimeType,
	}
	r.logger.Infow("capture: recording finalized",
		"bytes", artifact.ByteSize, "chunks", len(r.chunks), "blobRef", artifact.BlobRef)
	return artifact, nil
}

// asAcquireFault normalises gateway errors into the capture fault taxonomy.
func asAcquireFault(err error) *internal_type.Fault {
	var f *internal_type.Fault
	if errors.As(err, &f) {
		return f
	}
	return internal_type.NewFault(internal_type.FaultDeviceUnavailable,
		"device acquisition failed", err)
}
