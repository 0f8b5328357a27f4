// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_type

import (
	"context"
	"time"
)

// SourceRole identifies who an audio source belongs to on the session
// timeline.
type SourceRole string

const (
	SourceRoleMic              SourceRole = "mic"
	SourceRoleAgentRemote      SourceRole = "agent-remote"
	SourceRoleAgentSynthesized SourceRole = "agent-synthesized"
)

// SegmentKind distinguishes how a transcript segment was produced.
type SegmentKind string

const (
	// SegmentPartial is a live, superseding recognition result.
	SegmentPartial SegmentKind = "partial"
	// SegmentCommitted is an immutable VAD-finalised recognition result.
	SegmentCommitted SegmentKind = "committed"
	// SegmentUnavailable marks a turn whose transcription channel was lost.
	SegmentUnavailable SegmentKind = "unavailable"
)

// TranscriptSegment is one recognition result attributed to a turn window.
// Forced is set when the segment was promoted from the last partial at a
// turn boundary rather than committed by the service's voice-activity
// detector — distinguishable for diagnostics.
type TranscriptSegment struct {
	TurnIndex  int
	Kind       SegmentKind
	Text       string
	Forced     bool
	ReceivedAt time.Time
}

// TurnTranscriber is the contract the turn coordinator drives. ResetWindow
// starts transcript accumulation for a turn index; Finalize synchronously
// resolves the window's transcript — a committed result wins if one has
// arrived (or arrives while the forced finalize is in flight), otherwise the
// last partial is promoted with Forced set.
type TurnTranscriber interface {
	ResetWindow(turnIndex int)
	Finalize(ctx context.Context) (TranscriptSegment, error)
}

// AudioResampler converts PCM between sample-rate/channel configurations.
// Implementations live in internal/audio/resampler.
type AudioResampler interface {
	Resample(pcm []byte, from AudioConfig, to AudioConfig) ([]byte, error)
}

// AudioConfig describes a PCM stream layout.
type AudioConfig struct {
	SampleRate uint32
	Channels   uint16
}

// BytesPerSecond returns the LINEAR16 byte rate for this layout.
func (c AudioConfig) BytesPerSecond() int {
	return int(c.SampleRate) * int(c.Channels) * 2
}

// UploadArtifact is the durable recording blob produced by a capture
// session at stop. It is consumed exactly once by the upload pipeline.
type UploadArtifact struct {
	BlobRef  string
	Blob     []byte
	ByteSize int
	MimeType string
}
