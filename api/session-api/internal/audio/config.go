// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_audio

import (
	internal_type "github.com/coachlyai/api/session-api/internal/type"
)

// Sample encoding of a raw audio payload before it is normalised onto the
// internal LINEAR16 timeline.
type Encoding int

const (
	EncodingLinear16 Encoding = iota
	EncodingMuLaw8
)

const (
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag
)

// COACHLY_INTERNAL_AUDIO_CONFIG is the canonical in-process layout: every
// source is normalised to 16kHz mono LINEAR16 before mixing/transcription.
var COACHLY_INTERNAL_AUDIO_CONFIG = internal_type.AudioConfig{
	SampleRate: 16000,
	Channels:   1,
}

// CAPTURE_AUDIO_CONFIG is the device-capture layout (48kHz mono) delivered
// by browser/desktop capture boundaries.
var CAPTURE_AUDIO_CONFIG = internal_type.AudioConfig{
	SampleRate: 48000,
	Channels:   1,
}

// TELEPHONY_AUDIO_CONFIG is the µ-law 8kHz layout used by agent-remote
// sources arriving over telephony-style transports.
var TELEPHONY_AUDIO_CONFIG = internal_type.AudioConfig{
	SampleRate: 8000,
	Channels:   1,
}
