// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_transcription

// Wire protocol for the platform's speech-recognition streaming service.
// One JSON message per websocket frame.

// clientMessage is everything the client sends: the opening handshake, the
// steady stream of audio frames, and the forced-finalize control request.
type clientMessage struct {
	Type string `json:"type"` // "start" | "audio" | "finalize"

	// handshake fields
	Language                string  `json:"language,omitempty"`
	SampleRate              int     `json:"sampleRate,omitempty"`
	SilenceThresholdSeconds float64 `json:"silenceThresholdSeconds,omitempty"`
	VadSensitivity          float64 `json:"vadSensitivity,omitempty"`

	// audio frame fields; SampleRate is shared with the handshake
	AudioChunkBase64 string `json:"audioChunkBase64,omitempty"`
}

// serverEvent is everything the service sends back.
type serverEvent struct {
	Type    string `json:"type"` // "sessionStarted" | "partialTranscript" | "committedTranscript" | "error"
	Text    string `json:"text,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	messageTypeStart    = "start"
	messageTypeAudio    = "audio"
	messageTypeFinalize = "finalize"

	eventSessionStarted      = "sessionStarted"
	eventPartialTranscript   = "partialTranscript"
	eventCommittedTranscript = "committedTranscript"
	eventError               = "error"
)
