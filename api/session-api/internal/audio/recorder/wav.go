// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_recorder

import (
	"bytes"
	"encoding/binary"

	internal_audio "github.com/coachlyai/api/session-api/internal/audio"
	internal_type "github.com/coachlyai/api/session-api/internal/type"
	"github.com/google/uuid"
)

// NewAudioArtifact wraps a mixed LINEAR16 track in a WAV container. Used
// when video capture is unavailable but the mixed audio track is still
// recordable.
func NewAudioArtifact(pcm []byte, config internal_type.AudioConfig) *internal_type.UploadArtifact {
	blob := createWAVFile(pcm, config)
	return &internal_type.UploadArtifact{
		BlobRef:  uuid.New().String(),
		Blob:     blob,
		ByteSize: len(blob),
		MimeType: "audio/wav",
	}
}

func createWAVFile(pcmData []byte, config internal_type.AudioConfig) []byte {
	var buf bytes.Buffer
	sampleRate := config.SampleRate
	channels := config.Channels
	bps := int(sampleRate) * int(channels) * internal_audio.AudioBytesPerSample

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(internal_audio.AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(internal_audio.AudioBytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(internal_audio.AudioBitsPerSample))

	// data chunk
	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}
