// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_audio_resampler

import (
	"bytes"
	"fmt"

	internal_type "github.com/coachlyai/api/session-api/internal/type"
	"github.com/coachlyai/pkg/commons"
	"github.com/zaf/resample"
)

type soxResampler struct {
	logger commons.Logger
}

// GetResampler returns the default LINEAR16 resampler. Construction probes
// the underlying soxr primitive once so an unsupported environment surfaces
// here, not on the hot path — callers degrade to pass-through on error.
func GetResampler(logger commons.Logger) (internal_type.AudioResampler, error) {
	probe, err := resample.New(&bytes.Buffer{}, 48000, 16000, 1, resample.I16, resample.HighQ)
	if err != nil {
		return nil, fmt.Errorf("resampler unavailable: %w", err)
	}
	_ = probe.Close()
	return &soxResampler{logger: logger}, nil
}

// Resample converts LINEAR16 PCM between layouts. Same-layout input is
// returned as-is.
func (r *soxResampler) Resample(pcm []byte, from internal_type.AudioConfig, to internal_type.AudioConfig) ([]byte, error) {
	if len(pcm) == 0 || from == to {
		return pcm, nil
	}
	if from.Channels != to.Channels {
		return nil, fmt.Errorf("channel conversion %d→%d is not supported", from.Channels, to.Channels)
	}

	var out bytes.Buffer
	rs, err := resample.New(&out,
		float64(from.SampleRate),
		float64(to.SampleRate),
		int(from.Channels),
		resample.I16,
		resample.HighQ,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler %d→%d: %w", from.SampleRate, to.SampleRate, err)
	}
	if _, err := rs.Write(pcm); err != nil {
		_ = rs.Close()
		return nil, fmt.Errorf("resample write failed: %w", err)
	}
	if err := rs.Close(); err != nil {
		return nil, fmt.Errorf("resample flush failed: %w", err)
	}
	return out.Bytes(), nil
}
