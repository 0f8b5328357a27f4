// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	internal_type "github.com/coachlyai/api/session-api/internal/type"
	"github.com/coachlyai/pkg/commons"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	defaultBudget        = 60 * time.Second
	defaultRecordingType = "training-session"
)

// Config controls delivery of finished recording artifacts to the blob
// service.
type Config struct {
	Endpoint      string
	RecordingType string

	// Budget bounds the TOTAL time spent uploading, retry included. A
	// recording upload never blocks session teardown indefinitely.
	Budget time.Duration
}

func (c *Config) applyDefaults() {
	if c.RecordingType == "" {
		c.RecordingType = defaultRecordingType
	}
	if c.Budget <= 0 {
		c.Budget = defaultBudget
	}
}

// Result describes a stored artifact.
type Result struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Pipeline uploads recording blobs as multipart form posts. Failures come
// back as tagged faults so the assembler can record a null artifact instead
// of failing the whole session.
type Pipeline struct {
	logger commons.Logger
	cfg    Config
	client *resty.Client
}

func NewPipeline(logger commons.Logger, cfg Config) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		logger: logger,
		cfg:    cfg,
		client: resty.New(),
	}
}

// Upload posts the artifact under the session identifier, or a temporary one
// when the session has not been persisted yet. One retry on failure, the
// whole operation bounded by the configured budget.
func (p *Pipeline) Upload(ctx context.Context, sessionID string, artifact *internal_type.UploadArtifact) (*Result, error) {
	if artifact == nil || len(artifact.Blob) == 0 {
		return nil, internal_type.NewFault(internal_type.FaultUploadTransportError,
			"no artifact to upload", nil)
	}
	if sessionID == "" {
		sessionID = "pending-" + uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			p.logger.Warnw("upload: retrying", "session", sessionID, "error", lastErr)
		}
		result, err := p.post(ctx, sessionID, artifact)
		if err == nil {
			p.logger.Infow("upload: artifact stored",
				"session", sessionID, "url", result.URL, "size", result.Size)
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || ctx.Err() != nil {
		return nil, internal_type.NewFault(internal_type.FaultUploadTimeout,
			fmt.Sprintf("upload exceeded %s budget", p.cfg.Budget), lastErr)
	}
	return nil, internal_type.NewFault(internal_type.FaultUploadTransportError,
		"failed to upload recording artifact", lastErr)
}

func (p *Pipeline) post(ctx context.Context, sessionID string, artifact *internal_type.UploadArtifact) (*Result, error) {
	var result Result
	resp, err := p.client.R().
		SetContext(ctx).
		SetFileReader("recordingBlob", artifact.BlobRef, bytes.NewReader(artifact.Blob)).
		SetFormData(map[string]string{
			"sessionId":     sessionID,
			"recordingType": p.cfg.RecordingType,
		}).
		SetResult(&result).
		Post(p.cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("blob service responded %s: %s",
			strconv.Itoa(resp.StatusCode()), resp.String())
	}
	if result.Size == 0 {
		result.Size = int64(artifact.ByteSize)
	}
	return &result, nil
}
