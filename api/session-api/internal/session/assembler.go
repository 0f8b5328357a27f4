// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	internal_turn "github.com/coachlyai/api/session-api/internal/turn"
	internal_type "github.com/coachlyai/api/session-api/internal/type"
	internal_upload "github.com/coachlyai/api/session-api/internal/upload"
	"github.com/coachlyai/pkg/commons"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

// AssemblerConfig points at the record-save API.
type AssemblerConfig struct {
	SaveEndpoint string
}

type saveResponse struct {
	RecordID string `json:"recordId"`
}

// AssemblyInput feeds the assembler with deferred producers so transcript
// collection and artifact upload can run concurrently.
type AssemblyInput struct {
	SessionID string
	StartedAt time.Time
	EndedAt   time.Time

	// Turns yields the full finalized turn sequence.
	Turns func(ctx context.Context) ([]internal_turn.Turn, error)

	// Upload delivers the recording artifact, or nil when the session has no
	// recording. A tagged upload failure is tolerated — the record then
	// carries a null artifact reference.
	Upload func(ctx context.Context) (*internal_upload.Result, error)
}

// Assembler waits for the complete transcript AND the upload outcome, builds
// exactly one immutable SessionRecord, and hands it to the save API exactly
// once. A save failure never re-runs the upload and never deletes the
// already-uploaded artifact.
type Assembler struct {
	logger commons.Logger
	cfg    AssemblerConfig
	client *resty.Client
	saved  atomic.Bool
}

func NewAssembler(logger commons.Logger, cfg AssemblerConfig) *Assembler {
	return &Assembler{
		logger: logger,
		cfg:    cfg,
		client: resty.New(),
	}
}

// Assemble blocks until both inputs resolve, then saves the record. Returns
// the record, the save API's record id, and a SaveApiError fault when the
// save itself failed (the record is still returned for caller-side recovery).
func (a *Assembler) Assemble(ctx context.Context, in AssemblyInput) (*SessionRecord, string, error) {
	if !a.saved.CompareAndSwap(false, true) {
		return nil, "", fmt.Errorf("session record was already assembled")
	}

	var (
		turns        []internal_turn.Turn
		uploadResult *internal_upload.Result
		uploadFault  string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		collected, err := in.Turns(gctx)
		if err != nil {
			return fmt.Errorf("failed to collect transcript: %w", err)
		}
		turns = collected
		return nil
	})
	g.Go(func() error {
		if in.Upload == nil {
			return nil
		}
		result, err := in.Upload(gctx)
		if err != nil {
			// Tolerated: the record is assembled with a null artifact.
			uploadFault = string(internal_type.FaultKindOf(err))
			a.logger.Warnw("assembler: proceeding without artifact",
				"session", in.SessionID, "fault", uploadFault, "error", err)
			return nil
		}
		uploadResult = result
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	record := a.buildRecord(in, turns, uploadResult, uploadFault)
	recordID, err := a.save(ctx, record)
	if err != nil {
		return record, "", err
	}
	a.logger.Infow("assembler: session record saved",
		"session", in.SessionID, "record", recordID, "turns", len(record.Turns))
	return record, recordID, nil
}

func (a *Assembler) buildRecord(
	in AssemblyInput,
	turns []internal_turn.Turn,
	uploadResult *internal_upload.Result,
	uploadFault string,
) *SessionRecord {
	record := &SessionRecord{
		SessionID:      in.SessionID,
		StartedAt:      in.StartedAt,
		EndedAt:        in.EndedAt,
		DurationMillis: in.EndedAt.Sub(in.StartedAt).Milliseconds(),
		Turns:          make([]TurnRecord, 0, len(turns)),
		UploadFault:    uploadFault,
	}
	for _, turn := range turns {
		entry := TurnRecord{
			TurnIndex:  turn.Index,
			PromptText: turn.PromptText,
			StartedAt:  turn.StartedAt,
		}
		if turn.Transcript != nil {
			entry.Transcript = turn.Transcript.Text
			entry.Kind = turn.Transcript.Kind
			entry.Forced = turn.Transcript.Forced
		} else {
			entry.Kind = internal_type.SegmentUnavailable
		}
		record.Turns = append(record.Turns, entry)
	}
	if uploadResult != nil {
		record.ArtifactURL = &uploadResult.URL
		record.ArtifactBytes = uploadResult.Size
	}
	return record
}

func (a *Assembler) save(ctx context.Context, record *SessionRecord) (string, error) {
	var out saveResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(record).
		SetResult(&out).
		Post(a.cfg.SaveEndpoint)
	if err != nil {
		return "", internal_type.NewFault(internal_type.FaultSaveApiError,
			"failed to reach record-save api", err)
	}
	if resp.IsError() {
		return "", internal_type.NewFault(internal_type.FaultSaveApiError,
			fmt.Sprintf("record-save api responded %d: %s", resp.StatusCode(), resp.String()), nil)
	}
	return out.RecordID, nil
}
