// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_session

import (
	"time"

	internal_type "github.com/coachlyai/api/session-api/internal/type"
)

// TurnRecord is one finalized prompt/response exchange as persisted.
type TurnRecord struct {
	TurnIndex  int                       `json:"turnIndex"`
	PromptText string                    `json:"promptText"`
	Transcript string                    `json:"transcript"`
	Kind       internal_type.SegmentKind `json:"kind"`
	Forced     bool                      `json:"forced"`
	StartedAt  time.Time                 `json:"startedAt"`
}

// SessionRecord is the single immutable artifact of a finished training
// session: the full ordered transcript plus the recording reference, or an
// explicit null reference when the recording could not be delivered.
type SessionRecord struct {
	SessionID      string       `json:"sessionId"`
	StartedAt      time.Time    `json:"startedAt"`
	EndedAt        time.Time    `json:"endedAt"`
	DurationMillis int64        `json:"durationMillis"`
	Turns          []TurnRecord `json:"turns"`

	// ArtifactURL is nil when the upload failed or no recording exists. The
	// transcript is persisted either way.
	ArtifactURL   *string `json:"artifactUrl"`
	ArtifactBytes int64   `json:"artifactBytes,omitempty"`

	// UploadFault carries the tagged failure class when the artifact could
	// not be delivered, for later reconciliation.
	UploadFault string `json:"uploadFault,omitempty"`
}
