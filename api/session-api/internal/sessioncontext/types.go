// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_sessioncontext

import (
	"time"

	"gorm.io/gorm"
)

// Session context status constants.
const (
	StatusPending   = "pending"   // Created, waiting for the live connection
	StatusLive      = "live"      // Live connection established, session running
	StatusCompleted = "completed" // Session ended and record saved
	StatusFailed    = "failed"    // Session setup or record save failed
)

// SessionContext is the per-training-session row bridging the scheduling
// request and the live media connection that follows. The row is never
// deleted during the session lifecycle — late async callbacks (upload
// confirmations, record-save retries) must still resolve it — only
// transitioned through statuses: pending → live → completed/failed.
type SessionContext struct {
	Id          uint64    `json:"id" gorm:"type:bigint;primaryKey;autoIncrement"`
	SessionID   string    `json:"sessionId" gorm:"column:session_id;type:varchar(36);not null;uniqueIndex"`
	Status      string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:pending"`
	TraineeID   uint64    `json:"traineeId" gorm:"column:trainee_id;type:bigint;not null"`
	ScenarioID  uint64    `json:"scenarioId" gorm:"column:scenario_id;type:bigint;not null"`
	CoachMode   string    `json:"coachMode" gorm:"column:coach_mode;type:varchar(30);not null;default:''"`
	FailReason  string    `json:"failReason" gorm:"column:fail_reason;type:text;not null;default:''"`
	CreatedDate time.Time `json:"createdDate" gorm:"type:timestamp;not null;default:NOW();<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"type:timestamp;default:null"`

	// RecordID is the save API's identifier for the assembled session record,
	// patched in after assembly completes.
	RecordID string `json:"recordId" gorm:"column:record_id;type:varchar(64);not null;default:''"`

	// ArtifactURL is the delivered recording location, empty for
	// transcript-only sessions and failed uploads.
	ArtifactURL string `json:"artifactUrl" gorm:"column:artifact_url;type:text;not null;default:''"`
}

func (SessionContext) TableName() string {
	return "session_contexts"
}

func (sc *SessionContext) BeforeCreate(tx *gorm.DB) (err error) {
	if sc.CreatedDate.IsZero() {
		sc.CreatedDate = time.Now()
	}
	return nil
}

// IsPending returns true if no live connection has claimed the session yet.
func (sc *SessionContext) IsPending() bool {
	return sc.Status == StatusPending
}

// IsLive returns true while the session is running.
func (sc *SessionContext) IsLive() bool {
	return sc.Status == StatusLive
}
