// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_sessioncontext

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coachlyai/pkg/commons"
	"github.com/coachlyai/pkg/connectors"
)

// Store provides operations to save and retrieve session contexts from
// Postgres.
type Store interface {
	// Save stores a session context with a generated sessionId (UUID).
	// Returns the generated sessionId.
	Save(ctx context.Context, sc *SessionContext) (string, error)

	// Get retrieves a session context by sessionId regardless of its current
	// status. Deliberate: upload confirmations and record-save callbacks are
	// asynchronous and may arrive after the session has completed; the row
	// must stay readable for the full lifetime of the context.
	Get(ctx context.Context, sessionID string) (*SessionContext, error)

	// Live atomically transitions a session context from "pending" to
	// "live". Only one concurrent connection can win — subsequent callers
	// get an error because the row is no longer in a claimable status.
	Live(ctx context.Context, sessionID string) error

	// Complete marks the session completed and patches the record id and
	// artifact URL produced by assembly. The row remains in the database.
	Complete(ctx context.Context, sessionID string, recordID string, artifactURL *string) error

	// Fail marks the session failed with a reason.
	Fail(ctx context.Context, sessionID string, reason string) error

	// UpdateField sets a single allowlisted column on an existing row.
	UpdateField(ctx context.Context, sessionID, field, value string) error
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewStore creates a new session context store backed by Postgres.
func NewStore(postgres connectors.PostgresConnector, logger commons.Logger) Store {
	return &postgresStore{
		postgres: postgres,
		logger:   logger,
	}
}

func (s *postgresStore) Save(ctx context.Context, sc *SessionContext) (string, error) {
	if sc.SessionID == "" {
		sc.SessionID = uuid.New().String()
	}
	if sc.Status == "" {
		sc.Status = StatusPending
	}

	db := s.postgres.DB(ctx)
	if err := db.Create(sc).Error; err != nil {
		return "", fmt.Errorf("failed to save session context %s: %w", sc.SessionID, err)
	}

	s.logger.Infow("saved session context",
		"sessionId", sc.SessionID, "trainee", sc.TraineeID, "scenario", sc.ScenarioID)
	return sc.SessionID, nil
}

func (s *postgresStore) Get(ctx context.Context, sessionID string) (*SessionContext, error) {
	db := s.postgres.DB(ctx)
	var sc SessionContext
	if err := db.Where("session_id = ?", sessionID).First(&sc).Error; err != nil {
		return nil, fmt.Errorf("session context not found: %s: %w", sessionID, err)
	}
	return &sc, nil
}

// Live uses an atomic UPDATE ... WHERE status = 'pending' so only one
// concurrent connection can win the claim.
func (s *postgresStore) Live(ctx context.Context, sessionID string) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&SessionContext{}).
		Where("session_id = ? AND status = ?", sessionID, StatusPending).
		Updates(map[string]interface{}{
			"status":       StatusLive,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to claim session context %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session context %s not found or already live", sessionID)
	}

	s.logger.Debugw("session context live", "sessionId", sessionID)
	return nil
}

func (s *postgresStore) Complete(ctx context.Context, sessionID string, recordID string, artifactURL *string) error {
	updates := map[string]interface{}{
		"status":       StatusCompleted,
		"record_id":    recordID,
		"updated_date": time.Now(),
	}
	if artifactURL != nil {
		updates["artifact_url"] = *artifactURL
	}

	db := s.postgres.DB(ctx)
	result := db.Model(&SessionContext{}).
		Where("session_id = ?", sessionID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to complete session context %s: %w", sessionID, result.Error)
	}

	s.logger.Debugw("session context completed", "sessionId", sessionID, "record", recordID)
	return nil
}

func (s *postgresStore) Fail(ctx context.Context, sessionID string, reason string) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&SessionContext{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":       StatusFailed,
			"fail_reason":  reason,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark session context %s failed: %w", sessionID, result.Error)
	}

	s.logger.Warnw("session context failed", "sessionId", sessionID, "reason", reason)
	return nil
}

func (s *postgresStore) UpdateField(ctx context.Context, sessionID, field, value string) error {
	// Allowlist of updatable fields to prevent SQL injection
	allowed := map[string]bool{
		"status":       true,
		"record_id":    true,
		"artifact_url": true,
		"coach_mode":   true,
	}
	if !allowed[field] {
		return fmt.Errorf("field %q is not updatable on session context", field)
	}

	db := s.postgres.DB(ctx)
	result := db.Model(&SessionContext{}).
		Where("session_id = ?", sessionID).
		Update(field, value)
	if result.Error != nil {
		return fmt.Errorf("failed to update field %s on session context %s: %w", field, sessionID, result.Error)
	}
	return nil
}
