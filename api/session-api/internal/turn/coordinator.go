// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_turn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	internal_type "github.com/coachlyai/api/session-api/internal/type"
	"github.com/coachlyai/pkg/commons"
)

// NoResponseMarker is recorded when a turn finalizes with no speech at all.
// Every turn produces an entry; managers reviewing a session must be able to
// tell "said nothing" apart from "entry missing".
const NoResponseMarker = "[no response]"

// Turn is one prompt/response exchange within a live session.
type Turn struct {
	Index      int
	PromptText string
	StartedAt  time.Time

	// Transcript is write-once: set exactly when the turn finalizes,
	// never mutated afterwards.
	Transcript *internal_type.TranscriptSegment
}

func (t *Turn) finalized() bool {
	return t.Transcript != nil
}

// Coordinator owns the prompt/response turn sequence of a live session. Its
// single hard guarantee: a turn's transcript window is finalized — awaited,
// not fire-and-forget — before the turn index ever moves forward.
type Coordinator struct {
	logger      commons.Logger
	transcriber internal_type.TurnTranscriber
	clock       func() time.Time

	mu        sync.Mutex
	turns     []*Turn
	sealed    bool
	advancing bool
}

func NewCoordinator(logger commons.Logger, transcriber internal_type.TurnTranscriber) *Coordinator {
	return &Coordinator{
		logger:      logger,
		transcriber: transcriber,
		clock:       time.Now,
	}
}

// BeginTurn opens the first turn of the session. Subsequent turns are opened
// through AdvanceTurn so that finalization of the previous turn can never be
// skipped.
func (c *Coordinator) BeginTurn(promptText string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return 0, fmt.Errorf("session is already finalized")
	}
	if len(c.turns) > 0 {
		return 0, fmt.Errorf("turn %d is already open, use AdvanceTurn", c.turns[len(c.turns)-1].Index)
	}
	return c.openTurnLocked(promptText), nil
}

// AdvanceTurn finalizes the current turn and only then opens the next one.
// The transcriber call is synchronous: until it returns, the turn index does
// not change and no audio is attributed to the next prompt. Overlapping
// advances are rejected, only one turn may be mid-finalize at a time.
func (c *Coordinator) AdvanceTurn(ctx context.Context, nextPromptText string) (int, error) {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		return 0, fmt.Errorf("session is already finalized")
	}
	if c.advancing {
		c.mu.Unlock()
		return 0, fmt.Errorf("turn advance is already in progress")
	}
	current, err := c.openTurnRefLocked()
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	c.advancing = true
	c.mu.Unlock()

	finalizeErr := c.finalizeTurn(ctx, current)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.advancing = false
	if finalizeErr != nil {
		return 0, finalizeErr
	}
	if c.sealed {
		return 0, fmt.Errorf("session is already finalized")
	}
	return c.openTurnLocked(nextPromptText), nil
}

// FinalizeSession finalizes the last open turn. There is no AdvanceTurn after
// the final prompt, so the session end itself triggers the awaited finalize —
// the last response is never lost to session teardown.
func (c *Coordinator) FinalizeSession(ctx context.Context) error {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		return nil
	}
	c.sealed = true
	var current *Turn
	if len(c.turns) > 0 {
		last := c.turns[len(c.turns)-1]
		if !last.finalized() {
			current = last
		}
	}
	c.mu.Unlock()

	if current == nil {
		return nil
	}
	return c.finalizeTurn(ctx, current)
}

func (c *Coordinator) openTurnLocked(promptText string) int {
	turn := &Turn{
		Index:      len(c.turns),
		PromptText: promptText,
		StartedAt:  c.clock(),
	}
	c.turns = append(c.turns, turn)
	c.transcriber.ResetWindow(turn.Index)
	c.logger.Infow("turn: opened", "index", turn.Index)
	return turn.Index
}

func (c *Coordinator) openTurnRefLocked() (*Turn, error) {
	if len(c.turns) == 0 {
		return nil, fmt.Errorf("no turn is open")
	}
	last := c.turns[len(c.turns)-1]
	if last.finalized() {
		return nil, fmt.Errorf("turn %d is already finalized", last.Index)
	}
	return last, nil
}

func (c *Coordinator) finalizeTurn(ctx context.Context, turn *Turn) error {
	seg, err := c.transcriber.Finalize(ctx)
	if err != nil {
		return fmt.Errorf("failed to finalize turn %d: %w", turn.Index, err)
	}
	seg.TurnIndex = turn.Index
	if seg.Kind != internal_type.SegmentUnavailable && strings.TrimSpace(seg.Text) == "" {
		seg.Text = NoResponseMarker
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if turn.Transcript != nil {
		// Finalize raced with itself; the first write stands.
		return nil
	}
	turn.Transcript = &seg
	c.logger.Infow("turn: finalized",
		"index", turn.Index, "kind", seg.Kind, "forced", seg.Forced)
	return nil
}

// Transcript returns one finalized segment per turn, in strictly increasing
// turn order. Open turns are excluded; after FinalizeSession the slice holds
// exactly as many entries as turns begun.
func (c *Coordinator) Transcript() []internal_type.TranscriptSegment {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]internal_type.TranscriptSegment, 0, len(c.turns))
	for _, turn := range c.turns {
		if turn.Transcript != nil {
			out = append(out, *turn.Transcript)
		}
	}
	return out
}

// Turns returns a snapshot of all turns including prompt text and timing.
func (c *Coordinator) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Turn, len(c.turns))
	for i, turn := range c.turns {
		out[i] = *turn
	}
	return out
}

// TurnCount reports how many turns have been begun.
func (c *Coordinator) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}
