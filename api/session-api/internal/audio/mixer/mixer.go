// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package internal_mixer

import (
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/coachlyai/api/session-api/internal/audio"
	internal_audio_resampler "github.com/coachlyai/api/session-api/internal/audio/resampler"
	internal_type "github.com/coachlyai/api/session-api/internal/type"
	"github.com/coachlyai/pkg/commons"
	"github.com/zaf/g711"
)

var internalConfig = internal_audio.COACHLY_INTERNAL_AUDIO_CONFIG

// Source describes a named audio input to the graph. Sources are owned by
// the graph's registry; only Attach/Detach may add or remove them.
type Source struct {
	ID       string
	Role     internal_type.SourceRole
	Config   internal_type.AudioConfig
	Encoding internal_audio.Encoding
}

// Handle references an attached source. A zero Handle is never valid.
type Handle struct {
	sourceID string
}

// chunk is an audio fragment placed at a byte position on the shared
// session timeline.
type chunk struct {
	ByteOffset int
	Data       []byte
	SourceID   string
}

type node struct {
	source Source
	gain   float64
}

// Graph sums every attached source onto one recordable LINEAR16 track.
// Placement follows arrival time: microphone audio is positioned by
// wall clock (it arrives at real-time rate), synthesized-agent audio is
// paced at playback rate so TTS bursts stay continuous — the first chunk
// after a gap anchors at wall clock, the rest follow the cursor.
type Graph struct {
	logger    commons.Logger
	resampler internal_type.AudioResampler

	mu        sync.Mutex
	nodes     map[string]*node
	chunks    []chunk
	cursor    map[string]int
	startTime time.Time
	started   bool
	degraded  bool
	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time
}

// NewGraph constructs the session mixing graph. If the resampling primitive
// cannot be constructed the graph degrades to pass-through microphone only
// and keeps running — recording continues without mixed agent audio.
func NewGraph(logger commons.Logger) *Graph {
	g := &Graph{
		logger: logger,
		nodes:  make(map[string]*node),
		cursor: make(map[string]int),
		clock:  time.Now,
	}
	rs, err := internal_audio_resampler.GetResampler(logger)
	if err != nil {
		g.degraded = true
		logger.Warnw("mixer: mixing primitive unavailable, degrading to microphone pass-through",
			"error", err)
		return g
	}
	g.resampler = rs
	return g
}

// Degraded reports whether the graph is running in microphone-only
// pass-through mode.
func (g *Graph) Degraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.degraded
}

// Start anchors the shared timeline. All subsequent writes are placed
// relative to this moment.
func (g *Graph) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startTime = g.clock()
	g.started = true
}

// Attach registers a source and returns its handle. Attaching a source
// that is already registered is idempotent and returns the existing handle
// — the synthesized-agent source legitimately re-attaches once per spoken
// agent turn.
func (g *Graph) Attach(source Source) (Handle, error) {
	if source.ID == "" {
		return Handle{}, fmt.Errorf("mixer: source id is required")
	}
	if source.Config.SampleRate == 0 {
		source.Config = internalConfig
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[source.ID]; !ok {
		g.nodes[source.ID] = &node{source: source, gain: 1.0}
		g.logger.Debugw("mixer: source attached",
			"source", source.ID, "role", source.Role)
	}
	return Handle{sourceID: source.ID}, nil
}

// Detach removes a source from the graph. Detaching a handle that never
// attached is a no-op, not an error — sources may legitimately never speak.
// Already-placed audio from the source stays on the timeline.
func (g *Graph) Detach(h Handle) {
	if h.sourceID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[h.sourceID]; ok {
		delete(g.nodes, h.sourceID)
		g.logger.Debugw("mixer: source detached", "source", h.sourceID)
	}
}

// SetGain adjusts a source's contribution to the mix. Unknown handles are
// ignored.
func (g *Graph) SetGain(h Handle, gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[h.sourceID]; ok {
		n.gain = gain
	}
}

func bytesPerSecond() int {
	return internalConfig.BytesPerSecond()
}

// durationBytes converts a wall-clock duration to a frame-aligned byte count.
func durationBytes(d time.Duration) int {
	raw := int(d.Seconds() * float64(bytesPerSecond()))
	frameSize := internal_audio.AudioBytesPerSample * int(internalConfig.Channels)
	return (raw / frameSize) * frameSize
}

// Write places audio from an attached source onto the timeline. The payload
// is normalised (µ-law decode, resample) to the internal layout first.
func (g *Graph) Write(h Handle, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	g.mu.Lock()
	n, ok := g.nodes[h.sourceID]
	degraded := g.degraded
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("mixer: source %q is not attached", h.sourceID)
	}

	if degraded && n.source.Role != internal_type.SourceRoleMic {
		// Pass-through mode: agent audio cannot be normalised, drop it.
		g.logger.Debugw("mixer: dropping non-mic audio in pass-through mode",
			"source", h.sourceID)
		return nil
	}

	pcm := data
	if n.source.Encoding == internal_audio.EncodingMuLaw8 {
		pcm = g711.DecodeUlaw(pcm)
	}
	if !degraded && n.source.Config != internalConfig {
		resampled, err := g.resampler.Resample(pcm, n.source.Config, internalConfig)
		if err != nil {
			return fmt.Errorf("mixer: normalising source %q: %w", h.sourceID, err)
		}
		pcm = resampled
	}

	return g.push(h.sourceID, n.source.Role, pcm)
}

func (g *Graph) push(sourceID string, role internal_type.SourceRole, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// A trailing partial sample would leave the cursor mid-sample and skew
	// the hi/lo byte pairing of every later chunk from this source.
	frameSize := internal_audio.AudioBytesPerSample * int(internalConfig.Channels)
	if rem := len(data) % frameSize; rem != 0 {
		data = data[:len(data)-rem]
	}
	if len(data) == 0 {
		return nil
	}

	wallOffset := 0
	if g.started {
		wallOffset = durationBytes(g.clock().Sub(g.startTime))
	}

	var offset int
	switch role {
	case internal_type.SourceRoleMic:
		// Mic delivers at real-time rate: wall-clock offset is the correct
		// timeline position, never earlier than the cursor.
		offset = wallOffset
		if g.cursor[sourceID] > offset {
			offset = g.cursor[sourceID]
		}
	default:
		// Agent audio arrives in bursts faster than real time. Pace it at
		// the playback rate: continuation chunks follow the cursor, a chunk
		// after silence anchors at wall clock. Wall-clock placement of every
		// chunk caused gaps/overlaps between TTS chunks.
		if g.cursor[sourceID] > wallOffset {
			offset = g.cursor[sourceID]
		} else {
			offset = wallOffset
		}
	}

	// Copy to avoid caller mutations.
	buf := make([]byte, len(data))
	copy(buf, data)

	g.chunks = append(g.chunks, chunk{ByteOffset: offset, Data: buf, SourceID: sourceID})
	g.cursor[sourceID] = offset + len(buf)
	return nil
}

// MixDown renders the single recordable track: every source's chunks are
// painted at their timeline positions and summed with int16 saturation.
// Gaps are silence. The track spans Start → MixDown, or the furthest chunk
// end if later.
func (g *Graph) MixDown() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.chunks) == 0 {
		return nil, fmt.Errorf("mixer: no audio on the timeline")
	}

	totalLen := 0
	if g.started {
		totalLen = durationBytes(g.clock().Sub(g.startTime))
	}
	for _, c := range g.chunks {
		if end := c.ByteOffset + len(c.Data); end > totalLen {
			totalLen = end
		}
	}

	mixed := make([]int32, totalLen/2)
	gains := make(map[string]float64, len(g.nodes))
	for id, n := range g.nodes {
		gains[id] = n.gain
	}

	for _, c := range g.chunks {
		gain, ok := gains[c.SourceID]
		if !ok {
			gain = 1.0 // detached sources keep their recorded audio at unity
		}
		base := c.ByteOffset / 2
		for i := 0; i+1 < len(c.Data); i += 2 {
			sample := int32(int16(uint16(c.Data[i]) | uint16(c.Data[i+1])<<8))
			mixed[base+i/2] += int32(float64(sample) * gain)
		}
	}

	out := make([]byte, totalLen)
	for i, s := range mixed {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		out[2*i] = byte(uint16(int16(s)))
		out[2*i+1] = byte(uint16(int16(s)) >> 8)
	}

	g.logger.Infof("mixer: mixdown complete, %d chunks over %.2fs",
		len(g.chunks), float64(totalLen)/float64(bytesPerSecond()))
	return out, nil
}
