package internal_recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	internal_audio "github.com/coachlyai/api/session-api/internal/audio"
	internal_type "github.com/coachlyai/api/session-api/internal/type"
	"github.com/coachlyai/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test fakes
// ============================================================================

// fakeDevice emits queued chunks immediately and the final chunk on Flush.
type fakeDevice struct {
	mu       sync.Mutex
	ch       chan Chunk
	nextSeq  int
	final    []byte
	flushErr error
	releases int32
}

func newFakeDevice(final []byte) *fakeDevice {
	return &fakeDevice{ch: make(chan Chunk, 64), final: final}
}

func (d *fakeDevice) emit(data []byte) {
	d.mu.Lock()
	seq := d.nextSeq
	d.nextSeq++
	d.mu.Unlock()
	d.ch <- Chunk{Seq: seq, Data: data}
}

func (d *fakeDevice) emitSeq(seq int, data []byte) {
	d.ch <- Chunk{Seq: seq, Data: data}
}

func (d *fakeDevice) Chunks() <-chan Chunk { return d.ch }

func (d *fakeDevice) Flush(ctx context.Context) error {
	if d.flushErr != nil {
		return d.flushErr
	}
	if d.final != nil {
		d.emit(d.final)
	}
	close(d.ch)
	return nil
}

func (d *fakeDevice) Release() error {
	atomic.AddInt32(&d.releases, 1)
	return nil
}

type fakeGateway struct {
	device DeviceSession
	err    error
}

func (g *fakeGateway) Acquire(ctx context.Context, constraints Constraints) (DeviceSession, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.device, nil
}

func newTestSession(t *testing.T, gateway DeviceGateway) *CaptureSession {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return NewCaptureSession(logger, gateway)
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestStartAndStopAssemblesOrderedBlob(t *testing.T) {
	device := newFakeDevice([]byte("END"))
	session := newTestSession(t, &fakeGateway{device: device})

	require.NoError(t, session.Start(context.Background(), DeviceClassStandard))
	assert.Equal(t, StateRecording, session.State())

	device.emit([]byte("AAA"))
	device.emit([]byte("BBB"))

	artifact, err := session.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, StateReady, session.State())
	assert.Equal(t, []byte("AAABBBEND"), artifact.Blob, "chunks in arrival order, final flush chunk included")
	assert.Equal(t, 9, artifact.ByteSize)
	assert.Equal(t, "video/webm;codecs=vp8,opus", artifact.MimeType)
	assert.NotEmpty(t, artifact.BlobRef)
}

func TestStartWhileActiveFails(t *testing.T) {
	device := newFakeDevice(nil)
	session := newTestSession(t, &fakeGateway{device: device})

	require.NoError(t, session.Start(context.Background(), DeviceClassStandard))

	err := session.Start(context.Background(), DeviceClassStandard)
	require.Error(t, err)
	assert.True(t, internal_type.IsFault(err, internal_type.FaultAlreadyActive))
}

func TestStopIsIdempotent(t *testing.T) {
	device := newFakeDevice([]byte("Z"))
	session := newTestSession(t, &fakeGateway{device: device})

	require.NoError(t, session.Start(context.Background(), DeviceClassStandard))
	device.emit([]byte("Y"))

	first, err := session.Stop(context.Background())
	require.NoError(t, err)
	second, err := session.Stop(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second, "every stop returns the same artifact")
	assert.Equal(t, int32(1), atomic.LoadInt32(&device.releases), "device release happens exactly once")
}

func TestPermissionDeniedIsRecoverable(t *testing.T) {
	fault := internal_type.NewFault(internal_type.FaultPermissionDenied, "camera denied by user", nil)
	session := newTestSession(t, &fakeGateway{err: fault})

	err := session.Start(context.Background(), DeviceClassStandard)
	require.Error(t, err)
	assert.True(t, internal_type.IsFault(err, internal_type.FaultPermissionDenied))
	assert.Equal(t, StateFailed, session.State())

	// Stop on a failed session reports the original fault; the overall
	// training session continues without a recording.
	artifact, err := session.Stop(context.Background())
	assert.Nil(t, artifact)
	assert.True(t, internal_type.IsFault(err, internal_type.FaultPermissionDenied))
}

func TestUnknownAcquireErrorMapsToDeviceUnavailable(t *testing.T) {
	session := newTestSession(t, &fakeGateway{err: assert.AnError})

	err := session.Start(context.Background(), DeviceClassStandard)
	require.Error(t, err)
	assert.True(t, internal_type.IsFault(err, internal_type.FaultDeviceUnavailable))
}

func TestChunkSequenceGapFailsEncoding(t *testing.T) {
	device := newFakeDevice(nil)
	session := newTestSession(t, &fakeGateway{device: device})

	require.NoError(t, session.Start(context.Background(), DeviceClassStandard))
	device.emitSeq(0, []byte("A"))
	device.emitSeq(2, []byte("C")) // gap: seq 1 never arrives
	device.nextSeq = 3

	artifact, err := session.Stop(context.Background())
	assert.Nil(t, artifact)
	require.Error(t, err)
	assert.True(t, internal_type.IsFault(err, internal_type.FaultEncodingFailure))
	assert.Equal(t, StateFailed, session.State())
}

func TestProfileHeuristic(t *testing.T) {
	standard := ProfileFor(DeviceClassStandard)
	constrained := ProfileFor(DeviceClassConstrained)

	assert.Greater(t, standard.VideoBitsPerSecond, constrained.VideoBitsPerSecond)
	assert.Greater(t, standard.AudioBitsPerSecond, constrained.AudioBitsPerSecond)
	assert.Equal(t, 640, constrained.Width)
}

// ============================================================================
// WAV artifact
// ============================================================================

func TestNewAudioArtifact(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0x02, 0x00}
	artifact := NewAudioArtifact(pcm, internal_audio.COACHLY_INTERNAL_AUDIO_CONFIG)

	assert.Equal(t, "audio/wav", artifact.MimeType)
	assert.Equal(t, 44+len(pcm), artifact.ByteSize, "44-byte WAV header plus PCM payload")
	assert.Equal(t, []byte("RIFF"), artifact.Blob[:4])
	assert.Equal(t, []byte("WAVE"), artifact.Blob[8:12])
}
