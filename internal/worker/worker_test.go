package worker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-effects-backend/internal/models"
	"video-effects-backend/internal/worker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRecords struct {
	mu        sync.Mutex
	updates   []models.ProgressUpdate
	completed string
	final     models.ProgressUpdate
	failed    string
	failCtx   error
}

func (r *fakeRecords) UpdateProgress(ctx context.Context, id uuid.UUID, u models.ProgressUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *fakeRecords) CompleteTransformation(ctx context.Context, id uuid.UUID, transformedPath string, final models.ProgressUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = transformedPath
	r.final = final
	return nil
}

func (r *fakeRecords) FailTransformation(ctx context.Context, id uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = message
	r.failCtx = ctx.Err()
	return nil
}

type fakeStorage struct {
	objects  map[string][]byte
	uploaded map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}, uploaded: map[string][]byte{}}
}

func (s *fakeStorage) Download(ctx context.Context, storagePath string) ([]byte, error) {
	data, ok := s.objects[storagePath]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (s *fakeStorage) Upload(ctx context.Context, storagePath string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.uploaded[storagePath] = b
	return nil
}

// ffmpegScript plays ffprobe and ffmpeg. Each ffmpeg block advances the
// clock by step before it is emitted.
type ffmpegScript struct {
	clock      *fakeClock
	step       time.Duration
	blocks     int
	output     []byte
	encodeErr  error
	ffmpegArgs []string
}

func (s *ffmpegScript) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	if binary == "ffprobe" {
		onStdout("10.0")
		return nil
	}
	s.ffmpegArgs = args
	if s.encodeErr != nil {
		return s.encodeErr
	}
	for i := 1; i <= s.blocks; i++ {
		s.clock.Advance(s.step)
		onStdout(fmt.Sprintf("frame=%d", i*24))
		onStdout(fmt.Sprintf("out_time_us=%d", int64(i)*int64(10*time.Second/time.Microsecond)/int64(s.blocks)))
		onStdout("progress=continue")
	}
	onStdout("progress=end")
	return os.WriteFile(args[len(args)-1], s.output, 0o600)
}

type harness struct {
	records *fakeRecords
	storage *fakeStorage
	script  *ffmpegScript
	scratch string
	worker  *worker.Worker
	payload worker.Payload
}

func newHarness(t *testing.T) *harness {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := &harness{
		records: &fakeRecords{},
		storage: newFakeStorage(),
		script:  &ffmpegScript{clock: clock, step: 2 * time.Second, blocks: 5, output: []byte("encoded")},
		scratch: t.TempDir(),
		payload: worker.Payload{
			TransformationID: uuid.New(),
			VideoPath:        "user-1/original/clip.mp4",
			Effect:           "grayscale",
		},
	}
	h.storage.objects[h.payload.VideoPath] = []byte("source")
	h.worker = worker.NewWorker(h.records, h.storage,
		worker.WithExecutor(h.script),
		worker.WithScratchDir(h.scratch),
		worker.WithProgressInterval(5*time.Second),
		worker.WithClock(clock.Now),
	)
	return h
}

func (h *harness) assertScratchEmpty(t *testing.T) {
	entries, err := os.ReadDir(h.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t)

	path, err := h.worker.Run(context.Background(), h.payload)

	require.NoError(t, err)
	assert.Equal(t, "user-1/processed/clip.mp4", path)
	assert.Equal(t, []byte("encoded"), h.storage.uploaded[path])
	assert.Equal(t, path, h.records.completed)
	assert.Equal(t, 100, h.records.final.Progress)
	assert.Equal(t, int64(len("encoded")), h.records.final.Size)
	assert.Empty(t, h.records.failed)
	h.assertScratchEmpty(t)

	// blocks at 2s,4s,6s,8s,10s with a 5s window: 2s and 8s are written
	var progress []int
	for _, u := range h.records.updates {
		progress = append(progress, u.Progress)
		assert.LessOrEqual(t, u.Progress, 99)
	}
	assert.Equal(t, []int{20, 80}, progress)

	assert.Contains(t, h.script.ffmpegArgs, "format=gray")
	assert.Contains(t, h.script.ffmpegArgs, "libx264")
	assert.Contains(t, h.script.ffmpegArgs, "+faststart")
}

func TestRun_DownloadFailure(t *testing.T) {
	h := newHarness(t)
	delete(h.storage.objects, h.payload.VideoPath)

	_, err := h.worker.Run(context.Background(), h.payload)

	assert.ErrorIs(t, err, worker.ErrDownloadFailed)
	assert.Contains(t, h.records.failed, "download failed")
	assert.Nil(t, h.script.ffmpegArgs)
	h.assertScratchEmpty(t)
}

func TestRun_EncodeFailure(t *testing.T) {
	h := newHarness(t)
	h.script.encodeErr = errors.New("exit status 1: Invalid argument")

	_, err := h.worker.Run(context.Background(), h.payload)

	assert.ErrorIs(t, err, worker.ErrEncodeFailed)
	assert.Contains(t, h.records.failed, "Invalid argument")
	assert.Empty(t, h.records.completed)
	assert.Empty(t, h.storage.uploaded)
	h.assertScratchEmpty(t)
}

func TestRun_EmptyOutput(t *testing.T) {
	h := newHarness(t)
	h.script.output = nil

	_, err := h.worker.Run(context.Background(), h.payload)

	assert.ErrorIs(t, err, worker.ErrEmptyOutput)
	assert.Empty(t, h.records.completed)
	h.assertScratchEmpty(t)
}

func TestRun_MarksFailedAfterCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.script.encodeErr = context.Canceled
	cancel()

	_, err := h.worker.Run(ctx, h.payload)

	require.Error(t, err)
	assert.NotEmpty(t, h.records.failed)
	assert.NoError(t, h.records.failCtx)
}

func TestRun_InvalidPayload(t *testing.T) {
	h := newHarness(t)
	h.payload.Effect = "sparkle"

	_, err := h.worker.Run(context.Background(), h.payload)

	assert.ErrorIs(t, err, worker.ErrInvalidPayload)
	assert.NotEmpty(t, h.records.failed)
}

func TestParsePayload(t *testing.T) {
	id := uuid.New()
	p, err := worker.ParsePayload([]byte(`{"transformationId":"` + id.String() + `","videoPath":"u/original/a.mp4","effect":"sepia"}`))
	require.NoError(t, err)
	assert.Equal(t, id, p.TransformationID)
	assert.Equal(t, "sepia", p.Effect)

	_, err = worker.ParsePayload([]byte(`{"videoPath":"u/original/a.mp4","effect":"sepia"}`))
	assert.ErrorIs(t, err, worker.ErrInvalidPayload)

	_, err = worker.ParsePayload([]byte(`not json`))
	assert.ErrorIs(t, err, worker.ErrInvalidPayload)
}

func TestProcessedPath(t *testing.T) {
	cases := map[string]string{
		"u1/original/abc.mp4":          "u1/processed/abc.mp4",
		"original/abc.mp4":             "processed/abc.mp4",
		"u1/uploads/abc.mp4":           "u1/uploads/processed/abc.mp4",
		"abc.mp4":                      "processed/abc.mp4",
		"u1/original/x/original/a.mp4": "u1/processed/x/original/a.mp4",
	}
	for in, want := range cases {
		assert.Equal(t, want, worker.ProcessedPath(in), in)
	}
}

func TestThrottle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	th := worker.NewThrottle(5*time.Second, clock.Now)

	assert.True(t, th.Allow())
	clock.Advance(4 * time.Second)
	assert.False(t, th.Allow())
	clock.Advance(time.Second)
	assert.True(t, th.Allow())
	assert.False(t, th.Allow())
}

type blockingRunner struct {
	mu      sync.Mutex
	running int
	peak    int
	runs    int
	release chan struct{}
	dropped []uuid.UUID
}

func (r *blockingRunner) Abandon(ctx context.Context, p worker.Payload, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, p.TransformationID)
}

func (r *blockingRunner) Run(ctx context.Context, p worker.Payload) (string, error) {
	r.mu.Lock()
	r.running++
	r.runs++
	if r.running > r.peak {
		r.peak = r.running
	}
	r.mu.Unlock()

	select {
	case <-r.release:
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	return "", nil
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	d := worker.NewDispatcher(runner, 2, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Dispatch(worker.Payload{TransformationID: uuid.New()}))
	}
	time.Sleep(50 * time.Millisecond)
	close(runner.release)

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, 5, runner.runs)
	assert.LessOrEqual(t, runner.peak, 2)
	assert.ErrorIs(t, d.Dispatch(worker.Payload{}), worker.ErrDispatcherClosed)
}

func TestDispatcher_ShutdownDeadlineCancelsJobs(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	d := worker.NewDispatcher(runner, 1, nil)
	require.NoError(t, d.Dispatch(worker.Payload{TransformationID: uuid.New()}))
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 0, runner.running)
}

func TestDispatcher_ShutdownAbandonsQueuedJobs(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	d := worker.NewDispatcher(runner, 1, nil)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, d.Dispatch(worker.Payload{TransformationID: id}))
	}
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 1, runner.runs)
	assert.Len(t, runner.dropped, 2)
	for _, id := range runner.dropped {
		assert.Contains(t, ids, id)
	}
}

func TestAbandon_MarksRecordFailed(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.worker.Abandon(ctx, h.payload, worker.ErrDispatcherClosed)

	assert.Equal(t, worker.ErrDispatcherClosed.Error(), h.records.failed)
	assert.NoError(t, h.records.failCtx)
	assert.Empty(t, h.storage.uploaded)
}
