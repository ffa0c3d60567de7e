// Package worker runs one transformation end to end: download the source,
// encode it with the effect's filter, upload the result and write the outcome
// back to the record.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/encoder"
	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/metrics"
	"video-effects-backend/internal/models"
)

var (
	ErrDownloadFailed = errors.New("download failed")
	ErrEncodeFailed   = errors.New("encode failed")
	ErrEmptyOutput    = errors.New("encoder produced no output")
	ErrUploadFailed   = errors.New("result upload failed")
	ErrInvalidPayload = errors.New("invalid payload")
)

const resultContentType = "video/mp4"

// Records is the subset of the record store the worker writes to.
type Records interface {
	UpdateProgress(ctx context.Context, id uuid.UUID, u models.ProgressUpdate) error
	CompleteTransformation(ctx context.Context, id uuid.UUID, transformedPath string, final models.ProgressUpdate) error
	FailTransformation(ctx context.Context, id uuid.UUID, message string) error
}

type Storage interface {
	Download(ctx context.Context, storagePath string) ([]byte, error)
	Upload(ctx context.Context, storagePath string, data io.Reader, contentType string) error
}

// Payload is what the job trigger hands to the worker.
type Payload struct {
	TransformationID uuid.UUID `json:"transformationId"`
	VideoPath        string    `json:"videoPath"`
	Effect           string    `json:"effect"`
}

func ParsePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func (p Payload) Validate() error {
	if p.TransformationID == uuid.Nil {
		return fmt.Errorf("%w: transformationId is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.VideoPath) == "" {
		return fmt.Errorf("%w: videoPath is required", ErrInvalidPayload)
	}
	if _, err := effects.Lookup(p.Effect); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

// ProcessedPath derives the result location from the source path by
// swapping the original/ segment for processed/.
func ProcessedPath(sourcePath string) string {
	if strings.Contains(sourcePath, "/original/") {
		return strings.Replace(sourcePath, "/original/", "/processed/", 1)
	}
	if strings.HasPrefix(sourcePath, "original/") {
		return "processed/" + strings.TrimPrefix(sourcePath, "original/")
	}
	dir, file := path.Split(sourcePath)
	return dir + "processed/" + file
}

type Option func(*Worker)

func WithExecutor(e encoder.Executor) Option {
	return func(w *Worker) { w.exec = e }
}

func WithBinaries(ffmpegPath, ffprobePath string) Option {
	return func(w *Worker) {
		w.ffmpegPath = ffmpegPath
		w.ffprobePath = ffprobePath
	}
}

func WithScratchDir(dir string) Option {
	return func(w *Worker) { w.scratchDir = dir }
}

func WithProgressInterval(d time.Duration) Option {
	return func(w *Worker) { w.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithLogger(log *logrus.Entry) Option {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

type Worker struct {
	records     Records
	storage     Storage
	exec        encoder.Executor
	ffmpegPath  string
	ffprobePath string
	scratchDir  string
	interval    time.Duration
	now         func() time.Time
	metrics     *metrics.Metrics
	log         *logrus.Entry
}

func NewWorker(records Records, storage Storage, opts ...Option) *Worker {
	w := &Worker{
		records:     records,
		storage:     storage,
		exec:        encoder.CommandExecutor{},
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		scratchDir:  os.TempDir(),
		interval:    5 * time.Second,
		now:         time.Now,
		log:         logging.Component(nil, "worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes one payload and returns the stored result path. Any failure
// marks the record failed; scratch files are removed on every path.
func (w *Worker) Run(ctx context.Context, p Payload) (string, error) {
	log := w.log.WithFields(logrus.Fields{
		"transformation_id": p.TransformationID,
		"effect":            p.Effect,
		"source_path":       p.VideoPath,
	})
	started := w.now()
	w.metrics.JobStarted()
	outcome := "failed"
	defer func() {
		w.metrics.JobFinished(outcome, w.now().Sub(started).Seconds())
	}()

	log.Info("transformation started")
	resultPath, err := w.process(ctx, p, log)
	if err != nil {
		log.WithError(err).Error("transformation failed")
		w.markFailed(ctx, p.TransformationID, err, log)
		return "", err
	}

	outcome = "completed"
	log.WithField("transformed_path", resultPath).Info("transformation completed")
	return resultPath, nil
}

func (w *Worker) process(ctx context.Context, p Payload, log *logrus.Entry) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	effect, err := effects.Lookup(p.Effect)
	if err != nil {
		return "", err
	}

	data, err := w.storage.Download(ctx, p.VideoPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrDownloadFailed, p.VideoPath, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrDownloadFailed, p.VideoPath)
	}

	dir, err := os.MkdirTemp(w.scratchDir, "transform-"+p.TransformationID.String()+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.WithError(err).Warn("failed to remove scratch dir")
		}
	}()

	input := filepath.Join(dir, "input"+inputExt(p.VideoPath))
	output := filepath.Join(dir, "output.mp4")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write scratch input: %w", err)
	}

	duration, err := encoder.ProbeDuration(ctx, w.exec, w.ffprobePath, input)
	if err != nil {
		log.WithError(err).Warn("duration unknown, progress will stay at 0 until completion")
	}

	throttle := NewThrottle(w.interval, w.now)
	var last models.ProgressUpdate
	args := encoder.Args(input, output, effect.Filter, encoder.WorkerProfile)
	err = encoder.Encode(ctx, w.exec, w.ffmpegPath, args, func(pr encoder.Progress) {
		last = progressUpdate(pr, duration)
		if !throttle.Allow() {
			return
		}
		if err := w.records.UpdateProgress(ctx, p.TransformationID, last); err != nil {
			log.WithError(err).Warn("failed to write progress")
			return
		}
		w.metrics.ProgressWritten()
		log.WithField("progress", last.Progress).Debug("progress written")
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return "", ErrEmptyOutput
	}

	f, err := os.Open(output)
	if err != nil {
		return "", fmt.Errorf("failed to open scratch output: %w", err)
	}
	defer f.Close()

	resultPath := ProcessedPath(p.VideoPath)
	if err := w.storage.Upload(ctx, resultPath, f, resultContentType); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	final := last
	final.Progress = 100
	final.Size = info.Size()
	if err := w.records.CompleteTransformation(ctx, p.TransformationID, resultPath, final); err != nil {
		return "", fmt.Errorf("failed to record completion: %w", err)
	}
	return resultPath, nil
}

// Abandon fails a record whose job was dropped before it started.
func (w *Worker) Abandon(ctx context.Context, p Payload, cause error) {
	log := w.log.WithField("transformation_id", p.TransformationID)
	log.WithError(cause).Warn("transformation abandoned before start")
	w.markFailed(ctx, p.TransformationID, cause, log)
}

// markFailed runs even when ctx is already cancelled so the record does not
// stay in processing.
func (w *Worker) markFailed(ctx context.Context, id uuid.UUID, cause error, log *logrus.Entry) {
	if id == uuid.Nil {
		return
	}
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.records.FailTransformation(failCtx, id, cause.Error()); err != nil {
		log.WithError(err).Warn("failed to mark transformation failed")
	}
}

// progressUpdate converts encoder telemetry. Intermediate updates stop at 99;
// 100 is only written together with the completed status.
func progressUpdate(p encoder.Progress, duration time.Duration) models.ProgressUpdate {
	percent := encoder.Percent(p.Fraction(duration))
	if percent > 99 {
		percent = 99
	}
	return models.ProgressUpdate{
		Progress: percent,
		Frames:   p.Frame,
		FPS:      p.FPS,
		Speed:    p.Speed,
		Time:     p.Timemark(),
		Size:     p.TotalSize,
	}
}

func inputExt(sourcePath string) string {
	ext := path.Ext(sourcePath)
	if ext == "" || len(ext) > 8 {
		return ".mp4"
	}
	return ext
}
