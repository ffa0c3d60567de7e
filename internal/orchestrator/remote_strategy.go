package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/models"
	"video-effects-backend/internal/tus"
)

// RemoteBackend is the server side of a remote run as seen by a client.
type RemoteBackend interface {
	Quota(ctx context.Context, p Principal) (models.Quota, error)
	Submit(ctx context.Context, p Principal, sourcePath, effectID string) (*models.Transformation, error)
	IssueAccessToken(ctx context.Context, p Principal, id uuid.UUID) (string, error)
	Subscribe(ctx context.Context, id uuid.UUID, token string) (<-chan models.Snapshot, error)
}

type Uploader interface {
	Upload(ctx context.Context, f *tus.File, destinationPath, credential string, onProgress tus.ProgressFunc) (string, error)
}

// RemoteStrategy uploads the file, submits a transformation and follows the
// record until it completes or fails.
type RemoteStrategy struct {
	backend  RemoteBackend
	uploader Uploader
	auth     Authenticator
	log      *logrus.Entry
}

func NewRemoteStrategy(backend RemoteBackend, uploader Uploader, auth Authenticator, log *logrus.Entry) *RemoteStrategy {
	if log == nil {
		log = logging.Component(nil, "remote-strategy")
	}
	return &RemoteStrategy{backend: backend, uploader: uploader, auth: auth, log: log}
}

func (s *RemoteStrategy) Mode() Mode { return ModeRemote }

func (s *RemoteStrategy) Start(ctx context.Context, video Video, effect effects.Effect, r Reporter) (Result, error) {
	principal, ok := s.auth.Principal()
	if !ok {
		return Result{}, ErrAuthRequired
	}

	quota, err := s.backend.Quota(ctx, principal)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read quota: %w", err)
	}
	if video.Size > quota.Remaining() {
		return Result{}, fmt.Errorf("%w: %d bytes needed, %d available", ErrQuotaExceeded, video.Size, quota.Remaining())
	}

	f, closer, err := tus.Open(video.Path)
	if err != nil {
		return Result{}, err
	}
	defer closer.Close()

	sourcePath, err := s.uploader.Upload(ctx, f, ObjectName(principal.UserID, video.Name), principal.Token,
		func(done, total int64) {
			r.Upload(UploadProgress{BytesUploaded: done, BytesTotal: total})
		})
	if err != nil {
		return Result{}, err
	}

	record, err := s.backend.Submit(ctx, principal, sourcePath, string(effect.ID))
	if err != nil {
		return Result{}, err
	}
	log := s.log.WithField("transformation_id", record.ID)
	log.Info("transformation submitted")

	token, err := s.backend.IssueAccessToken(ctx, principal, record.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get status access: %w", err)
	}
	stream, err := s.backend.Subscribe(ctx, record.ID, token)
	if err != nil {
		return Result{}, err
	}

	for snap := range stream {
		r.Metrics(RemoteMetrics{
			Progress: snap.Progress,
			Time:     snap.Time,
			FPS:      snap.FPS,
			Speed:    snap.Speed,
			Frames:   snap.Frames,
			Size:     snap.Size,
		})
		switch snap.Status {
		case models.StatusCompleted:
			if snap.TransformedPath == nil {
				continue
			}
			return Result{URL: snap.ResultURL, Path: *snap.TransformedPath}, nil
		case models.StatusFailed:
			msg := "worker reported failure"
			if snap.ErrorMessage != nil {
				msg = *snap.ErrorMessage
			}
			return Result{}, fmt.Errorf("%w: %s", ErrRemoteFailed, msg)
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{}, ErrStreamClosed
}

// Cancel only stops following the record; the worker keeps running.
func (s *RemoteStrategy) Cancel() {}
