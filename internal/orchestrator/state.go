package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/local"
	"video-effects-backend/internal/remote"
	"video-effects-backend/internal/tus"
)

type Stage string

const (
	StageUpload     Stage = "upload"
	StageProcessing Stage = "processing"
	StageComplete   Stage = "complete"
)

type Mode string

const (
	ModeClient Mode = "client"
	ModeRemote Mode = "remote"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeClient, "local":
		return ModeClient, nil
	case ModeRemote:
		return ModeRemote, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

var (
	ErrNoFileSelected    = errors.New("no file selected")
	ErrNoEffectSelected  = errors.New("no effect selected")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrAuthRequired      = errors.New("sign in to use remote processing")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrQuotaExceeded     = errors.New("storage quota exceeded")
	ErrRemoteFailed      = errors.New("remote processing failed")
	ErrStreamClosed      = errors.New("status stream closed before completion")
	ErrNoStrategy        = errors.New("no execution strategy for mode")
)

type FailureKind string

const (
	KindInput     FailureKind = "input"
	KindAuth      FailureKind = "auth"
	KindTransient FailureKind = "transient"
	KindExecution FailureKind = "execution"
	KindCancelled FailureKind = "cancelled"
)

// Failure is what the orchestrator surfaces: one message for people and one
// kind for code.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var encErr *local.EncodeFailedError
	var upErr *tus.UploadFailedError
	switch {
	case errors.Is(err, local.ErrCancelled), errors.Is(err, context.Canceled):
		return &Failure{Kind: KindCancelled, Message: "Processing was cancelled.", Err: err}
	case errors.Is(err, ErrNoFileSelected), errors.Is(err, ErrNoEffectSelected),
		errors.Is(err, ErrUnsupportedFile), errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, effects.ErrUnknownEffect):
		return &Failure{Kind: KindInput, Message: err.Error(), Err: err}
	case errors.Is(err, ErrAuthRequired), errors.Is(err, tus.ErrUnauthenticated):
		return &Failure{Kind: KindAuth, Message: ErrAuthRequired.Error(), Err: err}
	case errors.As(err, &upErr):
		return &Failure{Kind: KindTransient, Message: "The upload failed after several retries.", Err: err}
	case errors.Is(err, remote.ErrSubmissionFailed):
		return &Failure{Kind: KindTransient, Message: "The job could not be submitted. Try again shortly.", Err: err}
	case errors.Is(err, local.ErrEmptyOutput):
		return &Failure{Kind: KindExecution, Message: "The encoder produced an empty file.", Err: err}
	case errors.As(err, &encErr):
		return &Failure{Kind: KindExecution, Message: "Encoding failed: " + encErr.Message, Err: err}
	case errors.Is(err, local.ErrInitializationFailed):
		return &Failure{Kind: KindExecution, Message: "The encoder could not be loaded.", Err: err}
	default:
		return &Failure{Kind: KindExecution, Message: err.Error(), Err: err}
	}
}

// Video is a selected local file.
type Video struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// OpenVideo stats path and accepts it only when it looks like a video.
func OpenVideo(path string) (Video, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Video{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return Video{}, fmt.Errorf("%w: %s is a directory", ErrUnsupportedFile, path)
	}
	v := Video{
		Path:        path,
		Name:        filepath.Base(path),
		ContentType: tus.ContentTypeFor(path),
		Size:        info.Size(),
	}
	if !v.IsVideo() {
		return Video{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, v.ContentType)
	}
	return v, nil
}

func (v Video) IsVideo() bool {
	return strings.HasPrefix(v.ContentType, "video/")
}

// DownloadName is the filename offered for the processed result.
func DownloadName(original string) string {
	return "transformed-" + filepath.Base(original)
}

// ObjectName places an upload under the owner's original/ prefix.
func ObjectName(userID uuid.UUID, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		ext = ".mp4"
	}
	return userID.String() + "/original/" + uuid.NewString() + ext
}

// State is an immutable view of the orchestrator.
type State struct {
	Stage        Stage          `json:"stage"`
	Mode         Mode           `json:"mode"`
	Video        *Video         `json:"video,omitempty"`
	Effect       effects.ID     `json:"effect"`
	Metrics      Metrics        `json:"metrics"`
	Upload       UploadProgress `json:"upload"`
	ResultURL    string         `json:"result_url,omitempty"`
	DownloadName string         `json:"download_name,omitempty"`
	Failure      *Failure       `json:"failure,omitempty"`
}
