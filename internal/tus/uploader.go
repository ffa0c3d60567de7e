// Package tus implements a resumable, chunked upload client for the tus 1.0.0
// protocol as served by Supabase Storage at /storage/v1/upload/resumable.
package tus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/retry"
)

const (
	ProtocolVersion = "1.0.0"

	DefaultChunkSize int64 = 6 * 1024 * 1024
	CacheControl           = "3600"
)

// DefaultRetryDelays is the wait before each retry of a failed request.
var DefaultRetryDelays = []time.Duration{
	0,
	3 * time.Second,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
}

var ErrUnauthenticated = errors.New("unauthenticated")

// UploadFailedError is returned once the retry budget for a request is spent
// or the server rejects the upload outright.
type UploadFailedError struct {
	Cause error
}

func (e *UploadFailedError) Error() string {
	return "upload failed: " + e.Cause.Error()
}

func (e *UploadFailedError) Unwrap() error {
	return e.Cause
}

type statusError struct {
	op   string
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: status %d, body: %s", e.op, e.code, e.body)
}

// ProgressFunc receives cumulative acknowledged bytes.
type ProgressFunc func(bytesUploaded, bytesTotal int64)

type Option func(*Uploader)

func WithChunkSize(n int64) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.chunkSize = n
		}
	}
}

func WithRetryDelays(delays []time.Duration) Option {
	return func(u *Uploader) {
		u.delays = append([]time.Duration(nil), delays...)
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) {
		if c != nil {
			u.client = c
		}
	}
}

func WithStore(s FingerprintStore) Option {
	return func(u *Uploader) {
		if s != nil {
			u.store = s
		}
	}
}

// WithSleep replaces the wait between retries (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(u *Uploader) {
		u.sleep = sleep
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(u *Uploader) {
		if log != nil {
			u.log = log
		}
	}
}

type Uploader struct {
	endpoint  string
	bucket    string
	client    *http.Client
	chunkSize int64
	delays    []time.Duration
	store     FingerprintStore
	sleep     func(ctx context.Context, d time.Duration) error
	log       *logrus.Entry
}

// NewUploader targets a tus creation endpoint and storage bucket.
func NewUploader(endpoint, bucket string, opts ...Option) *Uploader {
	u := &Uploader{
		endpoint:  endpoint,
		bucket:    bucket,
		client:    &http.Client{Timeout: 60 * time.Second},
		chunkSize: DefaultChunkSize,
		delays:    DefaultRetryDelays,
		store:     NewMemoryStore(),
		log:       logging.Component(nil, "tus"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload sends f to destinationPath in sequential chunks. If an unfinished
// session for the same file exists it resumes from the server's offset. On
// success the session is forgotten so it cannot be resumed again. The
// returned path is the object the bytes were stored under.
func (u *Uploader) Upload(ctx context.Context, f *File, destinationPath, credential string, onProgress ProgressFunc) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", ErrUnauthenticated
	}
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}

	fingerprint := Fingerprint(u.endpoint, u.bucket, f)
	log := u.log.WithFields(logrus.Fields{"object": destinationPath, "size": f.Size})

	sess, offset, ok := u.resume(ctx, fingerprint, f, credential)
	if ok {
		log = log.WithField("object", sess.ObjectName)
		log.WithField("offset", offset).Info("resuming upload")
	} else {
		created, err := u.createWithRetry(ctx, f, destinationPath, credential)
		if err != nil {
			return "", u.classify(ctx, err)
		}
		sess = created
		offset = 0
		if err := u.store.Save(fingerprint, sess); err != nil {
			log.WithError(err).Warn("failed to remember upload session")
		}
	}
	onProgress(offset, f.Size)

	for offset < f.Size {
		start := offset
		err := retry.Do(ctx, u.policy(log), func(attempt int) error {
			if attempt > 1 {
				serverOffset, err := u.head(ctx, sess.UploadURL, credential)
				if err != nil {
					return err
				}
				offset = serverOffset
				if offset >= f.Size {
					return nil
				}
			}
			next, err := u.patch(ctx, sess.UploadURL, credential, f, offset)
			if err != nil {
				return err
			}
			offset = next
			return nil
		})
		if err != nil {
			return "", u.classify(ctx, err)
		}
		log.WithFields(logrus.Fields{"from": start, "to": offset}).Debug("chunk acknowledged")
		onProgress(offset, f.Size)
	}

	if err := u.store.Remove(fingerprint); err != nil {
		log.WithError(err).Warn("failed to forget upload session")
	}
	log.Info("upload complete")
	return sess.ObjectName, nil
}

func (u *Uploader) policy(log *logrus.Entry) retry.Policy {
	return retry.Policy{
		Delays:    u.delays,
		Retryable: retryable,
		Sleep:     u.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("upload request failed, retrying")
		},
	}
}

func (u *Uploader) resume(ctx context.Context, fingerprint string, f *File, credential string) (Session, int64, bool) {
	sess, found, err := u.store.Find(fingerprint)
	if err != nil || !found {
		return Session{}, 0, false
	}
	if sess.Size != f.Size {
		_ = u.store.Remove(fingerprint)
		return Session{}, 0, false
	}
	offset, err := u.head(ctx, sess.UploadURL, credential)
	if err != nil {
		u.log.WithError(err).Info("previous upload session is gone, starting over")
		_ = u.store.Remove(fingerprint)
		return Session{}, 0, false
	}
	return sess, offset, true
}

func (u *Uploader) createWithRetry(ctx context.Context, f *File, objectName, credential string) (Session, error) {
	var sess Session
	err := retry.Do(ctx, u.policy(u.log), func(int) error {
		s, err := u.create(ctx, f, objectName, credential)
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	return sess, err
}

func (u *Uploader) create(ctx context.Context, f *File, objectName, credential string) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, nil)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create request: %w", err)
	}
	u.setCommonHeaders(req, credential)
	req.Header.Set("Upload-Length", strconv.FormatInt(f.Size, 10))
	req.Header.Set("Upload-Metadata", encodeMetadata([][2]string{
		{"bucketName", u.bucket},
		{"objectName", objectName},
		{"contentType", f.ContentType},
		{"cacheControl", CacheControl},
	}))
	req.Header.Set("x-upsert", "true")

	resp, err := u.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Session{}, newStatusError("create upload", resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return Session{}, &statusError{op: "create upload", code: resp.StatusCode, body: "missing Location header"}
	}
	uploadURL, err := resolve(u.endpoint, location)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UploadURL:  uploadURL,
		ObjectName: objectName,
		Size:       f.Size,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (u *Uploader) head(ctx context.Context, uploadURL, credential string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uploadURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	u.setCommonHeaders(req, credential)
	req.Header.Set("Cache-Control", "no-store")

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return 0, newStatusError("query offset", resp)
	}
	return parseOffset(resp.Header.Get("Upload-Offset"))
}

func (u *Uploader) patch(ctx context.Context, uploadURL, credential string, f *File, offset int64) (int64, error) {
	n := u.chunkSize
	if remaining := f.Size - offset; remaining < n {
		n = remaining
	}
	body := io.NewSectionReader(f.Reader, offset, n)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, uploadURL, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = n
	u.setCommonHeaders(req, credential)
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return 0, newStatusError("upload chunk", resp)
	}
	next, err := parseOffset(resp.Header.Get("Upload-Offset"))
	if err != nil {
		return 0, err
	}
	if next <= offset || next > f.Size {
		return 0, fmt.Errorf("server acknowledged offset %d after sending from %d", next, offset)
	}
	return next, nil
}

func (u *Uploader) setCommonHeaders(req *http.Request, credential string) {
	req.Header.Set("Tus-Resumable", ProtocolVersion)
	req.Header.Set("Authorization", "Bearer "+credential)
}

// classify maps a terminal request error onto the package's error kinds.
func (u *Uploader) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("upload interrupted: %w", ctxErr)
	}
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return &UploadFailedError{Cause: err}
}

// retryable mirrors the usual tus client rule: network failures and 5xx are
// transient, 4xx are not except conflict, locked and too-many-requests.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code >= 500:
			return true
		case se.code == http.StatusConflict, se.code == http.StatusLocked, se.code == http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}
	return true
}

func newStatusError(op string, resp *http.Response) *statusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &statusError{op: op, code: resp.StatusCode, body: string(body)}
}

func parseOffset(v string) (int64, error) {
	if v == "" {
		return 0, errors.New("missing Upload-Offset header")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid Upload-Offset %q", v)
	}
	return n, nil
}

func encodeMetadata(pairs [][2]string) string {
	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		parts = append(parts, kv[0]+" "+base64.StdEncoding.EncodeToString([]byte(kv[1])))
	}
	return strings.Join(parts, ",")
}

func resolve(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	l, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid Location header: %w", err)
	}
	return b.ResolveReference(l).String(), nil
}
