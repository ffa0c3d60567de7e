// Package remote hands transformations to the out-of-process worker and
// streams the record back to the caller while the worker updates it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/metrics"
	"video-effects-backend/internal/models"
	"video-effects-backend/internal/retry"
)

var ErrSubmissionFailed = errors.New("submission failed")

// Store persists transformation records.
type Store interface {
	CreateTransformation(ctx context.Context, t *models.Transformation) (*models.Transformation, error)
	GetTransformation(ctx context.Context, id uuid.UUID) (*models.Transformation, error)
}

// Feed delivers record changes as they are written. The channel is closed
// once ctx is done.
type Feed interface {
	Subscribe(ctx context.Context, id uuid.UUID) (<-chan models.Transformation, error)
}

// URLSigner turns a stored object path into a playable URL.
type URLSigner interface {
	SignedURL(ctx context.Context, path string) (string, error)
}

type Option func(*Coordinator)

func WithURLSigner(s URLSigner) Option {
	return func(c *Coordinator) { c.signer = s }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.attemptTimeout = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

type Coordinator struct {
	store          Store
	feed           Feed
	tokens         *TokenIssuer
	signer         URLSigner
	policy         retry.Policy
	attemptTimeout time.Duration
	metrics        *metrics.Metrics
	log            *logrus.Entry
}

func NewCoordinator(store Store, feed Feed, tokens *TokenIssuer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		feed:           feed,
		tokens:         tokens,
		policy:         retry.Fixed(3, time.Second),
		attemptTimeout: 10 * time.Second,
		log:            logging.Component(nil, "remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy.Retryable = isTimeout
	return c
}

// Submit inserts a pending record. The insert is what schedules the worker;
// nothing else is called here. Only timeouts are retried.
func (c *Coordinator) Submit(ctx context.Context, sourcePath, effectID string, ownerID uuid.UUID) (*models.Transformation, error) {
	effect, err := effects.Lookup(effectID)
	if err != nil {
		return nil, err
	}

	record := &models.Transformation{
		ID:         uuid.New(),
		UserID:     ownerID,
		SourcePath: sourcePath,
		Effect:     string(effect.ID),
		Status:     models.StatusPending,
	}
	log := c.log.WithFields(logrus.Fields{"transformation_id": record.ID, "effect": effect.ID})

	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.WithError(err).WithField("attempt", attempt).Warn("record insert timed out, retrying")
	}

	var created *models.Transformation
	err = retry.Do(ctx, policy, func(int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
		t, err := c.store.CreateTransformation(attemptCtx, record)
		if err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		c.metrics.Submitted("failed")
		log.WithError(err).Error("failed to submit transformation")
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	c.metrics.Submitted("ok")
	log.Info("transformation submitted")
	return created, nil
}

// IssueAccessToken returns a read-only credential for exactly one record.
func (c *Coordinator) IssueAccessToken(id uuid.UUID) (AccessToken, error) {
	return c.tokens.Issue(id)
}

// VerifyAccessToken checks a status-channel credential against a record id.
func (c *Coordinator) VerifyAccessToken(token string, id uuid.UUID) error {
	return c.tokens.Verify(token, id)
}

// Get returns the current snapshot of a record.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (models.Snapshot, error) {
	t, err := c.store.GetTransformation(ctx, id)
	if err != nil {
		return models.Snapshot{}, err
	}
	return c.snapshot(ctx, t), nil
}

// Subscribe streams snapshots of one record in order, starting with its
// current state. The channel closes after a completed or failed snapshot,
// or when ctx is done. Snapshots that would move the record backwards, or a
// completed record without its path, are dropped.
func (c *Coordinator) Subscribe(ctx context.Context, id uuid.UUID) (<-chan models.Snapshot, error) {
	subCtx, cancel := context.WithCancel(ctx)
	updates, err := c.feed.Subscribe(subCtx, id)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	current, err := c.store.GetTransformation(subCtx, id)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan models.Snapshot, 1)
	log := c.log.WithField("transformation_id", id)
	go func() {
		defer close(out)
		defer cancel()
		c.metrics.SubscriberOpened()
		defer c.metrics.SubscriberClosed()

		var last *models.Transformation
		emit := func(t *models.Transformation) bool {
			if !t.Consistent() {
				log.Warn("dropping completed snapshot without transformed path")
				return true
			}
			if !t.Supersedes(last) || sameSnapshot(t, last) {
				return true
			}
			select {
			case out <- c.snapshot(subCtx, t):
			case <-subCtx.Done():
				return false
			}
			last = t
			return !t.Status.IsTerminal()
		}

		if !emit(current) {
			return
		}
		for {
			select {
			case <-subCtx.Done():
				return
			case t, ok := <-updates:
				if !ok {
					return
				}
				if !emit(&t) {
					log.WithField("status", t.Status).Debug("subscription finished")
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Coordinator) snapshot(ctx context.Context, t *models.Transformation) models.Snapshot {
	snap := models.Snapshot{Transformation: *t}
	if t.Status == models.StatusCompleted && t.TransformedPath != nil && c.signer != nil {
		url, err := c.signer.SignedURL(ctx, *t.TransformedPath)
		if err != nil {
			c.log.WithError(err).WithField("transformation_id", t.ID).Warn("failed to sign result url")
		} else {
			snap.ResultURL = url
		}
	}
	return snap
}

func sameSnapshot(t, last *models.Transformation) bool {
	return last != nil &&
		t.Status == last.Status &&
		t.Progress == last.Progress &&
		t.Frames == last.Frames &&
		t.Time == last.Time
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
