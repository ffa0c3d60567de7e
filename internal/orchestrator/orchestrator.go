// Package orchestrator moves one video from selection to a processed result
// through either the local engine or the remote worker. The state machine
// only knows the Strategy interface.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/logging"
)

// Reporter receives progress from a running strategy.
type Reporter interface {
	Metrics(m Metrics)
	Upload(u UploadProgress)
}

type Result struct {
	URL  string
	Path string
}

// Strategy executes one run. Start blocks until the run finishes. Cancel may
// be called from another goroutine while Start is running.
type Strategy interface {
	Mode() Mode
	Start(ctx context.Context, video Video, effect effects.Effect, r Reporter) (Result, error)
	Cancel()
}

// Principal is a signed-in user.
type Principal struct {
	UserID uuid.UUID
	Token  string
}

type Authenticator interface {
	Principal() (Principal, bool)
}

// StaticAuth is a fixed principal. An empty token means signed out.
type StaticAuth struct {
	P Principal
}

func (a StaticAuth) Principal() (Principal, bool) {
	return a.P, a.P.Token != "" && a.P.UserID != uuid.Nil
}

type Option func(*Orchestrator)

func WithStrategy(s Strategy) Option {
	return func(o *Orchestrator) { o.strategies[s.Mode()] = s }
}

func WithAuthenticator(a Authenticator) Option {
	return func(o *Orchestrator) { o.auth = a }
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

type Orchestrator struct {
	mu         sync.Mutex
	state      State
	strategies map[Mode]Strategy
	auth       Authenticator
	gen        uint64
	cancel     context.CancelFunc
	listeners  []func(State)
	log        *logrus.Entry

	// runMu orders a run's start after any earlier Cancel has finished
	// tearing its strategy down.
	runMu sync.Mutex
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		strategies: make(map[Mode]Strategy),
		auth:       StaticAuth{},
		log:        logging.Component(nil, "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state = State{
		Stage:   StageUpload,
		Mode:    ModeClient,
		Effect:  effects.None,
		Metrics: ZeroMetrics(ModeClient),
	}
	return o
}

// OnChange registers a listener called with every new state. Listeners run
// synchronously and must not call back into the orchestrator.
func (o *Orchestrator) OnChange(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.copyState()
}

func (o *Orchestrator) copyState() State {
	s := o.state
	if s.Video != nil {
		v := *s.Video
		s.Video = &v
	}
	return s
}

// commit publishes the current state. Must be called with mu held.
func (o *Orchestrator) commit() {
	s := o.copyState()
	for _, fn := range o.listeners {
		fn(s)
	}
}

func (o *Orchestrator) SelectFile(v Video) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Stage != StageUpload {
		return fmt.Errorf("%w: cannot select a file while %s", ErrInvalidTransition, o.state.Stage)
	}
	if !v.IsVideo() {
		err := fmt.Errorf("%w: %s", ErrUnsupportedFile, v.ContentType)
		o.state.Failure = classify(err)
		o.commit()
		return err
	}
	o.state.Video = &v
	o.state.Failure = nil
	o.commit()
	return nil
}

func (o *Orchestrator) SelectEffect(id string) error {
	effect, err := effects.Lookup(id)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Stage != StageUpload {
		return fmt.Errorf("%w: cannot change effect while %s", ErrInvalidTransition, o.state.Stage)
	}
	o.state.Effect = effect.ID
	o.commit()
	return nil
}

// SetMode switches execution mode. Only allowed while in upload; every
// switch clears the file, effect and metrics. Switching to remote without a
// session is refused and leaves the state untouched apart from the notice.
func (o *Orchestrator) SetMode(mode Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Stage != StageUpload {
		return fmt.Errorf("%w: cannot switch mode while %s", ErrInvalidTransition, o.state.Stage)
	}
	if mode != ModeClient && mode != ModeRemote {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if mode == ModeRemote {
		if _, ok := o.auth.Principal(); !ok {
			o.state.Failure = classify(ErrAuthRequired)
			o.commit()
			o.log.Info("remote mode refused without a session")
			return ErrAuthRequired
		}
	}

	o.state = State{
		Stage:   StageUpload,
		Mode:    mode,
		Effect:  effects.None,
		Metrics: ZeroMetrics(mode),
	}
	o.commit()
	o.log.WithField("mode", mode).Info("mode switched")
	return nil
}

// Apply runs the selected effect and blocks until the run ends. On success
// the stage is complete; on failure or cancellation it is upload again.
func (o *Orchestrator) Apply(ctx context.Context) (State, error) {
	o.runMu.Lock()
	o.mu.Lock()
	if err := o.guardApply(); err != nil {
		if o.state.Stage == StageUpload {
			o.state.Failure = classify(err)
			o.commit()
		}
		o.mu.Unlock()
		o.runMu.Unlock()
		return o.Snapshot(), err
	}
	strategy, ok := o.strategies[o.state.Mode]
	if !ok {
		o.mu.Unlock()
		o.runMu.Unlock()
		return o.Snapshot(), fmt.Errorf("%w: %s", ErrNoStrategy, o.state.Mode)
	}
	effect, err := effects.Lookup(string(o.state.Effect))
	if err != nil {
		o.mu.Unlock()
		o.runMu.Unlock()
		return o.Snapshot(), err
	}

	o.gen++
	gen := o.gen
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	video := *o.state.Video
	mode := o.state.Mode
	o.state.Stage = StageProcessing
	o.state.Metrics = ZeroMetrics(mode)
	o.state.Upload = UploadProgress{}
	o.state.Failure = nil
	o.state.ResultURL = ""
	o.state.DownloadName = ""
	o.commit()
	o.mu.Unlock()
	o.runMu.Unlock()

	log := o.log.WithFields(logrus.Fields{"mode": mode, "effect": effect.ID, "file": video.Name})
	log.Info("processing started")

	result, err := strategy.Start(runCtx, video, effect, &reporter{o: o, gen: gen})
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		// Cancel already moved the state back to upload.
		return o.copyState(), classify(context.Canceled)
	}
	o.cancel = nil

	if err != nil {
		failure := classify(err)
		o.state.Stage = StageUpload
		o.state.Metrics = ZeroMetrics(mode)
		o.state.Upload = UploadProgress{}
		if failure.Kind != KindCancelled {
			o.state.Failure = failure
		}
		o.commit()
		log.WithError(err).WithField("kind", failure.Kind).Warn("processing failed")
		return o.copyState(), failure
	}

	o.state.Stage = StageComplete
	o.state.Metrics = o.state.Metrics.withPercent(100)
	o.state.ResultURL = result.URL
	o.state.DownloadName = DownloadName(video.Name)
	o.commit()
	log.WithField("result_url", result.URL).Info("processing complete")
	return o.copyState(), nil
}

func (o *Orchestrator) guardApply() error {
	if o.state.Stage != StageUpload {
		return fmt.Errorf("%w: cannot apply while %s", ErrInvalidTransition, o.state.Stage)
	}
	if o.state.Video == nil {
		return ErrNoFileSelected
	}
	if o.state.Effect == effects.None || o.state.Effect == "" {
		return ErrNoEffectSelected
	}
	if o.state.Mode == ModeRemote {
		if _, ok := o.auth.Principal(); !ok {
			return ErrAuthRequired
		}
	}
	return nil
}

// Cancel aborts a running Apply and returns to upload. The selected file and
// effect are kept so the run can be retried.
func (o *Orchestrator) Cancel() error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.mu.Lock()
	if o.state.Stage != StageProcessing {
		o.mu.Unlock()
		return fmt.Errorf("%w: nothing to cancel while %s", ErrInvalidTransition, o.state.Stage)
	}
	o.gen++
	cancel := o.cancel
	o.cancel = nil
	strategy := o.strategies[o.state.Mode]
	o.state.Stage = StageUpload
	o.state.Metrics = ZeroMetrics(o.state.Mode)
	o.state.Upload = UploadProgress{}
	o.state.Failure = nil
	o.commit()
	o.mu.Unlock()

	if strategy != nil {
		strategy.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	o.log.Info("processing cancelled")
	return nil
}

// Restart leaves complete for a fresh upload.
func (o *Orchestrator) Restart() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Stage != StageComplete {
		return fmt.Errorf("%w: restart is only possible when complete", ErrInvalidTransition)
	}
	o.state = State{
		Stage:   StageUpload,
		Mode:    o.state.Mode,
		Effect:  effects.None,
		Metrics: ZeroMetrics(o.state.Mode),
	}
	o.commit()
	return nil
}

type reporter struct {
	o   *Orchestrator
	gen uint64
}

// Metrics applies a progress report from the current run. Progress is
// clamped to [0,100] and never moves backwards.
func (r *reporter) Metrics(m Metrics) {
	o := r.o
	o.mu.Lock()
	defer o.mu.Unlock()
	if r.gen != o.gen || o.state.Stage != StageProcessing || m == nil || m.Mode() != o.state.Mode {
		return
	}
	p := clampPercent(m.Percent())
	if prev := o.state.Metrics.Percent(); p < prev {
		p = prev
	}
	o.state.Metrics = m.withPercent(p)
	o.commit()
}

func (r *reporter) Upload(u UploadProgress) {
	o := r.o
	o.mu.Lock()
	defer o.mu.Unlock()
	if r.gen != o.gen || o.state.Stage != StageProcessing {
		return
	}
	if u.BytesUploaded < o.state.Upload.BytesUploaded && u.BytesTotal == o.state.Upload.BytesTotal {
		return
	}
	o.state.Upload = u
	o.commit()
}
