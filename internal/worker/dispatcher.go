package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/logging"
)

var ErrDispatcherClosed = errors.New("dispatcher is shut down")

type Runner interface {
	Run(ctx context.Context, p Payload) (string, error)
	// Abandon records that p was accepted but will never run.
	Abandon(ctx context.Context, p Payload, cause error)
}

// Dispatcher runs payloads in the background with bounded concurrency.
// Dispatch never waits for the job.
type Dispatcher struct {
	runner Runner
	sem    chan struct{}
	log    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewDispatcher(runner Runner, concurrency int, log *logrus.Entry) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logging.Component(nil, "dispatcher")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner: runner,
		sem:    make(chan struct{}, concurrency),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (d *Dispatcher) Dispatch(p Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			d.runner.Abandon(d.ctx, p, ErrDispatcherClosed)
			return
		}
		defer func() { <-d.sem }()
		if d.ctx.Err() != nil {
			d.runner.Abandon(d.ctx, p, ErrDispatcherClosed)
			return
		}

		if _, err := d.runner.Run(d.ctx, p); err != nil {
			d.log.WithError(err).WithField("transformation_id", p.TransformationID).Debug("job finished with error")
		}
	}()
	return nil
}

// Shutdown stops accepting work and waits for queued and running jobs. When
// ctx ends first, running jobs are cancelled and queued jobs abandoned, then
// Shutdown waits for them to settle.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
