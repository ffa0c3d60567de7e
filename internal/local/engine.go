// Package local runs effects in-process against an embedded encoder runtime.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/encoder"
	"video-effects-backend/internal/logging"
)

const (
	InputSlot  = "input.mp4"
	OutputSlot = "output.mp4"
)

var (
	ErrInitializationFailed = errors.New("encoder initialization failed")
	ErrEmptyOutput          = errors.New("encoder produced no output")
	ErrCancelled            = errors.New("encode cancelled")
)

type EncodeFailedError struct {
	Message string
	Err     error
}

func (e *EncodeFailedError) Error() string {
	return "encode failed: " + e.Message
}

func (e *EncodeFailedError) Unwrap() error {
	return e.Err
}

// ProgressEvent is what a runtime reports while encoding. Progress is a
// fraction in [0,1].
type ProgressEvent struct {
	Progress float64
	Time     string
}

// Runtime is a loaded encoder with its own virtual file slots. Terminate
// discards the runtime and everything in it; a terminated runtime is never
// reused.
type Runtime interface {
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	DeleteFile(name string) error
	Exec(ctx context.Context, args []string, onProgress func(ProgressEvent)) error
	Terminate()
}

// Loader produces a fresh runtime.
type Loader func(ctx context.Context) (Runtime, error)

// Engine owns one runtime at a time. Initialization is single-flight:
// concurrent callers share one load.
type Engine struct {
	load  Loader
	group singleflight.Group

	mu  sync.Mutex
	rt  Runtime
	gen uint64

	log *logrus.Entry
}

func NewEngine(load Loader, log *logrus.Entry) *Engine {
	if log == nil {
		log = logging.Component(nil, "local-engine")
	}
	return &Engine{load: load, log: log}
}

// Ready reports whether a runtime is loaded.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rt != nil
}

// Initialize loads the runtime once. Calling it again while loaded is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()
	return e.initialize(ctx, gen)
}

// initialize waits for a runtime that belongs to generation gen. The load runs
// detached from any one caller, so a caller that gives up does not fail the
// others sharing it. A load that straddles a Cancel is thrown away.
func (e *Engine) initialize(ctx context.Context, gen uint64) error {
	for {
		e.mu.Lock()
		loaded, current := e.rt != nil, e.gen == gen
		e.mu.Unlock()
		if !current {
			return ErrCancelled
		}
		if loaded {
			return nil
		}

		ch := e.group.DoChan("load", func() (interface{}, error) {
			return nil, e.loadRuntime(context.WithoutCancel(ctx))
		})
		select {
		case res := <-ch:
			if res.Shared {
				e.log.Debug("joined in-flight encoder load")
			}
			// A load begun before this caller's generation was discarded;
			// start a fresh one.
			if errors.Is(res.Err, ErrCancelled) && e.current(gen) {
				continue
			}
			if res.Err != nil {
				return res.Err
			}
		case <-ctx.Done():
			return ErrCancelled
		}
	}
}

func (e *Engine) loadRuntime(ctx context.Context) error {
	e.mu.Lock()
	start, loaded := e.gen, e.rt != nil
	e.mu.Unlock()
	if loaded {
		return nil
	}

	rt, err := e.load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitializationFailed, err)
	}

	e.mu.Lock()
	if e.gen != start {
		e.mu.Unlock()
		rt.Terminate()
		e.log.Info("encoder runtime discarded, cancelled while loading")
		return ErrCancelled
	}
	e.rt = rt
	e.mu.Unlock()
	e.log.Info("encoder runtime loaded")
	return nil
}

// Run encodes input with the given effect and returns the output bytes. Both
// slots are removed before Run returns, whatever the outcome.
func (e *Engine) Run(ctx context.Context, input []byte, effectID string, onProgress func(percent int, timemark string)) ([]byte, error) {
	effect, err := effects.Lookup(effectID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()
	if err := e.initialize(ctx, gen); err != nil {
		return nil, err
	}

	e.mu.Lock()
	rt := e.rt
	moved := e.gen != gen
	e.mu.Unlock()
	if rt == nil || moved {
		return nil, ErrCancelled
	}

	log := e.log.WithField("effect", effect.ID)
	defer func() {
		for _, slot := range []string{InputSlot, OutputSlot} {
			if err := rt.DeleteFile(slot); err != nil {
				log.WithError(err).WithField("slot", slot).Debug("slot cleanup")
			}
		}
	}()

	if err := rt.WriteFile(InputSlot, input); err != nil {
		return nil, e.failure(ctx, gen, err)
	}

	err = rt.Exec(ctx, Command(effect), func(ev ProgressEvent) {
		if onProgress != nil && e.current(gen) {
			onProgress(encoder.Percent(ev.Progress), ev.Time)
		}
	})
	if err != nil {
		return nil, e.failure(ctx, gen, err)
	}

	out, err := rt.ReadFile(OutputSlot)
	if err != nil {
		return nil, e.failure(ctx, gen, err)
	}
	if len(out) == 0 {
		return nil, ErrEmptyOutput
	}
	log.WithField("bytes", len(out)).Info("local encode complete")
	return out, nil
}

// Cancel terminates the in-flight run, if any. The runtime is discarded and
// must be initialized again before the next run.
func (e *Engine) Cancel() {
	e.mu.Lock()
	rt := e.rt
	e.rt = nil
	e.gen++
	e.mu.Unlock()

	if rt != nil {
		rt.Terminate()
		e.log.Info("encoder runtime terminated")
	}
}

// Command builds the encode arguments for an effect: a bare re-encode when the
// filter is empty.
func Command(effect effects.Effect) []string {
	args := []string{"-i", InputSlot}
	args = append(args, encoder.LocalProfile.Flags...)
	if !effect.IsNone() {
		args = append(args, "-vf", effect.Filter)
	}
	return append(args, OutputSlot)
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen
}

func (e *Engine) failure(ctx context.Context, gen uint64, err error) error {
	if !e.current(gen) || ctx.Err() != nil {
		return ErrCancelled
	}
	return &EncodeFailedError{Message: err.Error(), Err: err}
}
