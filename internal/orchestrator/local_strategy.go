package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/local"
)

// LocalStrategy runs the effect in-process and writes the result next to
// the other outputs in outDir.
type LocalStrategy struct {
	engine *local.Engine
	outDir string
}

func NewLocalStrategy(engine *local.Engine, outDir string) *LocalStrategy {
	return &LocalStrategy{engine: engine, outDir: outDir}
}

func (s *LocalStrategy) Mode() Mode { return ModeClient }

func (s *LocalStrategy) Start(ctx context.Context, video Video, effect effects.Effect, r Reporter) (Result, error) {
	input, err := os.ReadFile(video.Path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read input: %w", err)
	}

	output, err := s.engine.Run(ctx, input, string(effect.ID), func(percent int, timemark string) {
		r.Metrics(LocalMetrics{Progress: percent, Time: timemark})
	})
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create output dir: %w", err)
	}
	target, err := filepath.Abs(filepath.Join(s.outDir, DownloadName(video.Name)))
	if err != nil {
		return Result{}, err
	}
	if err := os.WriteFile(target, output, 0o644); err != nil {
		return Result{}, fmt.Errorf("failed to write output: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(target)}
	return Result{URL: u.String(), Path: target}, nil
}

// Cancel terminates the engine. It reloads on the next run.
func (s *LocalStrategy) Cancel() {
	s.engine.Cancel()
}
