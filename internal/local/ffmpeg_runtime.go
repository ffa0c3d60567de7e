package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"video-effects-backend/internal/encoder"
)

var errTerminated = errors.New("runtime terminated")

// FFmpegRuntime backs the virtual slots with a private scratch directory and
// runs the ffmpeg binary against it.
type FFmpegRuntime struct {
	dir         string
	ffmpegPath  string
	ffprobePath string
	exec        encoder.Executor

	mu         sync.Mutex
	slots      map[string]bool
	cancel     context.CancelFunc
	terminated bool
}

func NewFFmpegRuntime(dir, ffmpegPath, ffprobePath string, exec encoder.Executor) *FFmpegRuntime {
	if exec == nil {
		exec = encoder.CommandExecutor{}
	}
	return &FFmpegRuntime{
		dir:         dir,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		exec:        exec,
		slots:       make(map[string]bool),
	}
}

// NewFFmpegLoader checks that the binaries exist and gives every runtime its
// own directory under baseDir.
func NewFFmpegLoader(ffmpegPath, ffprobePath, baseDir string) Loader {
	return func(ctx context.Context) (Runtime, error) {
		ffmpeg, err := exec.LookPath(ffmpegPath)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
		}
		ffprobe, err := exec.LookPath(ffprobePath)
		if err != nil {
			return nil, fmt.Errorf("ffprobe binary not found: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir, err := os.MkdirTemp(baseDir, "vfx-engine-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create runtime dir: %w", err)
		}
		return NewFFmpegRuntime(dir, ffmpeg, ffprobe, encoder.CommandExecutor{}), nil
	}
}

func (r *FFmpegRuntime) slotPath(name string) string {
	return filepath.Join(r.dir, filepath.Base(name))
}

func (r *FFmpegRuntime) WriteFile(name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return errTerminated
	}
	if err := os.WriteFile(r.slotPath(name), data, 0o600); err != nil {
		return err
	}
	r.slots[filepath.Base(name)] = true
	return nil
}

func (r *FFmpegRuntime) ReadFile(name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return nil, errTerminated
	}
	return os.ReadFile(r.slotPath(name))
}

func (r *FFmpegRuntime) DeleteFile(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, filepath.Base(name))
	if r.terminated {
		return nil
	}
	err := os.Remove(r.slotPath(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Exec runs ffmpeg with slot names resolved to scratch paths. The last
// argument is the output slot.
func (r *FFmpegRuntime) Exec(ctx context.Context, args []string, onProgress func(ProgressEvent)) error {
	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return errTerminated
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	resolved := make([]string, len(args))
	input := ""
	for i, a := range args {
		resolved[i] = a
		if r.slots[a] || (i == len(args)-1 && filepath.Base(a) == a) {
			resolved[i] = r.slotPath(a)
			if i == len(args)-1 {
				r.slots[a] = true
			}
		}
		if i > 0 && args[i-1] == "-i" {
			input = resolved[i]
		}
	}
	r.mu.Unlock()
	defer cancel()

	var duration time.Duration
	if input != "" {
		d, err := encoder.ProbeDuration(runCtx, r.exec, r.ffprobePath, input)
		if err == nil {
			duration = d
		}
	}

	full := make([]string, 0, len(resolved)+6)
	full = append(full, "-hide_banner", "-nostats", "-y")
	full = append(full, resolved[:len(resolved)-1]...)
	full = append(full, "-progress", "pipe:1", resolved[len(resolved)-1])

	return encoder.Encode(runCtx, r.exec, r.ffmpegPath, full, func(p encoder.Progress) {
		if onProgress != nil {
			onProgress(ProgressEvent{Progress: p.Fraction(duration), Time: p.Timemark()})
		}
	})
}

// Terminate kills any running encode and removes the scratch directory.
func (r *FFmpegRuntime) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return
	}
	r.terminated = true
	if r.cancel != nil {
		r.cancel()
	}
	r.slots = map[string]bool{}
	_ = os.RemoveAll(r.dir)
}
