package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-effects-backend/internal/local"
)

// stubExecutor answers ffprobe with a duration and plays ffmpeg by writing
// the last argument and emitting one progress block.
type stubExecutor struct {
	calls [][]string
}

func (s *stubExecutor) Run(_ context.Context, binary string, args []string, onStdout func(string)) error {
	s.calls = append(s.calls, append([]string{binary}, args...))
	if binary == "ffprobe" {
		onStdout("8.000000")
		return nil
	}
	for _, line := range []string{"frame=48", "out_time_us=2000000", "progress=continue"} {
		onStdout(line)
	}
	return os.WriteFile(args[len(args)-1], []byte("mp4"), 0o600)
}

func TestFFmpegRuntime_ResolvesSlots(t *testing.T) {
	dir := t.TempDir()
	exec := &stubExecutor{}
	rt := local.NewFFmpegRuntime(dir, "ffmpeg", "ffprobe", exec)

	require.NoError(t, rt.WriteFile(local.InputSlot, []byte("src")))

	var events []local.ProgressEvent
	err := rt.Exec(context.Background(), []string{"-i", local.InputSlot, "-preset", "ultrafast", local.OutputSlot}, func(ev local.ProgressEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	require.Len(t, exec.calls, 2)
	ffmpegCall := exec.calls[1]
	assert.Contains(t, ffmpegCall, filepath.Join(dir, local.InputSlot))
	assert.Equal(t, filepath.Join(dir, local.OutputSlot), ffmpegCall[len(ffmpegCall)-1])
	require.Len(t, events, 1)
	assert.InDelta(t, 0.25, events[0].Progress, 0.001)
	assert.Equal(t, "00:00:02.00", events[0].Time)

	out, err := rt.ReadFile(local.OutputSlot)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4"), out)

	require.NoError(t, rt.DeleteFile(local.InputSlot))
	require.NoError(t, rt.DeleteFile(local.OutputSlot))
	require.NoError(t, rt.DeleteFile(local.OutputSlot))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFFmpegRuntime_TerminateRemovesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "engine")
	require.NoError(t, os.Mkdir(dir, 0o700))
	rt := local.NewFFmpegRuntime(dir, "ffmpeg", "ffprobe", &stubExecutor{})
	require.NoError(t, rt.WriteFile(local.InputSlot, []byte("src")))

	rt.Terminate()

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.Error(t, rt.WriteFile(local.InputSlot, []byte("src")))
	assert.NoError(t, rt.DeleteFile(local.InputSlot))
}
