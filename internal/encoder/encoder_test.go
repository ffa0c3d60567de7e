package encoder_test

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-effects-backend/internal/encoder"
)

type scriptedExecutor struct {
	lines  []string
	err    error
	binary string
	args   []string
}

func (s *scriptedExecutor) Run(_ context.Context, binary string, args []string, onStdout func(string)) error {
	s.binary, s.args = binary, args
	for _, l := range s.lines {
		onStdout(l)
	}
	return s.err
}

const progressBlock = `frame=120
fps=29.97
bitrate= 812.3kbits/s
total_size=524288
out_time_us=4000000
out_time=00:00:04.000000
speed=1.5x
progress=continue`

func TestProgressParser_Block(t *testing.T) {
	var p encoder.ProgressParser
	var got []encoder.Progress
	for _, line := range strings.Split(progressBlock, "\n") {
		if prog, ok := p.Feed(line); ok {
			got = append(got, prog)
		}
	}

	require.Len(t, got, 1)
	assert.Equal(t, int64(120), got[0].Frame)
	assert.InDelta(t, 29.97, got[0].FPS, 0.001)
	assert.InDelta(t, 812.3, got[0].BitrateKbps, 0.001)
	assert.Equal(t, int64(524288), got[0].TotalSize)
	assert.Equal(t, 4*time.Second, got[0].OutTime)
	assert.InDelta(t, 1.5, got[0].Speed, 0.001)
	assert.False(t, got[0].Done)
	assert.Equal(t, "00:00:04.00", got[0].Timemark())
	assert.InDelta(t, 0.5, got[0].Fraction(8*time.Second), 0.0001)
}

func TestProgressParser_EndAndNA(t *testing.T) {
	var p encoder.ProgressParser
	p.Feed("bitrate=N/A")
	p.Feed("out_time_us=N/A")
	prog, ok := p.Feed("progress=end")

	require.True(t, ok)
	assert.True(t, prog.Done)
	assert.Zero(t, prog.BitrateKbps)
	assert.Equal(t, 1.0, prog.Fraction(0))

	_, ok = p.Feed("not a key value line")
	assert.False(t, ok)
}

func TestProgress_FractionClamped(t *testing.T) {
	p := encoder.Progress{OutTime: 12 * time.Second}
	assert.Equal(t, 1.0, p.Fraction(10*time.Second))
	assert.Equal(t, 0.0, p.Fraction(0))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, encoder.Percent(-0.2))
	assert.Equal(t, 42, encoder.Percent(0.421))
	assert.Equal(t, 100, encoder.Percent(1.7))
}

func TestFormatTimemark(t *testing.T) {
	assert.Equal(t, "01:02:03.45", encoder.FormatTimemark(time.Hour+2*time.Minute+3*time.Second+450*time.Millisecond))
	assert.Equal(t, "00:00:00.00", encoder.FormatTimemark(-time.Second))
}

func TestArgs(t *testing.T) {
	args := encoder.Args("in.mp4", "out.mp4", "format=gray", encoder.WorkerProfile)

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i in.mp4 -vf format=gray")
	assert.Contains(t, joined, "-c:v libx264 -preset medium -crf 23 -movflags +faststart")
	assert.Equal(t, "out.mp4", args[len(args)-1])
	assert.Contains(t, joined, "-progress pipe:1")

	plain := encoder.Args("in.mp4", "out.mp4", "", encoder.LocalProfile)
	assert.NotContains(t, plain, "-vf")
	assert.Contains(t, strings.Join(plain, " "), "-preset ultrafast")
}

func TestEncode_ReportsBlocks(t *testing.T) {
	exec := &scriptedExecutor{lines: append(strings.Split(progressBlock, "\n"), "frame=240", "progress=end")}

	var got []encoder.Progress
	err := encoder.Encode(context.Background(), exec, "ffmpeg", []string{"-i", "x"}, func(p encoder.Progress) {
		got = append(got, p)
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Done)
	assert.Equal(t, int64(240), got[1].Frame)
	assert.Equal(t, "ffmpeg", exec.binary)
}

func TestProbeDuration(t *testing.T) {
	exec := &scriptedExecutor{lines: []string{"12.500000"}}
	d, err := encoder.ProbeDuration(context.Background(), exec, "ffprobe", "in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 12500*time.Millisecond, d)
	assert.Equal(t, "in.mp4", exec.args[len(exec.args)-1])

	unknown, err := encoder.ProbeDuration(context.Background(), &scriptedExecutor{lines: []string{"N/A"}}, "ffprobe", "in.mp4")
	require.NoError(t, err)
	assert.Zero(t, unknown)

	_, err = encoder.ProbeDuration(context.Background(), &scriptedExecutor{err: errors.New("boom")}, "ffprobe", "in.mp4")
	assert.Error(t, err)
}

func TestCommandExecutor_StreamsStdoutAndCapturesStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	var lines []string
	err := encoder.CommandExecutor{}.Run(context.Background(), "sh", []string{"-c", "echo one; echo two"}, func(l string) {
		lines = append(lines, l)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)

	err = encoder.CommandExecutor{}.Run(context.Background(), "sh", []string{"-c", "echo broken >&2; exit 3"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
