// Package encoder builds ffmpeg invocations and reads their progress.
package encoder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Profile is a fixed set of output flags.
type Profile struct {
	Name  string
	Flags []string
}

// WorkerProfile is the server-side quality/speed setting: h.264, CRF 23,
// medium preset, faststart.
var WorkerProfile = Profile{
	Name: "worker",
	Flags: []string{
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		"-profile:v", "main",
		"-threads", "0",
		"-f", "mp4",
	},
}

// LocalProfile favours speed for in-process encodes.
var LocalProfile = Profile{
	Name: "local",
	Flags: []string{
		"-threads", "0",
		"-preset", "ultrafast",
	},
}

// Args builds a full ffmpeg command line. An empty filter performs a plain
// re-encode.
func Args(input, output, filter string, profile Profile) []string {
	args := []string{"-hide_banner", "-nostats", "-y", "-i", input}
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args, profile.Flags...)
	args = append(args, "-progress", "pipe:1", output)
	return args
}

// Encode runs ffmpeg and reports each progress block.
func Encode(ctx context.Context, exec Executor, ffmpegPath string, args []string, onProgress func(Progress)) error {
	var parser ProgressParser
	return exec.Run(ctx, ffmpegPath, args, func(line string) {
		if p, ok := parser.Feed(line); ok && onProgress != nil {
			onProgress(p)
		}
	})
}

// ProbeDuration asks ffprobe for the container duration. Zero means unknown.
func ProbeDuration(ctx context.Context, exec Executor, ffprobePath, input string) (time.Duration, error) {
	var out strings.Builder
	err := exec.Run(ctx, ffprobePath, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	}, func(line string) {
		out.WriteString(line)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to probe duration: %w", err)
	}
	raw := strings.TrimSpace(out.String())
	if raw == "" || raw == "N/A" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
