package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-effects-backend/internal/orchestrator"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEffectsCommand(t *testing.T) {
	out, err := run(t, "effects")
	require.NoError(t, err)
	for _, id := range []string{"none", "sepia", "grayscale", "vignette", "blur"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "format=gray")
}

func TestApply_RemoteWithoutSession(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("not really a video"), 0o644))

	out, err := run(t, "apply", video, "--effect", "sepia", "--mode", "remote")
	require.ErrorIs(t, err, orchestrator.ErrAuthRequired)
	assert.Contains(t, out, orchestrator.ErrAuthRequired.Error())
}

func TestApply_RejectsNonVideo(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("hello"), 0o644))

	_, err := run(t, "apply", doc, "--effect", "sepia")
	assert.ErrorIs(t, err, orchestrator.ErrUnsupportedFile)
}

func TestApply_UnknownMode(t *testing.T) {
	_, err := run(t, "apply", "x.mp4", "--effect", "sepia", "--mode", "cloud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestPrincipalFromToken(t *testing.T) {
	user := uuid.New()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": user.String()}).SignedString([]byte("any"))
	require.NoError(t, err)

	p, err := principalFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, p.UserID)
	assert.Equal(t, token, p.Token)

	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "service"}).SignedString([]byte("any"))
	require.NoError(t, err)
	_, err = principalFromToken(bad)
	assert.Error(t, err)

	_, err = principalFromToken("garbage")
	assert.Error(t, err)
}

func TestStatePrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &statePrinter{w: &buf}

	p.print(orchestrator.State{Stage: orchestrator.StageUpload, Mode: orchestrator.ModeRemote, Metrics: orchestrator.ZeroMetrics(orchestrator.ModeRemote)})
	processing := orchestrator.State{Stage: orchestrator.StageProcessing, Mode: orchestrator.ModeRemote, Effect: "blur"}
	processing.Upload = orchestrator.UploadProgress{BytesUploaded: 50, BytesTotal: 100}
	processing.Metrics = orchestrator.ZeroMetrics(orchestrator.ModeRemote)
	p.print(processing)
	processing.Metrics = orchestrator.RemoteMetrics{Progress: 40, Time: "00:00:02.00", Frames: 60, FPS: 30, Speed: 1.5, Size: 1024}
	p.print(processing)
	p.print(processing)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "[upload] mode=remote effect=", lines[0])
	assert.Equal(t, "[processing] mode=remote effect=blur", lines[1])
	assert.Contains(t, lines[2], "upload  50%")
	assert.Contains(t, lines[3], "  0%")
	assert.Contains(t, lines[4], "40% time=00:00:02.00 frames=60 fps=30.0 speed=1.50x size=1024")
}

func TestDescribeLocalMetrics(t *testing.T) {
	assert.Equal(t, " 75% time=00:01:00.00", describeMetrics(orchestrator.LocalMetrics{Progress: 75, Time: "00:01:00.00"}))
}
