package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"video-effects-backend/internal/apiclient"
	"video-effects-backend/internal/local"
	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/orchestrator"
	"video-effects-backend/internal/supabase"
	"video-effects-backend/internal/tus"
)

func newApplyCommand(v *viper.Viper) *cobra.Command {
	var (
		effectID string
		modeName string
		download bool
	)

	cmd := &cobra.Command{
		Use:   "apply <video>",
		Short: "Apply an effect to a video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := orchestrator.ParseMode(modeName)
			if err != nil {
				return err
			}
			logger := logging.New(v.GetString(keyLogLevel), "text")
			logger.SetOutput(cmd.ErrOrStderr())

			o, release, err := buildOrchestrator(v, logger)
			if err != nil {
				return err
			}
			defer release()

			printer := &statePrinter{w: cmd.OutOrStdout()}
			o.OnChange(printer.print)

			if mode != orchestrator.ModeClient {
				if err := o.SetMode(mode); err != nil {
					return err
				}
			}
			video, err := orchestrator.OpenVideo(args[0])
			if err != nil {
				return err
			}
			if err := o.SelectFile(video); err != nil {
				return err
			}
			if err := o.SelectEffect(effectID); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)
			go func() {
				if _, ok := <-sig; ok {
					_ = o.Cancel()
				}
			}()

			state, err := o.Apply(cmd.Context())
			if err != nil {
				var failure *orchestrator.Failure
				if errors.As(err, &failure) {
					return fmt.Errorf("%s (%s)", failure.Message, failure.Kind)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Result: %s\n", state.ResultURL)
			if download && mode == orchestrator.ModeRemote && state.ResultURL != "" {
				target := filepath.Join(v.GetString(keyOutDir), state.DownloadName)
				if err := fetch(cmd.Context(), state.ResultURL, target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", target)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&effectID, "effect", "e", "", "effect to apply (see vfx effects)")
	flags.StringVarP(&modeName, "mode", "m", string(orchestrator.ModeClient), "client or remote")
	flags.BoolVar(&download, "download", true, "save remote results next to local ones")
	flags.String("out-dir", ".", "directory for results")
	flags.String("ffmpeg", "ffmpeg", "ffmpeg binary for client mode")
	flags.String("ffprobe", "ffprobe", "ffprobe binary for client mode")
	_ = cmd.MarkFlagRequired("effect")
	_ = v.BindPFlag(keyOutDir, flags.Lookup("out-dir"))
	_ = v.BindPFlag(keyFFmpeg, flags.Lookup("ffmpeg"))
	_ = v.BindPFlag(keyFFprobe, flags.Lookup("ffprobe"))
	return cmd
}

// buildOrchestrator wires both strategies. Remote mode is only available when
// an access token is configured. The returned func releases the engine.
func buildOrchestrator(v *viper.Viper, logger *logrus.Logger) (*orchestrator.Orchestrator, func(), error) {
	engine := local.NewEngine(
		local.NewFFmpegLoader(v.GetString(keyFFmpeg), v.GetString(keyFFprobe), ""),
		logging.Component(logger, "engine"),
	)
	opts := []orchestrator.Option{
		orchestrator.WithStrategy(orchestrator.NewLocalStrategy(engine, v.GetString(keyOutDir))),
		orchestrator.WithLogger(logging.Component(logger, "orchestrator")),
	}

	if token := v.GetString(keyAccessToken); token != "" {
		principal, err := principalFromToken(token)
		if err != nil {
			return nil, nil, err
		}
		auth := orchestrator.StaticAuth{P: principal}

		supabaseURL := v.GetString(keySupabaseURL)
		if supabaseURL == "" {
			return nil, nil, errors.New("supabase_url is required for remote mode")
		}
		store, err := tus.NewFileStore(v.GetString(keyUploadState))
		if err != nil {
			return nil, nil, err
		}
		uploader := tus.NewUploader(supabase.ResumableEndpoint(supabaseURL), v.GetString(keyBucket),
			tus.WithStore(store),
			tus.WithLogger(logging.Component(logger, "tus")),
		)
		client := apiclient.NewClient(v.GetString(keyAPIURL), apiclient.WithLogger(logging.Component(logger, "apiclient")))

		opts = append(opts,
			orchestrator.WithAuthenticator(auth),
			orchestrator.WithStrategy(orchestrator.NewRemoteStrategy(client, uploader, auth, logging.Component(logger, "remote"))),
		)
	}
	return orchestrator.New(opts...), engine.Cancel, nil
}

// principalFromToken reads the user id from a session token. The server
// verifies the signature; the client only needs the subject.
func principalFromToken(token string) (orchestrator.Principal, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return orchestrator.Principal{}, fmt.Errorf("invalid access token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return orchestrator.Principal{}, fmt.Errorf("invalid access token: %w", err)
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return orchestrator.Principal{}, fmt.Errorf("access token subject is not a user id: %w", err)
	}
	return orchestrator.Principal{UserID: userID, Token: token}, nil
}

// statePrinter writes one line per stage change and per new percentage.
type statePrinter struct {
	w       io.Writer
	stage   orchestrator.Stage
	percent int
	upload  int
}

func (p *statePrinter) print(s orchestrator.State) {
	if s.Failure != nil && s.Stage == orchestrator.StageUpload {
		fmt.Fprintf(p.w, "! %s\n", s.Failure.Message)
	}
	if s.Stage != p.stage {
		p.stage, p.percent, p.upload = s.Stage, -1, -1
		fmt.Fprintf(p.w, "[%s] mode=%s effect=%s\n", s.Stage, s.Mode, s.Effect)
	}
	if s.Stage != orchestrator.StageProcessing {
		return
	}
	if u := s.Upload.Percent(); s.Upload.BytesTotal > 0 && u != p.upload {
		p.upload = u
		fmt.Fprintf(p.w, "  upload %3d%%\n", u)
	}
	if pct := s.Metrics.Percent(); pct != p.percent {
		p.percent = pct
		fmt.Fprintf(p.w, "  %s\n", describeMetrics(s.Metrics))
	}
}

func describeMetrics(m orchestrator.Metrics) string {
	switch m := m.(type) {
	case orchestrator.LocalMetrics:
		return fmt.Sprintf("%3d%% time=%s", m.Progress, m.Time)
	case orchestrator.RemoteMetrics:
		parts := []string{fmt.Sprintf("%3d%%", m.Progress)}
		if m.Time != "" {
			parts = append(parts, "time="+m.Time)
		}
		if m.Frames > 0 {
			parts = append(parts, fmt.Sprintf("frames=%d fps=%.1f speed=%.2fx size=%d", m.Frames, m.FPS, m.Speed, m.Size))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%3d%%", m.Percent())
	}
}

func fetch(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download result: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return f.Close()
}
