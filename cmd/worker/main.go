// Command worker runs one transformation job outside the API server, for
// example from a serverless function or a queue consumer.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"video-effects-backend/internal/config"
	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/supabase"
	"video-effects-backend/internal/worker"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "worker",
		Short:        "Video effects worker",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download, encode and upload one transformation",
		Long: `run executes a single job. The payload is the JSON body sent by the job
trigger: {"transformationId": "...", "videoPath": "...", "effect": "..."}.
Pass "-" to read it from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(payload)
			if payload == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				raw = data
			}
			p, err := worker.ParsePayload(raw)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)

			records, closeRecords, err := openRecords(cfg)
			if err != nil {
				return err
			}
			defer closeRecords()

			storage := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseStorageBucket, cfg.SignedURLTTL)
			w := worker.NewWorker(records, storage,
				worker.WithBinaries(cfg.FFmpegPath, cfg.FFprobePath),
				worker.WithScratchDir(cfg.ScratchDir),
				worker.WithProgressInterval(cfg.ProgressInterval),
				worker.WithLogger(logging.Component(logger, "worker")),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out, err := w.Run(ctx, p)
			if err != nil {
				logger.WithError(err).WithField("transformation_id", p.TransformationID).Error("job failed")
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "job payload as JSON, or - for stdin")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

// openRecords prefers a direct database connection and falls back to the
// REST API.
func openRecords(cfg *config.Config) (worker.Records, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}
	rest, err := supabase.NewRestClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
	if err != nil {
		return nil, nil, err
	}
	return rest, func() {}, nil
}
