package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Configuration keys. Each can be set by flag, by VFX_<KEY> in the
// environment, or in the config file.
const (
	keyAPIURL        = "api_url"
	keySupabaseURL   = "supabase_url"
	keyBucket        = "bucket"
	keyAccessToken   = "access_token"
	keyOutDir        = "out_dir"
	keyFFmpeg        = "ffmpeg"
	keyFFprobe       = "ffprobe"
	keyUploadState   = "upload_state_dir"
	keyLogLevel      = "log_level"
	defaultStateBase = ".vfx"
)

func newRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:          "vfx",
		Short:        "Apply video effects locally or remotely",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vfx/config.yaml)")
	flags.String("api-url", "http://localhost:8080/api/v1", "transformations API root")
	flags.String("supabase-url", "", "Supabase project URL, used for resumable uploads")
	flags.String("bucket", "videos", "storage bucket for uploads")
	flags.String("access-token", "", "Supabase session token for remote mode")
	flags.String("log-level", "warn", "log level")

	for key, flag := range map[string]string{
		keyAPIURL:      "api-url",
		keySupabaseURL: "supabase-url",
		keyBucket:      "bucket",
		keyAccessToken: "access-token",
		keyLogLevel:    "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newApplyCommand(v))
	root.AddCommand(newEffectsCommand())
	return root
}

func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("vfx")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	v.SetDefault(keyUploadState, filepath.Join(home, defaultStateBase, "uploads"))
	v.SetDefault(keyFFmpeg, "ffmpeg")
	v.SetDefault(keyFFprobe, "ffprobe")
	v.SetDefault(keyOutDir, ".")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(home, defaultStateBase))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}
