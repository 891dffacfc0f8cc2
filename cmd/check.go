package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/awwantil/relaybot/internal/config"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that yt-dlp and ffmpeg can be found",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			cfg := &config.Config{}
			if err := config.Load(cfg, envFile); err != nil {
				return fmt.Errorf("can't load config: %w", err)
			}

			ffmpeg := cfg.FFmpegPath
			if ffmpeg == "" {
				ffmpeg = "ffmpeg"
			}
			var failed bool
			for _, bin := range []struct{ name, path, versionFlag string }{
				{"yt-dlp", cfg.YtDlpPath, "--version"},
				{"ffmpeg", ffmpeg, "-version"},
			} {
				v, err := binaryVersion(cmd.Context(), bin.path, bin.versionFlag)
				if err != nil {
					failed = true
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", bin.name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", bin.name, v)
			}
			if failed {
				return fmt.Errorf("missing dependencies")
			}
			return nil
		},
	}
}

// binaryVersion resolves path and returns the first line of its version output.
func binaryVersion(ctx context.Context, path, flag string) (string, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("not found: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, resolved, flag).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w", resolved, flag, err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return resolved + " (" + line + ")", nil
}
