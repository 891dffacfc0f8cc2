package fetch

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Runner executes the downloader with the given arguments and returns what
// it wrote to stdout and stderr.
type Runner interface {
	Run(ctx context.Context, args []string) (stdout, stderr []byte, err error)
}

// ExecRunner runs a yt-dlp binary. Cancelling ctx kills the process.
type ExecRunner struct {
	Binary string
}

func (r ExecRunner) Run(ctx context.Context, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// ffmpeg children may keep the pipes open after yt-dlp is killed.
	cmd.WaitDelay = 5 * time.Second
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
