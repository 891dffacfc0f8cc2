// Package fetch drives yt-dlp for a single job and turns whatever it leaves
// in the work dir into one artifact.
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/awwantil/relaybot/internal/jobs"
)

const maxReasonLen = 300

var ErrArtifactNotFound = errors.New("no output file found after download")

// restrictedMarkers are lower-cased fragments of yt-dlp errors for content
// that needs a logged-in or age-verified session.
var restrictedMarkers = []string{
	"sign in to confirm",
	"age-restricted",
	"age restricted",
	"confirm your age",
	"inappropriate for some users",
	"login required",
	"login_required",
	"requires authentication",
	"private video",
	"use --cookies",
	"--cookies-from-browser",
}

// partialSuffixes mark files yt-dlp is still writing or has abandoned.
var partialSuffixes = []string{".part", ".ytdl", ".temp"}

type Options struct {
	Retries     int
	CookiesFile string
	FFmpegPath  string
}

type Fetcher struct {
	runner Runner
	opts   Options
	logger *slog.Logger
}

func New(runner Runner, opts Options, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		runner: runner,
		opts:   opts,
		logger: logger.With("component", "fetch"),
	}
}

// Fetch downloads job.URL into job.Dir. It blocks until yt-dlp exits or ctx
// is done. Files it leaves behind are the caller's to clean up.
func (f *Fetcher) Fetch(ctx context.Context, job *jobs.Job) Outcome {
	args := f.Args(job)
	f.logger.Debug("ytdlp_start", "job_id", job.ID, "args", strings.Join(args, " "))

	stdout, stderr, err := f.runner.Run(ctx, args)
	if err != nil {
		return f.failure(ctx, job, stderr, err)
	}

	info := parseInfo(stdout)
	path, size, err := resolveArtifact(job)
	if err != nil {
		f.logger.Warn("artifact_missing", "job_id", job.ID, "url", job.URL, "error", err)
		return Outcome{Status: StatusNotFound, Reason: err.Error(), Err: err}
	}

	res := &Result{
		Path:  path,
		Title: strings.TrimSpace(info.Title),
		Size:  size,
		Ext:   strings.TrimPrefix(filepath.Ext(path), "."),
	}
	f.logger.Info("ytdlp_done", "job_id", job.ID, "path", res.Path, "size", res.Size, "ext", res.Ext)
	return Outcome{Status: StatusSuccess, Result: res}
}

// Args builds the yt-dlp command line for job.
func (f *Fetcher) Args(job *jobs.Job) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--retries", strconv.Itoa(f.opts.Retries),
		"--no-simulate",
		"--dump-json",
		"-o", job.OutputTemplate(),
	}

	switch job.Mode {
	case jobs.ModeAudio:
		args = append(args,
			"-f", "ba/b",
			"-x",
			"--audio-format", "mp3",
			"--audio-quality", "0",
		)
	default:
		args = append(args,
			"-f", "bv*+ba/b",
			"--merge-output-format", "mp4",
			"--remux-video", "mp4",
		)
	}

	if f.opts.CookiesFile != "" {
		if _, err := os.Stat(f.opts.CookiesFile); err == nil {
			args = append(args, "--cookies", f.opts.CookiesFile)
		} else {
			f.logger.Warn("cookies_file_unavailable", "path", f.opts.CookiesFile, "error", err)
		}
	}
	if f.opts.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", f.opts.FFmpegPath)
	}

	return append(args, "--", job.URL)
}

func (f *Fetcher) failure(ctx context.Context, job *jobs.Job, stderr []byte, runErr error) Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		reason := "download cancelled"
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			reason = "download timed out"
		}
		f.logger.Warn("ytdlp_aborted", "job_id", job.ID, "url", job.URL, "reason", reason)
		return Outcome{Status: StatusFailed, Reason: reason, Err: fmt.Errorf("%s: %w", reason, ctxErr)}
	}

	reason := errorReason(stderr, runErr)
	err := fmt.Errorf("yt-dlp failed: %w: %s", runErr, reason)
	if IsRestricted(stderr) {
		f.logger.Info("ytdlp_restricted", "job_id", job.ID, "url", job.URL, "reason", reason)
		return Outcome{Status: StatusRestricted, Reason: reason, Err: err}
	}
	f.logger.Error("ytdlp_failed", "job_id", job.ID, "url", job.URL, "error", err)
	return Outcome{Status: StatusFailed, Reason: reason, Err: err}
}

// IsRestricted reports whether downloader output asks for a login or an
// age confirmation.
func IsRestricted(output []byte) bool {
	lower := strings.ToLower(string(output))
	for _, m := range restrictedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// errorReason picks the last "ERROR:" line of yt-dlp output.
func errorReason(stderr []byte, runErr error) string {
	var reason string
	sc := bufio.NewScanner(bytes.NewReader(stderr))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "ERROR:") {
			reason = strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	if reason == "" {
		reason = strings.TrimSpace(string(stderr))
	}
	if reason == "" && runErr != nil {
		reason = runErr.Error()
	}
	return truncateUTF8(reason, maxReasonLen)
}

// truncateUTF8 shortens s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

type videoInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Ext   string `json:"ext"`
}

// parseInfo reads the last JSON object yt-dlp printed. Missing or broken
// metadata is not fatal.
func parseInfo(stdout []byte) videoInfo {
	var info videoInfo
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if err := json.Unmarshal(line, &info); err == nil {
			return info
		}
	}
	return info
}

// resolveArtifact prefers the normalized file name and falls back to the
// largest finished file sharing the job prefix.
func resolveArtifact(job *jobs.Job) (string, int64, error) {
	if st, err := os.Stat(job.ExpectedPath()); err == nil && st.Mode().IsRegular() {
		return job.ExpectedPath(), st.Size(), nil
	}

	entries, err := os.ReadDir(job.Dir)
	if err != nil {
		return "", 0, fmt.Errorf("failed to list %s: %w", job.Dir, err)
	}
	var (
		best     string
		bestSize int64 = -1
	)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, job.ID) || isPartial(name) {
			continue
		}
		st, err := e.Info()
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		if st.Size() > bestSize {
			best, bestSize = filepath.Join(job.Dir, name), st.Size()
		}
	}
	if best == "" {
		return "", 0, ErrArtifactNotFound
	}
	return best, bestSize, nil
}

func isPartial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
