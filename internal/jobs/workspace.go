package jobs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/awwantil/relaybot/internal/metrics"
)

// Workspace is the shared directory for job artifacts.
type Workspace struct {
	dir    string
	logger *slog.Logger
}

// NewWorkspace creates dir if it is missing.
func NewWorkspace(dir string, logger *slog.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir %s: %w", abs, err)
	}
	return &Workspace{
		dir:    abs,
		logger: logger.With("component", "workspace"),
	}, nil
}

func (w *Workspace) Dir() string {
	return w.dir
}

func (w *Workspace) NewJob(chatID, userID int64, url string, mode Mode) (*Job, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:     id,
		ChatID: chatID,
		UserID: userID,
		URL:    url,
		Mode:   mode,
		Dir:    w.dir,
	}, nil
}

// Cleanup removes every entry of the work dir whose name starts with jobID.
// Failures are logged and counted; it returns the number of removed entries.
func (w *Workspace) Cleanup(jobID string) int {
	if jobID == "" {
		return 0
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("cleanup_list_failed", "job_id", jobID, "error", err)
		metrics.CleanupErrors.Inc()
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), jobID) {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			w.logger.Error("cleanup_remove_failed", "job_id", jobID, "path", path, "error", err)
			metrics.CleanupErrors.Inc()
			continue
		}
		removed++
	}
	w.logger.Debug("cleanup_done", "job_id", jobID, "removed", removed)
	return removed
}

// Purge removes job artifacts left by a previous process. Only entries whose
// name starts with a job id are touched; anything else in the dir is kept.
func (w *Workspace) Purge() int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("purge_list_failed", "error", err)
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !IsJobArtifact(e.Name()) {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			w.logger.Warn("purge_remove_failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		w.logger.Info("purged_stale_artifacts", "count", removed)
	}
	return removed
}

// IsJobArtifact reports whether name starts with a job id.
func IsJobArtifact(name string) bool {
	if len(name) < idLen {
		return false
	}
	_, err := uuid.Parse(name[:idLen])
	return err == nil
}
