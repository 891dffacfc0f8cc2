package jobs

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeMedia Mode = "media"
	ModeAudio Mode = "audio"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMedia, ModeAudio:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Ext is the container every artifact of the mode is normalized to.
func (m Mode) Ext() string {
	if m == ModeAudio {
		return "mp3"
	}
	return "mp4"
}

// Job is one download-and-deliver request. All of its files live in Dir and
// have names starting with ID.
type Job struct {
	ID     string
	ChatID int64
	UserID int64
	URL    string
	Mode   Mode
	Dir    string
}

// OutputTemplate is the yt-dlp -o template for the job.
func (j *Job) OutputTemplate() string {
	return filepath.Join(j.Dir, j.ID+".%(ext)s")
}

// ExpectedPath is where the normalized artifact lands when yt-dlp behaves.
func (j *Job) ExpectedPath() string {
	return filepath.Join(j.Dir, j.ID+"."+j.Mode.Ext())
}

// idLen is the length of a job id in its canonical text form.
const idLen = 36

// NewID returns a UUIDv7: millisecond timestamp plus random bits.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}
	return id.String(), nil
}
