// Package fetchtest provides a scripted stand-in for the yt-dlp binary.
package fetchtest

import (
	"context"
	"os"
	"strings"
	"sync"
)

// Runner pretends to be yt-dlp. For every call it creates Files next to the
// -o template (keys are name suffixes such as ".mp3" or ".f137.mp4.part",
// values are sizes in bytes) and then returns Stdout, Stderr and Err.
type Runner struct {
	Files  map[string]int64
	Stdout string
	Stderr string
	Err    error
	// Block makes Run wait for ctx before returning.
	Block bool

	mu    sync.Mutex
	calls [][]string
}

func (r *Runner) Run(ctx context.Context, args []string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	r.mu.Unlock()

	prefix := strings.TrimSuffix(outputTemplate(args), ".%(ext)s")
	for suffix, size := range r.Files {
		if err := writeSized(prefix+suffix, size); err != nil {
			return nil, nil, err
		}
	}
	if r.Block {
		<-ctx.Done()
		return []byte(r.Stdout), []byte(r.Stderr), ctx.Err()
	}
	return []byte(r.Stdout), []byte(r.Stderr), r.Err
}

func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func outputTemplate(args []string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-o" {
			return args[i+1]
		}
	}
	return ""
}

// writeSized creates a sparse file so large sizes stay cheap.
func writeSized(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
