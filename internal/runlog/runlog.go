// Package runlog writes per-phase JSON artifacts for one pipeline run so
// a failed or surprising run can be replayed from disk. Every operation
// is fail-open: artifact problems never break the pipeline.
package runlog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

type Run struct {
	ID      string
	dir     string
	started time.Time
	seq     int
}

// New starts a run context under baseDir. An empty baseDir disables
// artifact writing but keeps the run ID usable for logging.
func New(baseDir string) *Run {
	r := &Run{ID: uuid.NewString(), started: time.Now()}
	if baseDir == "" {
		return r
	}
	dir := filepath.Join(baseDir, r.started.Format("20060102-150405")+"-"+r.ID[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("runlog: cannot create %s, artifacts disabled: %v", dir, err)
		return r
	}
	r.dir = dir
	return r
}

// Phase records one pipeline stage's output as <seq>-<name>.json.
func (r *Run) Phase(name string, v any) {
	if r == nil || r.dir == "" {
		return
	}
	r.seq++
	path := filepath.Join(r.dir, fmt.Sprintf("%02d-%s.json", r.seq, name))
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("runlog: marshal %s: %v", name, err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("runlog: write %s: %v", path, err)
	}
}

// Printf logs with the run ID prefixed so interleaved runs stay readable.
func (r *Run) Printf(format string, args ...any) {
	id := "--------"
	if r != nil && len(r.ID) >= 8 {
		id = r.ID[:8]
	}
	log.Printf("[run %s] "+format, append([]any{id}, args...)...)
}

// Elapsed reports time since the run started.
func (r *Run) Elapsed() time.Duration {
	if r == nil {
		return 0
	}
	return time.Since(r.started)
}
