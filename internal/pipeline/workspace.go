package pipeline

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// workspace hands out unique scratch paths for one run and removes them
// afterwards. Names never derive from the job id, so concurrent runs and
// redeliveries of the same job cannot collide.
type workspace struct {
	dir   string
	files []string
}

func newWorkspace(dir string) *workspace {
	return &workspace{dir: dir}
}

// path returns a fresh "{uuid}-{suffix}" path and tracks it for cleanup.
func (w *workspace) path(suffix string) string {
	p := filepath.Join(w.dir, uuid.NewString()+"-"+suffix)
	w.files = append(w.files, p)
	return p
}

// cleanup removes every tracked file. Failures are logged only.
func (w *workspace) cleanup(jobID string) {
	removed := 0
	for _, p := range w.files {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
		case os.IsNotExist(err):
		default:
			log.Warn().Err(err).Str("jobId", jobID).Str("path", p).Msg("Failed to remove scratch file")
		}
	}
	log.Debug().Str("jobId", jobID).Int("removed", removed).Msg("Scratch files cleaned up")
	w.files = nil
}

// sourceExt keeps a short extension from the object key so tools can
// sniff the container, or returns "" when there is nothing usable.
func sourceExt(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
