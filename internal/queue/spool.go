package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kart-io/memoryd/pkg/utils/json"
)

// Spool is the on-disk directory layout backing the capture queue: a
// top-level directory for pending items and a "dead-letter" subdirectory for
// items the ingest endpoint permanently rejected.
//
// File names carry a monotonic sequence number so os.ReadDir's lexical order
// is also FIFO order, the same "sortable sequence prefix" idiom the teacher
// uses for hashed file names in internal/rag/biz/rag.go (hashString), applied
// here to ordering instead of uniqueness.
type Spool struct {
	dir           string
	deadLetterDir string
	seq           atomic.Uint64
}

const deadLetterSubdir = "dead-letter"

// Open ensures the spool directory (and its dead-letter subdirectory) exist
// and returns a Spool rooted at dir.
func Open(dir string) (*Spool, error) {
	dlDir := filepath.Join(dir, deadLetterSubdir)
	if err := os.MkdirAll(dlDir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: create spool directory: %w", err)
	}
	return &Spool{dir: dir, deadLetterDir: dlDir}, nil
}

// Dir returns the spool's pending-items directory, the path a Drainer should
// watch for new files.
func (s *Spool) Dir() string { return s.dir }

// Enqueue atomically appends batch to the spool: it is marshalled and
// written to a temp file in dir, then renamed into place. A crash between
// the write and the rename loses at most the partial temp file, never a
// previously-enqueued item (spec.md §4.4 contract).
func (s *Spool) Enqueue(batch CapturedBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("queue: marshal batch: %w", err)
	}

	name := fmt.Sprintf("%020d-%d.json", time.Now().UnixNano(), s.seq.Add(1))
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("queue: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("queue: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("queue: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("queue: close temp file: %w", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("queue: rename temp file into place: %w", err)
	}
	return nil
}

// pendingFiles lists spool files in FIFO order, excluding the dead-letter
// subdirectory and any in-flight .tmp files.
func (s *Spool) pendingFiles() ([]string, error) {
	return s.pendingFilesIn(s.dir)
}

// Pending reports how many batches are waiting to drain, for health
// reporting (spec.md §4.8 health).
func (s *Spool) Pending() (int, error) {
	files, err := s.pendingFiles()
	if err != nil {
		return 0, fmt.Errorf("queue: list pending files: %w", err)
	}
	return len(files), nil
}

// pendingFilesIn lists non-directory, non-.tmp files under dir in lexical
// (FIFO, given the sortable name prefix) order.
func (s *Spool) pendingFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".tmp" {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// moveToDeadLetter relocates a permanently-rejected item out of the pending
// directory so the drainer never retries it again.
func (s *Spool) moveToDeadLetter(name string) error {
	return os.Rename(filepath.Join(s.dir, name), filepath.Join(s.deadLetterDir, name))
}

// remove deletes a successfully-ingested spool file.
func (s *Spool) remove(name string) error {
	return os.Remove(filepath.Join(s.dir, name))
}
