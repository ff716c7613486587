package nfly

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// teeFile writes every byte to each replica writer. A replica whose write
// fails is dropped; writing fails once fewer than minRepl replicas remain.
type teeFile struct {
	name    string
	minRepl int

	mu      sync.Mutex
	files   []fsys.File
	dropped *multierror.Error
	closed  bool
}

func newTeeFile(name string, files []fsys.File, minRepl int) *teeFile {
	return &teeFile{name: name, files: files, minRepl: minRepl}
}

func (t *teeFile) Name() string { return t.name }

func (t *teeFile) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, common.ErrClosed
	}

	alive := t.files[:0]
	for _, f := range t.files {
		n, err := f.Write(p)
		if err == nil && n != len(p) {
			err = fmt.Errorf("short write %d of %d bytes", n, len(p))
		}
		if err != nil {
			log.Warnf("[Nfly] dropping replica writer for %s: %v", t.name, err)
			t.dropped = multierror.Append(t.dropped, err)
			if cerr := f.Close(); cerr != nil {
				log.Debugf("[Nfly] closing dropped replica writer for %s: %v", t.name, cerr)
			}
			continue
		}
		alive = append(alive, f)
	}
	t.files = alive

	if len(t.files) < t.minRepl {
		return 0, fmt.Errorf("write %s: %d replicas left, need %d: %w", t.name, len(t.files), t.minRepl, t.dropped.ErrorOrNil())
	}
	return len(p), nil
}

func (t *teeFile) Read(p []byte) (int, error) {
	return 0, common.Unsupported("read", t.name)
}

func (t *teeFile) ReadAt(p []byte, off int64) (int, error) {
	return 0, common.Unsupported("read", t.name)
}

func (t *teeFile) Seek(offset int64, whence int) (int64, error) {
	return 0, common.Unsupported("seek", t.name)
}

func (t *teeFile) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	result := t.dropped
	ok := 0
	for _, f := range t.files {
		if err := f.Close(); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		ok++
	}
	t.files = nil
	if ok < t.minRepl {
		return fmt.Errorf("close %s: %d replicas committed, need %d: %w", t.name, ok, t.minRepl, result.ErrorOrNil())
	}
	return nil
}
