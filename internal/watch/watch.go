// Package watch imports execution data files into a store as agents write
// them to a directory.
package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/farid-feyzi/jacoco/internal/codec"
	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/store"
)

// Importer merges an execution data stream.
type Importer interface {
	Import(ctx context.Context, r io.Reader) (store.ImportStats, error)
	Mode() execdata.Mode
}

// Options configures a Watcher.
type Options struct {
	// Pattern selects file base names, in filepath.Match syntax.
	Pattern string
	// Debounce is how long a file must stay quiet before it is read.
	Debounce time.Duration
	Logger   *slog.Logger
	// OnImport, if set, is called after every successful import.
	OnImport func(path string, st store.ImportStats)
}

func DefaultOptions() Options {
	return Options{Pattern: "*.exec", Debounce: 200 * time.Millisecond}
}

// Watcher imports the bytes appended to matching files since the last
// import. A file is only imported once its new bytes decode completely, so
// a dump caught in the middle of being written is retried on the next
// change instead of being merged in part. A file whose consumed prefix no
// longer matches was rewritten and is read again from the start.
type Watcher struct {
	dir  string
	dst  Importer
	opts Options

	fw *fsnotify.Watcher

	mu      sync.Mutex
	files   map[string]consumed
	timers  map[string]*time.Timer
	pending chan string
	done    chan struct{}
}

// New creates a watcher for dir. It does nothing until Run.
func New(dir string, dst Importer, opts Options) (*Watcher, error) {
	if opts.Pattern == "" {
		opts.Pattern = DefaultOptions().Pattern
	}
	if _, err := filepath.Match(opts.Pattern, ""); err != nil {
		return nil, fmt.Errorf("watch: pattern %q: %w", opts.Pattern, err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", dir, err)
	}
	return &Watcher{
		dir:     dir,
		dst:     dst,
		opts:    opts,
		fw:      fw,
		files:   make(map[string]consumed),
		timers:  make(map[string]*time.Timer),
		pending: make(chan string, 64),
		done:    make(chan struct{}),
	}, nil
}

func (w *Watcher) matches(path string) bool {
	ok, _ := filepath.Match(w.opts.Pattern, filepath.Base(path))
	return ok
}

// Run imports the matching files already present, then follows changes
// until ctx is done. It closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()
	defer w.stopTimers()
	defer close(w.done)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("watch: read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if p := filepath.Join(w.dir, e.Name()); !e.IsDir() && w.matches(p) {
			w.importFile(ctx, p)
		}
	}
	w.opts.Logger.Info("watching", "dir", w.dir, "pattern", w.opts.Pattern)

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-w.pending:
			w.importFile(ctx, path)
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !w.matches(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.forget(ev.Name)
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				w.schedule(ev.Name)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.Warn("watch error", "err", err)
		}
	}
}

// schedule (re)starts the quiet period of path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.pending <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	delete(w.files, path)
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

func (w *Watcher) importFile(ctx context.Context, path string) {
	log := w.opts.Logger.With("path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("read failed", "err", err)
		}
		return
	}

	w.mu.Lock()
	seen := w.files[path]
	w.mu.Unlock()
	off := seen.size
	switch {
	case int64(len(data)) < off:
		log.Info("file truncated, reading from start")
		off = 0
	case off > 0 && xxhash.Sum64(data[:off]) != seen.sum:
		log.Info("file rewritten, reading from start")
		off = 0
	}
	tail := data[off:]
	if len(tail) == 0 {
		return
	}

	if err := codec.Load(bytes.NewReader(tail), w.dst.Mode(), nil, nil); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Debug("incomplete dump, waiting for more", "bytes", len(tail))
			return
		}
		log.Error("malformed execution data", "err", err)
		w.consume(path, data)
		return
	}
	st, err := w.dst.Import(ctx, bytes.NewReader(tail))
	if err != nil {
		log.Error("import failed", "err", err, "records", st.Records)
		w.consume(path, data)
		return
	}
	w.consume(path, data)
	log.Info("imported", "sessions", st.Sessions, "records", st.Records)
	if w.opts.OnImport != nil {
		w.opts.OnImport(path, st)
	}
}

// consumed is the part of a file already handled: its length and hash.
type consumed struct {
	size int64
	sum  uint64
}

func (w *Watcher) consume(path string, data []byte) {
	c := consumed{size: int64(len(data)), sum: xxhash.Sum64(data)}
	w.mu.Lock()
	w.files[path] = c
	w.mu.Unlock()
}
