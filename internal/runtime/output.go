package runtime

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/farid-feyzi/jacoco/internal/codec"
	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/metrics"
)

// FileOutput appends dumps to an execution data file. Every dump holds the
// file lock for the whole write, so processes sharing the file never
// interleave their blocks.
type FileOutput struct {
	path     string
	appendTo bool
	mode     execdata.Mode
	metrics  *metrics.Metrics
}

// NewFileOutput prepares path for writing. Unless appendTo is set an
// existing file is truncated.
func NewFileOutput(path string, mode execdata.Mode, appendTo bool, m *metrics.Metrics) (*FileOutput, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("runtime: create output dir: %w", err)
		}
	}
	o := &FileOutput{path: path, appendTo: appendTo, mode: mode, metrics: m}
	f, err := o.open()
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("runtime: close %s: %w", path, err)
	}
	o.appendTo = true
	return o, nil
}

func (o *FileOutput) open() (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if o.appendTo {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(o.path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runtime: open %s: %w", o.path, err)
	}
	return f, nil
}

// WriteDump appends one complete dump: header, session and all records.
func (o *FileOutput) WriteDump(info execdata.SessionInfo, data []*execdata.ExecutionData) error {
	var buf bytes.Buffer
	if err := codec.WriteAll(&buf, o.mode, []execdata.SessionInfo{info}, data); err != nil {
		return err
	}
	return o.writeRaw(buf.Bytes())
}

func (o *FileOutput) writeRaw(p []byte) (err error) {
	f, err := o.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("runtime: close %s: %w", o.path, cerr)
		}
	}()
	if err := lockFile(f); err != nil {
		return fmt.Errorf("runtime: lock %s: %w", o.path, err)
	}
	defer unlockFile(f)
	if _, err := f.Write(p); err != nil {
		return fmt.Errorf("runtime: write %s: %w", o.path, err)
	}
	o.metrics.DumpWritten()
	return nil
}

// Dumper buffers session dumps in memory and writes them out together, as
// an agent does on shutdown.
type Dumper struct {
	data   *Data
	out    *FileOutput
	logger *slog.Logger

	mu   sync.Mutex
	bufs [][]byte
}

func NewDumper(data *Data, out *FileOutput, logger *slog.Logger) *Dumper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dumper{data: data, out: out, logger: logger}
}

// Collect snapshots and resets the live probes into a buffered dump. A
// non-empty sessionID replaces the id of the dumped session.
func (d *Dumper) Collect(sessionID string) error {
	info, recs := d.data.Collect(true)
	if sessionID != "" {
		info.ID = sessionID
	}
	var buf bytes.Buffer
	if err := codec.WriteAll(&buf, d.data.Mode(), []execdata.SessionInfo{info}, recs); err != nil {
		return err
	}
	d.mu.Lock()
	d.bufs = append(d.bufs, buf.Bytes())
	d.mu.Unlock()
	d.logger.Debug("collected dump", "session", info.ID, "classes", len(recs), "bytes", buf.Len())
	return nil
}

// Flush writes all buffered dumps to the output under one lock.
func (d *Dumper) Flush() error {
	d.mu.Lock()
	bufs := d.bufs
	d.bufs = nil
	d.mu.Unlock()
	if len(bufs) == 0 {
		return nil
	}
	if err := d.out.writeRaw(bytes.Join(bufs, nil)); err != nil {
		d.mu.Lock()
		d.bufs = append(bufs, d.bufs...)
		d.mu.Unlock()
		return err
	}
	d.logger.Info("wrote dumps", "path", d.out.path, "count", len(bufs))
	return nil
}

// Shutdown collects a final dump under the current session id and flushes.
func (d *Dumper) Shutdown() error {
	if err := d.Collect(""); err != nil {
		return err
	}
	return d.Flush()
}
