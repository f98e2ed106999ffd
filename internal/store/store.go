package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/farid-feyzi/jacoco/internal/codec"
	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/metrics"
)

var tracer = otel.Tracer("jacoco.store")

const (
	execPrefix    = "exec/"
	sessionPrefix = "session/"
	modeKey       = "meta/mode"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrModeMismatch = errors.New("store: database holds another probe mode")
)

func execKey(id uint64) []byte { return fmt.Appendf(nil, "%s%016x", execPrefix, id) }

func sessionKey(id string) []byte { return []byte(sessionPrefix + id) }

// Store is a Badger database of merged execution data. All records share
// the probe mode the database was created with.
type Store struct {
	db      *badger.DB
	gc      *gcRunner
	mode    execdata.Mode
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Open opens or creates the database. A new database adopts mode; an
// existing one must have been created with the same mode.
func Open(cfg Config, mode execdata.Mode, m *metrics.Metrics) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, mode: mode, logger: logger, metrics: m}
	if err := s.checkMode(); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
	}
	return s, nil
}

func (s *Store) checkMode() error {
	return s.update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(modeKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set([]byte(modeKey), []byte(s.mode.String()))
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(v) != s.mode.String() {
			return fmt.Errorf("%w: have %s, want %s", ErrModeMismatch, v, s.mode)
		}
		return nil
	})
}

func (s *Store) Mode() execdata.Mode { return s.mode }

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.Stop()
	}
	return s.db.Close()
}

// maxConflictRetries bounds how often a transaction is rerun after losing
// to a concurrent writer.
const maxConflictRetries = 10

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	return retryConflicts(s.db.Update, fn, s.logger)
}

func retryConflicts(run func(func(*badger.Txn) error) error, fn func(*badger.Txn) error, logger *slog.Logger) error {
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		if err = run(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
		logger.Debug("transaction conflict, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("store: giving up after %d conflicts: %w", maxConflictRetries+1, err)
}

func (s *Store) encode(d *execdata.ExecutionData) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.WriteAll(&buf, s.mode, nil, []*execdata.ExecutionData{d}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) decode(v []byte) (*execdata.ExecutionData, error) {
	r := codec.NewReader(bytes.NewReader(v), s.mode)
	for {
		rec, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("store: decode record: %w", err)
		}
		if rec.Data != nil {
			return rec.Data, nil
		}
	}
}

func encodeSession(info execdata.SessionInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.WriteAll(&buf, execdata.ModeHitOnce, []execdata.SessionInfo{info}, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSession(v []byte) (execdata.SessionInfo, error) {
	r := codec.NewReader(bytes.NewReader(v), execdata.ModeHitOnce)
	for {
		rec, err := r.Next()
		if err != nil {
			return execdata.SessionInfo{}, fmt.Errorf("store: decode session: %w", err)
		}
		if rec.Session != nil {
			return *rec.Session, nil
		}
	}
}

// Put merges d into the stored record of its class, or stores a copy if
// the class is new. Incompatible records leave the store unchanged.
func (s *Store) Put(ctx context.Context, d *execdata.ExecutionData) error {
	err := s.visit(ctx, d, true)
	if err == nil || errors.Is(err, execdata.ErrIncompatible) {
		s.metrics.Merged(err)
	}
	return err
}

// Subtract removes the hits of d from the stored record of its class.
// Classes the store does not hold are ignored.
func (s *Store) Subtract(ctx context.Context, d *execdata.ExecutionData) error {
	return s.visit(ctx, d, false)
}

func (s *Store) visit(ctx context.Context, d *execdata.ExecutionData, flag bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Mode() != s.mode {
		return fmt.Errorf("store: %s: %w", d.Name(), execdata.ErrModeMismatch)
	}
	key := execKey(d.ID())
	return s.update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			if !flag {
				return nil
			}
			v, err := s.encode(d)
			if err != nil {
				return err
			}
			return txn.Set(key, v)
		}
		if err != nil {
			return err
		}
		var cur *execdata.ExecutionData
		if err := item.Value(func(v []byte) error {
			cur, err = s.decode(v)
			return err
		}); err != nil {
			return err
		}
		if err := cur.MergeFlag(d, flag); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		v, err := s.encode(cur)
		if err != nil {
			return err
		}
		return txn.Set(key, v)
	})
}

// Get returns the stored record of a class.
func (s *Store) Get(ctx context.Context, id uint64) (*execdata.ExecutionData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var d *execdata.ExecutionData
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(execKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: class %016x", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			d, err = s.decode(v)
			return err
		})
	})
	return d, err
}

// AddSession records a session. A session id seen before keeps the
// earliest start and the latest dump.
func (s *Store) AddSession(ctx context.Context, info execdata.SessionInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := sessionKey(info.ID)
	return s.update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var prev execdata.SessionInfo
			if err := item.Value(func(v []byte) error {
				prev, err = decodeSession(v)
				return err
			}); err != nil {
				return err
			}
			info.Start = min(info.Start, prev.Start)
			info.Dump = max(info.Dump, prev.Dump)
		}
		v, err := encodeSession(info)
		if err != nil {
			return err
		}
		return txn.Set(key, v)
	})
}

func (s *Store) scan(ctx context.Context, prefix string, fn func(v []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(fn); err != nil {
				return fmt.Errorf("store: %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}

// Sessions returns all sessions ordered by start time.
func (s *Store) Sessions(ctx context.Context) ([]execdata.SessionInfo, error) {
	var ss execdata.SessionStore
	err := s.scan(ctx, sessionPrefix, func(v []byte) error {
		info, err := decodeSession(v)
		if err != nil {
			return err
		}
		ss.Add(info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ss.Infos(), nil
}

// Load copies the stored records into an in-memory store.
func (s *Store) Load(ctx context.Context) (*execdata.Store, error) {
	out := execdata.NewStore()
	err := s.scan(ctx, execPrefix, func(v []byte) error {
		d, err := s.decode(v)
		if err != nil {
			return err
		}
		return out.Put(d)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Contents returns the stored records ordered by class name, then id.
func (s *Store) Contents(ctx context.Context) ([]*execdata.ExecutionData, error) {
	st, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return st.Contents(), nil
}

// ImportStats counts the blocks consumed by Import.
type ImportStats struct {
	Sessions int
	Records  int
}

// Import merges an execution data stream into the store. Records merged
// before a decoding error stay merged.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	ctx, span := tracer.Start(ctx, "store.Import", trace.WithAttributes(
		attribute.String("mode", s.mode.String()),
	))
	defer span.End()

	var st ImportStats
	err := s.importStream(ctx, r, &st)
	s.metrics.Read(s.mode, st.Records)
	span.SetAttributes(
		attribute.Int("import.sessions", st.Sessions),
		attribute.Int("import.records", st.Records),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		return st, err
	}
	s.logger.Debug("imported", "sessions", st.Sessions, "records", st.Records)
	return st, nil
}

func (s *Store) importStream(ctx context.Context, r io.Reader, st *ImportStats) error {
	cr := codec.NewReader(r, s.mode)
	for {
		rec, err := cr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case rec.Session != nil:
			if err := s.AddSession(ctx, *rec.Session); err != nil {
				return err
			}
			st.Sessions++
		case rec.Data != nil:
			if err := s.Put(ctx, rec.Data); err != nil {
				return err
			}
			st.Records++
		}
	}
}

// Export writes the whole store as one execution data stream.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	ctx, span := tracer.Start(ctx, "store.Export")
	defer span.End()

	sessions, err := s.Sessions(ctx)
	if err == nil {
		var data []*execdata.ExecutionData
		if data, err = s.Contents(ctx); err == nil {
			span.SetAttributes(
				attribute.Int("export.sessions", len(sessions)),
				attribute.Int("export.records", len(data)),
			)
			err = codec.WriteAll(w, s.mode, sessions, data)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
	}
	return err
}

// Keys lists the database keys under prefix, for diagnostics.
func (s *Store) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := string(it.Item().Key())
			if !strings.HasPrefix(k, "meta/") {
				keys = append(keys, k)
			}
		}
		return nil
	})
	return keys, err
}
