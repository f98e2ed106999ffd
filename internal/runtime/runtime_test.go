package runtime

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/farid-feyzi/jacoco/internal/codec"
	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/metrics"
)

func fixedClock(ms ...int64) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := time.UnixMilli(ms[min(i, len(ms)-1)])
		i++
		return t
	}
}

func TestProbes_ConcurrentHits(t *testing.T) {
	d := NewData(execdata.ModeHitCount, WithSessionID("s"))
	p, err := d.Probes(1, "p/A", 2)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				p.Hit(0)
			}
		}()
	}
	wg.Wait()
	_, recs := d.Collect(false)
	if got := recs[0].Counts(); got[0] != 16000 || got[1] != 0 {
		t.Errorf("counts = %v, want [16000 0]", got)
	}
}

func TestProbes_Saturate(t *testing.T) {
	p := newProbes(1, "A", 1, execdata.ModeHitCount)
	p.counts[0].Store(math.MaxInt32)
	p.Hit(0)
	if got := p.counts[0].Load(); got != math.MaxInt32 {
		t.Errorf("count = %d, want MaxInt32", got)
	}
}

func TestData_RegisterCompatibility(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d := NewData(execdata.ModeHitOnce, WithMetrics(m))
	a, err := d.Probes(1, "p/A", 3)
	if err != nil {
		t.Fatal(err)
	}
	again, err := d.Probes(1, "p/A", 3)
	if err != nil || again != a {
		t.Fatalf("second registration = %v, %v", again, err)
	}
	if _, err := d.Probes(1, "p/A", 4); !errors.Is(err, execdata.ErrIncompatible) {
		t.Errorf("err = %v, want ErrIncompatible", err)
	}
	if got := testutil.ToFloat64(m.ClassesRegistered); got != 1 {
		t.Errorf("classes gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Incompatible); got != 1 {
		t.Errorf("incompatible = %v, want 1", got)
	}
}

func TestData_CollectReset(t *testing.T) {
	d := NewData(execdata.ModeHitOnce, WithSessionID("run"), WithClock(fixedClock(100, 200, 300)))
	p, _ := d.Probes(2, "p/B", 2)
	q, _ := d.Probes(1, "p/A", 1)
	p.Hit(1)
	q.Hit(0)

	info, recs := d.Collect(true)
	if info != (execdata.SessionInfo{ID: "run", Start: 100, Dump: 200}) {
		t.Errorf("info = %+v", info)
	}
	if len(recs) != 2 || recs[0].Name() != "p/A" || !recs[1].Hits()[1] {
		t.Fatalf("records = %v", recs)
	}

	info, recs = d.Collect(false)
	if info.Start != 200 || info.Dump != 300 {
		t.Errorf("second session = %+v, want start 200 dump 300", info)
	}
	for _, r := range recs {
		if r.HasHits() {
			t.Errorf("%s still has hits after reset", r.Name())
		}
	}
}

func TestFileOutput_AppendAndDumper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "jacoco.exec")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	out, err := NewFileOutput(path, execdata.ModeHitCount, false, m)
	if err != nil {
		t.Fatal(err)
	}
	d := NewData(execdata.ModeHitCount, WithSessionID("default"))
	p, _ := d.Probes(9, "p/C", 2)

	dumper := NewDumper(d, out, nil)
	p.Hit(0)
	if err := dumper.Collect("override"); err != nil {
		t.Fatal(err)
	}
	p.Hit(0)
	p.Hit(1)
	if err := dumper.Shutdown(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, recs := d.Collect(false)
			if err := out.WriteDump(info, recs); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	store := execdata.NewStore()
	var sessions execdata.SessionStore
	if err := codec.Load(f, execdata.ModeHitCount, store, &sessions); err != nil {
		t.Fatal(err)
	}
	if sessions.Len() != 6 {
		t.Errorf("sessions = %d, want 6", sessions.Len())
	}
	ids := map[string]int{}
	for _, s := range sessions.Infos() {
		ids[s.ID]++
	}
	if ids["override"] != 1 || ids["default"] != 5 {
		t.Errorf("session ids = %v", ids)
	}
	if got := store.Get(9).Counts(); got[0] != 2 || got[1] != 1 {
		t.Errorf("merged counts = %v, want [2 1]", got)
	}
	if got := testutil.ToFloat64(m.DumpsWritten); got != 5 {
		t.Errorf("dumps written = %v, want 5", got)
	}
}

func TestFileOutput_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.exec")
	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileOutput(path, execdata.ModeHitOnce, false, nil); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 0 {
		t.Errorf("size = %d, want 0", fi.Size())
	}
}
