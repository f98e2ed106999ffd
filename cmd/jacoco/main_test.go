package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const absListing = `
class: com/example/Abs
source: Abs.java
methods:
  - name: abs
    desc: (I)I
    access: [public, static]
    code: |
      .line 3
      iload 0
      ifge Lpos
      iload 0
      ineg
      ireturn
      Lpos:
      .line 4
      iload 0
      ireturn
  - name: twice
    desc: (I)I
    access: [public, static]
    code: |
      .line 8
      iload 0
      invokestatic com/example/Abs.abs(I)I
      iconst_2
      imul
      ireturn
`

// resetFlags puts every flag back to its default so commands can run
// repeatedly in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

type fixture struct {
	dir     string
	config  string
	listing string
}

func newFixture(t *testing.T, mode string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:     dir,
		config:  filepath.Join(dir, "jacoco.yaml"),
		listing: filepath.Join(dir, "abs.yaml"),
	}
	cfg := "mode: " + mode + "\nlog:\n  level: error\nstore:\n  path: " + filepath.Join(dir, "store") + "\n"
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(f.listing, []byte(absListing), 0o644))
	return f
}

func (f fixture) path(name string) string { return filepath.Join(f.dir, name) }

func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", f.config}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func (f fixture) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := f.run(t, args...)
	require.NoError(t, err, "jacoco %s", strings.Join(args, " "))
	return out
}

func TestProbes(t *testing.T) {
	f := newFixture(t, "hit-once")
	out := f.mustRun(t, "probes", f.listing)
	assert.Contains(t, out, "class com/example/Abs")
	assert.Contains(t, out, "probes 3")
	assert.Contains(t, out, "ireturn [probe 0]")
	assert.Contains(t, out, "ireturn [probe 2]")
}

func TestRecordDumpAnalyze(t *testing.T) {
	f := newFixture(t, "hit-once")
	exec := f.path("run.exec")
	out := f.mustRun(t, "record", "--listing", f.listing, "--hit", "1", "--session", "s1", "--out", exec)
	assert.Contains(t, out, "session s1")

	out = f.mustRun(t, "dump", exec)
	assert.Contains(t, out, "session s1")
	assert.Contains(t, out, "com/example/Abs")
	assert.Contains(t, out, "1/3")

	out = f.mustRun(t, "analyze", "--exec", exec, "--json", f.path("report"), f.listing)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "com/example/Abs")
	assert.Contains(t, lines[1], "4/12")
	assert.FileExists(t, f.path("report/report.json"))

	out = f.mustRun(t, "analyze", f.listing)
	assert.Contains(t, out, "0/12")
}

func TestRecord_ProbeOutOfRange(t *testing.T) {
	f := newFixture(t, "hit-once")
	_, err := f.run(t, "record", "--listing", f.listing, "--hit", "3", "--out", f.path("x.exec"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestMergeAndSubtract(t *testing.T) {
	f := newFixture(t, "hit-count")
	a, b := f.path("a.exec"), f.path("b.exec")
	f.mustRun(t, "record", "--listing", f.listing, "--hit", "0,1", "--repeat", "2", "--session", "a", "--out", a)
	f.mustRun(t, "record", "--listing", f.listing, "--hit", "1,2", "--session", "b", "--out", b)

	merged := f.path("merged.exec")
	f.mustRun(t, "merge", "--out", merged, a, b)
	out := f.mustRun(t, "dump", merged)
	assert.Contains(t, out, "session a")
	assert.Contains(t, out, "session b")
	assert.Contains(t, out, "3/3 (6 hits)")

	sub := f.path("sub.exec")
	f.mustRun(t, "subtract", "--out", sub, merged, b)
	out = f.mustRun(t, "dump", sub)
	assert.Contains(t, out, "2/3 (4 hits)")
}

func TestMode_Mismatch(t *testing.T) {
	f := newFixture(t, "hit-count")
	exec := f.path("count.exec")
	f.mustRun(t, "record", "--listing", f.listing, "--hit", "0", "--out", exec)
	_, err := f.run(t, "--mode", "hit-once", "dump", exec)
	require.Error(t, err)
}

func TestStoreCommands(t *testing.T) {
	f := newFixture(t, "hit-count")
	a, b := f.path("a.exec"), f.path("b.exec")
	f.mustRun(t, "record", "--listing", f.listing, "--hit", "0", "--session", "a", "--out", a)
	f.mustRun(t, "record", "--listing", f.listing, "--hit", "0,2", "--session", "b", "--out", b)

	out := f.mustRun(t, "store", "import", a, b)
	assert.Contains(t, out, "1 sessions, 1 records")

	out = f.mustRun(t, "store", "list")
	assert.Contains(t, out, "hit-count")
	assert.Contains(t, out, "com/example/Abs")
	assert.Contains(t, out, "2/3 (3 hits)")

	f.mustRun(t, "store", "subtract", a)
	out = f.mustRun(t, "store", "list")
	assert.Contains(t, out, "2/3 (2 hits)")

	exported := f.path("store.exec")
	f.mustRun(t, "store", "export", "--out", exported)
	out = f.mustRun(t, "dump", exported)
	assert.Contains(t, out, "session a")
	assert.Contains(t, out, "session b")

	out = f.mustRun(t, "analyze", "--store", f.listing)
	assert.Contains(t, out, "10/12")
}

func TestGraph(t *testing.T) {
	f := newFixture(t, "hit-once")
	exec := f.path("run.exec")
	f.mustRun(t, "record", "--listing", f.listing, "--hit", "0", "--out", exec)

	out := f.mustRun(t, "graph", "--exec", exec, "--calls", "--out", f.path("graphs"), f.listing)
	paths := strings.Fields(out)
	require.Len(t, paths, 2)
	assert.Equal(t, f.path("graphs/cfg/com/example/Abs.dot"), paths[0])
	assert.Equal(t, f.path("graphs/calls/callgraph.dot"), paths[1])

	dot, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.NotEmpty(t, dot)
}

func TestNative_RejectsNonELF(t *testing.T) {
	f := newFixture(t, "hit-once")
	_, err := f.run(t, "native", "--lib", f.listing)
	require.Error(t, err)
}
