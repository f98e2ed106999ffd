package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/farid-feyzi/jacoco/internal/codec"
	"github.com/farid-feyzi/jacoco/internal/execdata"
)

// readExec merges execution data files.
func readExec(paths []string) (*execdata.Store, *execdata.SessionStore, error) {
	data := execdata.NewStore()
	sessions := &execdata.SessionStore{}
	for _, p := range paths {
		if err := readExecFile(p, data, sessions); err != nil {
			return nil, nil, err
		}
	}
	env.logger.Debug("execution data loaded", "files", len(paths), "classes", data.Len(), "sessions", sessions.Len())
	return data, sessions, nil
}

func readExecFile(path string, data *execdata.Store, sessions *execdata.SessionStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	before := data.Len()
	if err := codec.Load(f, env.mode, data, sessions); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	env.metrics.Read(env.mode, data.Len()-before)
	return nil
}

func writeExec(path string, sessions []execdata.SessionInfo, data []*execdata.ExecutionData) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := codec.WriteAll(w, env.mode, sessions, data); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// coverageData returns the execution data selected by --exec and --store,
// or nil when neither is given.
func coverageData(ctx context.Context) (*execdata.Store, error) {
	if len(execPaths) == 0 && !fromStore {
		return nil, nil
	}
	data := execdata.NewStore()
	if fromStore {
		s, err := openStore()
		if err != nil {
			return nil, err
		}
		defer s.Close()
		if data, err = s.Load(ctx); err != nil {
			return nil, err
		}
	}
	for _, p := range execPaths {
		if err := readExecFile(p, data, nil); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func runDump(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, p := range args {
		if err := dumpFile(out, p); err != nil {
			return err
		}
	}
	return nil
}

func dumpFile(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(out, "%s:\n", path)
	r := codec.NewReader(bufio.NewReader(f), env.mode)
	n := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		switch {
		case rec.Session != nil:
			s := rec.Session
			fmt.Fprintf(out, "  session %s  start %s  dump %s\n", s.ID,
				s.StartTime().UTC().Format(time.RFC3339), s.DumpTime().UTC().Format(time.RFC3339))
		case rec.Data != nil:
			d := rec.Data
			fmt.Fprintf(out, "  %016x  %-40s  %s\n", d.ID(), d.Name(), probeSummary(d))
			n++
		}
	}
	env.metrics.Read(env.mode, n)
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	data, sessions, err := readExec(args)
	if err != nil {
		return err
	}
	if err := writeExec(mergeOut, sessions.Infos(), data.Contents()); err != nil {
		return err
	}
	env.logger.Info("merged", "inputs", len(args), "classes", data.Len(), "out", mergeOut)
	return nil
}

func runSubtract(cmd *cobra.Command, args []string) error {
	base, sessions, err := readExec(args[:1])
	if err != nil {
		return err
	}
	minus, _, err := readExec(args[1:])
	if err != nil {
		return err
	}
	if err := base.SubtractAll(minus); err != nil {
		return err
	}
	if err := writeExec(subtractOut, sessions.Infos(), base.Contents()); err != nil {
		return err
	}
	env.logger.Info("subtracted", "base", args[0], "classes", base.Len(), "out", subtractOut)
	return nil
}
