package main

import (
	"github.com/spf13/cobra"
)

// --- Global flags ---
var (
	configPath string
	modeFlag   string
	logLevel   string
	logJSON    bool
)

// --- Command flags ---
var (
	mergeOut    string
	subtractOut string
	recordOut   string
	exportOut   string
	graphOut    string
	nativeOut   string
	execPaths   []string
	fromStore   bool
	jsonDir     string
	workers     int
	listingPath string
	probeHits   []int
	hitRepeat   int
	sessionID   string
	appendOut   bool
	libPath     string
	funcFilter  string
	className   string
	callGraph   bool
	metricsAddr string
)

var (
	rootCmd = &cobra.Command{
		Use:               "jacoco",
		Short:             "Probe based code coverage toolkit",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	dumpCmd = &cobra.Command{
		Use:   "dump <exec...>",
		Short: "Print the blocks of execution data files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDump, // exec.go
	}
	mergeCmd = &cobra.Command{
		Use:   "merge <exec...>",
		Short: "Merge execution data files into one",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runMerge, // exec.go
	}
	subtractCmd = &cobra.Command{
		Use:   "subtract <base> <exec...>",
		Short: "Remove the hits of later files from the base file",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runSubtract, // exec.go
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze <listing...>",
		Short: "Report coverage of class listings",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAnalyze, // analyze.go
	}
	probesCmd = &cobra.Command{
		Use:   "probes <listing>",
		Short: "Print a class listing with its probes placed",
		Args:  cobra.ExactArgs(1),
		RunE:  runProbes, // probes.go
	}
	recordCmd = &cobra.Command{
		Use:   "record",
		Short: "Hit probes of a class and dump them like an agent would",
		Args:  cobra.NoArgs,
		RunE:  runRecord, // record.go
	}
	graphCmd = &cobra.Command{
		Use:   "graph <listing...>",
		Short: "Write coverage annotated control flow graphs as DOT",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGraph, // graph.go
	}
	nativeCmd = &cobra.Command{
		Use:   "native",
		Short: "Analyze coverage of AArch64 functions in an ELF file",
		Args:  cobra.NoArgs,
		RunE:  runNative, // native.go
	}

	storeCmd = &cobra.Command{
		Use:   "store",
		Short: "Manage the persistent execution data store",
	}
	storeImportCmd = &cobra.Command{
		Use:   "import <exec...>",
		Short: "Merge execution data files into the store",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runStoreImport, // store.go
	}
	storeSubtractCmd = &cobra.Command{
		Use:   "subtract <exec...>",
		Short: "Remove the hits of execution data files from the store",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runStoreSubtract, // store.go
	}
	storeExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write the store as one execution data file",
		Args:  cobra.NoArgs,
		RunE:  runStoreExport, // store.go
	}
	storeListCmd = &cobra.Command{
		Use:   "list",
		Short: "List sessions and records in the store",
		Args:  cobra.NoArgs,
		RunE:  runStoreList, // store.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch [dir]",
		Short: "Import execution data files into the store as they are written",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch, // watch.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "jacoco.yaml", "configuration file (missing file means defaults)")
	pf.StringVar(&modeFlag, "mode", "", "probe mode: hit-once or hit-count (overrides config)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	pf.BoolVar(&logJSON, "log-json", false, "log JSON instead of text")

	rootCmd.AddCommand(dumpCmd, mergeCmd, subtractCmd, analyzeCmd, probesCmd,
		recordCmd, graphCmd, nativeCmd, storeCmd, watchCmd)
	storeCmd.AddCommand(storeImportCmd, storeSubtractCmd, storeExportCmd, storeListCmd)

	mergeCmd.Flags().StringVarP(&mergeOut, "out", "o", "merged.exec", "output file")
	subtractCmd.Flags().StringVarP(&subtractOut, "out", "o", "subtracted.exec", "output file")

	for _, c := range []*cobra.Command{analyzeCmd, graphCmd, nativeCmd} {
		c.Flags().StringSliceVar(&execPaths, "exec", nil, "execution data files")
		c.Flags().BoolVar(&fromStore, "store", false, "read execution data from the store")
	}
	analyzeCmd.Flags().StringVar(&jsonDir, "json", "", "also write report.json to this directory")
	analyzeCmd.Flags().IntVar(&workers, "workers", 0, "classes analyzed in parallel (0: config)")

	recordCmd.Flags().StringVar(&listingPath, "listing", "", "class listing")
	recordCmd.Flags().IntSliceVar(&probeHits, "hit", nil, "probe ids to hit")
	recordCmd.Flags().IntVar(&hitRepeat, "repeat", 1, "times each probe is hit")
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "jacoco.exec", "execution data file")
	recordCmd.Flags().StringVar(&sessionID, "session", "", "session id (default: random)")
	recordCmd.Flags().BoolVar(&appendOut, "append", false, "append to an existing file")
	recordCmd.MarkFlagRequired("listing")

	graphCmd.Flags().StringVar(&graphOut, "out", "graphs", "output directory")
	graphCmd.Flags().BoolVar(&callGraph, "calls", false, "also write the call graph")

	nativeCmd.Flags().StringVar(&libPath, "lib", "", "AArch64 ELF file")
	nativeCmd.Flags().StringVar(&funcFilter, "func", "", "regular expression selecting functions")
	nativeCmd.Flags().StringVar(&className, "class", "", "class name of the functions (default: file name)")
	nativeCmd.Flags().StringVar(&nativeOut, "out", "", "write disassembly and CFGs to this directory")
	nativeCmd.MarkFlagRequired("lib")

	storeExportCmd.Flags().StringVarP(&exportOut, "out", "o", "store.exec", "output file")

	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics here (overrides config)")
}
