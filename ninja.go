// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package n2

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
)

// depsLogName is the state log file, one per build directory.
const depsLogName = ".n2_db"

// How many times the manifest may be regenerated and reloaded before we
// assume the generator never converges.
const manifestRegenLimit = 3

// Command-line options.
type options struct {
	chdir       string
	buildFile   string
	parallelism int
	keepGoing   int
	debug       string
	tool        string
	verbose     bool
	version     bool
	statusJSON  string
	targets     []string

	// Set when invoked under the name "ninja", or via -d ninja_compat:
	// report ninja's version and humor unknown tools.
	fakeNinjaCompat bool
	explain         bool
}

// Main is the real entry point; cmd/n2 just forwards to it.
func Main() int {
	return run(os.Args, os.Stdout, os.Stderr)
}

func run(argv []string, stdout, stderr io.Writer) int {
	opts := options{}
	opts.fakeNinjaCompat = strings.TrimSuffix(filepath.Base(argv[0]), ".exe") == "ninja"

	flags := pflag.NewFlagSet("n2", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.chdir, "chdir", "C", "", "change to `dir` before doing anything else")
	flags.StringVarP(&opts.buildFile, "build-file", "f", "build.ninja", "input build `file`")
	flags.IntVarP(&opts.parallelism, "parallelism", "j", runtime.NumCPU(), "run `n` jobs in parallel")
	flags.IntVarP(&opts.keepGoing, "keep-going", "k", 1, "keep going until `n` jobs fail; 0 means never stop")
	flags.StringVarP(&opts.debug, "debug", "d", "", "debugging `tool`; use -d list to list")
	flags.StringVarP(&opts.tool, "tool", "t", "", "sub`tool`; use -t list to list")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print executed command lines")
	flags.BoolVar(&opts.version, "version", false, "print version and exit")
	flags.StringVar(&opts.statusJSON, "status-json", "", "write JSON progress to `file`")
	if err := flags.Parse(argv[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 1
	}
	opts.targets = flags.Args()

	if opts.version {
		if opts.fakeNinjaCompat || opts.debug == "ninja_compat" {
			fmt.Fprintln(stdout, ninjaCompatVersion)
		} else {
			fmt.Fprintln(stdout, n2Version)
		}
		return 0
	}

	switch opts.debug {
	case "":
	case "list":
		fmt.Fprintln(stdout, "debugging tools:")
		fmt.Fprintln(stdout, "  explain      log why each task is considered out of date")
		fmt.Fprintln(stdout, "  trace        write a Chrome performance trace to trace.json")
		fmt.Fprintln(stdout, "  ninja_compat behave like ninja where the tools differ")
		return 1
	case "explain":
		opts.explain = true
	case "trace":
		if err := traceOpen("trace.json"); err != nil {
			fmt.Fprintf(stderr, "n2: error: trace.json: %s\n", err)
			return 1
		}
	case "ninja_compat":
		opts.fakeNinjaCompat = true
	default:
		fmt.Fprintf(stderr, "n2: error: unknown -d %q, use -d list to list\n", opts.debug)
		return 1
	}
	defer traceClose()

	if opts.chdir != "" {
		if err := os.Chdir(opts.chdir); err != nil {
			fmt.Fprintf(stderr, "n2: error: chdir %s: %s\n", opts.chdir, err)
			return 1
		}
	}

	switch opts.tool {
	case "":
	case "list":
		fmt.Fprintln(stdout, "subtools:")
		fmt.Fprintln(stdout, "  restat  mark the named outputs up to date without running anything")
		return 1
	case "restat":
		return toolRestat(&opts, stdout, stderr)
	default:
		if opts.fakeNinjaCompat {
			// CMake probes tools we don't carry; pretending they succeeded
			// keeps it going.
			return 0
		}
		fmt.Fprintf(stderr, "n2: error: unknown -t %q, use -t list to list\n", opts.tool)
		return 1
	}

	installSigintHandler()

	var status Status
	switch {
	case opts.statusJSON != "":
		f, err := os.OpenFile(opts.statusJSON, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			fmt.Fprintf(stderr, "n2: error: %s: %s\n", opts.statusJSON, err)
			return 1
		}
		defer f.Close()
		status = NewJSONStatus(f)
	case useFancy() && stdout == io.Writer(os.Stdout):
		status = NewFancyStatus(stdout, opts.verbose)
	default:
		status = NewStatusPrinter(stdout, opts.verbose)
	}
	// Progress must be flushed on every exit, fatal paths included.
	defer status.Finish()

	return build(&opts, status, stderr)
}

// build loads the manifest and runs the scheduler, restarting the whole
// plan when a generator edge rewrites the manifest.
func build(opts *options, status Status, stderr io.Writer) int {
	fs := RealFileSystem{}
	fail := func(err error) int {
		status.Finish()
		fmt.Fprintf(stderr, "n2: error: %s\n", err)
		return 1
	}

	for attempt := 0; attempt < manifestRegenLimit; attempt++ {
		var state *LoadedState
		err := traceScope("load", func() error {
			var err error
			state, err = Load(fs, opts.buildFile, func(msg string) { status.Log("n2: warning: " + msg) })
			return err
		})
		if err != nil {
			return fail(err)
		}

		dbPath := filepath.Join(filepath.Dir(opts.buildFile), depsLogName)
		if state.BuildDir != "" {
			if err := os.MkdirAll(state.BuildDir, 0o777); err != nil {
				return fail(err)
			}
			dbPath = filepath.Join(state.BuildDir, depsLogName)
		}
		db, err := OpenDepsLog(state.Graph, dbPath)
		if err != nil {
			return fail(err)
		}

		runner := NewSubprocessRunner(opts.parallelism)
		work := NewWork(state.Graph, fs, db, status, runner, WorkOptions{
			KeepGoing: opts.keepGoing,
			Explain:   opts.explain,
		})

		// If the manifest is itself a build output it is wanted first; a
		// rebuilt manifest invalidates everything loaded so far.
		manifest := CanonicalizePath(opts.buildFile)
		if id, ok := state.Graph.Lookup(manifest); ok && state.Graph.File(id).Input != noBuild {
			if err := work.WantFileId(id); err != nil {
				db.Close()
				return fail(err)
			}
			n, err := work.Run()
			if err != nil {
				db.Close()
				return finishRun(status, stderr, n, err)
			}
			if n > 0 {
				db.Close()
				continue
			}
		}

		if len(opts.targets) > 0 {
			for _, t := range opts.targets {
				if err := work.WantFile(t); err != nil {
					db.Close()
					return fail(err)
				}
			}
		} else if len(state.Defaults) > 0 {
			for _, id := range state.Defaults {
				if err := work.WantFileId(id); err != nil {
					db.Close()
					return fail(err)
				}
			}
		} else {
			for _, id := range state.Graph.RootOuts() {
				if err := work.WantFileId(id); err != nil {
					db.Close()
					return fail(err)
				}
			}
		}

		n, err := work.Run()
		db.Close()
		return finishRun(status, stderr, n, err)
	}
	return fail(errManifestLoop)
}

// finishRun flushes the display and prints the closing summary.
func finishRun(status Status, stderr io.Writer, tasks int, err error) int {
	status.Finish()
	switch {
	case err == nil:
	case errors.Is(err, errBuildFailed):
		// The failing task's output is the real diagnostic.
		fmt.Fprintln(stderr, "n2: build failed")
		return 1
	case errors.Is(err, errInterrupted):
		fmt.Fprintln(stderr, "n2: interrupted")
		return 1
	default:
		fmt.Fprintf(stderr, "n2: error: %s\n", err)
		return 1
	}
	if tasks == 0 {
		fmt.Fprintln(stderr, "n2: no work to do")
	} else {
		plural := "s"
		if tasks == 1 {
			plural = ""
		}
		fmt.Fprintf(stderr, "n2: ran %d task%s, now up to date\n", tasks, plural)
	}
	return 0
}

// toolRestat implements "-t restat": record the named outputs as up to date
// in the state log without running anything, the escape hatch after editing
// outputs by hand.
func toolRestat(opts *options, stdout, stderr io.Writer) int {
	fs := RealFileSystem{}
	fail := func(err error) int {
		fmt.Fprintf(stderr, "n2: error: %s\n", err)
		return 1
	}
	state, err := Load(fs, opts.buildFile, nil)
	if err != nil {
		return fail(err)
	}
	dbPath := filepath.Join(filepath.Dir(opts.buildFile), depsLogName)
	if state.BuildDir != "" {
		dbPath = filepath.Join(state.BuildDir, depsLogName)
	}
	db, err := OpenDepsLog(state.Graph, dbPath)
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	g := state.Graph
	fstate := NewFileState(len(g.Files))
	for _, target := range opts.targets {
		id, ok := g.Lookup(CanonicalizePath(target))
		if !ok {
			return fail(fmt.Errorf("unknown path %q", target))
		}
		bid := g.File(id).Input
		if bid == noBuild {
			return fail(fmt.Errorf("%q is a source file, nothing to restat", target))
		}
		b := g.Build(bid)
		for _, lst := range [][]FileId{b.Outs.Ids, b.DirtyingIns(), b.DiscoveredIns} {
			for _, fid := range lst {
				if _, err := fstate.Stat(g, fs, fid); err != nil {
					return fail(err)
				}
			}
		}
		if err := db.WriteBuild(g, b, hashBuild(g, fstate, b)); err != nil {
			return fail(err)
		}
		fmt.Fprintf(stdout, "restat %s\n", g.File(id).Name)
	}
	return 0
}
