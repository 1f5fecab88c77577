package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/benbjohnson/havoc"
	"github.com/benbjohnson/havoc/kernel"
	"github.com/benbjohnson/havoc/overapprox"
	"github.com/benbjohnson/havoc/z3"
	"github.com/davecgh/go-spew/spew"
	"golang.org/x/tools/go/ssa"
)

var (
	SymbolicTestPrefix = "SymbolicTest"
)

// RunCommand represents a command for symbolically executing functions.
type RunCommand struct {
	Stdout io.Writer
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{Stdout: os.Stdout}
}

// Run executes the "run" subcommand.
func (cmd *RunCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("havoc-run", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose")
	config := fs.String("config", overapprox.DefaultConfigPath, "over-approximation config path")
	dump := fs.Bool("dump", false, "dump terminal states")
	pattern := fs.String("run", "", "function name pattern")
	timeout := fs.Duration("timeout", 10*time.Second, "solver timeout per query")
	noFailures := fs.Bool("no-failures", false, "disable syscall failure injection")
	search := fs.String("search", "dfs", "search strategy (dfs, bfs)")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("package required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many packages specified")
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}

	re, err := regexp.Compile(*pattern)
	if err != nil {
		return err
	} else if _, err := newSearcher(*search); err != nil {
		return err
	}

	_, pkgs, err := loadProgram(fs.Arg(0), "amd64", true)
	if err != nil {
		return err
	}

	// Find matching functions. Without a pattern, only symbolic tests run.
	var fns []*ssa.Function
	for _, fn := range packageFunctions(pkgs) {
		if *pattern != "" && re.MatchString(fn.Name()) {
			fns = append(fns, fn)
		} else if *pattern == "" && strings.HasPrefix(fn.Name(), SymbolicTestPrefix) {
			fns = append(fns, fn)
		}
	}

	// Over-approximation config is shared by every function.
	engine := overapprox.NewEngine(*config)

	for _, fn := range fns {
		if err := ctx.Err(); err != nil {
			return err
		}

		k := kernel.NewSimulator()
		k.InjectFailures = !*noFailures
		searcher, _ := newSearcher(*search)
		if err := cmd.runFunction(fn, engine, k, searcher, *timeout, *dump); err != nil {
			return fmt.Errorf("%s: %w", fn.Name(), err)
		}
	}
	return nil
}

// newSearcher returns a search strategy by name.
func newSearcher(name string) (havoc.Searcher, error) {
	switch name {
	case "dfs":
		return havoc.NewDFSSearcher(), nil
	case "bfs":
		return havoc.NewBFSSearcher(), nil
	default:
		return nil, fmt.Errorf("unknown search strategy: %q", name)
	}
}

// runFunction explores every path through fn and reports each terminal state.
func (cmd *RunCommand) runFunction(fn *ssa.Function, engine *overapprox.Engine, k *kernel.Simulator, searcher havoc.Searcher, timeout time.Duration, dump bool) error {
	log.Printf("[begin] %s", fn.String())
	defer log.Print("[end]")

	solver := z3.NewSolver()
	solver.Timeout = timeout
	defer solver.Close()

	e := havoc.NewExecutor(fn)
	e.OS, e.Arch = "linux", "amd64"
	e.Solver = solver
	e.SetSearcher(searcher)
	e.Interceptors = append(e.Interceptors, engine)
	k.Register(e)

	fmt.Fprintf(cmd.Stdout, "=== %s\n", fn.Name())
	for {
		state, err := e.ExecuteNextState()
		if err == havoc.ErrNoStateAvailable {
			break
		} else if err != nil {
			return err
		} else if !state.Terminated() {
			continue
		}

		fmt.Fprintf(cmd.Stdout, "state#%d status=%s", state.ID(), state.Status())
		if reason := state.Reason(); reason != "" {
			fmt.Fprintf(cmd.Stdout, " reason=%q", reason)
		}
		fmt.Fprintln(cmd.Stdout, "")

		// Pruned states are infeasible and have no solution.
		if state.Status() != havoc.ExecutionStatusPruned {
			arrays, values, err := state.Values()
			if err != nil {
				fmt.Fprintf(cmd.Stdout, "\tno solution: %s\n", err)
			}
			for i, array := range arrays {
				fmt.Fprintf(cmd.Stdout, "\t%s => %x\n", array.String(), values[i])
			}
		}

		if dump {
			fmt.Fprintln(cmd.Stdout, state.Dump())
		}
	}

	if dump {
		fmt.Fprintf(cmd.Stdout, "kernel: %s", spew.Sdump(k.Stats))
		fmt.Fprintf(cmd.Stdout, "solver: %s", spew.Sdump(solver.Stats()))
	}
	fmt.Fprintln(cmd.Stdout, "")
	return nil
}

func (cmd *RunCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: havoc run [arguments] [package]

Symbolically executes every SymbolicTest function in the package and
prints the status and a solution for each terminal state.

Arguments:

	-config PATH
	    Over-approximation config. Defaults to over-approximation.yaml.

	-dump
	    Print each terminal state and final statistics.

	-no-failures
	    Disable syscall failure injection.

	-run REGEXP
	    Run functions matching REGEXP instead of symbolic tests.

	-search STRATEGY
	    State search strategy, dfs or bfs. Defaults to dfs.

	-timeout DURATION
	    Solver timeout per query. Defaults to 10s.

	-v
	    Enable verbose logging.
`[1:])
}
