package main

import (
	"context"
	"flag"
	"fmt"
	"go/types"
	"io"
	"io/ioutil"
	"log"
	"os"
	"regexp"
	"runtime"

	"github.com/benbjohnson/havoc/summary"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/ssa"
)

// SummarizeCommand represents a command for printing function summaries.
type SummarizeCommand struct {
	Stdout io.Writer
}

// NewSummarizeCommand returns a new instance of SummarizeCommand.
func NewSummarizeCommand() *SummarizeCommand {
	return &SummarizeCommand{Stdout: os.Stdout}
}

// Run executes the "summarize" subcommand.
func (cmd *SummarizeCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("havoc-summarize", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose")
	arch := fs.String("arch", "amd64", "target architecture")
	parallelism := fs.Int("j", runtime.GOMAXPROCS(0), "functions summarized in parallel")
	pattern := fs.String("run", "", "function name pattern")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("package required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many packages specified")
	} else if *parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1")
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}

	re, err := regexp.Compile(*pattern)
	if err != nil {
		return err
	}

	sizes := types.SizesFor("gc", *arch)
	if sizes == nil {
		return fmt.Errorf("unsupported architecture: %s", *arch)
	}

	_, pkgs, err := loadProgram(fs.Arg(0), *arch, false)
	if err != nil {
		return err
	}

	var fns []*ssa.Function
	for _, fn := range packageFunctions(pkgs) {
		if re.MatchString(fn.Name()) {
			fns = append(fns, fn)
		}
	}

	// Summarize concurrently but print in function order.
	results := make([]string, len(fns))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallelism)
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s := summary.New(sizes)
			s.Update(fn)
			results[i] = s.String()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, result := range results {
		fmt.Fprintln(cmd.Stdout, result)
	}
	return nil
}

func (cmd *SummarizeCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: havoc summarize [arguments] [package]

Prints the summary of every function declared in the package.

Arguments:

	-arch ARCH
	    Target architecture used for type sizes. Defaults to amd64.

	-j N
	    Number of functions summarized in parallel.

	-run REGEXP
	    Only summarize functions matching REGEXP.

	-v
	    Enable verbose logging.
`[1:])
}
