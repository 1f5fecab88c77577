package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
)

// SSACommand represents a command for printing the SSA form of functions.
type SSACommand struct {
	Stdout io.Writer
}

// NewSSACommand returns a new instance of SSACommand.
func NewSSACommand() *SSACommand {
	return &SSACommand{Stdout: os.Stdout}
}

// Run executes the "ssa" subcommand.
func (cmd *SSACommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("havoc-ssa", flag.ContinueOnError)
	arch := fs.String("arch", "amd64", "target architecture")
	pattern := fs.String("run", "", "function name pattern")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("package required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many packages specified")
	}

	re, err := regexp.Compile(*pattern)
	if err != nil {
		return err
	}

	_, pkgs, err := loadProgram(fs.Arg(0), *arch, false)
	if err != nil {
		return err
	}

	for _, fn := range packageFunctions(pkgs) {
		if !re.MatchString(fn.Name()) {
			continue
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := fn.WriteTo(cmd.Stdout); err != nil {
			return err
		}
		fmt.Fprintln(cmd.Stdout, "")
	}
	return nil
}

func (cmd *SSACommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: havoc ssa [arguments] [package]

Prints the SSA form of every function declared in the package.

Arguments:

	-arch ARCH
	    Target architecture. Defaults to amd64.

	-run REGEXP
	    Only print functions matching REGEXP.
`[1:])
}
