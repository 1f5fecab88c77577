package main

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// loadProgram builds the SSA program for the package matching pattern,
// targeting linux on arch.
func loadProgram(pattern, arch string, tests bool) (*ssa.Program, []*ssa.Package, error) {
	initial, err := packages.Load(&packages.Config{
		Mode:  packages.LoadAllSyntax,
		Tests: tests,
		Env:   append(os.Environ(), "GOOS=linux", "GOARCH="+arch),
	}, pattern)
	if err != nil {
		return nil, nil, err
	} else if packages.PrintErrors(initial) > 0 {
		return nil, nil, fmt.Errorf("packages contain errors")
	}

	// Build program in SSA form.
	prog, pkgs := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	for i, pkg := range pkgs {
		if pkg == nil {
			return nil, nil, fmt.Errorf("cannot build SSA for package %s", initial[i])
		}
		pkg.SetDebugMode(true)
	}
	prog.Build()

	// Ensure program depends on runtime package.
	if prog.ImportedPackage("runtime") == nil {
		return nil, nil, fmt.Errorf("program does not depend on runtime")
	}
	return prog, pkgs, nil
}

// packageFunctions returns the functions with bodies declared at the top
// level of pkgs, sorted by name. Packages loaded twice for tests are
// deduplicated by function name.
func packageFunctions(pkgs []*ssa.Package) []*ssa.Function {
	m := make(map[string]*ssa.Function)
	for _, pkg := range pkgs {
		for _, member := range pkg.Members {
			if fn, ok := member.(*ssa.Function); ok && len(fn.Blocks) > 0 && fn.Name() != "init" {
				m[fn.String()] = fn
			}
		}
	}

	fns := make([]*ssa.Function, 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })
	return fns
}
