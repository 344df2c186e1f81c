// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command ct-cppdeps prints, for each given C/C++ source file, its
// transitive header-dependency closure and the compiler/linker flags its
// own //#KEY=value annotations (and any --variant profile) select
// (spec.md §6).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/compiletools/ctdeps/diag"
	"github.com/compiletools/ctdeps/engine"
	"github.com/compiletools/ctdeps/hunter"
	"github.com/compiletools/ctdeps/internal/cli"
	"github.com/compiletools/ctdeps/macro"
	"github.com/compiletools/ctdeps/magicflags"
	"github.com/compiletools/ctdeps/o11y/clog"
	"github.com/compiletools/ctdeps/sync/semaphore"
	"github.com/compiletools/ctdeps/variant"
)

type options struct {
	headerDeps   string
	variantName  string
	variantConf  string
	objDir       string
	root         string
	includeDirs  []string
	isystemDirs  []string
	cpp, cc, cxx string
	cppflags     []string
	cxxflags     []string
	cflags       []string
	pkgConfig    []string
	listVariants bool
	verbose      bool
	quiet        bool
}

func main() {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ct-cppdeps [flags] file...",
		Short:         "Report the header closure and magic compiler flags of C/C++ source files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.headerDeps, "headerdeps", "cpp", `dependency strategy: "direct" (textual scan only) or "cpp" (full conditional evaluation)`)
	flags.StringVar(&opts.variantName, "variant", "", "named compiler/flag profile to use (see --list-variants)")
	flags.StringVar(&opts.variantConf, "variant-config", "", "path to the YAML file declaring --variant profiles (default: searches ./ct.conf.d then $CT_CONF_DIR)")
	flags.StringVar(&opts.objDir, "objdir", "", "directory for the persisted variant-cache entries; empty disables on-disk persistence")
	flags.StringVar(&opts.root, "root", "", "project-root boundary: includes resolving outside it are rejected")
	flags.StringArrayVar(&opts.includeDirs, "include", nil, "add dir to the quoted/angled include search path (-I); repeatable")
	flags.StringArrayVar(&opts.isystemDirs, "isystem", nil, "add dir to the system include search path (-isystem); repeatable")
	flags.StringVar(&opts.cpp, "CPP", "", "preprocessor binary override")
	flags.StringVar(&opts.cc, "CC", "", "C compiler binary override")
	flags.StringVar(&opts.cxx, "CXX", "", "C++ compiler binary override")
	flags.StringArrayVar(&opts.cppflags, "CPPFLAGS", nil, "extra preprocessor flags; repeatable")
	flags.StringArrayVar(&opts.cxxflags, "CXXFLAGS", nil, "extra C++ compiler flags; repeatable")
	flags.StringArrayVar(&opts.cflags, "CFLAGS", nil, "extra C compiler flags; repeatable")
	flags.StringArrayVar(&opts.pkgConfig, "pkg-config", nil, "resolve an extra pkg-config package as if //#PKG-CONFIG=name appeared; repeatable")
	flags.BoolVar(&opts.listVariants, "list-variants", false, "print the profile names declared by --variant-config and exit")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug-level progress logging")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all but error diagnostics")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, files []string) error {
	if opts.listVariants {
		return listVariants(opts)
	}
	if len(files) == 0 {
		return fmt.Errorf("ct-cppdeps: no source files given")
	}

	level := "warn"
	switch {
	case opts.verbose:
		level = "debug"
	case opts.quiet:
		level = "error"
	}
	logger := cli.New(level)

	profile, err := resolveProfile(opts)
	if err != nil {
		return err
	}

	cfg := engine.Config{
		Profile: profile,
		Search: hunter.SearchPath{
			Include: append(append([]string{}, profile.Include...), opts.includeDirs...),
			ISystem: append(append([]string{}, profile.ISystem...), opts.isystemDirs...),
		},
		Core:           defaultCoreMacros(),
		PkgConfig:      magicflags.ExecPkgConfig,
		HeaderDeps:     opts.headerDeps,
		ObjDir:         opts.objDir,
		Root:           opts.root,
		ExtraPkgConfig: opts.pkgConfig,
	}
	e := engine.New(cfg)
	logger.Debug("starting analysis", "files", len(files), "headerdeps", opts.headerDeps)

	// Engine shares one content.Registry and ppcache.Cache across every
	// file, so independent seeds (and shared headers between them) are
	// safe to process concurrently; a semaphore bounds how many seeds
	// are in flight at once (spec.md §5's worker-pool concern).
	sem := semaphore.New("ct-cppdeps.files", runtime.NumCPU())
	type outcome struct {
		res *engine.Result
		err error
	}
	outcomes := make([]outcome, len(files))
	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		go func(i int, file string) {
			defer wg.Done()
			sem.Do(ctx, func(ctx context.Context) error {
				res, err := e.Process(ctx, file)
				outcomes[i] = outcome{res: res, err: err}
				return nil
			})
		}(i, file)
	}
	wg.Wait()

	exitCode := 0
	for _, o := range outcomes {
		if o.err != nil {
			logger.Error("processing failed", "error", o.err)
			exitCode = 1
			continue
		}
		printResult(ctx, logger, opts, o.res)
		if o.res.Diagnostics.HasErrors() {
			exitCode = 1
		}
	}
	logger.Debug("analysis complete", "files", len(files), "exitCode", exitCode)
	if exitCode != 0 {
		return fmt.Errorf("ct-cppdeps: completed with errors")
	}
	return nil
}

// findVariantConf resolves --variant-config's default search path when the
// flag itself is empty: ./ct.conf.d/ct.conf, then $CT_CONF_DIR/ct.conf,
// mirroring the original's XDG-flavored ct/dirnamer.py search (spec.md
// §6). Returns "" if neither exists, which is not itself an error: a run
// with no variant config just uses CLI-supplied CPP/CC/CXX/flags as-is.
func findVariantConf() string {
	if p := filepath.Join("ct.conf.d", "ct.conf"); fileExists(p) {
		return p
	}
	if dir := os.Getenv("CT_CONF_DIR"); dir != "" {
		if p := filepath.Join(dir, "ct.conf"); fileExists(p) {
			return p
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func resolveProfile(opts *options) (variant.Profile, error) {
	p := variant.Profile{CPP: opts.cpp, CC: opts.cc, CXX: opts.cxx}
	conf := opts.variantConf
	if conf == "" {
		conf = findVariantConf()
	}
	if conf != "" {
		set, err := variant.Load(conf)
		if err != nil {
			return variant.Profile{}, err
		}
		base, err := set.Get(opts.variantName)
		if err != nil {
			return variant.Profile{}, err
		}
		p = base
		if opts.cpp != "" {
			p.CPP = opts.cpp
		}
		if opts.cc != "" {
			p.CC = opts.cc
		}
		if opts.cxx != "" {
			p.CXX = opts.cxx
		}
	}
	p.CPPFLAGS = append(p.CPPFLAGS, opts.cppflags...)
	p.CXXFLAGS = append(p.CXXFLAGS, opts.cxxflags...)
	p.CFLAGS = append(p.CFLAGS, opts.cflags...)
	return p, nil
}

func listVariants(opts *options) error {
	conf := opts.variantConf
	if conf == "" {
		conf = findVariantConf()
	}
	if conf == "" {
		return fmt.Errorf("ct-cppdeps: --list-variants found no variant config (pass --variant-config or set CT_CONF_DIR)")
	}
	set, err := variant.Load(conf)
	if err != nil {
		return err
	}
	for _, name := range set.Names() {
		fmt.Println(name)
	}
	return nil
}

func printResult(ctx context.Context, logger *log.Logger, opts *options, res *engine.Result) {
	fmt.Printf("%s:\n", res.Seed)
	for _, f := range res.Files {
		fmt.Printf("  %s\n", f)
	}
	printFlagLine("CPPFLAGS", res.Flags.CPPFLAGS)
	printFlagLine("CXXFLAGS", res.Flags.CXXFLAGS)
	printFlagLine("CFLAGS", res.Flags.CFLAGS)
	printFlagLine("LINKFLAGS", res.Flags.LINKFLAGS)
	printFlagLine("LDFLAGS", res.Flags.LDFLAGS)
	printFlagLine("SOURCE", res.Flags.Sources)
	for _, op := range res.Flags.Opaque {
		fmt.Printf("  %s: %s\n", op.Key, op.Value)
	}

	for _, d := range res.Diagnostics.Items() {
		if opts.quiet && d.Severity != diag.SeverityError {
			continue
		}
		clog.Infof(ctx, "%s", d.String())
		if d.Severity == diag.SeverityError {
			logger.Error(d.String())
		} else {
			logger.Warn(d.String())
		}
	}
}

func printFlagLine(label string, vals []string) {
	if len(vals) == 0 {
		return
	}
	fmt.Printf("  %s: %s\n", label, strings.Join(vals, " "))
}

// defaultCoreMacros seeds the compiler-builtin partition every run starts
// from; a real deployment would instead probe the configured compiler
// (e.g. `$CXX -dM -E -x c++ /dev/null`), which is left as a variant-
// profile-driven enhancement (see DESIGN.md).
func defaultCoreMacros() map[string]macro.Macro {
	return map[string]macro.Macro{
		"__cplusplus": {Name: "__cplusplus", Body: []string{"201703L"}, IsBuiltin: true},
		"__GNUC__":    {Name: "__GNUC__", Body: []string{"4"}, IsBuiltin: true},
		"__linux__":   {Name: "__linux__", Body: []string{"1"}, IsBuiltin: true},
	}
}
