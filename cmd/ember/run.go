package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/canonical/ember/ember"
	"github.com/canonical/ember/internal/compile"
)

// runCmd represents the run command
func (a *app) runCmd() *cobra.Command {
	var expression, stats bool
	cmd := &cobra.Command{
		Use:   "run [flags] FILE|EXPR",
		Short: "Evaluate an Ember program",
		Long: `Evaluate the expression in FILE, or with -e the expression EXPR, and
print its value. FILE may hold source or a program compiled by
'ember compile'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := a.load(args[0], expression)
			if err != nil {
				return err
			}

			thread := a.newThread(cmd.Context(), "run")
			start := time.Now()
			result, err := prog.Run(thread, nil)
			elapsed := time.Since(start)
			a.logOutcome(thread, err)
			if stats {
				a.printStats(thread, elapsed)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, result)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&expression, "expression", "e", false, "interpret the argument as an expression")
	cmd.Flags().BoolVar(&stats, "stats", false, "print resource usage to stderr")
	return cmd
}

// load returns the program named by arg.
func (a *app) load(arg string, expression bool) (*ember.Program, error) {
	if expression {
		return ember.ExprProgram("<expr>", arg, nil)
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, err
	}
	if compile.IsEncoded(data) {
		a.log.WithField("file", arg).Debug("loading compiled program")
		prog, err := ember.CompiledProgram(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		return prog, nil
	}
	return ember.ExprProgram(arg, data, nil)
}

// printStats prints the resources thread has used.
func (a *app) printStats(thread *ember.Thread, elapsed time.Duration) {
	steps, _ := thread.Steps()
	allocs, _ := thread.Allocs()
	fmt.Fprintf(a.stderr, "steps:  %d\n", steps)
	fmt.Fprintf(a.stderr, "allocs: %s (peak %s)\n", humanize.IBytes(uint64(allocs)), humanize.IBytes(uint64(thread.PeakAllocs())))
	fmt.Fprintf(a.stderr, "time:   %s\n", elapsed)
	if rss, ok := maxRSS(); ok {
		fmt.Fprintf(a.stderr, "maxrss: %s\n", humanize.IBytes(rss))
	}
}
