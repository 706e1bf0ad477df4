package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/canonical/ember/ember"
)

const prompt = "ember> "

// replCmd represents the repl command
func (a *app) replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive Ember REPL",
		Long: `Start a read-eval-print loop. Each line is evaluated as an
expression on the same thread, under the configured limits, which
apply to each line on its own. An evaluation which exceeds a limit is
reported and the loop continues.
Use Ctrl-D to exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			thread := a.newThread(cmd.Context(), "repl")
			if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				return a.interactive(cmd.Context(), thread)
			}
			return a.batch(thread)
		},
	}
}

// interactive reads lines from the terminal with line editing.
func (a *app) interactive(ctx context.Context, thread *ember.Thread) error {
	rl, err := readline.New(prompt)
	if err != nil {
		return err
	}
	defer rl.Close()

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(a.stdout)
			return nil
		}
		if err != nil {
			return err
		}
		a.evalLine(thread, line)
	}
	return nil
}

// batch evaluates the lines of a non-interactive input.
func (a *app) batch(thread *ember.Thread) error {
	scanner := bufio.NewScanner(a.stdin)
	for scanner.Scan() {
		a.evalLine(thread, scanner.Text())
	}
	return scanner.Err()
}

// evalLine evaluates one line and prints its value or error. The
// thread's heap is collected afterwards, so values do not outlive their
// line.
func (a *app) evalLine(thread *ember.Thread, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	result, err := ember.Eval(thread, "<stdin>", line, nil)
	a.logOutcome(thread, err)
	if err != nil {
		var evalErr *ember.EvalError
		if errors.As(err, &evalErr) {
			fmt.Fprintln(a.stderr, evalErr.Backtrace())
		} else {
			fmt.Fprintln(a.stderr, err)
		}
	} else {
		fmt.Fprintln(a.stdout, result)
	}
	if _, err := thread.Collect(); err != nil {
		a.log.WithError(err).Warn("cannot collect")
	}
}
