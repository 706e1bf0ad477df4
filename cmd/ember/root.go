package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/canonical/ember/ember"
)

// Exit statuses.
const (
	exitOK        = 0
	exitFailure   = 1
	exitViolation = 2
)

// Configuration keys, which double as flag names. The environment
// variable for a key is EMBER_ followed by the key in upper case with
// dashes replaced by underscores.
const (
	keyMaxAllocs     = "max-allocs"
	keyMaxStackDepth = "max-stack-depth"
	keyMaxSteps      = "max-steps"
	keyVerbose       = "verbose"
)

// app holds the state of one invocation of the command.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	cfgFile string
	config  *viper.Viper
	log     *logrus.Logger
}

// Main runs the command with the given arguments and returns its exit
// status.
func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := newApp(stdin, stdout, stderr)
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var evalErr *ember.EvalError
	if errors.As(err, &evalErr) {
		fmt.Fprintln(stderr, evalErr.Backtrace())
	} else {
		fmt.Fprintln(stderr, err)
	}
	code := exitCode(err)
	a.log.WithField("status", code).Debug("exiting")
	return code
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(logrus.WarnLevel)
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		config: viper.New(),
		log:    log,
	}
}

// exitCode maps the outcome of a command to an exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if _, ok := ember.ViolationOf(err); ok {
		return exitViolation
	}
	return exitFailure
}

// rootCmd returns the base command, which has the subcommands.
func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ember",
		Short: "Ember, an expression language with bounded resources",
		Long: `Ember evaluates expressions under limits on the memory they
allocate, the depth of their call stack and the number of steps they
take. An evaluation which exceeds a limit is aborted with an error
naming the limit.

Getting started:
  ember run -e '[1, 2, 3, 4]'                  Evaluate an expression
  ember run --max-allocs 1024 prog.ember      Run a file under a memory limit
  ember compile -o prog.embc prog.ember       Compile a file
  ember repl                                  Start an interactive REPL`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.ember.yaml)")
	flags.BoolP(keyVerbose, "v", false, "log debugging information")
	flags.Uint64(keyMaxAllocs, 0, "maximum bytes an evaluation may allocate (default unbounded)")
	flags.Uint64(keyMaxStackDepth, 0, "maximum call depth of an evaluation (default unbounded)")
	flags.Uint64(keyMaxSteps, 0, "maximum steps an evaluation may take (default unbounded)")

	root.AddCommand(a.runCmd(), a.compileCmd(), a.replCmd())
	return root
}

// initConfig reads in the config file and environment variables.
func (a *app) initConfig(cmd *cobra.Command) error {
	v := a.config
	for _, key := range []string{keyMaxAllocs, keyMaxStackDepth, keyMaxSteps, keyVerbose} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return err
		}
	}
	v.SetEnvPrefix("ember")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		v.AddConfigPath(home)
		v.SetConfigName(".ember")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("cannot read config: %w", err)
		}
	}

	if v.GetBool(keyVerbose) {
		a.log.SetLevel(logrus.DebugLevel)
	}
	if used := v.ConfigFileUsed(); used != "" && a.cfgFile == "" {
		a.log.WithField("file", used).Debug("using config file")
	}
	return nil
}

// limits returns the limits configured for evaluations. A limit which
// is not configured is unbounded.
func (a *app) limits() ember.Limits {
	limit := func(key string) ember.Limit {
		if !a.config.IsSet(key) {
			return ember.Unbounded
		}
		return ember.LimitOf(a.config.GetUint64(key))
	}
	return ember.Limits{
		Memory: limit(keyMaxAllocs),
		Stack:  limit(keyMaxStackDepth),
		Steps:  limit(keyMaxSteps),
	}
}

// newThread returns a thread with the configured limits, cancelled
// when ctx is.
func (a *app) newThread(ctx context.Context, name string) *ember.Thread {
	thread := &ember.Thread{Name: name}
	limits := a.limits()
	thread.SetLimits(limits)
	if ctx != nil {
		thread.SetParentContext(ctx)
	}
	a.log.WithFields(logrus.Fields{
		"thread": name,
		"memory": limits.Memory,
		"stack":  limits.Stack,
		"steps":  limits.Steps,
	}).Debug("new thread")
	return thread
}

// logOutcome logs how an evaluation ended.
func (a *app) logOutcome(thread *ember.Thread, err error) {
	allocs, _ := thread.Allocs()
	steps, _ := thread.Steps()
	entry := a.log.WithFields(logrus.Fields{
		"thread": thread.Name,
		"allocs": allocs,
		"peak":   thread.PeakAllocs(),
		"steps":  steps,
	})
	if v, ok := ember.ViolationOf(err); ok {
		entry.WithFields(logrus.Fields{
			"violation": v.Kind,
			"limit":     v.Limit,
		}).Info("evaluation aborted")
		return
	}
	if err != nil {
		entry.WithError(err).Debug("evaluation failed")
		return
	}
	entry.Debug("evaluation done")
}
