package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/canonical/ember/ember"
)

// compileCmd represents the compile command
func (a *app) compileCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compile -o OUTPUT FILE",
		Short: "Compile an Ember program",
		Long: `Compile the expression in FILE and write the compiled program to
OUTPUT, from which 'ember run' can load it without parsing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := ember.ExprProgram(args[0], nil, nil)
			if err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := prog.Write(f); err != nil {
				f.Close()
				return fmt.Errorf("cannot write %s: %w", output, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{
				"source":  args[0],
				"output":  output,
				"version": ember.CompilerVersion,
			}).Debug("compiled")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write the compiled program to")
	cmd.MarkFlagRequired("output")
	return cmd
}
