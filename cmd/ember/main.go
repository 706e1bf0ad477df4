// The ember command evaluates Ember expressions under memory,
// stack-depth and step limits.
//
// Limits are taken from flags, EMBER_* environment variables and the
// config file ($HOME/.ember.yaml), in that order of precedence. The exit
// status is 2 if an evaluation exceeded a limit and 1 if it failed for
// any other reason.
package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := Main(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
