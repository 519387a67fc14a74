package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/portfolio-valuator/internal/app"
)

// historyCmd holds the flags for the 'history' subcommand.
type historyCmd struct {
	days    int
	asJSON  bool
	persist bool
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "reconstruct a wallet's daily balance history" }
func (*historyCmd) Usage() string {
	return `valuator history [-days <n>] [-json] [-persist] <address>

  Replays the wallet's activities into one balance per day, valued at
  today's prices.
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.days, "days", 0, "number of days to reconstruct (default from ENGINE_HISTORY_DAYS)")
	f.BoolVar(&c.asJSON, "json", false, "print the history as JSON")
	f.BoolVar(&c.persist, "persist", false, "store the series in ClickHouse")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "history requires exactly one wallet address")
		return subcommands.ExitUsageError
	}
	if c.days < 0 {
		fmt.Fprintln(os.Stderr, "-days must be positive")
		return subcommands.ExitUsageError
	}

	a, err := setup(ctx, app.Options{History: c.persist})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	hist, err := a.Engine.History(ctx, f.Arg(0), c.days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building history: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.asJSON {
		err = printJSON(hist)
	} else {
		err = writeHistory(os.Stdout, hist)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing history: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
