package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/portfolio-valuator/internal/app"
)

// snapshotCmd holds the flags for the 'snapshot' subcommand.
type snapshotCmd struct {
	asOf    string
	asJSON  bool
	noCache bool
}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "value a wallet's holdings and positions" }
func (*snapshotCmd) Usage() string {
	return `valuator snapshot [-asof <date>] [-json] [-nocache] <address>

  Builds a priced portfolio snapshot for the wallet, now or at the end of
  a past day.
`
}

func (c *snapshotCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asOf, "asof", "", "value the wallet as of this date (YYYY-MM-DD or RFC3339)")
	f.BoolVar(&c.asJSON, "json", false, "print the snapshot as JSON")
	f.BoolVar(&c.noCache, "nocache", false, "skip the Redis snapshot cache")
}

func (c *snapshotCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "snapshot requires exactly one wallet address")
		return subcommands.ExitUsageError
	}
	asOf, err := parseAsOf(c.asOf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -asof: %v\n", err)
		return subcommands.ExitUsageError
	}

	a, err := setup(ctx, app.Options{Cache: !c.noCache})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	snap, err := a.Engine.BuildSnapshot(ctx, f.Arg(0), asOf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building snapshot: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.asJSON {
		err = printJSON(snap)
	} else {
		err = writeSnapshot(os.Stdout, snap)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing snapshot: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
