// Command valuator builds portfolio snapshots and balance history from the
// command line and administers the stores behind the API server.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&snapshotCmd{}, "valuation")
	commander.Register(&historyCmd{}, "valuation")
	commander.Register(&refreshCmd{}, "valuation")

	commander.Register(&migrateCmd{}, "admin")
	commander.Register(&registryCmd{}, "admin")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
