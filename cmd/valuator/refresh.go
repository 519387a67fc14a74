package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/subcommands"

	"github.com/portfolio-valuator/internal/app"
	"github.com/portfolio-valuator/internal/worker"
)

// refreshCmd holds the flags for the 'refresh' subcommand.
type refreshCmd struct {
	days        int
	concurrency int
}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "rebuild and store history for tracked wallets" }
func (*refreshCmd) Usage() string {
	return `valuator refresh [-days <n>] [-concurrency <n>] [<address>...]

  Rebuilds the balance history of every listed wallet, or of
  ENGINE_REFRESH_WALLETS when none are given, and stores it in ClickHouse.
  This is the pass the API server runs daily at 00:00 UTC.
`
}

func (c *refreshCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.days, "days", 0, "number of days to rebuild (default from ENGINE_HISTORY_DAYS)")
	f.IntVar(&c.concurrency, "concurrency", 0, "wallets rebuilt in parallel (default from ENGINE_REFRESH_CONCURRENCY)")
}

func (c *refreshCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := setup(ctx, app.Options{History: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if a.History == nil {
		fmt.Fprintln(os.Stderr, "ClickHouse is unavailable; nothing would be stored")
		return subcommands.ExitFailure
	}

	wallets := f.Args()
	if len(wallets) == 0 {
		wallets = a.Config.Engine.RefreshWallets
	}
	days := c.days
	if days == 0 {
		days = a.Config.Engine.HistoryDays
	}
	concurrency := c.concurrency
	if concurrency == 0 {
		concurrency = a.Config.Engine.RefreshConcurrency
	}

	w, err := worker.NewHistoryWorker(&worker.HistoryWorkerConfig{
		Engine:      a.Engine,
		Wallets:     wallets,
		Days:        days,
		Concurrency: concurrency,
		Logger:      a.Logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	res := w.RunOnce(ctx)
	fmt.Printf("refreshed %d, degraded %d, failed %d in %s\n",
		res.Refreshed, res.Degraded, len(res.Failed), res.Duration.Round(time.Millisecond))

	failed := make([]string, 0, len(res.Failed))
	for wallet := range res.Failed {
		failed = append(failed, wallet)
	}
	sort.Strings(failed)
	for _, wallet := range failed {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", wallet, res.Failed[wallet])
	}
	if len(failed) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
