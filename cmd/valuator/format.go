package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/portfolio-valuator/internal/types"
)

// usd renders a dollar amount rounded to the cent, e.g. "$1,234.56"
func usd(d decimal.Decimal) string {
	return money.New(d.Shift(2).Round(0).IntPart(), money.USD).Display()
}

func writeSnapshot(w io.Writer, snap *types.PortfolioSnapshot) error {
	fmt.Fprintf(w, "Wallet:  %s\n", snap.Wallet)
	fmt.Fprintf(w, "As of:   %s\n", snap.AsOf.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Total:   %s\n", usd(snap.TotalValueUSD))
	if len(snap.Degraded) > 0 {
		fmt.Fprintf(w, "Partial: %v unavailable\n", snap.Degraded)
	}

	assets := append([]types.PricedAsset(nil), snap.Assets...)
	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].USDValue().GreaterThan(assets[j].USDValue())
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "\nAssets")
	fmt.Fprintln(tw, "Symbol\tBalance\tPrice\tValue\tSource\t")
	for _, a := range assets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
			a.Metadata.Symbol,
			a.NormalizedBalance().StringFixed(4),
			a.Price.String(),
			usd(a.USDValue()),
			a.PriceSource,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(snap.Positions) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nPositions")
	fmt.Fprintln(tw, "Protocol\tType\tAddress\tValue\t")
	for _, p := range snap.Positions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", p.Protocol, p.PositionType, shortAddress(p.Address), usd(p.TotalValueUSD()))
	}
	return tw.Flush()
}

func writeHistory(w io.Writer, hist *types.BalanceHistory) error {
	fmt.Fprintf(w, "Wallet: %s\n", hist.Wallet)
	if len(hist.Degraded) > 0 {
		fmt.Fprintf(w, "Partial: %v unavailable\n", hist.Degraded)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Date\tAssets\tValue\t")
	for _, s := range hist.Snapshots {
		fmt.Fprintf(tw, "%s\t%d\t%s\t\n", s.Date.Format("2006-01-02"), len(s.PerAsset), usd(s.TotalUSDValue))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	sum := hist.Summary
	fmt.Fprintf(w, "\nmin %s  max %s  mean %s  stddev %s  change %.2f%%\n",
		usd(decimal.NewFromFloat(sum.Min)),
		usd(decimal.NewFromFloat(sum.Max)),
		usd(decimal.NewFromFloat(sum.Mean)),
		usd(decimal.NewFromFloat(sum.StdDev)),
		sum.ChangePct,
	)
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:8] + "…" + addr[len(addr)-4:]
}
