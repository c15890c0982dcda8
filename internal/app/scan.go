package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/karb/internal/config"
	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/spread"
)

// ScanMode fetches the current books for every tradable market once,
// evaluates each for a locked-in spread, and prints the result. No orders,
// no persistence.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan")

	eval := spread.NewEvaluator(spread.Config{
		MinProfitTicks: ticksFromDollars(a.cfg.Trading.MinProfit),
		// Books are fetched inline, so age never disqualifies them.
	})

	markets, err := deps.Gateway.ListActiveMarkets(ctx)
	if err != nil {
		return fmt.Errorf("app: scan: list markets: %w", err)
	}

	var opps []domain.Opportunity
	oppMarkets := make(map[string]domain.Market)
	skips := make(map[string]int)
	now := time.Now()

	for _, m := range markets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		yes, err := deps.Gateway.FetchBook(ctx, m.YesTokenID)
		if err != nil {
			a.logger.Warn("fetch book failed", slog.String("market", m.ID), slog.Any("error", err))
			skips["fetch_failed"]++
			continue
		}
		no, err := deps.Gateway.FetchBook(ctx, m.NoTokenID)
		if err != nil {
			a.logger.Warn("fetch book failed", slog.String("market", m.ID), slog.Any("error", err))
			skips["fetch_failed"]++
			continue
		}

		opp, skip := eval.Evaluate(m, yes, no, now)
		if skip != "" {
			skips[skip]++
			continue
		}
		opps = append(opps, opp)
		oppMarkets[opp.MarketID] = m
	}

	sort.Slice(opps, func(i, j int) bool {
		return opps[i].NetProfitTicks() > opps[j].NetProfitTicks()
	})

	fmt.Printf("scanned %d markets, %d viable spreads\n\n", len(markets), len(opps))

	if len(opps) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("#", "Market", "YES ask", "NO ask", "Combined", "Size", "Net/unit", "Net profit")
		for i, opp := range opps {
			table.Append(
				fmt.Sprintf("%d", i+1),
				truncate(oppMarkets[opp.MarketID].Question, 40),
				domain.Dollars(opp.YesAskTicks),
				domain.Dollars(opp.NoAskTicks),
				domain.Dollars(opp.CombinedTicks),
				domain.DecimalFromTicks(opp.SizeUnits).String(),
				domain.Dollars(opp.NetPerUnitTicks),
				domain.Dollars(opp.NetProfitTicks()),
			)
		}
		table.Render()
		fmt.Println()
	}

	if len(skips) > 0 {
		reasons := make([]string, 0, len(skips))
		for r := range skips {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		fmt.Println("skipped:")
		for _, r := range reasons {
			fmt.Printf("  %-20s %d\n", r, skips[r])
		}
	}

	return nil
}

// MarketsMode lists the currently tradable markets and exits.
func (a *App) MarketsMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "listing markets")

	markets, err := deps.Gateway.ListActiveMarkets(ctx)
	if err != nil {
		return fmt.Errorf("app: list markets: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Market", "Question", "Tick", "Fee bps", "Neg risk")
	for _, m := range markets {
		negRisk := ""
		if m.NegRisk {
			negRisk = "yes"
		}
		table.Append(
			truncate(m.ID, 14),
			truncate(m.Question, 48),
			domain.Dollars(m.TickSize),
			fmt.Sprintf("%d", m.FeeBps),
			negRisk,
		)
	}
	table.Render()
	fmt.Printf("\n%d active markets\n", len(markets))

	return nil
}

// OrderbookMode fetches the current book for one token and prints its
// levels, asks above bids.
func (a *App) OrderbookMode(ctx context.Context, deps *Dependencies, args []string) error {
	if len(args) != 1 {
		return errors.New("app: orderbook mode takes exactly one token id argument")
	}
	tokenID := args[0]

	snap, err := deps.Gateway.FetchBook(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("app: fetch book %s: %w", tokenID, err)
	}

	fmt.Printf("book for %s (seq %d)\n\n", tokenID, snap.Seq)

	asks := snap.Asks
	if len(asks) == 0 && snap.AskTicks > 0 {
		asks = []domain.BookLevel{{PriceTicks: snap.AskTicks, SizeUnits: snap.AskSizeUnits}}
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Side", "Price", "Size")
	// Worst ask first so the touch sits in the middle of the table.
	for i := len(asks) - 1; i >= 0; i-- {
		table.Append("ask", domain.Dollars(asks[i].PriceTicks), domain.DecimalFromTicks(asks[i].SizeUnits).String())
	}
	if snap.BidTicks > 0 {
		table.Append("bid", domain.Dollars(snap.BidTicks), domain.DecimalFromTicks(snap.BidSizeUnits).String())
	}
	table.Render()

	return nil
}

// ConfigMode prints the active configuration, secrets masked, in the same
// TOML shape the config file uses.
func (a *App) ConfigMode() error {
	redacted := config.RedactedConfig(a.cfg)
	if err := toml.NewEncoder(os.Stdout).Encode(redacted); err != nil {
		return fmt.Errorf("app: encode config: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
