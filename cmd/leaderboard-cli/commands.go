package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"emojiboard/gateway/middleware"
	board "emojiboard/native/leaderboard"
	sdk "emojiboard/sdk/leaderboard"
)

func (c *cli) runStatus(ctx context.Context, args []string) int {
	fs := newFlagSet("status", c.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	gate, err := client.Gate(ctx)
	if err != nil {
		return c.fail("fetching gate", err)
	}
	if c.jsonOutput() {
		return c.printJSON(gate)
	}
	printGate(c, gate)
	return 0
}

func printGate(c *cli, gate *sdk.GateStatus) {
	fmt.Fprintf(c.stdout, "Can update:        %t\n", gate.CanUpdate)
	fmt.Fprintf(c.stdout, "Current day:       %d\n", gate.CurrentDay)
	fmt.Fprintf(c.stdout, "Last update day:   %d\n", gate.LastUpdateDay)
	if gate.LastUpdateTime != "" {
		fmt.Fprintf(c.stdout, "Last update time:  %s\n", gate.LastUpdateTime)
	}
	fmt.Fprintf(c.stdout, "Update in progress: %t\n", gate.UpdateInProgress)
	fmt.Fprintf(c.stdout, "Forced:            %t\n", gate.Forced)
	fmt.Fprintf(c.stdout, "Next period start: %s\n", gate.NextPeriodStart)
}

func (c *cli) runCanUpdate(ctx context.Context, args []string) int {
	fs := newFlagSet("can-update", c.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	ok, err := client.CanUpdate(ctx)
	if err != nil {
		return c.fail("fetching gate", err)
	}
	if c.jsonOutput() {
		return c.printJSON(map[string]bool{"canUpdate": ok})
	}
	fmt.Fprintln(c.stdout, ok)
	return 0
}

func (c *cli) runCurrentDay(ctx context.Context, args []string) int {
	fs := newFlagSet("current-day", c.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	day, err := client.CurrentDay(ctx)
	if err != nil {
		return c.fail("fetching current day", err)
	}
	if c.jsonOutput() {
		return c.printJSON(map[string]int64{"currentDay": day})
	}
	fmt.Fprintln(c.stdout, day)
	return 0
}

func (c *cli) runLastUpdateDay(ctx context.Context, args []string) int {
	fs := newFlagSet("last-update-day", c.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	day, err := client.LastUpdateDay(ctx)
	if err != nil {
		return c.fail("fetching last update day", err)
	}
	if c.jsonOutput() {
		return c.printJSON(map[string]int64{"lastUpdateDay": day})
	}
	fmt.Fprintln(c.stdout, day)
	return 0
}

func (c *cli) runUpdate(ctx context.Context, args []string) int {
	fs := newFlagSet("update", c.stderr)
	var ceiling uint64
	fs.Uint64Var(&ceiling, "ceiling", 0, "resource ceiling for the aggregation (0 uses the server default)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(true)
	if err != nil {
		return c.fail("creating client", err)
	}
	result, err := client.UpdateLeaderboard(ctx, ceiling)
	if err != nil {
		switch {
		case errors.Is(err, board.ErrNotEligible):
			fmt.Fprintln(c.stderr, "Leaderboard already updated for this period.")
		case errors.Is(err, board.ErrResourceExceeded):
			fmt.Fprintln(c.stderr, "Resource ceiling exceeded; retry with a larger -ceiling.")
		}
		return c.fail("updating leaderboard", err)
	}
	if c.jsonOutput() {
		return c.printJSON(result)
	}
	fmt.Fprintf(c.stdout, "Updated period %d: %d entries, cost %d\n", result.Period, result.Entries, result.Cost)
	fmt.Fprintf(c.stdout, "Reward: %s base units (balance %s)\n", result.RewardAmount, result.Balance)
	fmt.Fprintf(c.stdout, "Event #%d digest %s\n", result.Event.Sequence, result.Event.Digest)
	return 0
}

func (c *cli) runForceUpdateDay(ctx context.Context, args []string) int {
	fs := newFlagSet("force-update-day", c.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(true)
	if err != nil {
		return c.fail("creating client", err)
	}
	gate, err := client.ForceUpdateDay(ctx)
	if err != nil {
		return c.fail("forcing update day", err)
	}
	if c.jsonOutput() {
		return c.printJSON(gate)
	}
	printGate(c, gate)
	return 0
}

func (c *cli) runForceReset(ctx context.Context, args []string) int {
	fs := newFlagSet("force-reset", c.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(true)
	if err != nil {
		return c.fail("creating client", err)
	}
	gate, err := client.ForceReset(ctx)
	if err != nil {
		return c.fail("resetting gate", err)
	}
	if c.jsonOutput() {
		return c.printJSON(gate)
	}
	printGate(c, gate)
	return 0
}

func (c *cli) runFund(ctx context.Context, args []string) int {
	fs := newFlagSet("fund", c.stderr)
	var amount string
	fs.StringVar(&amount, "amount", "", "amount to add in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(amount) == "" {
		fmt.Fprintln(c.stderr, "Error: -amount is required")
		return 1
	}
	client, err := c.client(true)
	if err != nil {
		return c.fail("creating client", err)
	}
	supply, err := client.Fund(ctx, amount)
	if err != nil {
		return c.fail("funding rewards", err)
	}
	if c.jsonOutput() {
		return c.printJSON(supply)
	}
	fmt.Fprintf(c.stdout, "Supply: %s base units (%s, %d decimals)\n", supply.Supply, supply.Symbol, supply.Decimals)
	return 0
}

func (c *cli) runSupply(ctx context.Context, args []string) int {
	fs := newFlagSet("supply", c.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	supply, err := client.Supply(ctx)
	if err != nil {
		return c.fail("fetching supply", err)
	}
	if c.jsonOutput() {
		return c.printJSON(supply)
	}
	fmt.Fprintf(c.stdout, "Supply: %s base units (%s, %d decimals)\n", supply.Supply, supply.Symbol, supply.Decimals)
	return 0
}

func (c *cli) runLeaderboard(ctx context.Context, args []string) int {
	fs := newFlagSet("leaderboard", c.stderr)
	var limit int
	fs.IntVar(&limit, "limit", 10, "number of entries to show (0 for all)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	ranked, err := client.Leaderboard(ctx, limit)
	if err != nil {
		return c.fail("fetching leaderboard", err)
	}
	if c.jsonOutput() {
		return c.printJSON(ranked)
	}
	fmt.Fprintf(c.stdout, "Leaderboard for period %d\n", ranked.Period)
	if len(ranked.Entries) == 0 {
		fmt.Fprintln(c.stdout, "  (empty)")
		return 0
	}
	for _, entry := range ranked.Entries {
		fmt.Fprintf(c.stdout, "%4d  %s  %d\n", entry.Rank, entry.Address, entry.Score)
	}
	return 0
}

func (c *cli) runBalance(ctx context.Context, args []string) int {
	fs := newFlagSet("balance", c.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(c.stderr, "Usage: leaderboard-cli balance <address>")
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	balance, err := client.Balance(ctx, fs.Arg(0))
	if err != nil {
		return c.fail("fetching balance", err)
	}
	if c.jsonOutput() {
		return c.printJSON(balance)
	}
	fmt.Fprintf(c.stdout, "%s: %s base units (%s)\n", balance.Address, balance.Balance, balance.Symbol)
	return 0
}

func (c *cli) runEvents(ctx context.Context, args []string) int {
	fs := newFlagSet("events", c.stderr)
	var (
		periods int64
		limit   int
	)
	fs.Int64Var(&periods, "periods", 7, "look back this many periods (0 for all retained)")
	fs.IntVar(&limit, "limit", 20, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	evts, err := client.Events(ctx, periods, limit)
	if err != nil {
		return c.fail("fetching events", err)
	}
	if c.jsonOutput() {
		return c.printJSON(evts)
	}
	if len(evts) == 0 {
		fmt.Fprintln(c.stdout, "No events.")
		return 0
	}
	for _, evt := range evts {
		printEvent(c, evt)
	}
	return 0
}

func printEvent(c *cli, evt sdk.Event) {
	ts := time.Unix(evt.Timestamp, 0).UTC().Format(time.RFC3339)
	fmt.Fprintf(c.stdout, "#%d period=%d at=%s updater=%s reward=%s entries=%d digest=%s\n",
		evt.Sequence, evt.Period, ts, evt.Updater, evt.RewardAmount, evt.Entries, evt.Digest)
}

func (c *cli) runWatch(ctx context.Context, args []string) int {
	fs := newFlagSet("watch", c.stderr)
	var (
		cursor string
		count  int
	)
	fs.StringVar(&cursor, "cursor", "", "replay events after this sequence number")
	fs.IntVar(&count, "count", 0, "stop after this many events (0 streams until interrupted)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	seen := 0
	err = client.Watch(watchCtx, cursor, func(evt sdk.Event) error {
		if c.jsonOutput() {
			if code := c.printJSON(evt); code != 0 {
				return errors.New("write output")
			}
		} else {
			printEvent(c, evt)
		}
		seen++
		if count > 0 && seen >= count {
			cancel()
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return c.fail("watching events", err)
	}
	return 0
}

func (c *cli) runExport(ctx context.Context, args []string) int {
	fs := newFlagSet("export", c.stderr)
	var out string
	fs.StringVar(&out, "out", "leaderboard.parquet", "destination file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := c.client(false)
	if err != nil {
		return c.fail("creating client", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return c.fail("creating output", err)
	}
	n, err := client.Export(ctx, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(out)
		return c.fail("exporting leaderboard", err)
	}
	fmt.Fprintf(c.stdout, "Wrote %d bytes to %s\n", n, out)
	return 0
}

func (c *cli) runIngest(ctx context.Context, args []string) int {
	fs := newFlagSet("ingest", c.stderr)
	var file string
	fs.StringVar(&file, "file", "", "JSON file holding an array of activity records")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(file) == "" {
		fmt.Fprintln(c.stderr, "Error: -file is required")
		return 1
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return c.fail("reading records", err)
	}
	var records []sdk.ActivityRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return c.fail("parsing records", err)
	}
	client, err := c.client(true)
	if err != nil {
		return c.fail("creating client", err)
	}
	ids, err := client.IngestActivity(ctx, records)
	if err != nil {
		return c.fail("ingesting activity", err)
	}
	if c.jsonOutput() {
		return c.printJSON(map[string][]string{"ids": ids})
	}
	fmt.Fprintf(c.stdout, "Ingested %d records\n", len(ids))
	return 0
}

func (c *cli) runIssueToken(args []string) int {
	fs := newFlagSet("issue-token", c.stderr)
	var (
		secretEnv string
		issuer    string
		subject   string
		scopes    string
		ttl       time.Duration
	)
	fs.StringVar(&secretEnv, "secret-env", "LEADERBOARD_JWT_SECRET", "environment variable holding the HMAC secret")
	fs.StringVar(&issuer, "issuer", "", "token issuer")
	fs.StringVar(&subject, "subject", "", "caller address placed in the sub claim")
	fs.StringVar(&scopes, "scopes", "", "comma separated scopes, e.g. "+middleware.ScopeActivityWrite)
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(subject) == "" {
		fmt.Fprintln(c.stderr, "Error: -subject is required")
		return 1
	}
	var scopeList []string
	for _, scope := range strings.Split(scopes, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopeList = append(scopeList, scope)
		}
	}
	token, err := middleware.IssueToken(os.Getenv(secretEnv), issuer, strings.TrimSpace(subject), scopeList, ttl)
	if err != nil {
		return c.fail("issuing token", err)
	}
	fmt.Fprintln(c.stdout, token)
	return 0
}
