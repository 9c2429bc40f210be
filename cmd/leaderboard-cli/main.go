package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"emojiboard/cmd/internal/credential"
	"emojiboard/config"
	"emojiboard/observability/logging"
	sdk "emojiboard/sdk/leaderboard"
)

type cli struct {
	profile *config.Profile
	tokens  *credential.Source
	http    *http.Client
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func defaultProfilePath() string {
	if v := strings.TrimSpace(os.Getenv("LEADERBOARD_CLI_CONFIG")); v != "" {
		return v
	}
	home, err := os.UserConfigDir()
	if err != nil {
		return "leaderboard-cli.toml"
	}
	return filepath.Join(home, "emojiboard", "cli.toml")
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("leaderboard-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		profilePath string
		endpoint    string
		output      string
		token       string
		verbose     bool
	)
	fs.StringVar(&profilePath, "config", defaultProfilePath(), "path to the CLI profile (created when missing)")
	fs.StringVar(&endpoint, "endpoint", "", "leaderboardd base URL (overrides the profile)")
	fs.StringVar(&output, "output", "", "output format: text or json (overrides the profile)")
	fs.StringVar(&token, "token", "", "API token (overrides the profile token sources)")
	fs.BoolVar(&verbose, "v", false, "log requests to stderr")
	fs.Usage = func() { fmt.Fprint(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage())
		return 1
	}

	profile, err := config.Load(profilePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading profile: %v\n", err)
		return 1
	}
	if strings.TrimSpace(endpoint) != "" {
		profile.Endpoint = strings.TrimSpace(endpoint)
	}
	if strings.TrimSpace(output) != "" {
		profile.Output = strings.ToLower(strings.TrimSpace(output))
	}
	if err := profile.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	timeout, _ := profile.RequestTimeout()

	level := "warn"
	if verbose {
		level = "debug"
	}
	c := &cli{
		profile: profile,
		http:    &http.Client{Timeout: timeout},
		stdout:  stdout,
		stderr:  stderr,
		logger:  logging.Setup("leaderboard-cli", "cli", logging.WithLevel(level), logging.WithWriter(stderr)),
	}
	if strings.TrimSpace(token) == "" {
		token, err = profile.ReadToken()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	c.tokens = credential.NewSource(token, profile.TokenEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "status":
		return c.runStatus(ctx, cmdArgs)
	case "can-update":
		return c.runCanUpdate(ctx, cmdArgs)
	case "current-day":
		return c.runCurrentDay(ctx, cmdArgs)
	case "last-update-day":
		return c.runLastUpdateDay(ctx, cmdArgs)
	case "update":
		return c.runUpdate(ctx, cmdArgs)
	case "force-update-day":
		return c.runForceUpdateDay(ctx, cmdArgs)
	case "force-reset":
		return c.runForceReset(ctx, cmdArgs)
	case "fund":
		return c.runFund(ctx, cmdArgs)
	case "supply":
		return c.runSupply(ctx, cmdArgs)
	case "leaderboard":
		return c.runLeaderboard(ctx, cmdArgs)
	case "balance":
		return c.runBalance(ctx, cmdArgs)
	case "events":
		return c.runEvents(ctx, cmdArgs)
	case "watch":
		return c.runWatch(ctx, cmdArgs)
	case "export":
		return c.runExport(ctx, cmdArgs)
	case "ingest":
		return c.runIngest(ctx, cmdArgs)
	case "issue-token":
		return c.runIssueToken(cmdArgs)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(stderr, usage())
		return 1
	}
}

func usage() string {
	buf := &bytes.Buffer{}
	fmt.Fprintln(buf, "Usage: leaderboard-cli [-config path] [-endpoint url] [-output text|json] [-token t] <command> [options]")
	fmt.Fprintln(buf, "Commands:")
	fmt.Fprintln(buf, "  status            Show the update gate")
	fmt.Fprintln(buf, "  can-update        Report whether an update is allowed now")
	fmt.Fprintln(buf, "  current-day       Print the current period index")
	fmt.Fprintln(buf, "  last-update-day   Print the period of the last update")
	fmt.Fprintln(buf, "  update            Recompute the leaderboard and claim the reward")
	fmt.Fprintln(buf, "  force-update-day  Reopen the gate for the current period (admin)")
	fmt.Fprintln(buf, "  force-reset       Clear a stuck update (admin)")
	fmt.Fprintln(buf, "  fund              Add tokens to the reward pool (admin)")
	fmt.Fprintln(buf, "  supply            Show the remaining reward pool")
	fmt.Fprintln(buf, "  leaderboard       Show the ranked leaderboard")
	fmt.Fprintln(buf, "  balance <addr>    Show the rewards earned by an address")
	fmt.Fprintln(buf, "  events            List recent update events")
	fmt.Fprintln(buf, "  watch             Stream update events")
	fmt.Fprintln(buf, "  export            Download the leaderboard as parquet")
	fmt.Fprintln(buf, "  ingest            Submit activity records from a JSON file")
	fmt.Fprintln(buf, "  issue-token       Mint a development API token")
	return buf.String()
}

func (c *cli) client(auth bool) (*sdk.Client, error) {
	opts := []sdk.Option{sdk.WithHTTPClient(c.http)}
	if auth {
		token, err := c.tokens.Get()
		if err != nil {
			return nil, err
		}
		c.logger.Debug("using API token", logging.MaskField("token", token))
		opts = append(opts, sdk.WithAuthToken(token))
	}
	c.logger.Debug("leaderboardd endpoint", slog.String("endpoint", c.profile.Endpoint))
	return sdk.New(c.profile.Endpoint, opts...)
}

func (c *cli) jsonOutput() bool { return c.profile.Output == "json" }

func (c *cli) printJSON(v any) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(c.stderr, "Error encoding output: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) fail(action string, err error) int {
	fmt.Fprintf(c.stderr, "Error %s: %v\n", action, err)
	return 1
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("leaderboard-cli "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
