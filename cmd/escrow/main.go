// Command escrow operates parimutuel pots: positions are locked before the
// event cutoff, the oracle posts the outcome, winners redeem their share and
// the remainder is swept to the treasury.
//
// Usage:
//
//	escrow <command> [flags]
//
// Run "escrow help" for the command list.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"parimutuel-escrow/internal/config"
	"parimutuel-escrow/internal/domain"
)

// command is one escrow subcommand.
type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"keygen":       {"generate a settlement authority key pair", runKeygen},
	"capability":   {"issue the settlement capability for the event", runCapability},
	"lock":         {"lock a position in the event's pot", runLock},
	"post-outcome": {"post the outcome with explicit statistics", runPostOutcome},
	"settle":       {"post the outcome with statistics derived from the ledger", runSettle},
	"inject":       {"add operator liquidity to the pot", runInject},
	"plan":         {"show the withdrawal a winning position would make", runPlan},
	"redeem":       {"pay a winning position its share", runRedeem},
	"sweep":        {"collect the remaining pot into the treasury", runSweep},
	"status":       {"show the state of the pot", runStatus},
	"reconcile":    {"replay the transition log and compare it with the store", runReconcile},
	"report":       {"write the Markdown and CSV pot report", runReport},
	"serve":        {"serve the HTTP API with /health and /metrics", runServe},
}

var logger = log.New(os.Stderr, "[escrow] ", log.LstdFlags)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		usage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.run(ctx, os.Args[2:])
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: escrow <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "commands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-13s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Every command accepts -config, -store and the -event-* flags.")
}

// globalFlags are shared by every command. Flags override the config file,
// which overrides the built-in defaults.
type globalFlags struct {
	configPath string
	store      string
	eventID    int64
	eventName  string
	cutoffMs   int64
}

func newFlagSet(name string) (*flag.FlagSet, *globalFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	g := &globalFlags{}
	fs.StringVar(&g.configPath, "config", os.Getenv("ESCROW_CONFIG"), "TOML configuration file")
	fs.StringVar(&g.store, "store", "", "ledger store: memory or postgres (overrides config)")
	fs.Int64Var(&g.eventID, "event-id", 0, "event id (overrides config)")
	fs.StringVar(&g.eventName, "event-name", "", "event name (overrides config)")
	fs.Int64Var(&g.cutoffMs, "cutoff-ms", 0, "event cutoff, Unix milliseconds (overrides config)")
	return fs, g
}

// load reads and validates the configuration with flag overrides applied.
func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.store != "" {
		cfg.Store = g.store
	}
	if g.eventID != 0 {
		cfg.Event.ID = g.eventID
	}
	if g.eventName != "" {
		cfg.Event.Name = g.eventName
	}
	if g.cutoffMs != 0 {
		cfg.Event.CutoffMs = g.cutoffMs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses args and returns the config plus the event parameters.
func parse(fs *flag.FlagSet, g *globalFlags, args []string) (*config.Config, domain.EventParams, error) {
	if err := fs.Parse(args); err != nil {
		return nil, domain.EventParams{}, usageError{err}
	}
	cfg, err := g.load()
	if err != nil {
		return nil, domain.EventParams{}, err
	}
	params, err := cfg.Event.Params()
	if err != nil {
		return nil, domain.EventParams{}, err
	}
	return cfg, params, nil
}
