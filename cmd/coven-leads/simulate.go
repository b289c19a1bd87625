// ABOUTME: simulate subcommand: drives concurrent synthetic leads through an in-process engine
// ABOUTME: Uses a real ledger (in-memory by default) and prints a per-behaviour summary

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-leads/internal/config"
	"github.com/2389/coven-leads/internal/conversation"
	"github.com/2389/coven-leads/internal/report"
	"github.com/2389/coven-leads/internal/session"
	"github.com/2389/coven-leads/internal/simulate"
	"github.com/2389/coven-leads/internal/store"
)

type simulateFlags struct {
	leads         int
	tick          time.Duration
	followUpTicks int
	behavior      string
	seed          uint64
	driver        string
	db            string
	script        string
	logLevel      string
	quiet         bool
	report        bool
}

func parseSimulateFlags(args []string) (*simulateFlags, error) {
	f := &simulateFlags{}
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.IntVar(&f.leads, "leads", 35, "number of concurrent leads")
	fs.DurationVar(&f.tick, "tick", time.Second, "one unit of lead think time")
	fs.IntVar(&f.followUpTicks, "follow-up", 10, "ticks of silence before a follow-up")
	fs.StringVar(&f.behavior, "behavior", "", "run every lead with one behaviour ("+behaviorNames()+")")
	fs.Uint64Var(&f.seed, "seed", 0, "seed for behaviour selection (0 picks one)")
	fs.StringVar(&f.driver, "driver", store.DriverModernc, "ledger driver (sqlite or sqlite3)")
	fs.StringVar(&f.db, "db", ":memory:", "ledger database path")
	fs.StringVar(&f.script, "script", "", "conversation script file (default built-in)")
	fs.StringVar(&f.logLevel, "log-level", "warn", "engine log level")
	fs.BoolVar(&f.quiet, "quiet", false, "suppress the transcript")
	fs.BoolVar(&f.report, "report", false, "print the ledger report after the run")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.leads <= 0 {
		return nil, fmt.Errorf("--leads must be positive")
	}
	if f.tick <= 0 {
		return nil, fmt.Errorf("--tick must be positive")
	}
	if f.followUpTicks <= 0 {
		return nil, fmt.Errorf("--follow-up must be positive")
	}
	if f.behavior != "" {
		if _, err := simulate.ParseBehavior(f.behavior); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func behaviorNames() string {
	names := make([]string, len(simulate.Behaviors))
	for i, b := range simulate.Behaviors {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}

// engineConfig scales follow-up timing to the tick so a run finishes quickly.
func (f *simulateFlags) engineConfig() conversation.Config {
	return conversation.Config{
		FollowUpDelay: time.Duration(f.followUpTicks) * f.tick,
		CheckInterval: f.tick / 2,
	}
}

func (f *simulateFlags) options(transcript io.Writer) simulate.Options {
	opts := simulate.Options{
		Leads: f.leads,
		Tick:  f.tick,
	}
	if f.behavior != "" {
		opts.Behaviors = []simulate.Behavior{simulate.Behavior(f.behavior)}
	}
	if f.seed != 0 {
		opts.Rand = rand.New(rand.NewPCG(f.seed, f.seed))
	}
	if !f.quiet {
		opts.Transcript = transcript
	}
	return opts
}

func runSimulate(ctx context.Context, args []string) error {
	f, err := parseSimulateFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := setupLogger(config.LoggingConfig{Level: f.logLevel})

	sc, err := loadScript(f.script)
	if err != nil {
		return err
	}

	ledger, err := store.Open(f.driver, f.db)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	engine := conversation.New(f.engineConfig(), session.New(session.WithLogger(logger)), ledger, sc,
		conversation.WithEngineLogger(logger))
	engine.Start()

	cyan := color.New(color.FgCyan)
	cyan.Printf("Simulating %d leads (tick %s, follow-up after %d ticks)\n\n", f.leads, f.tick, f.followUpTicks)

	start := time.Now()
	results, runErr := simulate.Run(ctx, engine, f.options(os.Stdout))
	elapsed := time.Since(start)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown", "error", err)
	}

	printSummary(os.Stdout, results, elapsed)
	if n := engine.LedgerFailures(); n > 0 {
		color.Yellow("\n%d ledger writes failed", n)
	}

	if f.report {
		r, err := report.Build(context.Background(), ledger, sc.Fields(), f.leads, time.Now())
		if err != nil {
			return fmt.Errorf("building report: %w", err)
		}
		fmt.Println()
		os.Stdout.Write(r.Markdown())
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

type behaviorStats struct {
	leads     int
	completed int
	followUps int
	total     time.Duration
}

func printSummary(w io.Writer, results []simulate.Result, elapsed time.Duration) {
	stats := make(map[simulate.Behavior]*behaviorStats)
	var completed, followUps int
	for _, r := range results {
		s := stats[r.Behavior]
		if s == nil {
			s = &behaviorStats{}
			stats[r.Behavior] = s
		}
		s.leads++
		s.followUps += r.FollowUps
		s.total += r.Duration
		followUps += r.FollowUps
		if r.Completed {
			s.completed++
			completed++
		}
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)

	fmt.Fprintln(w)
	bold.Fprintln(w, "Summary")
	for _, b := range simulate.Behaviors {
		s := stats[b]
		if s == nil {
			continue
		}
		avg := s.total / time.Duration(s.leads)
		fmt.Fprintf(w, "  %-10s leads=%-3d completed=%-3d follow_ups=%-3d avg=%s\n",
			b, s.leads, s.completed, s.followUps, avg.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  %-10s leads=%-3d ", "total", len(results))
	green.Fprintf(w, "completed=%-3d", completed)
	fmt.Fprintf(w, " follow_ups=%-3d elapsed=%s\n", followUps, elapsed.Round(time.Millisecond))
}
