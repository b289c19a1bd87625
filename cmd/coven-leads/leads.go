// ABOUTME: leads and token subcommands: read the ledger and mint API tokens
// ABOUTME: Both read the same config file as serve

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-leads/internal/auth"
	"github.com/2389/coven-leads/internal/config"
	"github.com/2389/coven-leads/internal/report"
	"github.com/2389/coven-leads/internal/script"
	"github.com/2389/coven-leads/internal/store"
)

func loadScript(path string) (*script.Script, error) {
	if path == "" {
		return script.Default(), nil
	}
	sc, err := script.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading script: %w", err)
	}
	return sc, nil
}

func runLeads(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leads", flag.ContinueOnError)
	status := fs.String("status", "", "only show leads with this status")
	limit := fs.Int("limit", 50, "maximum number of leads")
	asReport := fs.Bool("report", false, "print a markdown report instead of a table")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	filter := store.LeadFilter{Status: store.LeadStatus(*status), Limit: *limit}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("unknown status %q", *status)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	path := cfg.Database.Path
	if envPath := os.Getenv("COVEN_LEADS_DB_PATH"); envPath != "" {
		path = envPath
	}

	ledger, err := store.Open(cfg.Database.Driver, path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	if *asReport {
		sc, err := loadScript(cfg.Conversation.ScriptPath)
		if err != nil {
			return err
		}
		r, err := report.Build(ctx, ledger, sc.Fields(), *limit, time.Now())
		if err != nil {
			return fmt.Errorf("building report: %w", err)
		}
		_, err = os.Stdout.Write(r.Markdown())
		return err
	}

	leads, err := ledger.ListLeads(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing leads: %w", err)
	}
	printLeads(os.Stdout, leads)
	return nil
}

func statusColor(s store.LeadStatus) *color.Color {
	switch s {
	case store.LeadStatusSecured:
		return color.New(color.FgGreen)
	case store.LeadStatusDeclined:
		return color.New(color.FgRed)
	case store.LeadStatusFollowUpSent:
		return color.New(color.FgYellow)
	case store.LeadStatusActive:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgHiBlack)
	}
}

func printLeads(w io.Writer, leads []*store.LeadRecord) {
	if len(leads) == 0 {
		fmt.Fprintln(w, "No leads found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEAD\tNAME\tSTATUS\tUPDATED\tANSWERS")
	for _, l := range leads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			l.LeadID,
			l.Name,
			statusColor(l.Status).Sprint(l.Status),
			l.LastUpdated.Local().Format("2006-01-02 15:04"),
			formatAnswers(l.Answers),
		)
	}
	tw.Flush()
}

func formatAnswers(answers map[string]string) string {
	if len(answers) == 0 {
		return "-"
	}
	keys := slices.Sorted(maps.Keys(answers))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + answers[k]
	}
	return strings.Join(parts, " ")
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	name := fs.String("name", "", "lead source the token identifies (required)")
	expires := fs.Duration("expires", 0, "token lifetime (0 never expires)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := mintToken(cfg.Auth.JWTSecret, *name, *expires)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func mintToken(secret, source string, expires time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not set; run coven-leads init or add one to the config")
	}
	token, err := auth.NewJWTVerifier([]byte(secret)).Generate(source, expires)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}
