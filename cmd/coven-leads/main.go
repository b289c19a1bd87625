// ABOUTME: Entry point for the coven-leads qualification server and tooling
// ABOUTME: Dispatches serve, init, simulate, leads, token and health subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-leads/internal/config"
	"github.com/2389/coven-leads/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                      _                _
  ___ _____   _____ _ __             | | ___  __ _  __| |___
 / __/ _ \ \ / / _ \ '_ \   _____    | |/ _ \/ _' |/ _' / __|
| (_| (_) \ V /  __/ | | | |_____|   | |  __/ (_| | (_| \__ \
 \___\___/ \_/ \___|_| |_|           |_|\___|\__,_|\__,_|___/
`

// getConfigPath returns the path to the config file.
// Priority: COVEN_LEADS_CONFIG env var > XDG_CONFIG_HOME/coven/leads.yaml > ~/.config/coven/leads.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_LEADS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "leads.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "leads.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func usage() {
	fmt.Println("Usage: coven-leads <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the lead qualification server")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  simulate               Run concurrent synthetic leads in-process")
	fmt.Println("  leads                  Print the lead ledger")
	fmt.Println("  token --name NAME      Mint an API token for a lead source")
	fmt.Println("  health                 Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "simulate":
		err = runSimulate(ctx, args)
	case "leads":
		err = runLeads(ctx, args)
	case "token":
		err = runToken(args)
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:    %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Follow-up: after %s, checked every %s\n", cfg.FollowUp.Delay, cfg.FollowUp.CheckInterval)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth disabled: set auth.jwt_secret to require tokens")
	}
	fmt.Println()

	logger.Info("starting coven-leads",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	if cfg.Tailscale.Enabled {
		url = fmt.Sprintf("http://%s/health/ready", cfg.Tailscale.Hostname)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	color.Green("healthy: %s", strings.TrimSpace(string(body)))
	return nil
}
