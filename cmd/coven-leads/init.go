// ABOUTME: Interactive config file generation for coven-leads
// ABOUTME: Prompts for server, ledger, tailscale, follow-up and logging settings and mints an auth secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers holds everything runInit collects before rendering.
type initAnswers struct {
	GRPCAddr  string
	HTTPAddr  string
	DBDriver  string
	DBPath    string
	JWTSecret string

	TailscaleEnabled bool
	TSHostname       string
	TSAuthKey        string
	TSEphemeral      bool
	TSFunnel         bool

	FollowUpDelay string
	CheckInterval string
	ScriptPath    string

	LogLevel  string
	LogFormat string
}

func runInit() error {
	return initConfig(bufio.NewReader(os.Stdin))
}

func initConfig(reader *bufio.Reader) error {
	fmt.Println("coven-leads configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "leads.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.GRPCAddr = prompt(reader, "gRPC address", "localhost:50052")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8090")

	fmt.Println("\n--- Ledger Configuration ---")
	a.DBDriver = prompt(reader, "SQLite driver (sqlite/sqlite3)", "sqlite")
	a.DBPath = prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Tailscale Configuration ---")
	a.TailscaleEnabled = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.TailscaleEnabled {
		a.TSHostname = prompt(reader, "Tailscale hostname", "coven-leads")
		a.TSAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		a.TSEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		a.TSFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Conversation Configuration ---")
	a.FollowUpDelay = prompt(reader, "Follow-up after", "24h")
	a.CheckInterval = prompt(reader, "Check for idle leads every", "30m")
	a.ScriptPath = prompt(reader, "Script file (leave empty for built-in)", "")

	fmt.Println("\n--- Auth Configuration ---")
	if yes(prompt(reader, "Require API tokens?", "yes")) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		a.JWTSecret = secret
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := writeConfig(outputFile, a); err != nil {
		return err
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	if a.JWTSecret != "" {
		fmt.Println("\nTo mint a token for a lead source:")
		fmt.Printf("  coven-leads token --name webform\n")
	}
	fmt.Println("\nTo start the server:")
	fmt.Printf("  coven-leads serve\n")

	return nil
}

// generateSecret returns 32 random bytes, base64 encoded.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// writeConfig renders a and writes it with owner-only permissions since it
// may hold the JWT secret and a tailscale auth key.
func writeConfig(path string, a initAnswers) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# coven-leads configuration\n")
	cfg.WriteString("# Generated by coven-leads init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  grpc_addr: %q\n", a.GRPCAddr)
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", a.DBDriver)
	fmt.Fprintf(&cfg, "  path: %q\n", a.DBPath)
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.TailscaleEnabled)
	if a.TailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TSHostname)
		if a.TSAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", a.TSAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", a.TSEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", a.TSFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", a.JWTSecret)
	cfg.WriteString("\n")

	cfg.WriteString("followup:\n")
	fmt.Fprintf(&cfg, "  delay: %q\n", a.FollowUpDelay)
	fmt.Fprintf(&cfg, "  check_interval: %q\n", a.CheckInterval)
	cfg.WriteString("\n")

	if a.ScriptPath != "" {
		cfg.WriteString("conversation:\n")
		fmt.Fprintf(&cfg, "  script: %q\n", a.ScriptPath)
		cfg.WriteString("\n")
	}

	cfg.WriteString("dedupe:\n")
	cfg.WriteString("  ttl: \"10m\"\n")
	cfg.WriteString("  max_entries: 10000\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)

	return cfg.String()
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
