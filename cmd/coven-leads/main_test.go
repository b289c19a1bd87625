// ABOUTME: Tests for CLI helpers: config paths, init rendering, flags, tokens and output
// ABOUTME: Colors are disabled so rendered output can be compared directly

package main

import (
	"bufio"
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-leads/internal/auth"
	"github.com/2389/coven-leads/internal/config"
	"github.com/2389/coven-leads/internal/simulate"
	"github.com/2389/coven-leads/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestGetConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("COVEN_LEADS_CONFIG", "/etc/coven/leads.yaml")
		assert.Equal(t, "/etc/coven/leads.yaml", getConfigPath())
	})

	t.Run("xdg", func(t *testing.T) {
		t.Setenv("COVEN_LEADS_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		assert.Equal(t, "/tmp/xdg/coven/leads.yaml", getConfigPath())
	})
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	assert.Equal(t, "/tmp/data/coven", getDataPath())
}

func TestRenderConfig_LoadsBack(t *testing.T) {
	secret, err := generateSecret()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "leads.yaml")
	a := initAnswers{
		GRPCAddr:      "localhost:50052",
		HTTPAddr:      "localhost:8090",
		DBDriver:      "sqlite",
		DBPath:        filepath.Join(t.TempDir(), "leads.db"),
		JWTSecret:     secret,
		FollowUpDelay: "2h",
		CheckInterval: "5m",
		ScriptPath:    "/srv/script.yaml",
		LogLevel:      "debug",
		LogFormat:     "json",
	}
	require.NoError(t, writeConfig(path, a))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:50052", cfg.Server.GRPCAddr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.FollowUp.Delay)
	assert.Equal(t, 5*time.Minute, cfg.FollowUp.CheckInterval)
	assert.Equal(t, "/srv/script.yaml", cfg.Conversation.ScriptPath)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Tailscale.Enabled)
}

func TestRenderConfig_Tailscale(t *testing.T) {
	out := renderConfig(initAnswers{
		TailscaleEnabled: true,
		TSHostname:       "leads",
		TSFunnel:         true,
	})
	assert.Contains(t, out, "  hostname: \"leads\"\n")
	assert.Contains(t, out, "  funnel: true\n")
	assert.NotContains(t, out, "auth_key")
	assert.NotContains(t, out, "conversation:")
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret()
	require.NoError(t, err)
	b, err := generateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), config.MinSecretLength)
}

func TestPrompt(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("custom\n\nlast"))
	assert.Equal(t, "custom", prompt(reader, "first", "default"))
	assert.Equal(t, "default", prompt(reader, "second", "default"))
	assert.Equal(t, "last", prompt(reader, "third", "default"))
	assert.Equal(t, "default", prompt(reader, "eof", "default"))
}

func TestYes(t *testing.T) {
	assert.True(t, yes("Y"))
	assert.True(t, yes("yes"))
	assert.False(t, yes("no"))
	assert.False(t, yes(""))
}

func TestParseSimulateFlags(t *testing.T) {
	f, err := parseSimulateFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, 35, f.leads)
	assert.Equal(t, time.Second, f.tick)
	assert.Equal(t, ":memory:", f.db)

	cfg := f.engineConfig()
	assert.Equal(t, 10*time.Second, cfg.FollowUpDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.CheckInterval)

	f, err = parseSimulateFlags([]string{"--leads", "3", "--behavior", "slow", "--seed", "7", "--quiet"})
	require.NoError(t, err)
	opts := f.options(&bytes.Buffer{})
	assert.Equal(t, 3, opts.Leads)
	assert.Equal(t, []simulate.Behavior{simulate.Slow}, opts.Behaviors)
	assert.NotNil(t, opts.Rand)
	assert.Nil(t, opts.Transcript)

	for _, args := range [][]string{
		{"--leads", "0"},
		{"--tick", "0s"},
		{"--follow-up", "-1"},
		{"--behavior", "chatty"},
		{"--nope"},
	} {
		_, err := parseSimulateFlags(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, []simulate.Result{
		{LeadID: "a", Behavior: simulate.Fast, Completed: true, Duration: time.Second},
		{LeadID: "b", Behavior: simulate.Slow, FollowUps: 1, Duration: 3 * time.Second},
		{LeadID: "c", Behavior: simulate.Fast, Completed: true, Duration: 3 * time.Second},
	}, 4*time.Second)

	out := buf.String()
	assert.Contains(t, out, "fast       leads=2   completed=2   follow_ups=0   avg=2s")
	assert.Contains(t, out, "slow       leads=1   completed=0   follow_ups=1")
	assert.Contains(t, out, "total      leads=3   completed=2   follow_ups=1   elapsed=4s")
	assert.NotContains(t, out, "decliner")
}

func TestPrintLeads(t *testing.T) {
	var buf bytes.Buffer
	printLeads(&buf, nil)
	assert.Equal(t, "No leads found.\n", buf.String())

	buf.Reset()
	printLeads(&buf, []*store.LeadRecord{{
		LeadID:      "lead-1",
		Name:        "Ann",
		Status:      store.LeadStatusSecured,
		Answers:     map[string]string{"country": "Spain", "age": "29"},
		LastUpdated: time.Now(),
	}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "LEAD"))
	assert.Contains(t, lines[1], "secured")
	assert.True(t, strings.HasSuffix(lines[1], "age=29 country=Spain"))
}

func TestMintToken(t *testing.T) {
	secret := strings.Repeat("s", config.MinSecretLength)
	token, err := mintToken(secret, "webform", time.Hour)
	require.NoError(t, err)

	source, err := auth.NewJWTVerifier([]byte(secret)).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "webform", source)

	_, err = mintToken("", "webform", 0)
	assert.Error(t, err)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "warn"})

	logger.Info("hidden")
	logger.With("component", "engine").WithGroup("lead").Warn("ledger write failed", "id", "l-1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN ledger write failed component=engine lead.id=l-1")
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "debug", Format: "json"})
	logger.Debug("tick", "leads", 2)
	assert.Contains(t, buf.String(), `"msg":"tick"`)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}
