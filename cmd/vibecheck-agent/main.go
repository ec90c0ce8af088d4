package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NestozAI/VibeCheck/internal/agent"
	"github.com/NestozAI/VibeCheck/internal/config"
)

var (
	flagKey        string
	flagDir        string
	flagServer     string
	flagNewSession bool
	flagLogLevel   string
)

func init() {
	rootCmd.Flags().StringVar(&flagKey, "key", "", "API key (or set VIBECHECK_API_KEY)")
	rootCmd.Flags().StringVar(&flagDir, "dir", ".", "working directory the assistant operates in")
	rootCmd.Flags().StringVar(&flagServer, "server", "", "relay server URL (default from config)")
	rootCmd.Flags().BoolVar(&flagNewSession, "new-session", false, "discard any stored session and start fresh")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

var rootCmd = &cobra.Command{
	Use:   "vibecheck-agent",
	Short: "Bridge a local coding-assistant session to the VibeCheck web UI",
	Long: `vibecheck-agent connects a local Claude Code session in a working
directory to the VibeCheck relay server, so the web UI can drive it
remotely. It streams assistant output, mediates filesystem access through
path approvals, and runs cron-scheduled prompts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

// loadConfig resolves the state dir and the layered configuration
// (file defaults, then env, then flags).
func loadConfig() (*config.Config, string, error) {
	stateDir, err := config.SessionDir()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(filepath.Join(stateDir, "config.json"))
	if err != nil {
		return nil, "", err
	}
	if flagKey != "" {
		cfg.APIKey = flagKey
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	cfg.NewSession = flagNewSession
	return cfg, stateDir, nil
}

func setupLogging(logLevel string) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runDaemon() error {
	cfg, stateDir, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("API key required: pass --key or set VIBECHECK_API_KEY")
	}

	workDir, err := config.ResolveWorkDir(flagDir)
	if err != nil {
		return err
	}
	cfg.WorkDir = workDir

	setupLogging(cfg.LogLevel)

	pidPath := filepath.Join(stateDir, "agent.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ag, err := agent.New(cfg, stateDir, nil)
	if err != nil {
		return err
	}

	slog.Info("starting agent", "work_dir", workDir, "server", cfg.ServerURL)
	return ag.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
