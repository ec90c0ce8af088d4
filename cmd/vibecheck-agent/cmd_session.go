package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NestozAI/VibeCheck/internal/config"
	"github.com/NestozAI/VibeCheck/internal/state"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd, sessionResetCmd)

	sessionCmd.PersistentFlags().String("dir", ".", "working directory the session belongs to")
}

func sessionStore(cmd *cobra.Command) (*state.SessionStore, error) {
	dir, _ := cmd.Flags().GetString("dir")
	workDir, err := config.ResolveWorkDir(dir)
	if err != nil {
		return nil, err
	}
	stateDir, err := config.SessionDir()
	if err != nil {
		return nil, err
	}
	return state.NewSessionStore(stateDir, workDir), nil
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset the stored assistant session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored session for a working directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := sessionStore(cmd)
		if err != nil {
			return err
		}
		id, err := store.Load()
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if id == "" {
			fmt.Println("No stored session.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Session: %s\nFile:    %s\n", id, store.Path())
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the stored session so the next query starts fresh",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := sessionStore(cmd)
		if err != nil {
			return err
		}
		if err := store.Clear(); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		fmt.Println("Session cleared.")
		return nil
	},
}
