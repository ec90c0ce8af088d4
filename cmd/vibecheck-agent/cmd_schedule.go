package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/NestozAI/VibeCheck/internal/config"
	"github.com/NestozAI/VibeCheck/internal/scheduler"
	"github.com/NestozAI/VibeCheck/internal/state"
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd, scheduleEnableCmd, scheduleDisableCmd)

	scheduleAddCmd.Flags().String("cron", "", "5-field cron expression (required)")
	scheduleAddCmd.Flags().String("message", "", "prompt to run (required)")
	scheduleAddCmd.Flags().String("skill", "", "skill preset id")
	_ = scheduleAddCmd.MarkFlagRequired("cron")
	_ = scheduleAddCmd.MarkFlagRequired("message")
}

func scheduleStore() (*state.ScheduleStore, error) {
	stateDir, err := config.SessionDir()
	if err != nil {
		return nil, err
	}
	return state.NewScheduleStore(filepath.Join(stateDir, "schedules.json")), nil
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled prompts",
	Long: `Scheduled prompts run autonomously when no interactive query is in
flight. Changes here are picked up by the daemon on its next start.`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cronExpr, _ := cmd.Flags().GetString("cron")
		message, _ := cmd.Flags().GetString("message")
		skillID, _ := cmd.Flags().GetString("skill")

		if err := scheduler.ValidateCron(cronExpr); err != nil {
			return err
		}

		store, err := scheduleStore()
		if err != nil {
			return err
		}
		task := &state.ScheduledTask{
			ID:        uuid.New().String(),
			Cron:      cronExpr,
			Message:   message,
			SkillID:   skillID,
			Enabled:   true,
			CreatedAt: time.Now(),
		}
		if err := store.Add(task); err != nil {
			return fmt.Errorf("add schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %s added.\n", task.ID)
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled prompts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := scheduleStore()
		if err != nil {
			return err
		}
		tasks, err := store.List()
		if err != nil {
			return fmt.Errorf("list schedules: %w", err)
		}

		if len(tasks) == 0 {
			fmt.Println("No schedules configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCRON\tENABLED\tLAST RUN\tMESSAGE")
		for _, t := range tasks {
			lastRun := "-"
			if t.LastRun != nil {
				lastRun = t.LastRun.Format("2006-01-02 15:04:05")
			}
			message := t.Message
			if len(message) > 50 {
				message = message[:50] + "…"
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", t.ID, t.Cron, t.Enabled, lastRun, message)
		}
		return w.Flush()
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a scheduled prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := scheduleStore()
		if err != nil {
			return err
		}
		if err := store.Remove(args[0]); err != nil {
			return fmt.Errorf("remove schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %s removed.\n", args[0])
		return nil
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a scheduled prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := scheduleStore()
		if err != nil {
			return err
		}
		if err := store.SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %s enabled.\n", args[0])
		return nil
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a scheduled prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := scheduleStore()
		if err != nil {
			return err
		}
		if err := store.SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %s disabled.\n", args[0])
		return nil
	},
}
