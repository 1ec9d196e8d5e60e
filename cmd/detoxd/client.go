package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jawad360/phone-detox/internal/control"
	"github.com/jawad360/phone-detox/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show monitoring status",
	Long:  `Shows whether monitoring is on, which apps are monitored or blocked, and active sessions and cooling periods.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var sessionCmd = &cobra.Command{
	Use:   "session <app>",
	Short: "Show the active session for an app",
	Args:  cobra.ExactArgs(1),
	RunE:  runSession,
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage the monitored app list",
}

var appsSetCmd = &cobra.Command{
	Use:   "set [app...]",
	Short: "Replace the monitored app list (no args clears it)",
	RunE:  runAppsSet,
}

var configCmd = &cobra.Command{
	Use:   "config <app>",
	Short: "Change an app's behavior or cooling period",
	Long: `Updates only the given fields. Behavior "ask" offers more time when the
session ends; "stop" enforces immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfig,
}

var cooldownCmd = &cobra.Command{
	Use:   "cooldown <app> <endTimeMs|duration>",
	Short: "Set an app's cooling period end",
	Long:  `Accepts epoch milliseconds or a duration from now, e.g. 45m.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runCooldown,
}

var monitoringCmd = &cobra.Command{
	Use:       "monitoring start|stop",
	Short:     "Start or stop foreground monitoring",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"start", "stop"},
	RunE:      runMonitoring,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream events and prompts as JSON lines",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

var respondCmd = &cobra.Command{
	Use:   "respond <promptID> <minutes>",
	Short: "Answer a prompt (0 declines)",
	Args:  cobra.ExactArgs(2),
	RunE:  runRespond,
}

var (
	behaviorFlag string
	cooldownFlag int
	respondApp   string
	dismissFlag  bool
)

func addClientCommands(root *cobra.Command) {
	configCmd.Flags().StringVar(&behaviorFlag, "behavior", "", `Time-up behavior: "ask" or "stop"`)
	configCmd.Flags().IntVar(&cooldownFlag, "cooldown", -1, "Cooling period in minutes")
	respondCmd.Flags().StringVar(&respondApp, "app", "", "App the prompt belongs to")
	respondCmd.Flags().BoolVar(&dismissFlag, "dismiss", false, "Dismiss instead of answering")

	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	appsCmd.AddCommand(appsSetCmd)
	root.AddCommand(statusCmd, sessionCmd, appsCmd, configCmd, cooldownCmd, monitoringCmd, eventsCmd, respondCmd)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 10*time.Second)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(st)
	}

	fmt.Println("\n=== detoxd Status ===")
	if st.Monitoring {
		fmt.Println("Monitoring: ON")
	} else {
		fmt.Println("Monitoring: OFF")
	}
	if st.Foreground != "" {
		fmt.Printf("Foreground: %s\n", st.Foreground)
	}

	fmt.Println("\nMonitored apps:")
	if len(st.Monitored) == 0 {
		fmt.Println("  (none)")
	}
	for _, app := range st.Monitored {
		marker := ""
		if slices.Contains(st.Blocked, app) {
			marker = "  [blocked]"
		}
		fmt.Printf("  - %s%s\n", app, marker)
	}

	now := time.Now()
	if len(st.Sessions) > 0 {
		fmt.Println("\nSessions:")
		for _, s := range st.Sessions {
			fmt.Printf("  - %s: %d of %d min used, %d left (%s)\n",
				s.AppID, s.ElapsedMinutes(now), s.RequestedMinutes, s.RemainingMinutes(now), s.Behavior)
		}
	}
	if len(st.Cooldowns) > 0 {
		fmt.Println("\nCooling periods:")
		for _, c := range st.Cooldowns {
			if c.Active(now) {
				fmt.Printf("  - %s: ends in %s\n", c.AppID, c.EndTime.Sub(now).Round(time.Second))
			} else {
				fmt.Printf("  - %s: ended\n", c.AppID)
			}
		}
	}
	fmt.Println("=====================")
	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	sess, err := client.ActiveSession(ctx, args[0])
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(sess)
}

func runAppsSet(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	if err := client.SetMonitoredApps(ctx, args); err != nil {
		return err
	}
	fmt.Printf("Monitoring %d app(s)\n", len(args))
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	var patch domain.AppConfigPatch
	if cmd.Flags().Changed("behavior") {
		b := domain.Behavior(strings.ToLower(behaviorFlag))
		if !b.Valid() {
			return fmt.Errorf(`--behavior must be "ask" or "stop"`)
		}
		patch.Behavior = &b
	}
	if cmd.Flags().Changed("cooldown") {
		if cooldownFlag < 0 {
			return fmt.Errorf("--cooldown must not be negative")
		}
		patch.CooldownMinutes = &cooldownFlag
	}
	if patch.Behavior == nil && patch.CooldownMinutes == nil {
		return fmt.Errorf("nothing to change: pass --behavior and/or --cooldown")
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()
	return client.UpdateAppConfig(ctx, args[0], patch)
}

func runCooldown(cmd *cobra.Command, args []string) error {
	end, err := parseEndTime(args[1], time.Now())
	if err != nil {
		return err
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	if err := client.SetCooldownEnd(ctx, args[0], end); err != nil {
		return err
	}
	fmt.Printf("%s cooling period ends %s\n", args[0], end.Format(time.RFC3339))
	return nil
}

// parseEndTime accepts epoch milliseconds or a Go duration relative to now.
func parseEndTime(s string, now time.Time) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return domain.FromMillis(ms), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither epoch milliseconds nor a duration", s)
	}
	return now.Add(d), nil
}

func runMonitoring(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	switch args[0] {
	case "start":
		return client.StartMonitoring(ctx)
	case "stop":
		return client.StopMonitoring(ctx)
	default:
		return fmt.Errorf("unknown action %q (want start or stop)", args[0])
	}
}

func runEvents(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	return client.Subscribe(cmd.Context(), func(env control.Envelope) {
		_ = enc.Encode(env)
	})
}

func runRespond(cmd *cobra.Command, args []string) error {
	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes < 0 {
		return fmt.Errorf("minutes must be a non-negative integer")
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	return client.RespondToPrompt(ctx, domain.PromptResponse{
		PromptID:  args[0],
		AppID:     respondApp,
		Minutes:   minutes,
		Dismissed: dismissFlag,
	})
}
