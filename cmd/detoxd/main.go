// Package main is the CLI entry point for detoxd.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jawad360/phone-detox/internal/config"
	"github.com/jawad360/phone-detox/internal/control"
	"github.com/jawad360/phone-detox/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "detoxd",
	Short: "App usage limiter - time-boxes distracting apps",
	Long: `detoxd watches which app is in the foreground. Monitored apps get a
time box: pick how long you want, and when time is up the app is sent
away and locked for a cooling period.

Run 'detoxd run' to start the daemon; the other commands talk to it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	daemonAddr string
	authToken  string
	jsonOutput bool
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (.toml or .yaml); default "+infra.DetectPaths().ConfigPath)
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "", "Daemon control address (default from config, then "+control.DefaultListen+")")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Control API token (default from config or DETOX_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose client output")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	addClientCommands(rootCmd)
}

// resolveConfigPath returns --config or the default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return infra.DetectPaths().ConfigPath
}

// loadConfig reads the config file, falling back to defaults when it is missing.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(resolveConfigPath())
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("detoxd %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}
