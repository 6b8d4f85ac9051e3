package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	exitError       = 1
	exitInterrupted = 130
)

var rootCmd = &cobra.Command{
	Use:   "github-monitor",
	Short: "Monitor GitHub repositories and process change events",
	Long: `github-monitor polls GitHub repositories for issue, pull request and
comment activity, diffs the results against a local checkpoint tree, and
publishes change events onto a Redis stream. A separate event-handler process
consumes those events, maintains a directory per issue/PR, and can trigger
claude with a per-event template.

Commands:
  monitor        poll repositories and publish change events
  event-handler  consume events and apply them to the checkpoint tree
  pr-comment     post a comment or review comment on a pull request`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})))
	},
}

func main() {
	// Optional: a .env next to the binary may carry GITHUB_TOKEN.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(exitError)
}

// resolveToken prefers the flag, then the environment.
func resolveToken(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("GITHUB_TOKEN")
}
