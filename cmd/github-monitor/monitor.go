package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/TomzxCode/github-monitor/internal/checkpoint"
	"github.com/TomzxCode/github-monitor/internal/config"
	"github.com/TomzxCode/github-monitor/internal/ghclient"
	"github.com/TomzxCode/github-monitor/internal/monitor"
	"github.com/TomzxCode/github-monitor/internal/stream"
)

var (
	monitorConfigFile string
	monitorToken      string
	monitorPath       string
	monitorRepos      []string
	monitorRedisURL   string
	monitorStream     string
	monitorDryRun     bool
	monitorSince      string
	monitorIssues     bool
	monitorIssueComms bool
	monitorPRComms    bool
	monitorActiveOnly bool
	monitorInterval   string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll repositories and publish change events",
	Long: `Poll GitHub for issues, pull requests and comments that changed since the
last run, classify each change against the checkpoint tree, and publish one
event per change to the Redis stream.

Repositories come from the checkpoint tree under --path unless overridden
with --repositories. Without --interval one cycle runs and the command
exits; with --interval cycles repeat at a fixed wall-clock rate.

Example:
  github-monitor monitor --path ~/issues --interval 5m
  github-monitor monitor --repositories owner/repo --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.DefaultMonitor()
		if monitorConfigFile != "" {
			if err := config.Load(monitorConfigFile, &cfg); err != nil {
				fatal("%v", err)
			}
		}
		applyMonitorFlags(cmd, &cfg)

		if cfg.Path == "" {
			fatal("a checkpoint path is required: pass --path or set path in the config file")
		}

		var interval time.Duration
		if cfg.Interval != "" {
			parsed, err := config.ParseDuration(cfg.Interval)
			if err != nil {
				fatal("invalid --interval: %v", err)
			}
			interval = parsed
		}

		var updatedSince *time.Time
		if cfg.UpdatedSince != "" {
			parsed, err := time.Parse(time.RFC3339, cfg.UpdatedSince)
			if err != nil {
				fatal("invalid --updated-since %q: want RFC3339, e.g. 2026-01-02T15:04:05Z", cfg.UpdatedSince)
			}
			updatedSince = &parsed
		}

		client, err := ghclient.New(resolveToken(monitorToken))
		if err != nil {
			fatal("%v", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := slog.Default()
		store := checkpoint.NewStore(cfg.Path)
		detector := monitor.NewDetector(store, client)

		var publisher stream.Publisher
		if !cfg.DryRun {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				fatal("invalid redis URL %q: %v", cfg.RedisURL, err)
			}
			rdb := redis.NewClient(opts)
			defer rdb.Close()
			if err := rdb.Ping(ctx).Err(); err != nil {
				fatal("cannot reach Redis at %s: %v", cfg.RedisURL, err)
			}
			publisher = stream.NewRedisPublisher(rdb, cfg.Stream, logger)
		}

		orch := monitor.NewOrchestrator(store, detector, publisher, monitor.Config{
			Repositories:         cfg.Repositories,
			UpdatedSince:         updatedSince,
			MonitorIssues:        cfg.MonitorIssues,
			MonitorIssueComments: cfg.MonitorIssueComments,
			MonitorPRComments:    cfg.MonitorPRComments,
			ActiveOnly:           cfg.ActiveOnly,
			DryRun:               cfg.DryRun,
			Interval:             interval,
		}, logger)

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s Monitoring GitHub activity\n", green("✓"))
		fmt.Printf("  Checkpoints: %s\n", cyan(cfg.Path))
		if cfg.DryRun {
			fmt.Printf("  Mode: %s\n", cyan("dry-run"))
		} else {
			fmt.Printf("  Stream: %s on %s\n", cyan(cfg.Stream), cyan(cfg.RedisURL))
		}

		if err := orch.Run(ctx); err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down")
				os.Exit(exitInterrupted)
			}
			fatal("%v", err)
		}
	},
}

// applyMonitorFlags overrides file/default values with flags the user set.
func applyMonitorFlags(cmd *cobra.Command, cfg *config.Monitor) {
	flags := cmd.Flags()
	if flags.Changed("path") {
		cfg.Path = monitorPath
	}
	if flags.Changed("repositories") {
		cfg.Repositories = monitorRepos
	}
	if flags.Changed("redis-url") {
		cfg.RedisURL = monitorRedisURL
	}
	if flags.Changed("stream") {
		cfg.Stream = monitorStream
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = monitorDryRun
	}
	if flags.Changed("updated-since") {
		cfg.UpdatedSince = monitorSince
	}
	if flags.Changed("monitor-issues") {
		cfg.MonitorIssues = monitorIssues
	}
	if flags.Changed("monitor-issue-comments") {
		cfg.MonitorIssueComments = monitorIssueComms
	}
	if flags.Changed("monitor-pr-comments") {
		cfg.MonitorPRComments = monitorPRComms
	}
	if flags.Changed("active-only") {
		cfg.ActiveOnly = monitorActiveOnly
	}
	if flags.Changed("interval") {
		cfg.Interval = monitorInterval
	}
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorConfigFile, "config", "", "YAML config file")
	monitorCmd.Flags().StringVar(&monitorToken, "token", "", "GitHub token (defaults to GITHUB_TOKEN)")
	monitorCmd.Flags().StringVar(&monitorPath, "path", "", "Checkpoint tree base path")
	monitorCmd.Flags().StringSliceVar(&monitorRepos, "repositories", nil, "Repositories to monitor (owner/repo, repeatable); defaults to those in the checkpoint tree")
	monitorCmd.Flags().StringVar(&monitorRedisURL, "redis-url", "redis://localhost:6379", "Redis connection URL")
	monitorCmd.Flags().StringVar(&monitorStream, "stream", "github_events", "Redis stream to publish to")
	monitorCmd.Flags().BoolVar(&monitorDryRun, "dry-run", false, "Detect and log changes without publishing or writing checkpoints")
	monitorCmd.Flags().StringVar(&monitorSince, "updated-since", "", "Bound a repository's first scan (RFC3339)")
	monitorCmd.Flags().BoolVar(&monitorIssues, "monitor-issues", true, "Monitor issue and PR changes")
	monitorCmd.Flags().BoolVar(&monitorIssueComms, "monitor-issue-comments", true, "Monitor new issue comments")
	monitorCmd.Flags().BoolVar(&monitorPRComms, "monitor-pr-comments", true, "Monitor new PR comments")
	monitorCmd.Flags().BoolVar(&monitorActiveOnly, "active-only", true, "Only check comments on entities with the active marker")
	monitorCmd.Flags().StringVar(&monitorInterval, "interval", "", "Loop at this cadence (e.g. 5m, 1h30m); empty runs one cycle")
}
