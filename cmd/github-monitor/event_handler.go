package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/TomzxCode/github-monitor/internal/agent"
	"github.com/TomzxCode/github-monitor/internal/checkpoint"
	"github.com/TomzxCode/github-monitor/internal/config"
	"github.com/TomzxCode/github-monitor/internal/event"
	"github.com/TomzxCode/github-monitor/internal/handler"
	"github.com/TomzxCode/github-monitor/internal/stream"
)

var (
	handlerConfigFile    string
	handlerPath          string
	handlerTemplatesDir  string
	handlerRedisURL      string
	handlerStream        string
	handlerConsumerGroup string
	handlerBatchSize     int
	handlerFetchTimeout  string
	handlerAckWait       string
	handlerMaxConcurrent int
	handlerMaxAttempts   int
	handlerSkipUsers     string
	handlerRepos         string
	handlerRecreate      bool
	handlerClaudeVerbose bool
	handlerAutoConfirm   bool
)

var eventHandlerCmd = &cobra.Command{
	Use:   "event-handler",
	Short: "Consume change events and apply them to the checkpoint tree",
	Long: `Consume GitHub change events from the Redis stream and apply them:
create a directory per new issue/PR, clear the active marker on close, and
run claude with a per-event template when one is configured.

The consumer group is durable: restarting picks up where the last run
acknowledged. Messages a crashed handler left unacknowledged are reclaimed
after --ack-wait. --recreate-consumer drops the group and reprocesses the
whole stream.

Example:
  github-monitor event-handler --path ~/issues --templates-dir ~/templates
  github-monitor event-handler --path ~/issues --skip-users '.*\[bot\]$'`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.DefaultHandler()
		if handlerConfigFile != "" {
			if err := config.Load(handlerConfigFile, &cfg); err != nil {
				fatal("%v", err)
			}
		}
		applyHandlerFlags(cmd, &cfg)

		if cfg.Path == "" {
			fatal("a checkpoint path is required: pass --path or set path in the config file")
		}

		fetchTimeout, err := config.ParseDuration(cfg.FetchTimeout)
		if err != nil {
			fatal("invalid --fetch-timeout: %v", err)
		}
		ackWait, err := config.ParseDuration(cfg.AckWait)
		if err != nil {
			fatal("invalid --ack-wait: %v", err)
		}

		var skipUsers, repoFilter *regexp.Regexp
		if cfg.SkipUsers != "" {
			if skipUsers, err = regexp.Compile(cfg.SkipUsers); err != nil {
				fatal("invalid --skip-users pattern: %v", err)
			}
		}
		if cfg.Repositories != "" {
			if repoFilter, err = regexp.Compile(cfg.Repositories); err != nil {
				fatal("invalid --repositories pattern: %v", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			fatal("invalid redis URL %q: %v", cfg.RedisURL, err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			fatal("cannot reach Redis at %s: %v", cfg.RedisURL, err)
		}

		logger := slog.Default()
		consumerName := "handler-" + uuid.NewString()[:8]
		consumer, err := stream.NewConsumer(ctx, rdb, stream.ConsumerConfig{
			Stream:      cfg.Stream,
			Group:       cfg.ConsumerGroup,
			Consumer:    consumerName,
			BatchSize:   int64(cfg.BatchSize),
			Block:       fetchTimeout,
			MaxAttempts: cfg.MaxAttempts,
		}, cfg.RecreateConsumer, logger)
		if err != nil {
			fatal("%v", err)
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		if !agent.Installed() {
			fmt.Fprintf(os.Stderr, "%s claude CLI not found on PATH; template pipelines will fail\n", yellow("!"))
		}

		var confirm handler.ConfirmFunc
		if !cfg.AutoConfirm {
			confirm = promptConfirm
		}

		store := checkpoint.NewStore(cfg.Path)
		h := handler.New(store, handler.Config{
			TemplatesDir:  cfg.TemplatesDir,
			SkipUsers:     skipUsers,
			Repositories:  repoFilter,
			ClaudeVerbose: cfg.ClaudeVerbose,
		}, nil, confirm, logger)

		loop := stream.NewLoop(consumer, h.Process, stream.LoopConfig{
			MaxConcurrent: int64(cfg.MaxConcurrent),
		}, logger)

		reclaimer := stream.NewReclaimer(rdb, stream.ReclaimerConfig{
			Stream:    cfg.Stream,
			Group:     cfg.ConsumerGroup,
			Consumer:  consumerName,
			MinIdle:   ackWait,
			Interval:  time.Minute,
			BatchSize: int64(cfg.BatchSize),
		}, loop.Dispatch, logger)
		go reclaimer.Run(ctx)

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s Handling events as %s\n", green("✓"), cyan(consumerName))
		fmt.Printf("  Stream: %s group %s\n", cyan(cfg.Stream), cyan(cfg.ConsumerGroup))
		fmt.Printf("  Checkpoints: %s\n", cyan(cfg.Path))
		if pending, err := consumer.Pending(ctx); err == nil && pending > 0 {
			fmt.Printf("  Pending messages: %s\n", cyan(fmt.Sprint(pending)))
		}

		if err := loop.Run(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down")
			os.Exit(exitInterrupted)
		}
	},
}

// promptConfirm asks on the terminal before each claude invocation.
func promptConfirm(ev event.Event, templatePath string) bool {
	prompt := fmt.Sprintf("Run claude for %s#%s with %s? [y/N] ",
		ev.Repository, ev.Number, filepath.Base(templatePath))
	rl, err := readline.New(prompt)
	if err != nil {
		return false
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func applyHandlerFlags(cmd *cobra.Command, cfg *config.Handler) {
	flags := cmd.Flags()
	if flags.Changed("path") {
		cfg.Path = handlerPath
	}
	if flags.Changed("templates-dir") {
		cfg.TemplatesDir = handlerTemplatesDir
	}
	if flags.Changed("redis-url") {
		cfg.RedisURL = handlerRedisURL
	}
	if flags.Changed("stream") {
		cfg.Stream = handlerStream
	}
	if flags.Changed("consumer-group") {
		cfg.ConsumerGroup = handlerConsumerGroup
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = handlerBatchSize
	}
	if flags.Changed("fetch-timeout") {
		cfg.FetchTimeout = handlerFetchTimeout
	}
	if flags.Changed("ack-wait") {
		cfg.AckWait = handlerAckWait
	}
	if flags.Changed("max-concurrent") {
		cfg.MaxConcurrent = handlerMaxConcurrent
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = handlerMaxAttempts
	}
	if flags.Changed("skip-users") {
		cfg.SkipUsers = handlerSkipUsers
	}
	if flags.Changed("repositories") {
		cfg.Repositories = handlerRepos
	}
	if flags.Changed("recreate-consumer") {
		cfg.RecreateConsumer = handlerRecreate
	}
	if flags.Changed("claude-verbose") {
		cfg.ClaudeVerbose = handlerClaudeVerbose
	}
	if flags.Changed("auto-confirm") {
		cfg.AutoConfirm = handlerAutoConfirm
	}
}

func init() {
	rootCmd.AddCommand(eventHandlerCmd)
	eventHandlerCmd.Flags().StringVar(&handlerConfigFile, "config", "", "YAML config file")
	eventHandlerCmd.Flags().StringVar(&handlerPath, "path", "", "Checkpoint tree base path")
	eventHandlerCmd.Flags().StringVar(&handlerTemplatesDir, "templates-dir", "", "Directory of per-event claude templates")
	eventHandlerCmd.Flags().StringVar(&handlerRedisURL, "redis-url", "redis://localhost:6379", "Redis connection URL")
	eventHandlerCmd.Flags().StringVar(&handlerStream, "stream", "github_events", "Redis stream to consume")
	eventHandlerCmd.Flags().StringVar(&handlerConsumerGroup, "consumer-group", "github-event-handler", "Durable consumer group name")
	eventHandlerCmd.Flags().IntVar(&handlerBatchSize, "batch-size", 10, "Messages per fetch")
	eventHandlerCmd.Flags().StringVar(&handlerFetchTimeout, "fetch-timeout", "5s", "How long one fetch waits for messages")
	eventHandlerCmd.Flags().StringVar(&handlerAckWait, "ack-wait", "5m", "Idle time before an unacknowledged message is reclaimed")
	eventHandlerCmd.Flags().IntVar(&handlerMaxConcurrent, "max-concurrent", 5, "Handlers running at once; 1 is strict FIFO")
	eventHandlerCmd.Flags().IntVar(&handlerMaxAttempts, "max-attempts", 3, "Delivery attempts before a message is dead-lettered")
	eventHandlerCmd.Flags().StringVar(&handlerSkipUsers, "skip-users", "", "Regex of authors whose events are ignored")
	eventHandlerCmd.Flags().StringVar(&handlerRepos, "repositories", "", "Regex of repositories to handle; others are acked and skipped")
	eventHandlerCmd.Flags().BoolVar(&handlerRecreate, "recreate-consumer", false, "Drop and recreate the consumer group, reprocessing the whole stream")
	eventHandlerCmd.Flags().BoolVar(&handlerClaudeVerbose, "claude-verbose", false, "Pass raw claude output through instead of rendering it")
	eventHandlerCmd.Flags().BoolVar(&handlerAutoConfirm, "auto-confirm", false, "Run claude without prompting")
}
