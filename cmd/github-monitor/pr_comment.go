package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TomzxCode/github-monitor/internal/ghclient"
)

var (
	prCommentToken string
	prCommentRepo  string
	prCommentPR    int
	prCommentBody  string
	prCommentFile  string
	prCommentLine  int
	prCommentEvent string
)

var prCommentCmd = &cobra.Command{
	Use:   "pr-comment",
	Short: "Post a comment or review comment on a pull request",
	Long: `Post a comment on a pull request. Without --file the comment is a general
PR comment; with --file and --line it becomes a review comment on that line,
left pending unless --event submits the review.

Example:
  github-monitor pr-comment --repo owner/repo --pr 42 --body "Looks good"
  github-monitor pr-comment --repo owner/repo --pr 42 --file main.go --line 10 \
      --body "This leaks the handle" --event REQUEST_CHANGES`,
	Run: func(cmd *cobra.Command, args []string) {
		if prCommentRepo == "" || prCommentPR == 0 || prCommentBody == "" {
			fatal("--repo, --pr and --body are required")
		}
		if prCommentFile == "" && prCommentLine != 0 {
			fatal("--line requires --file")
		}
		if prCommentFile != "" && prCommentLine == 0 {
			fatal("--file requires --line")
		}
		switch prCommentEvent {
		case "", "APPROVE", "REQUEST_CHANGES", "COMMENT":
		default:
			fatal("--event must be APPROVE, REQUEST_CHANGES or COMMENT")
		}
		if prCommentEvent != "" && prCommentFile == "" {
			fatal("--event only applies to review comments (--file/--line)")
		}

		client, err := ghclient.New(resolveToken(prCommentToken))
		if err != nil {
			fatal("%v", err)
		}

		ctx := cmd.Context()
		var result ghclient.CommentResult
		if prCommentFile != "" {
			result, err = client.AddReviewComment(ctx, prCommentRepo, prCommentPR,
				prCommentFile, prCommentLine, prCommentBody, prCommentEvent)
		} else {
			result, err = client.AddPRComment(ctx, prCommentRepo, prCommentPR, prCommentBody)
		}
		if err != nil {
			fatal("%v", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s Comment posted on %s#%d\n", green("✓"), prCommentRepo, prCommentPR)
		if result.URL != "" {
			fmt.Printf("  %s\n", cyan(result.URL))
		}
		if result.State != "" {
			fmt.Printf("  Review state: %s\n", cyan(result.State))
		}
	},
}

func init() {
	rootCmd.AddCommand(prCommentCmd)
	prCommentCmd.Flags().StringVar(&prCommentToken, "token", "", "GitHub token (defaults to GITHUB_TOKEN)")
	prCommentCmd.Flags().StringVar(&prCommentRepo, "repo", "", "Repository (owner/repo)")
	prCommentCmd.Flags().IntVar(&prCommentPR, "pr", 0, "Pull request number")
	prCommentCmd.Flags().StringVar(&prCommentBody, "body", "", "Comment body")
	prCommentCmd.Flags().StringVar(&prCommentFile, "file", "", "File path for a review comment")
	prCommentCmd.Flags().IntVar(&prCommentLine, "line", 0, "Line number for a review comment")
	prCommentCmd.Flags().StringVar(&prCommentEvent, "event", "", "Submit the review: APPROVE, REQUEST_CHANGES or COMMENT")
}
