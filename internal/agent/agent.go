// Package agent invokes the claude CLI with a template-driven prompt and
// renders its stream-json output. Invocation is a best-effort side task:
// failures are reported to the caller for logging but never abort the event
// that triggered them.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Installed reports whether the claude CLI is available on PATH.
func Installed() bool {
	cmd := exec.Command("claude", "--help")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}

// Invocation describes one claude run triggered by an event.
type Invocation struct {
	BasePath     string
	Repository   string
	Number       string
	TemplatePath string

	// Verbose passes the raw CLI output through instead of rendering the
	// stream-json lines.
	Verbose bool

	Stdout io.Writer
	Stderr io.Writer
}

// BuildPrompt composes the prompt sent to claude: the fixed variable
// preamble followed by the template body. Handlers rely on these exact
// variable names inside their templates.
func BuildPrompt(basePath, repository, number, template string) string {
	return fmt.Sprintf("REPOSITORY=%s NUMBER=%s BASE_DIR=%s\n\n%s", repository, number, basePath, template)
}

// Run reads the template and invokes claude with the composed prompt.
// invoked is false when the template is empty — an existing-but-empty
// template is the explicit "ignore this event" signal and is skipped without
// error. A launch failure or non-zero exit is returned as an error.
func Run(ctx context.Context, inv Invocation) (invoked bool, err error) {
	template, err := os.ReadFile(inv.TemplatePath)
	if err != nil {
		return false, fmt.Errorf("reading template: %w", err)
	}
	if strings.TrimSpace(string(template)) == "" {
		return false, nil
	}

	if inv.Stdout == nil {
		inv.Stdout = os.Stdout
	}
	if inv.Stderr == nil {
		inv.Stderr = os.Stderr
	}

	prompt := BuildPrompt(inv.BasePath, inv.Repository, inv.Number, string(template))
	cmd := exec.CommandContext(ctx, "claude",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--allowed-tools", "SlashCommand",
		"-p", prompt,
	)

	if inv.Verbose {
		cmd.Stdout = inv.Stdout
		cmd.Stderr = inv.Stderr
		if err := cmd.Run(); err != nil {
			return true, fmt.Errorf("claude exited: %w", err)
		}
		return true, nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, fmt.Errorf("creating stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("starting claude: %w", err)
	}

	renderStream(stdout, inv.Stdout)

	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return true, fmt.Errorf("claude exited: %w: %s", err, msg)
		}
		return true, fmt.Errorf("claude exited: %w", err)
	}
	return true, nil
}
