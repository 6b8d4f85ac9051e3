package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// streamLine is one stream-json line emitted by the claude CLI. Only the
// fields the renderer surfaces are decoded.
type streamLine struct {
	Type           string   `json:"type"`
	Subtype        string   `json:"subtype"`
	Model          string   `json:"model"`
	PermissionMode string   `json:"permissionMode"`
	Tools          []string `json:"tools"`
	SlashCommands  []string `json:"slash_commands"`
	Message        struct {
		ID      string `json:"id"`
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

// renderStream reads stream-json lines and writes a human-readable
// transcript: session metadata from the init event, assistant text as it
// streams, and tool invocations with their inputs. Lines that are not valid
// JSON are skipped.
func renderStream(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lastMessageID string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev streamLine
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}

		switch {
		case ev.Type == "system" && ev.Subtype == "init":
			if ev.Model != "" {
				fmt.Fprintf(w, "Model: %s\n", ev.Model)
			}
			if ev.PermissionMode != "" {
				fmt.Fprintf(w, "Permission mode: %s\n\n", ev.PermissionMode)
			}
			if len(ev.Tools) > 0 {
				fmt.Fprintf(w, "Available tools: %s\n\n", strings.Join(ev.Tools, ", "))
			}
			if len(ev.SlashCommands) > 0 {
				fmt.Fprintf(w, "Available slash commands: %s\n\n", strings.Join(ev.SlashCommands, ", "))
			}

		case ev.Type == "assistant":
			if lastMessageID != "" && ev.Message.ID != lastMessageID {
				fmt.Fprintln(w)
			}
			lastMessageID = ev.Message.ID

			for _, item := range ev.Message.Content {
				switch item.Type {
				case "text":
					fmt.Fprint(w, item.Text)
				case "tool_use":
					name := item.Name
					if name == "" {
						name = "unknown"
					}
					fmt.Fprintf(w, "\n[Tool: %s]\n", name)
					if len(item.Input) > 0 && string(item.Input) != "null" && string(item.Input) != "{}" {
						var pretty bytes.Buffer
						if err := json.Indent(&pretty, item.Input, "", "  "); err == nil {
							fmt.Fprintf(w, "Input: %s\n", pretty.String())
						}
					}
				}
			}
		}
	}
	fmt.Fprintln(w)
}
