// Package hook speaks the agent host's hook protocol: one JSON object on
// stdin describing the event, one JSON object on stdout with the verdict.
package hook

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/iambrandonn/loopkeeper/internal/loop"
	"github.com/iambrandonn/loopkeeper/internal/ndjson"
)

// MaxInputBytes bounds the event read from stdin.
const MaxInputBytes = 1 << 20

// Event names the host sends.
const (
	EventStop         = "Stop"
	EventSessionStart = "SessionStart"
	EventSessionEnd   = "SessionEnd"
)

// Input is the event payload on stdin.
type Input struct {
	HookEventName  string `json:"hook_event_name"`
	SessionID      string `json:"session_id"`
	Cwd            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	StopHookActive bool   `json:"stop_hook_active,omitempty"`
}

// Output is the verdict on stdout. Decision "block" keeps the agent working
// with Reason as its next instruction; otherwise Continue lets it stop.
type Output struct {
	Decision      string `json:"decision,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Continue      bool   `json:"continue,omitempty"`
	SystemMessage string `json:"systemMessage,omitempty"`
}

// ReadInput decodes one event from r. Empty input yields a zero Input so
// that a misconfigured host still gets a verdict.
func ReadInput(r io.Reader) (*Input, error) {
	dec := json.NewDecoder(io.LimitReader(r, MaxInputBytes))
	var in Input
	if err := dec.Decode(&in); err != nil {
		if err == io.EOF {
			return &in, nil
		}
		return nil, fmt.Errorf("failed to parse hook input: %w", err)
	}
	return &in, nil
}

// FromDecision maps the loop's verdict onto the wire shape.
func FromDecision(d *loop.Decision) Output {
	switch {
	case d == nil:
		return Allow("")
	case d.Block:
		return Output{Decision: "block", Reason: d.Reason}
	default:
		return Allow(d.Summary)
	}
}

// Allow lets the agent stop, optionally showing message to the user.
func Allow(message string) Output {
	return Output{Continue: true, SystemMessage: message}
}

// Write encodes out as a single line.
func Write(w io.Writer, out Output, logger *slog.Logger) error {
	return ndjson.NewEncoder(w, logger).Encode(out)
}
