package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type logChannel struct {
	logger *slog.Logger
}

func (c *logChannel) Name() string { return "log" }

func (c *logChannel) Send(_ context.Context, ev Event) error {
	c.logger.Info("notification",
		"event", ev.Type,
		"session_id", ev.SessionID,
		"phase", ev.Phase,
		"iteration", ev.Iteration,
		"message", ev.Message)
	return nil
}

// webhookChannel posts to an HTTP endpoint. Slack and Discord get their
// native message shape; plain webhooks get the event itself.
type webhookChannel struct {
	kind   string
	url    string
	client *http.Client
}

func (c *webhookChannel) Name() string { return c.kind }

func (c *webhookChannel) body(ev Event) ([]byte, error) {
	switch c.kind {
	case "slack":
		return json.Marshal(map[string]string{"text": ev.Text()})
	case "discord":
		return json.Marshal(map[string]string{"content": ev.Text()})
	default:
		return json.Marshal(ev)
	}
}

// Send retries connection failures and 5xx/429 responses with exponential
// backoff until ctx expires. Other 4xx responses are not retried.
func (c *webhookChannel) Send(ctx context.Context, ev Event) error {
	data, err := c.body(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Loopkeeper-Event", string(ev.Type))

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s request failed: %w", c.kind, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err = fmt.Errorf("%s returned status %d: %s", c.kind, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// commandChannel runs a shell command with the event JSON on stdin.
type commandChannel struct {
	command string
}

func (c *commandChannel) Name() string { return "command" }

func (c *commandChannel) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Env = append(cmd.Environ(),
		"LOOPKEEPER_EVENT="+string(ev.Type),
		"LOOPKEEPER_MESSAGE="+ev.Message,
		"LOOPKEEPER_SESSION_ID="+ev.SessionID)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
