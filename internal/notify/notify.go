// Package notify fans lifecycle events out to the configured channels.
//
// Delivery is best effort. Each channel runs in its own goroutine with its
// own timeout, and the whole dispatch is bounded as well; whatever has not
// finished by then is abandoned and reported as such. Nothing here ever
// fails the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iambrandonn/loopkeeper/internal/config"
)

// EventType names a lifecycle event.
type EventType string

const (
	SessionStart    EventType = "session-start"
	SessionStop     EventType = "session-stop"
	SessionEnd      EventType = "session-end"
	AskUserQuestion EventType = "ask-user-question"
)

// EventTypes lists every event in the order they usually occur.
var EventTypes = []EventType{SessionStart, AskUserQuestion, SessionStop, SessionEnd}

// ParseEventType validates a user-supplied event name.
func ParseEventType(s string) (EventType, error) {
	if slices.Contains(EventTypes, EventType(s)) {
		return EventType(s), nil
	}
	return "", fmt.Errorf("unknown event %q (want one of %v)", s, EventTypes)
}

// Event is the payload every channel receives.
type Event struct {
	Type          EventType `json:"event"`
	SessionID     string    `json:"sessionId,omitempty"`
	ProjectPath   string    `json:"projectPath,omitempty"`
	Message       string    `json:"message"`
	Phase         string    `json:"phase,omitempty"`
	Iteration     int       `json:"iteration,omitempty"`
	MaxIterations int       `json:"maxIterations,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Text renders ev as a single human-readable line for chat channels.
func (ev Event) Text() string {
	s := fmt.Sprintf("[loopkeeper] %s: %s", ev.Type, ev.Message)
	if ev.MaxIterations > 0 {
		s += fmt.Sprintf(" (iteration %d/%d)", ev.Iteration, ev.MaxIterations)
	}
	if ev.ProjectPath != "" {
		s += " in " + ev.ProjectPath
	}
	if ev.Reason != "" {
		s += ": " + ev.Reason
	}
	return s
}

// Result records one channel's outcome.
type Result struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Channel delivers an event somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Dispatcher sends events to every channel in parallel.
type Dispatcher struct {
	channels        []Channel
	channelTimeout  time.Duration
	dispatchTimeout time.Duration
	logger          *slog.Logger
}

// NewDispatcher builds the channels described by cfg. A disabled
// configuration yields a dispatcher with no channels.
func NewDispatcher(cfg config.Notifications, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		channelTimeout:  cfg.ChannelTimeout,
		dispatchTimeout: cfg.DispatchTimeout,
		logger:          logger,
	}
	if !cfg.Enabled {
		return d
	}

	client := &http.Client{Timeout: cfg.ChannelTimeout}
	for _, ch := range cfg.Channels {
		switch ch.Type {
		case "log":
			d.channels = append(d.channels, &logChannel{logger: logger})
		case "webhook", "slack", "discord":
			d.channels = append(d.channels, &webhookChannel{kind: ch.Type, url: ch.URL, client: client})
		case "command":
			d.channels = append(d.channels, &commandChannel{command: ch.Command})
		default:
			logger.Warn("skipping unknown notification channel", "type", ch.Type)
		}
	}
	return d
}

// WithChannels returns a dispatcher over an explicit channel list.
func WithChannels(channelTimeout, dispatchTimeout time.Duration, logger *slog.Logger, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		channels:        channels,
		channelTimeout:  channelTimeout,
		dispatchTimeout: dispatchTimeout,
		logger:          logger,
	}
}

// Channels reports how many channels are configured.
func (d *Dispatcher) Channels() int { return len(d.channels) }

// Notify sends ev to every channel and returns one Result per channel, in
// channel order. It returns within the dispatch timeout even if some
// channels have not finished; those are reported as abandoned.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) []Result {
	if len(d.channels) == 0 {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, d.dispatchTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make([]Result, len(d.channels))
	for i, ch := range d.channels {
		results[i] = Result{Channel: ch.Name(), Error: "abandoned: dispatch timeout"}
	}

	var g errgroup.Group
	for i, ch := range d.channels {
		g.Go(func() error {
			chCtx, chCancel := context.WithTimeout(ctx, d.channelTimeout)
			defer chCancel()

			err := ch.Send(chCtx, ev)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Warn("notification failed", "channel", ch.Name(), "event", ev.Type, "error", err)
				results[i] = Result{Channel: ch.Name(), Error: err.Error()}
				return nil
			}
			results[i] = Result{Channel: ch.Name(), Success: true}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("notification dispatch timed out", "event", ev.Type, "timeout", d.dispatchTimeout)
	}

	mu.Lock()
	defer mu.Unlock()
	return slices.Clone(results)
}
