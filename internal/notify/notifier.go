// Package notify pushes operator alerts to chat channels. Every configured
// sender receives every alert that passes the event filter, so a broken
// channel never silences the others.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Event names emitted by the trading loops. The notify.events config list is
// matched against these strings.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventCycleError     = "cycle_error"
	EventLeaderboard    = "leaderboard"
)

// senderTimeout bounds a single chat API call.
const senderTimeout = 10 * time.Second

// Sender delivers one alert to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs ("telegram", "discord").
	Name() string
}

// Notifier fans alerts out to every configured Sender. Alerts carry an event
// name; only events the operator subscribed to are delivered. An empty
// subscription list means everything.
type Notifier struct {
	senders    []Sender
	subscribed map[string]struct{}
	logger     *slog.Logger
}

// NewNotifier builds a Notifier over the given senders. events is the
// operator's subscription list; nil or empty subscribes to all events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	subs := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			subs[e] = struct{}{}
		}
	}
	return &Notifier{
		senders:    senders,
		subscribed: subs,
		logger:     logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to all senders if the operator subscribed to the
// event. Unsubscribed events are dropped silently.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.subscribed) > 0 {
		if _, ok := n.subscribed[event]; !ok {
			n.logger.DebugContext(ctx, "event not subscribed",
				slog.String("event", event),
			)
			return nil
		}
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers the alert to all senders, ignoring the subscription list.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender and joins their failures, so one broken channel
// never blocks the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// postJSON sends a JSON body to a chat API endpoint and checks for a 2xx
// response. Shared by the concrete senders.
func postJSON(ctx context.Context, client *http.Client, url, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(detail))
	}
	return nil
}
