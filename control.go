package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
)

const (
	// MessageCacheCleanup runs the retention sweep.
	MessageCacheCleanup = "CACHE_CLEANUP"
	// MessageCacheClear empties all caches of the deployed version.
	MessageCacheClear = "CACHE_CLEAR"
)

// Message is an out-of-band control message.
type Message struct {
	Type string `json:"type"`
}

// HandleMessage executes a control message. Unknown message types are ignored.
func (e *Engine) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageCacheCleanup:
		_, err := e.Cleanup(ctx)
		return err
	case MessageCacheClear:
		return e.clear(ctx)
	default:
		e.log.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
		return nil
	}
}

// clear deletes and recreates the caches of the deployed version.
func (e *Engine) clear(ctx context.Context) error {
	var errs []error
	for _, logical := range logicalCaches {
		name := e.names.Physical(logical)
		if _, err := e.store.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		if _, err := e.store.Open(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", name, err))
		}
	}
	e.log.Info().Int("failed", len(errs)).Msg("Cleared caches")
	return errors.Join(errs...)
}

// Notifier displays notifications to the user.
type Notifier interface {
	Show(title, body string) error
	Navigate(url string) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Show(title, body string) error {
	n.Logger.Info().Str("title", title).Str("body", body).Msg("Notification")
	return nil
}

func (n LogNotifier) Navigate(url string) error {
	n.Logger.Info().Str("url", url).Msg("Navigate")
	return nil
}

// Notification is the payload of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Push shows the notification contained in the JSON payload.
func (e *Engine) Push(payload []byte) error {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return fmt.Errorf("invalid push payload: %w", err)
	}
	return e.notifier.Show(n.Title, n.Body)
}

// NotificationClick opens the site root.
func (e *Engine) NotificationClick() error {
	return e.notifier.Navigate(e.origin.ResolveReference(&url.URL{Path: "/"}).String())
}
