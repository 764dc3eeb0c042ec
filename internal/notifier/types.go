package notifier

import (
	"context"
	"time"
)

// Kind classifies a notification. Sinks may choose to handle only some kinds.
type Kind string

const KindSiteMessage Kind = "site_message"

type Notification struct {
	Kind   Kind
	Plugin string
	Title  string
	Text   string
	At     time.Time
}

// Sink delivers one notification to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	Kind   Kind      `json:"kind"`
	Plugin string    `json:"plugin,omitempty"`
	Title  string    `json:"title"`
	Text   string    `json:"text"`
}

// NotificationEvent is published on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Kind   Kind      `json:"kind"`
	Plugin string    `json:"plugin,omitempty"`
	Sink   string    `json:"sink,omitempty"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
	EventDeduped = "notifier.deduped"
)
