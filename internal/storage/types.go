package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. Empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Message is one persisted site message.
type Message struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Plugin string    `json:"plugin,omitempty"`
	Title  string    `json:"title"`
	Text   string    `json:"text"`
}

// Store is the persistence API used by the notifier and the HTTP API.
type Store interface {
	AppendMessage(ctx context.Context, m Message) error
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, limit int) ([]Message, error)
	Close() error
}
