// Package notifier delivers small operator-facing notifications.
//
// Plugins hand a Notification to Service.Notify, which queues it and returns
// immediately. A worker pool drains the queue, applies a token-bucket rate
// limit and a short dedup window, and fans each notification out to the
// configured sinks (log, message store, Telegram) with retry.
//
// # History
//
// The service keeps a small in-memory history of delivered notifications
// for the /api/v1/notifications endpoint.
package notifier
