package eventbus

import "testing"

func TestPublishFiltersByPrefix(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe("", 4)
	defer unsubAll()
	notif, unsubNotif := b.Subscribe("notifier.", 4)
	defer unsubNotif()

	b.Publish(Event{Type: "plugin.enabled"})
	b.Publish(Event{Type: "notifier.sent"})

	if got := len(all); got != 2 {
		t.Fatalf("catch-all subscriber got %d events, want 2", got)
	}
	if got := len(notif); got != 1 {
		t.Fatalf("prefix subscriber got %d events, want 1", got)
	}
	e := <-notif
	if e.Type != "notifier.sent" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped, must not block

	if got := len(ch); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}
	unsub()
	unsub() // idempotent
	b.Publish(Event{Type: "c"})
}
