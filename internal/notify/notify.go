// Package notify pushes run summaries to chat channels. Notifiers attach
// to the event bus and fire on run_complete; they never block a run and a
// delivery failure is logged, not retried.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/matchpilot/matchpilot/internal/bus"
	"github.com/matchpilot/matchpilot/internal/config"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

const sendTimeout = 15 * time.Second

// Sender delivers one plain-text message to a channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Notifier fans run summaries out to the configured senders.
type Notifier struct {
	senders []Sender
}

// New builds a notifier from config. Channels without a token are skipped;
// an empty notifier is valid and does nothing.
func New(cfg config.NotifyConfig) *Notifier {
	n := &Notifier{}

	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		tg, err := NewTelegram(cfg.Telegram)
		if err != nil {
			slog.Warn("telegram notifier disabled", "error", err)
		} else {
			n.senders = append(n.senders, tg)
		}
	}

	if cfg.Discord.Token != "" && cfg.Discord.ChannelID != "" {
		dc, err := NewDiscord(cfg.Discord)
		if err != nil {
			slog.Warn("discord notifier disabled", "error", err)
		} else {
			n.senders = append(n.senders, dc)
		}
	}

	return n
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Attach subscribes to the bus and notifies on run completion. Delivery
// runs in its own goroutine so bus broadcast never waits on a chat API.
func (n *Notifier) Attach(pub bus.EventPublisher) {
	if !n.Enabled() {
		return
	}
	pub.Subscribe("notify", func(event bus.Event) {
		if event.Name != protocol.EventRunComplete {
			return
		}
		text := FormatSummary(event.Payload)
		go n.send(text)
	})
}

// Detach removes the bus subscription.
func (n *Notifier) Detach(pub bus.EventPublisher) {
	pub.Unsubscribe("notify")
}

func (n *Notifier) send(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for _, s := range n.senders {
		if err := s.Send(ctx, text); err != nil {
			slog.Warn("notification failed", "channel", s.Name(), "error", err)
		}
	}
}

// FormatSummary renders a run_complete payload as a short message. The
// metric counters arrive nested under "counters"; top-level fields win
// when both are present.
func FormatSummary(payload interface{}) string {
	fields, _ := payload.(map[string]interface{})

	var counters map[string]int64
	if fields != nil {
		counters, _ = fields["counters"].(map[string]int64)
	}

	get := func(key string) interface{} {
		if fields == nil {
			return "?"
		}
		if v, ok := fields[key]; ok {
			return v
		}
		if v, ok := counters[key]; ok {
			return v
		}
		return 0
	}

	return fmt.Sprintf(
		"matchpilot run %v finished (%v)\nsent: %v  failed: %v\nyes/no/error: %v/%v/%v  duplicates: %v",
		get("run_id"), get("reason"),
		get("sent"), get("send_failed"),
		get("decisions_yes"), get("decisions_no"), get("decisions_error"),
		get("duplicates"),
	)
}
