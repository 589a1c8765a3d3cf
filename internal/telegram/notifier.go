// Package telegram forwards monitor alerts to a Telegram chat. It is
// send-only; the swarm takes no commands from the chat.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/monitor"
)

const sendTimeout = 10 * time.Second

type Notifier struct {
	bot    *telego.Bot
	chatID int64
}

func NewNotifier(cfg config.TelegramConfig) (*Notifier, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: cfg.ChatID}, nil
}

// Notify sends one alert to the configured chat. It satisfies the
// monitor's Notifier interface.
func (n *Notifier) Notify(a monitor.Alert) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return n.send(ctx, formatAlert(a))
}

func (n *Notifier) send(ctx context.Context, text string) error {
	for _, chunk := range chunkMessage(text, 4096) {
		msg := tu.Message(tu.ID(n.chatID), chunk)
		if _, err := n.bot.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func formatAlert(a monitor.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s\n", severityBadge(a.Severity), strings.ToUpper(a.Severity), a.Title)
	if a.AgentName != "" {
		fmt.Fprintf(&b, "agent: %s\n", a.AgentName)
	}
	if a.Description != "" {
		b.WriteString(a.Description)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "type: %s at %s", a.Type, a.Timestamp.Format(time.RFC3339))
	return b.String()
}

func severityBadge(severity string) string {
	switch severity {
	case monitor.SeverityCritical:
		return "\U0001F6A8"
	case monitor.SeverityError:
		return "❌"
	case monitor.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
