// Package notify pushes reservation updates to the dispatcher Telegram chat.
// Delivery is best-effort; the repository stays authoritative regardless of
// notification outcome.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"fleetbook/internal/events"
	"fleetbook/internal/models"
)

// Sender is the minimal Telegram surface used here, extracted so tests can
// stub delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier forwards domain events to one dispatcher chat, paced to
// stay under the Bot API flood limits.
type TelegramNotifier struct {
	sender  Sender
	chatID  int64
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewTelegramNotifier(sender Sender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		chatID: chatID,
		// Telegram allows roughly 20 messages per second per bot.
		limiter: rate.NewLimiter(rate.Every(time.Second/20), 5),
		logger:  logger,
	}
}

// NewBot dials the Bot API with the given token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return bot, nil
}

// Attach subscribes the notifier to the reservation events on the bus.
func (n *TelegramNotifier) Attach(bus *events.EventBus) {
	bus.Subscribe(events.TypeReservationCreated, n.handleEvent)
	bus.Subscribe(events.TypeReservationDecided, n.handleEvent)
	bus.Subscribe(events.TypeReservationRescheduled, n.handleEvent)
}

type eventPayload struct {
	Reservation *models.Reservation  `json:"reservation"`
	Conflicts   []models.Reservation `json:"conflicts,omitempty"`
}

func (n *TelegramNotifier) handleEvent(event events.Event) error {
	var payload eventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		n.logger.Error().Err(err).Str("event", event.Type).Msg("unreadable event payload")
		return err
	}
	if payload.Reservation == nil {
		return nil
	}

	text := FormatReservationUpdate(event.Type, payload.Reservation, payload.Conflicts)
	return n.send(context.Background(), text)
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", n.chatID).Msg("telegram send failed")
		return err
	}
	return nil
}

// FormatReservationUpdate renders one event as a plain-text chat message.
func FormatReservationUpdate(eventType string, r *models.Reservation, conflicts []models.Reservation) string {
	var b strings.Builder

	switch eventType {
	case events.TypeReservationCreated:
		if r.IsAdminDirect {
			b.WriteString("🚐 Direct booking created\n")
		} else {
			b.WriteString("🆕 New reservation request\n")
		}
	case events.TypeReservationDecided:
		switch r.Status {
		case models.StatusApproved:
			b.WriteString("✅ Reservation approved\n")
		case models.StatusRejected:
			b.WriteString("❌ Reservation rejected\n")
		}
	case events.TypeReservationRescheduled:
		b.WriteString("🔁 Reservation rescheduled\n")
	}

	fmt.Fprintf(&b, "#%d %s\n", r.ID, r.VehicleName)
	fmt.Fprintf(&b, "👤 %s", r.RequesterName)
	if r.RequesterDepartment != "" {
		fmt.Fprintf(&b, " (%s)", r.RequesterDepartment)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "🕑 %s - %s\n",
		r.Range.Start.Format("02.01.2006 15:04"),
		r.Range.End.Format("02.01.2006 15:04"))
	fmt.Fprintf(&b, "📍 %s, %s", r.Destination, r.Purpose)
	if r.ResponseNote != "" {
		fmt.Fprintf(&b, "\n💬 %s", r.ResponseNote)
	}

	if len(conflicts) > 0 {
		fmt.Fprintf(&b, "\n⚠️ Overlaps %d approved reservation(s):", len(conflicts))
		for _, c := range conflicts {
			fmt.Fprintf(&b, "\n  • #%d %s - %s",
				c.ID,
				c.Range.Start.Format("02.01 15:04"),
				c.Range.End.Format("02.01 15:04"))
		}
	}

	return b.String()
}
