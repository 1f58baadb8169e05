package notify

import (
	"io"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbook/internal/events"
	"fleetbook/internal/models"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func sampleReservation() *models.Reservation {
	return &models.Reservation{
		ID:            7,
		VehicleName:   "Transporter 1",
		RequesterName: "M. Weber",
		Range: models.TimeRange{
			Start: time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 11, 17, 0, 0, 0, time.UTC),
		},
		Purpose:     "Kundenbesuch",
		Destination: "Hamburg",
		Status:      models.StatusPending,
	}
}

func TestFormatReservationUpdate(t *testing.T) {
	t.Run("new request", func(t *testing.T) {
		text := FormatReservationUpdate(events.TypeReservationCreated, sampleReservation(), nil)
		assert.Contains(t, text, "New reservation request")
		assert.Contains(t, text, "#7 Transporter 1")
		assert.Contains(t, text, "11.03.2025 08:00 - 11.03.2025 17:00")
		assert.Contains(t, text, "Hamburg, Kundenbesuch")
	})

	t.Run("approval with conflicts lists overlaps", func(t *testing.T) {
		r := sampleReservation()
		r.Status = models.StatusApproved
		r.ResponseNote = "override ok"
		conflicts := []models.Reservation{{
			ID: 9,
			Range: models.TimeRange{
				Start: time.Date(2025, 3, 11, 16, 0, 0, 0, time.UTC),
				End:   time.Date(2025, 3, 11, 20, 0, 0, 0, time.UTC),
			},
		}}

		text := FormatReservationUpdate(events.TypeReservationDecided, r, conflicts)
		assert.Contains(t, text, "Reservation approved")
		assert.Contains(t, text, "override ok")
		assert.Contains(t, text, "Overlaps 1 approved reservation(s)")
		assert.Contains(t, text, "#9")
	})

	t.Run("rejection", func(t *testing.T) {
		r := sampleReservation()
		r.Status = models.StatusRejected
		text := FormatReservationUpdate(events.TypeReservationDecided, r, nil)
		assert.Contains(t, text, "Reservation rejected")
	})
}

func TestNotifierDeliversBusEvents(t *testing.T) {
	sender := &fakeSender{}
	logger := zerolog.New(io.Discard)
	notifier := NewTelegramNotifier(sender, 1234, &logger)

	bus := events.NewEventBus()
	notifier.Attach(bus)

	err := bus.PublishJSON(events.TypeReservationCreated, map[string]any{
		"reservation": sampleReservation(),
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(1234), msg.ChatID)
	assert.Contains(t, msg.Text, "Transporter 1")
}
