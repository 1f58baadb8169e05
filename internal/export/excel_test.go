package export

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"fleetbook/internal/models"
)

type stubSource struct {
	list []models.Reservation
	now  time.Time
}

func (s *stubSource) List(_ context.Context) ([]models.Reservation, error) {
	return s.list, nil
}

func (s *stubSource) Partition(list []models.Reservation) (current, archived []models.Reservation) {
	for _, r := range list {
		if r.IsArchived(s.now) {
			archived = append(archived, r)
		} else {
			current = append(current, r)
		}
	}
	return current, archived
}

func TestWriteLedger(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	decided := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)

	source := &stubSource{
		now: now,
		list: []models.Reservation{
			{
				ID:            1,
				VehicleName:   "Transporter 1",
				RequesterName: "M. Weber",
				Range: models.TimeRange{
					Start: time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC),
					End:   time.Date(2025, 3, 11, 17, 0, 0, 0, time.UTC),
				},
				Purpose:      "Kundenbesuch",
				Destination:  "Hamburg",
				Status:       models.StatusApproved,
				RespondedAt:  &decided,
				ResponseNote: "ok",
				CreatedAt:    decided,
			},
			{
				ID:            2,
				VehicleName:   "Kombi",
				RequesterName: "L. Fischer",
				Range: models.TimeRange{
					Start: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
					End:   time.Date(2025, 3, 1, 17, 0, 0, 0, time.UTC),
				},
				Status:        models.StatusApproved,
				IsAdminDirect: true,
				CreatedAt:     decided,
			},
		},
	}

	logger := zerolog.New(io.Discard)
	exporter := NewLedgerExporter(source, &logger)

	var buf bytes.Buffer
	require.NoError(t, exporter.WriteLedger(context.Background(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Current", "Archive"}, f.GetSheetList())

	rows, err := f.GetRows("Current")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "Transporter 1", rows[1][1])
	assert.Equal(t, "11.03.2025 08:00", rows[1][4])

	archive, err := f.GetRows("Archive")
	require.NoError(t, err)
	require.Len(t, archive, 2)
	assert.Equal(t, "Kombi", archive[1][1])
	assert.Contains(t, archive[1][9], "direct")
}
