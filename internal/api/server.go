// Package api exposes the reservation system over HTTP. Requester-facing
// endpoints are open; approver endpoints require the manager API key.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fleetbook/internal/models"
	"fleetbook/internal/repository"
	"fleetbook/internal/service"
	"fleetbook/internal/validate"
)

// ReservationService is the lifecycle surface the handlers call.
type ReservationService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Reservation, error)
	SubmitDirect(ctx context.Context, req service.SubmitRequest, note string) (*models.Reservation, []models.Reservation, error)
	Approve(ctx context.Context, id int64, note string) (*models.Reservation, []models.Reservation, error)
	Reject(ctx context.Context, id int64, note string) (*models.Reservation, error)
	Reschedule(ctx context.Context, id int64, newRange models.TimeRange, note string) (*models.Reservation, []models.Reservation, error)
	Conflicts(ctx context.Context, vehicleID int64, candidate models.TimeRange, excludeID int64) ([]models.Reservation, error)
	Get(ctx context.Context, id int64) (*models.Reservation, error)
	List(ctx context.Context) ([]models.Reservation, error)
	ListByVehicle(ctx context.Context, vehicleID int64) ([]models.Reservation, error)
	ListByRequester(ctx context.Context, requesterID int64) ([]models.Reservation, error)
	Partition(list []models.Reservation) (current, archived []models.Reservation)
}

// VehicleStore is the vehicle and availability surface of the database.
type VehicleStore interface {
	GetActiveVehicles(ctx context.Context) ([]models.Vehicle, error)
	GetApprovedInWindow(ctx context.Context, vehicleID int64, start, end time.Time) ([]models.Reservation, error)
}

// LedgerExporter writes the reservation ledger as a spreadsheet.
type LedgerExporter interface {
	WriteLedger(ctx context.Context, w io.Writer) error
}

type HTTPServer struct {
	svc         ReservationService
	vehicles    VehicleStore
	validator   *validate.Validator
	state       repository.StateRepository
	exporter    LedgerExporter
	log         *zerolog.Logger
	apiKey      string
	submitLimit int

	server *http.Server
}

type Options struct {
	Addr        string
	APIKey      string
	SubmitLimit int
}

func NewHTTPServer(
	svc ReservationService,
	vehicles VehicleStore,
	validator *validate.Validator,
	state repository.StateRepository,
	exporter LedgerExporter,
	logger *zerolog.Logger,
	opts Options,
) *HTTPServer {
	s := &HTTPServer{
		svc:         svc,
		vehicles:    vehicles,
		validator:   validator,
		state:       state,
		exporter:    exporter,
		log:         logger,
		apiKey:      opts.APIKey,
		submitLimit: opts.SubmitLimit,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/reservations", s.handleReservations)
	mux.HandleFunc("/api/reservations/", s.handleReservationAction)
	mux.HandleFunc("/api/conflicts", s.handleConflicts)
	mux.HandleFunc("/api/validate", s.handleValidate)
	mux.HandleFunc("/api/vehicles", s.handleVehicles)
	mux.HandleFunc("/api/vehicles/availability", s.handleAvailability)
	mux.HandleFunc("/api/export", s.requireAPIKey(s.handleExport))

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks until the listener fails or Shutdown is called.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// requireAPIKey guards approver endpoints with the shared manager key.
func (s *HTTPServer) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.Header.Get("x-api-key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

func (s *HTTPServer) isManager(r *http.Request) bool {
	return s.apiKey != "" && r.Header.Get("x-api-key") == s.apiKey
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeStrict(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
