package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"salonbook/internal/booking"
	"salonbook/internal/models"
)

// BookingService is what the HTTP layer needs from booking.Service.
type BookingService interface {
	Day(ctx context.Context, workspaceID, date string) (*booking.DayView, error)
	Create(ctx context.Context, workspaceID string, in booking.AppointmentInput) (*models.Appointment, error)
	Update(ctx context.Context, workspaceID, id string, in booking.AppointmentInput) (*models.Appointment, error)
	Delete(ctx context.Context, workspaceID, id string) error
	SetStatus(ctx context.Context, workspaceID, id string, status models.Status) (*models.Appointment, error)
	SaveWorkspace(ctx context.Context, ws *models.Workspace) error
}

type Options struct {
	Port          int
	RatePerSecond float64
	Burst         int
	ReadTimeout   time.Duration

	// TrustedProxies lists the addresses or CIDR ranges whose X-Real-IP
	// header is believed. Requests from anywhere else are keyed by their
	// socket address.
	TrustedProxies []string
}

type Server struct {
	svc      BookingService
	dir      Directory
	opts     Options
	limiters *rateLimiterStore
	proxies  []netip.Prefix
	handler  http.Handler
	logger   *zerolog.Logger
}

func NewServer(svc BookingService, dir Directory, opts Options, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "api").Logger()
	s := &Server{
		svc:      svc,
		dir:      dir,
		opts:     opts,
		limiters: newRateLimiterStore(opts.RatePerSecond, opts.Burst),
		logger:   &l,
	}
	for _, raw := range opts.TrustedProxies {
		p, err := parseProxy(raw)
		if err != nil {
			l.Warn().Err(err).Str("proxy", raw).Msg("ignoring trusted proxy")
			continue
		}
		s.proxies = append(s.proxies, p)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/workspaces/{ws}/days/{date}", s.handleDay)
	mux.HandleFunc("GET /api/v1/workspaces/{ws}/days/{date}/export", s.handleDayExport)
	mux.HandleFunc("POST /api/v1/workspaces/{ws}/appointments", s.handleCreate)
	mux.HandleFunc("PUT /api/v1/workspaces/{ws}/appointments/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/workspaces/{ws}/appointments/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/v1/workspaces/{ws}/appointments/{id}/status", s.handleSetStatus)
	mux.HandleFunc("PUT /api/v1/workspaces/{ws}", s.handleUpsertWorkspace)
	mux.HandleFunc("GET /api/v1/workspaces/{ws}/services", s.handleListServices)
	mux.HandleFunc("POST /api/v1/workspaces/{ws}/services", s.handleCreateService)
	mux.HandleFunc("PUT /api/v1/workspaces/{ws}/services/{id}", s.handleUpdateService)
	mux.HandleFunc("DELETE /api/v1/workspaces/{ws}/services/{id}", s.handleDeleteService)
	mux.HandleFunc("GET /api/v1/workspaces/{ws}/clients", s.handleListClients)
	mux.HandleFunc("POST /api/v1/workspaces/{ws}/clients", s.handleCreateClient)
	mux.HandleFunc("DELETE /api/v1/workspaces/{ws}/clients/{id}", s.handleDeleteClient)
	mux.HandleFunc("GET /api/v1/workspaces/{ws}/clients/{id}/appointments", s.handleClientAppointments)

	s.handler = s.withMiddleware(mux)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadTimeout,
		ReadTimeout:       s.opts.ReadTimeout,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctxShutdown)
				return
			case <-ticker.C:
				s.limiters.evictIdle(10 * time.Minute)
			}
		}
	}()

	s.logger.Info().Int("port", s.opts.Port).Msg("API server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error        string               `json:"error"`
	Field        string               `json:"field,omitempty"`
	Conflict     *conflictResponse    `json:"conflict,omitempty"`
	Appointments []models.Appointment `json:"appointments,omitempty"`
}

type conflictResponse struct {
	AppointmentID string `json:"appointment_id,omitempty"`
	Start         string `json:"start"`
	End           string `json:"end"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
