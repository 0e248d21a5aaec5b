package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"wtbooking/internal/config"
	"wtbooking/internal/domain"
	"wtbooking/internal/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Services are the operations exposed over HTTP.
type Services struct {
	Bookings domain.BookingService
	Units    domain.UnitService
	Users    domain.UserService
	Stats    domain.StatsService
}

type HTTPServer struct {
	cfg       config.APIConfig
	services  Services
	server    *http.Server
	auth      *HTTPAuth
	validator *validator.Validate
	log       zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, services Services, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:       cfg,
		services:  services,
		auth:      NewHTTPAuth(cfg),
		validator: newValidator(),
		log:       componentLogger(logger, "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv.handle(mux, "POST /api/v1/bookings", "create_booking", permWriteBookings, srv.handleCreateBooking)
	srv.handle(mux, "GET /api/v1/bookings/export", "export_bookings", permReadBookings, srv.handleExportBookings)
	srv.handle(mux, "GET /api/v1/bookings/{id}", "get_booking", permReadBookings, srv.handleGetBooking)
	srv.handle(mux, "POST /api/v1/bookings/{id}/pay", "pay_booking", permWriteBookings, srv.handlePayBooking)
	srv.handle(mux, "POST /api/v1/bookings/{id}/cancel", "cancel_booking", permWriteBookings, srv.handleCancelBooking)
	srv.handle(mux, "GET /api/v1/search", "search_units", permReadUnits, srv.handleSearchUnits)
	srv.handle(mux, "GET /api/v1/units/available/count", "count_available", permReadUnits, srv.handleCountAvailable)
	srv.handle(mux, "POST /api/v1/units", "add_unit", permWriteUnits, srv.handleAddUnit)
	srv.handle(mux, "POST /api/v1/users", "create_user", permWriteUsers, srv.handleCreateUser)
	srv.handle(mux, "GET /api/v1/users/{id}", "get_user", permReadUsers, srv.handleGetUser)
	srv.handle(mux, "GET /api/v1/stats", "stats", permReadStats, srv.handleStats)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// handle registers h under pattern behind the permission check and counts
// responses per endpoint.
func (s *HTTPServer) handle(mux *http.ServeMux, pattern, endpoint, permission string, h http.HandlerFunc) {
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(recorder, r)
		metrics.IncHTTP(endpoint, strconv.Itoa(recorder.status))
	})
	mux.Handle(pattern, s.auth.Require(permission, counted))
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// writeServiceError maps an error kind to a status code. Internal errors are
// logged and answered with a generic message.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		if len(reqErr.fields) > 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": reqErr.msg, "fields": reqErr.fields})
			return
		}
		writeError(w, http.StatusBadRequest, reqErr.msg)
		return
	}

	switch domain.Kind(err) {
	case "not_found":
		writeError(w, http.StatusNotFound, err.Error())
	case "conflict":
		writeError(w, http.StatusConflict, err.Error())
	case "payment_failed":
		writeError(w, http.StatusPaymentRequired, err.Error())
	case "validation":
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
