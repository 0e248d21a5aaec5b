package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"wtbooking/internal/export"
	"wtbooking/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// Формат уже проверен валидатором.
	unitID := uuid.MustParse(req.UnitID)
	start, _ := models.ParseDate(req.StartDate)
	end, _ := models.ParseDate(req.EndDate)
	userID := uuid.Nil
	if req.UserID != "" {
		userID = uuid.MustParse(req.UserID)
	}

	booking, err := s.services.Bookings.CreateBooking(r.Context(), unitID, start, end, userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBookingResponse(booking))
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := s.services.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(booking))
}

func (s *HTTPServer) handlePayBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := s.services.Bookings.PayBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(booking))
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := s.services.Bookings.CancelBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(booking))
}

func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	q := exportQuery{
		From: strings.TrimSpace(r.URL.Query().Get("from")),
		To:   strings.TrimSpace(r.URL.Query().Get("to")),
	}
	if err := s.validate(&q); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	from, _ := models.ParseDate(q.From)
	to, _ := models.ParseDate(q.To)

	bookings, err := s.services.Bookings.GetBookingsByDateRange(r.Context(), from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteBookingsXLSX(&buf, from, to, bookings); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bookings_%s_%s.xlsx"`, q.From, q.To))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleSearchUnits(w http.ResponseWriter, r *http.Request) {
	filter, err := parseUnitFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	page, err := s.services.Units.SearchUnits(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseUnitFilter(r *http.Request) (models.UnitFilter, error) {
	q := r.URL.Query()
	filter := models.UnitFilter{
		SortField: q.Get("sort"),
		SortDir:   models.SortDirection(strings.ToLower(q.Get("direction"))),
	}

	for name, dst := range map[string]*int{"page": &filter.Page, "size": &filter.PageSize} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, &requestError{msg: fmt.Sprintf("invalid %s", name)}
		}
		*dst = n
	}

	for name, dst := range map[string]**decimal.Decimal{"min_cost": &filter.MinCost, "max_cost": &filter.MaxCost} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return filter, &requestError{msg: fmt.Sprintf("invalid %s", name)}
		}
		*dst = &d
	}
	return filter, nil
}

func (s *HTTPServer) handleCountAvailable(w http.ResponseWriter, r *http.Request) {
	count, err := s.services.Units.CountAvailableUnits(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *HTTPServer) handleAddUnit(w http.ResponseWriter, r *http.Request) {
	var req addUnitRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	unit, err := s.services.Units.AddUnit(r.Context(), req.spec())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	user, err := s.services.Users.CreateUser(r.Context(), req.Username, req.Email)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	user, err := s.services.Users.GetUser(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.services.Stats.Snapshot(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
