package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"wtbooking/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type requestError struct {
	msg    string
	fields []fieldError
}

func (e *requestError) Error() string { return e.msg }

type createBookingRequest struct {
	UnitID    string `json:"unit_id" validate:"required,uuid"`
	UserID    string `json:"user_id" validate:"omitempty,uuid"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type addUnitRequest struct {
	Rooms             int              `json:"rooms" validate:"required,min=1"`
	AccommodationType string           `json:"accommodation_type" validate:"required,oneof=APARTMENT HOUSE ROOM STUDIO VILLA"`
	Floor             int              `json:"floor" validate:"gte=0"`
	IsAvailable       *bool            `json:"is_available"`
	Cost              *decimal.Decimal `json:"cost" validate:"required"`
	MarkupPercent     *decimal.Decimal `json:"booking_markup_percent"`
	Description       string           `json:"description" validate:"max=2000"`
}

func (r addUnitRequest) spec() models.UnitSpec {
	return models.UnitSpec{
		Rooms:             r.Rooms,
		AccommodationType: models.AccommodationType(r.AccommodationType),
		Floor:             r.Floor,
		IsAvailable:       r.IsAvailable,
		Cost:              *r.Cost,
		MarkupPercent:     r.MarkupPercent,
		Description:       r.Description,
	}
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
}

type exportQuery struct {
	From string `validate:"required,datetime=2006-01-02"`
	To   string `validate:"required,datetime=2006-01-02"`
}

type bookingResponse struct {
	ID        uuid.UUID            `json:"id"`
	UnitID    uuid.UUID            `json:"unit_id"`
	UserID    *uuid.UUID           `json:"user_id,omitempty"`
	StartDate string               `json:"start_date"`
	EndDate   string               `json:"end_date"`
	Nights    int64                `json:"nights"`
	TotalCost string               `json:"total_cost"`
	Status    models.BookingStatus `json:"status"`
	CreatedAt string               `json:"created_at"`
}

func newBookingResponse(b *models.Booking) bookingResponse {
	resp := bookingResponse{
		ID:        b.ID,
		UnitID:    b.UnitID,
		StartDate: b.StartDate.Format(models.DateLayout),
		EndDate:   b.EndDate.Format(models.DateLayout),
		Nights:    b.Nights(),
		TotalCost: b.TotalCost.StringFixed(2),
		Status:    b.Status,
		CreatedAt: b.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if b.UserID != uuid.Nil {
		id := b.UserID
		resp.UserID = &id
	}
	return resp
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return v
}

func (s *HTTPServer) validate(v any) error {
	if err := s.validator.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]fieldError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fieldError{Field: fe.Field(), Message: describeTag(fe)})
			}
			return &requestError{msg: "validation failed", fields: fields}
		}
		return &requestError{msg: err.Error()}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a UUID"
	case "datetime":
		return "must be a date in " + fe.Param() + " format"
	case "email":
		return "must be an email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// decodeJSON reads a single JSON object from the body and validates it.
func (s *HTTPServer) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &requestError{msg: fmt.Sprintf("invalid request body: %v", err)}
	}
	return s.validate(dst)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, &requestError{msg: fmt.Sprintf("invalid %s", name)}
	}
	return id, nil
}
