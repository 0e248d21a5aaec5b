package events

import (
	"encoding/json"
	"sync"
	"time"

	"wtbooking/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingPaid      = "booking_paid"
	EventBookingCancelled = "booking_cancelled"
	EventUnitAdded        = "unit_added"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// BookingEventPayload is the booking snapshot carried by booking events.
type BookingEventPayload struct {
	BookingID   uuid.UUID       `json:"booking_id"`
	UnitID      uuid.UUID       `json:"unit_id"`
	UserID      uuid.UUID       `json:"user_id,omitempty"`
	Status      string          `json:"status"`
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	AmountMinor int64           `json:"amount_minor"`
	Reason      string          `json:"reason,omitempty"`
}

func NewBookingPayload(b *models.Booking, reason string) BookingEventPayload {
	return BookingEventPayload{
		BookingID:   b.ID,
		UnitID:      b.UnitID,
		UserID:      b.UserID,
		Status:      string(b.Status),
		StartDate:   b.StartDate.Format(models.DateLayout),
		EndDate:     b.EndDate.Format(models.DateLayout),
		TotalCost:   b.TotalCost,
		AmountMinor: b.AmountMinor(),
		Reason:      reason,
	}
}

// UnitEventPayload is carried by unit_added.
type UnitEventPayload struct {
	UnitID      uuid.UUID `json:"unit_id"`
	IsAvailable bool      `json:"is_available"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. A nil logger drops handler errors.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type, or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs the handlers of the event type, then the AllEvents handlers.
// Handlers run synchronously; a failing handler does not stop the others.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Error().Err(err).Str("event", event.Type).Msg("Event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
