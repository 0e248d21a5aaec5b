package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wtbooking/internal/events"
	"wtbooking/internal/metrics"
	"wtbooking/internal/models"
	"wtbooking/internal/worker"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

const sinkName = "sheets"

// BookingWriter persists one booking snapshot to the mirror.
type BookingWriter interface {
	UpsertBooking(ctx context.Context, p events.BookingEventPayload, updatedAt time.Time) error
}

// SheetsSync очередь синхронизации броней с таблицей. События принимаются без
// блокировки, запись идет в одной горутине, поэтому порядок по брони сохраняется.
type SheetsSync struct {
	writer BookingWriter
	queue  chan models.SyncTask
	policy worker.RetryPolicy
	logger *zerolog.Logger
}

func NewSheetsSync(writer BookingWriter, queueSize int, policy worker.RetryPolicy, logger *zerolog.Logger) *SheetsSync {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &SheetsSync{
		writer: writer,
		queue:  make(chan models.SyncTask, queueSize),
		policy: policy,
		logger: logger,
	}
}

func (s *SheetsSync) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingCreated, s.HandleEvent)
	bus.Subscribe(events.EventBookingPaid, s.HandleEvent)
	bus.Subscribe(events.EventBookingCancelled, s.HandleEvent)
}

func (s *SheetsSync) HandleEvent(event *events.Event) error {
	var p events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}

	task := models.SyncTask{
		BookingID: p.BookingID,
		EventType: event.Type,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	}
	select {
	case s.queue <- task:
	default:
		metrics.IncDelivery(sinkName, "dropped")
		s.logger.Warn().Str("booking_id", p.BookingID.String()).Str("event", event.Type).Msg("Sheets queue full, task dropped")
	}
	return nil
}

// Run drains the queue until ctx is done.
func (s *SheetsSync) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.queue:
			s.process(ctx, &task)
		}
	}
}

func (s *SheetsSync) process(ctx context.Context, task *models.SyncTask) {
	var p events.BookingEventPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		s.logger.Error().Err(err).Str("booking_id", task.BookingID.String()).Msg("Sheets task payload invalid")
		metrics.IncDelivery(sinkName, "error")
		return
	}

	err := worker.Retry(ctx, s.policy, func(ctx context.Context) error {
		err := s.writer.UpsertBooking(ctx, p, task.CreatedAt)
		if err != nil {
			task.RetryCount++
			task.LastError = err.Error()
			if !retryable(err) {
				return worker.Permanent(err)
			}
		}
		return err
	})
	if err != nil {
		metrics.IncDelivery(sinkName, "error")
		s.logger.Error().Err(err).
			Str("booking_id", task.BookingID.String()).
			Str("event", task.EventType).
			Int("attempts", task.RetryCount).
			Msg("Sheets sync failed")
		return
	}
	metrics.IncDelivery(sinkName, "ok")
}

// retryable treats client errors other than 429 as permanent.
func retryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
	}
	return true
}
