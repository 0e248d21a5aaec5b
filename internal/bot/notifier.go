package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wtbooking/internal/config"
	"wtbooking/internal/domain"
	"wtbooking/internal/events"
	"wtbooking/internal/metrics"
	"wtbooking/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const sinkName = "telegram"

// TelegramSender is the part of tgbotapi.BotAPI the notifier needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier пересылает события бронирования в чаты менеджеров и раз в сутки
// присылает сводку заездов на завтра.
type Notifier struct {
	sender       TelegramSender
	chatIDs      []int64
	bookings     domain.BookingService
	queue        chan string
	digestHour   int
	digestMinute int
	now          func() time.Time
	logger       *zerolog.Logger
}

func NewNotifier(cfg config.TelegramConfig, bookings domain.BookingService, logger *zerolog.Logger) (*Notifier, error) {
	var (
		api *tgbotapi.BotAPI
		err error
	)
	if cfg.APIEndpoint != "" {
		api, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, cfg.APIEndpoint)
	} else {
		api, err = tgbotapi.NewBotAPI(cfg.BotToken)
	}
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	logger.Info().Str("bot", api.Self.UserName).Int("chats", len(cfg.ManagerChatIDs)).Msg("Telegram notifier authorized")

	return newNotifier(api, cfg, bookings, logger)
}

func newNotifier(sender TelegramSender, cfg config.TelegramConfig, bookings domain.BookingService, logger *zerolog.Logger) (*Notifier, error) {
	hour, minute, err := config.ParseClock(cfg.DigestTime)
	if err != nil {
		return nil, err
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}

	return &Notifier{
		sender:       sender,
		chatIDs:      cfg.ManagerChatIDs,
		bookings:     bookings,
		queue:        make(chan string, size),
		digestHour:   hour,
		digestMinute: minute,
		now:          time.Now,
		logger:       logger,
	}, nil
}

// Attach subscribes the notifier to booking events on bus.
func (n *Notifier) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingCreated, n.HandleEvent)
	bus.Subscribe(events.EventBookingPaid, n.HandleEvent)
	bus.Subscribe(events.EventBookingCancelled, n.HandleEvent)
}

// HandleEvent formats the event and queues it. It never blocks: when the
// queue is full the message is dropped.
func (n *Notifier) HandleEvent(event *events.Event) error {
	var p events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	text := formatEventMessage(event.Type, p)
	if text == "" {
		return nil
	}

	select {
	case n.queue <- text:
	default:
		metrics.IncDelivery(sinkName, "dropped")
		n.logger.Warn().Str("event", event.Type).Str("booking_id", p.BookingID.String()).Msg("Telegram queue full, notification dropped")
	}
	return nil
}

// Run delivers queued messages and fires the daily digest until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	timer := time.NewTimer(timeUntilClock(n.now(), n.digestHour, n.digestMinute))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.queue:
			n.broadcast(text)
		case <-timer.C:
			n.SendDigest(ctx)
			timer.Reset(timeUntilClock(n.now(), n.digestHour, n.digestMinute))
		}
	}
}

func (n *Notifier) broadcast(text string) {
	for _, chatID := range n.chatIDs {
		if _, err := n.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			metrics.IncDelivery(sinkName, "error")
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Telegram send failed")
			continue
		}
		metrics.IncDelivery(sinkName, "ok")
	}
}

func formatEventMessage(eventType string, p events.BookingEventPayload) string {
	dates := formatRange(p.StartDate, p.EndDate)
	short := shortID(p.BookingID.String())
	switch eventType {
	case events.EventBookingCreated:
		return fmt.Sprintf("Новая бронь %s\nОбъект: %s\nДаты: %s\nСумма: %s", short, shortID(p.UnitID.String()), dates, p.TotalCost.StringFixed(2))
	case events.EventBookingPaid:
		return fmt.Sprintf("Бронь %s оплачена: %s\nДаты: %s", short, p.TotalCost.StringFixed(2), dates)
	case events.EventBookingCancelled:
		msg := fmt.Sprintf("Бронь %s отменена\nДаты: %s", short, dates)
		if p.Reason != "" {
			msg += "\nПричина: " + p.Reason
		}
		return msg
	default:
		return ""
	}
}

func formatRange(start, end string) string {
	return displayDate(start) + " - " + displayDate(end)
}

func displayDate(s string) string {
	t, err := models.ParseDate(s)
	if err != nil {
		return s
	}
	return t.Format("02.01.2006")
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
