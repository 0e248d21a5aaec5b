package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"wtbooking/internal/config"
	"wtbooking/internal/domain"
	"wtbooking/internal/events"
	"wtbooking/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type mockBookingService struct {
	mock.Mock
	domain.BookingService
}

func (m *mockBookingService) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, start, end)
	bookings, _ := args.Get(0).([]*models.Booking)
	return bookings, args.Error(1)
}

func testConfig() config.TelegramConfig {
	return config.TelegramConfig{
		BotToken:       "token",
		ManagerChatIDs: []int64{42, 43},
		DigestTime:     "09:00",
		QueueSize:      2,
	}
}

func newTestNotifier(t *testing.T, sender TelegramSender, bookings domain.BookingService) *Notifier {
	t.Helper()
	logger := zerolog.Nop()
	n, err := newNotifier(sender, testConfig(), bookings, &logger)
	require.NoError(t, err)
	return n
}

func bookingEvent(t *testing.T, eventType string) *events.Event {
	t.Helper()
	b := &models.Booking{
		ID:        uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7"),
		UnitID:    uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000001"),
		StartDate: time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2030, 6, 3, 0, 0, 0, 0, time.UTC),
		TotalCost: decimal.RequireFromString("330"),
		Status:    models.StatusCreated,
	}
	event, err := events.NewJSONEvent(eventType, events.NewBookingPayload(b, ""))
	require.NoError(t, err)
	return &event
}

func TestFormatEventMessage(t *testing.T) {
	p := events.BookingEventPayload{
		BookingID: uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7"),
		UnitID:    uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000001"),
		StartDate: "2030-06-01",
		EndDate:   "2030-06-03",
		TotalCost: decimal.RequireFromString("330"),
	}

	created := formatEventMessage(events.EventBookingCreated, p)
	assert.Contains(t, created, "Новая бронь 7c9e6679")
	assert.Contains(t, created, "Объект: a1b2c3d4")
	assert.Contains(t, created, "01.06.2030 - 03.06.2030")
	assert.Contains(t, created, "330.00")

	assert.Contains(t, formatEventMessage(events.EventBookingPaid, p), "оплачена: 330.00")

	p.Reason = "не оплачена вовремя"
	assert.Contains(t, formatEventMessage(events.EventBookingCancelled, p), "Причина: не оплачена вовремя")

	assert.Empty(t, formatEventMessage(events.EventUnitAdded, p))
}

func TestNotifierDeliversToEveryChat(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(t, sender, nil)

	bus := events.NewEventBus(nil)
	n.Attach(bus)
	bus.Publish(bookingEvent(t, events.EventBookingPaid))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(sender.messages()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	msgs := sender.messages()
	assert.ElementsMatch(t, []int64{42, 43}, []int64{msgs[0].ChatID, msgs[1].ChatID})
	assert.Contains(t, msgs[0].Text, "оплачена")
}

func TestNotifierDropsWhenQueueFull(t *testing.T) {
	n := newTestNotifier(t, &fakeSender{}, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, n.HandleEvent(bookingEvent(t, events.EventBookingCreated)))
	}
	assert.Len(t, n.queue, 2)
}

func TestNotifierBadPayload(t *testing.T) {
	n := newTestNotifier(t, &fakeSender{}, nil)
	err := n.HandleEvent(&events.Event{Type: events.EventBookingCreated, Payload: []byte("{")})
	assert.Error(t, err)
}

func TestNotifierSendErrorsAreLogged(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	n := newTestNotifier(t, sender, nil)
	assert.NotPanics(t, func() { n.broadcast("hello") })
	assert.Empty(t, sender.messages())
}

func TestSendDigest(t *testing.T) {
	bookings := new(mockBookingService)
	sender := &fakeSender{}
	n := newTestNotifier(t, sender, bookings)
	n.now = func() time.Time { return time.Date(2030, 5, 31, 18, 0, 0, 0, time.UTC) }
	tomorrow := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)

	bookings.On("GetBookingsByDateRange", mock.Anything, tomorrow, tomorrow).Return([]*models.Booking{
		{ID: uuid.New(), UnitID: uuid.New(), StartDate: tomorrow, EndDate: tomorrow.AddDate(0, 0, 2), Status: models.StatusPaid},
		{ID: uuid.New(), UnitID: uuid.New(), StartDate: tomorrow, EndDate: tomorrow, Status: models.StatusCreated},
		{ID: uuid.New(), UnitID: uuid.New(), StartDate: tomorrow, EndDate: tomorrow, Status: models.StatusCancelled},
		{ID: uuid.New(), UnitID: uuid.New(), StartDate: tomorrow.AddDate(0, 0, -3), EndDate: tomorrow, Status: models.StatusPaid},
	}, nil).Once()

	n.SendDigest(context.Background())

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[0].Text, "Заезды на 01.06.2030: 2"), msgs[0].Text)
	assert.Contains(t, msgs[0].Text, "оплачена")
	assert.Contains(t, msgs[0].Text, "ожидает оплаты")
	bookings.AssertExpectations(t)
}

func TestSendDigestNothingTomorrow(t *testing.T) {
	bookings := new(mockBookingService)
	sender := &fakeSender{}
	n := newTestNotifier(t, sender, bookings)

	bookings.On("GetBookingsByDateRange", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Once()
	n.SendDigest(context.Background())

	bookings.On("GetBookingsByDateRange", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()
	n.SendDigest(context.Background())

	assert.Empty(t, sender.messages())
}

func TestTimeUntilClock(t *testing.T) {
	now := time.Date(2030, 1, 1, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Minute, timeUntilClock(now, 9, 0))
	assert.Equal(t, 23*time.Hour+30*time.Minute, timeUntilClock(now, 8, 0))
	assert.Equal(t, 24*time.Hour, timeUntilClock(now, 8, 30))
}

func TestNewNotifierAgainstFakeAPI(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		mu.Lock()
		methods = append(methods, method)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"WT","username":"wt_bot"}}`)
		case "sendMessage":
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"unknown method"}`)
		}
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.ManagerChatIDs = []int64{42}
	cfg.APIEndpoint = ts.URL + "/bot%s/%s"
	logger := zerolog.Nop()

	n, err := NewNotifier(cfg, nil, &logger)
	require.NoError(t, err)
	n.broadcast("ping")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"getMe", "sendMessage"}, methods)
}

func TestNewNotifierBadDigestTime(t *testing.T) {
	cfg := testConfig()
	cfg.DigestTime = "noon"
	_, err := newNotifier(&fakeSender{}, cfg, nil, nil)
	assert.Error(t, err)
}
