package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"wtbooking/internal/cache"
	"wtbooking/internal/config"
	"wtbooking/internal/database"
	"wtbooking/internal/events"
	"wtbooking/internal/models"
	"wtbooking/internal/payment"
	"wtbooking/internal/repository"
	"wtbooking/internal/service"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const approveLimitMinor = 100000

func newTestServices(t *testing.T) Services {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := repository.NewMemoryCounterStore()
	available := cache.NewCounter(models.CounterAvailableUnits, store, &logger)
	bus := events.NewEventBus(&logger)

	stats := service.NewStatsService(db,
		cache.NewCounter(models.CounterBookingsTotal, store, &logger),
		cache.NewCounter(models.CounterRevenueMinor, store, &logger),
		&logger)
	stats.Subscribe(bus)

	return Services{
		Bookings: service.NewBookingService(db, available, payment.NewSimulatedGateway(approveLimitMinor), bus, 0, &logger),
		Units:    service.NewUnitService(db, available, bus, decimal.NewFromInt(models.DefaultMarkupPercent), &logger),
		Users:    service.NewUserService(db, &logger),
		Stats:    stats,
	}
}

func newTestHTTPServer(t *testing.T, cfg config.APIConfig, services Services) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	srv := NewHTTPServer(cfg, services, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type unitBody struct {
	ID   string `json:"id"`
	Cost string `json:"cost"`
}

func addTestUnit(t *testing.T, base, cost, markup string) string {
	t.Helper()
	var unit unitBody
	code := doJSON(t, http.MethodPost, base+"/api/v1/units", map[string]any{
		"rooms":                  2,
		"accommodation_type":     "APARTMENT",
		"floor":                  3,
		"cost":                   cost,
		"booking_markup_percent": markup,
	}, &unit)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, unit.ID)
	return unit.ID
}

func TestBookingLifecycleHTTP(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))
	unitID := addTestUnit(t, ts.URL, "100", "10")

	var count map[string]int64
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/v1/units/available/count", nil, &count))
	assert.Equal(t, int64(1), count["count"])

	var booking bookingResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings", map[string]string{
		"unit_id":    unitID,
		"start_date": "2030-06-01",
		"end_date":   "2030-06-03",
	}, &booking)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "330.00", booking.TotalCost)
	assert.Equal(t, int64(3), booking.Nights)
	assert.Equal(t, models.StatusCreated, booking.Status)
	assert.Nil(t, booking.UserID)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/v1/units/available/count", nil, &count))
	assert.Equal(t, int64(0), count["count"])

	var errBody map[string]string
	code = doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings", map[string]string{
		"unit_id":    unitID,
		"start_date": "2030-06-03",
		"end_date":   "2030-06-05",
	}, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.NotEmpty(t, errBody["error"])

	var fetched bookingResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/v1/bookings/"+booking.ID.String(), nil, &fetched))
	assert.Equal(t, booking.ID, fetched.ID)
	assert.Equal(t, "2030-06-01", fetched.StartDate)

	var paid bookingResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings/"+booking.ID.String()+"/pay", nil, &paid))
	assert.Equal(t, models.StatusPaid, paid.Status)

	code = doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings/"+booking.ID.String()+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, code)

	var stats struct {
		Bookings int64           `json:"bookings"`
		Revenue  decimal.Decimal `json:"revenue"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/v1/stats", nil, &stats))
	assert.Equal(t, int64(1), stats.Bookings)
	assert.True(t, decimal.NewFromInt(330).Equal(stats.Revenue), "revenue %s", stats.Revenue)
}

func TestCancelBookingHTTP(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))
	unitID := addTestUnit(t, ts.URL, "50", "0")

	var booking bookingResponse
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings", map[string]string{
		"unit_id":    unitID,
		"start_date": "2030-01-10",
		"end_date":   "2030-01-10",
	}, &booking))

	var cancelled bookingResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings/"+booking.ID.String()+"/cancel", nil, &cancelled))
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings/"+booking.ID.String()+"/pay", nil, nil)
	assert.Equal(t, http.StatusConflict, code)

	var count map[string]int64
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/v1/units/available/count", nil, &count))
	assert.Equal(t, int64(1), count["count"])
}

func TestPayDeclinedHTTP(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))
	unitID := addTestUnit(t, ts.URL, "5000", "0")

	var booking bookingResponse
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings", map[string]string{
		"unit_id":    unitID,
		"start_date": "2030-02-01",
		"end_date":   "2030-02-02",
	}, &booking))

	code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings/"+booking.ID.String()+"/pay", nil, nil)
	assert.Equal(t, http.StatusPaymentRequired, code)

	var fetched bookingResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/v1/bookings/"+booking.ID.String(), nil, &fetched))
	assert.Equal(t, models.StatusCreated, fetched.Status)
}

func TestCreateBookingValidationHTTP(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))
	unitID := addTestUnit(t, ts.URL, "100", "10")

	t.Run("MissingFields", func(t *testing.T) {
		var body struct {
			Error  string       `json:"error"`
			Fields []fieldError `json:"fields"`
		}
		code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings", map[string]string{"start_date": "01.06.2030"}, &body)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "validation failed", body.Error)

		names := make([]string, 0, len(body.Fields))
		for _, f := range body.Fields {
			names = append(names, f.Field)
		}
		assert.ElementsMatch(t, []string{"unit_id", "start_date", "end_date"}, names)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/bookings", "application/json", bytes.NewBufferString("{"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("UnknownUnit", func(t *testing.T) {
		code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings", map[string]string{
			"unit_id":    "00000000-0000-0000-0000-000000000001",
			"start_date": "2030-06-01",
			"end_date":   "2030-06-03",
		}, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings", map[string]string{
			"unit_id":    unitID,
			"start_date": "2030-06-03",
			"end_date":   "2030-06-01",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("BadPathID", func(t *testing.T) {
		code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/bookings/not-a-uuid", nil, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("BookingNotFound", func(t *testing.T) {
		code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/bookings/00000000-0000-0000-0000-000000000002", nil, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestSearchUnitsHTTP(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))
	for _, cost := range []string{"300", "100", "200"} {
		addTestUnit(t, ts.URL, cost, "0")
	}

	var page struct {
		Content       []unitBody `json:"content"`
		TotalElements int64      `json:"total_elements"`
		TotalPages    int        `json:"total_pages"`
	}
	code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/search?min_cost=150&sort=cost&direction=desc&size=1", nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(2), page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Content, 1)
	assert.True(t, decimal.RequireFromString("300").Equal(decimal.RequireFromString(page.Content[0].Cost)))

	for _, query := range []string{"sort=price", "min_cost=abc", "page=-1", "size=x", "min_cost=10&max_cost=5"} {
		code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/search?"+query, nil, nil)
		assert.Equal(t, http.StatusBadRequest, code, query)
	}
}

func TestAddUnitValidationHTTP(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))

	code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/units", map[string]any{
		"rooms":              0,
		"accommodation_type": "CASTLE",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, http.MethodPost, ts.URL+"/api/v1/units", map[string]any{
		"rooms":              1,
		"accommodation_type": "ROOM",
		"cost":               "-1",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, http.MethodPost, ts.URL+"/api/v1/units", map[string]any{
		"rooms":              1,
		"accommodation_type": "ROOM",
		"cost":               "10",
		"color":              "red",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUsersHTTP(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))

	var user models.User
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/api/v1/users",
		map[string]string{"username": "alice", "email": "alice@example.com"}, &user))
	assert.Equal(t, "alice", user.Username)

	code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/users",
		map[string]string{"username": "alice", "email": "other@example.com"}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code = doJSON(t, http.MethodPost, ts.URL+"/api/v1/users",
		map[string]string{"username": "bob", "email": "not-an-email"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var fetched models.User
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/v1/users/"+user.ID.String(), nil, &fetched))
	assert.Equal(t, user.ID, fetched.ID)

	code = doJSON(t, http.MethodGet, ts.URL+"/api/v1/users/00000000-0000-0000-0000-000000000003", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBookingWithUserHTTP(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))
	unitID := addTestUnit(t, ts.URL, "100", "0")

	var user models.User
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/api/v1/users",
		map[string]string{"username": "carol", "email": "carol@example.com"}, &user))

	var booking bookingResponse
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings", map[string]string{
		"unit_id":    unitID,
		"user_id":    user.ID.String(),
		"start_date": "2030-03-01",
		"end_date":   "2030-03-01",
	}, &booking))
	require.NotNil(t, booking.UserID)
	assert.Equal(t, user.ID, *booking.UserID)
}

func TestExportBookingsHTTP(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))
	unitID := addTestUnit(t, ts.URL, "100", "10")
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/api/v1/bookings", map[string]string{
		"unit_id":    unitID,
		"start_date": "2030-06-01",
		"end_date":   "2030-06-03",
	}, nil))

	resp, err := http.Get(ts.URL + "/api/v1/bookings/export?from=2030-06-01&to=2030-06-30")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "bookings_2030-06-01_2030-06-30.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Bookings")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/bookings/export?from=2030-06-01", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

type failingStats struct{}

func (failingStats) Snapshot(context.Context) (*models.Stats, error) {
	return nil, errors.New("disk on fire")
}

func TestInternalErrorIsHidden(t *testing.T) {
	services := newTestServices(t)
	services.Stats = failingStats{}
	ts := newTestHTTPServer(t, config.APIConfig{}, services)

	var body map[string]string
	code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/stats", nil, &body)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", body["error"])
}

func TestHealthz(t *testing.T) {
	ts := newTestHTTPServer(t, config.APIConfig{}, newTestServices(t))
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
