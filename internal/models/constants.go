package models

import "time"

// Counter cache names. Each name owns "<name>_count" and "<name>_cache_valid".
const (
	CounterAvailableUnits = "available_units"
	CounterBookingsTotal  = "bookings_total"
	CounterRevenueMinor   = "revenue_minor"
)

const (
	// DefaultExpiryWindow сколько неоплаченная бронь живет до автоотмены
	DefaultExpiryWindow = 15 * time.Minute

	// DefaultSweepInterval период запуска очистки просроченных броней
	DefaultSweepInterval = 60 * time.Second

	// DefaultMarkupPercent наценка для новых объектов, если не указана
	DefaultMarkupPercent = 15

	// DefaultPageSize размер страницы поиска по умолчанию
	DefaultPageSize = 10

	// MaxPageSize верхняя граница размера страницы
	MaxPageSize = 100

	// DefaultPaymentTimeout ограничение на вызов платежного шлюза
	DefaultPaymentTimeout = 10 * time.Second
)
