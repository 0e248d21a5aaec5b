package service

import (
	"context"
	"fmt"
	"strings"

	"wtbooking/internal/cache"
	"wtbooking/internal/domain"
	"wtbooking/internal/events"
	"wtbooking/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type UnitService struct {
	store         domain.Store
	available     *cache.Counter
	eventBus      domain.EventPublisher
	defaultMarkup decimal.Decimal
	logger        *zerolog.Logger
}

var _ domain.UnitService = (*UnitService)(nil)

func NewUnitService(store domain.Store, available *cache.Counter, eventBus domain.EventPublisher, defaultMarkup decimal.Decimal, logger *zerolog.Logger) *UnitService {
	if defaultMarkup.IsNegative() {
		defaultMarkup = decimal.NewFromInt(models.DefaultMarkupPercent)
	}
	return &UnitService{
		store:         store,
		available:     available,
		eventBus:      eventBus,
		defaultMarkup: defaultMarkup,
		logger:        logger,
	}
}

// NormalizeFilter fills paging and sorting defaults and rejects filters that
// cannot be served.
func NormalizeFilter(filter models.UnitFilter) (models.UnitFilter, error) {
	if filter.Page < 0 {
		return filter, fmt.Errorf("%w: page must not be negative", domain.ErrValidation)
	}
	if filter.PageSize <= 0 {
		filter.PageSize = models.DefaultPageSize
	}
	if filter.PageSize > models.MaxPageSize {
		filter.PageSize = models.MaxPageSize
	}

	filter.SortField = strings.ToLower(strings.TrimSpace(filter.SortField))
	if filter.SortField == "" {
		filter.SortField = "id"
	}
	if !models.IsUnitSortField(filter.SortField) {
		return filter, fmt.Errorf("%w: unknown sort field %q", domain.ErrValidation, filter.SortField)
	}

	switch models.SortDirection(strings.ToLower(string(filter.SortDir))) {
	case models.SortDesc:
		filter.SortDir = models.SortDesc
	default:
		filter.SortDir = models.SortAsc
	}

	if filter.MinCost != nil && filter.MinCost.IsNegative() {
		return filter, fmt.Errorf("%w: min cost must not be negative", domain.ErrValidation)
	}
	if filter.MinCost != nil && filter.MaxCost != nil && filter.MinCost.GreaterThan(*filter.MaxCost) {
		return filter, fmt.Errorf("%w: min cost is greater than max cost", domain.ErrValidation)
	}
	return filter, nil
}

func (s *UnitService) SearchUnits(ctx context.Context, filter models.UnitFilter) (*models.Page, error) {
	normalized, err := NormalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	return s.store.SearchUnits(ctx, normalized)
}

// CountAvailableUnits serves the cached count. If the cache itself is down
// the store is asked directly.
func (s *UnitService) CountAvailableUnits(ctx context.Context) (int64, error) {
	count, err := s.available.Get(ctx, s.store.CountAvailableUnits)
	if err == nil {
		return count, nil
	}
	s.logger.Warn().Err(err).Msg("Available units counter unavailable, counting in store")
	return s.store.CountAvailableUnits(ctx)
}

func (s *UnitService) AddUnit(ctx context.Context, spec models.UnitSpec) (*models.Unit, error) {
	markup := s.defaultMarkup
	if spec.MarkupPercent != nil {
		markup = *spec.MarkupPercent
	}
	available := true
	if spec.IsAvailable != nil {
		available = *spec.IsAvailable
	}

	switch {
	case spec.Cost.IsNegative():
		return nil, fmt.Errorf("%w: cost must not be negative", domain.ErrValidation)
	case markup.IsNegative():
		return nil, fmt.Errorf("%w: markup must not be negative", domain.ErrValidation)
	case spec.Rooms < 1:
		return nil, fmt.Errorf("%w: unit needs at least one room", domain.ErrValidation)
	case !spec.AccommodationType.Valid():
		return nil, fmt.Errorf("%w: unknown accommodation type %q", domain.ErrValidation, spec.AccommodationType)
	}

	id := spec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	unit := &models.Unit{
		ID:                id,
		Rooms:             spec.Rooms,
		AccommodationType: spec.AccommodationType,
		Floor:             spec.Floor,
		IsAvailable:       available,
		Cost:              spec.Cost,
		MarkupPercent:     markup,
		Description:       strings.TrimSpace(spec.Description),
	}
	if err := s.store.CreateUnit(ctx, unit); err != nil {
		return nil, err
	}

	if available {
		if _, err := s.available.Adjust(ctx, +1, s.store.CountAvailableUnits); err != nil {
			s.logger.Error().Err(err).Msg("Failed to adjust available units counter")
		}
	}

	s.logger.Info().Str("unit_id", unit.ID.String()).Bool("available", available).Msg("Unit added")
	if s.eventBus != nil {
		if err := s.eventBus.PublishJSON(events.EventUnitAdded, events.UnitEventPayload{UnitID: unit.ID, IsAvailable: available}); err != nil {
			s.logger.Error().Err(err).Msg("Failed to publish unit event")
		}
	}
	return unit, nil
}

func (s *UnitService) GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error) {
	return s.store.GetUnit(ctx, id)
}
