package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccommodationType string

const (
	AccommodationApartment AccommodationType = "APARTMENT"
	AccommodationHouse     AccommodationType = "HOUSE"
	AccommodationRoom      AccommodationType = "ROOM"
	AccommodationStudio    AccommodationType = "STUDIO"
	AccommodationVilla     AccommodationType = "VILLA"
)

func (t AccommodationType) Valid() bool {
	switch t {
	case AccommodationApartment, AccommodationHouse, AccommodationRoom, AccommodationStudio, AccommodationVilla:
		return true
	default:
		return false
	}
}

type Unit struct {
	ID                uuid.UUID         `json:"id" yaml:"id"`
	Rooms             int               `json:"rooms" yaml:"rooms"`
	AccommodationType AccommodationType `json:"accommodation_type" yaml:"accommodation_type"`
	Floor             int               `json:"floor" yaml:"floor"`
	IsAvailable       bool              `json:"is_available" yaml:"is_available"`
	Cost              decimal.Decimal   `json:"cost" yaml:"-"`
	MarkupPercent     decimal.Decimal   `json:"booking_markup_percent" yaml:"-"`
	Description       string            `json:"description" yaml:"description"`
	CreatedAt         time.Time         `json:"created_at" yaml:"-"`
}

// UnitSpec is the input for adding a unit to the catalog. Nil pointers mean
// "use the default"; a zero ID gets a fresh one.
type UnitSpec struct {
	ID                uuid.UUID
	Rooms             int
	AccommodationType AccommodationType
	Floor             int
	IsAvailable       *bool
	Cost              decimal.Decimal
	MarkupPercent     *decimal.Decimal
	Description       string
}

// UnitSortFields are the keys SearchUnits accepts for ordering.
var UnitSortFields = []string{"id", "cost", "rooms", "floor", "accommodation_type", "created_at"}

func IsUnitSortField(field string) bool {
	for _, f := range UnitSortFields {
		if f == field {
			return true
		}
	}
	return false
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// UnitFilter selects available units by cost range with paging and sorting.
type UnitFilter struct {
	MinCost   *decimal.Decimal
	MaxCost   *decimal.Decimal
	Page      int
	PageSize  int
	SortField string
	SortDir   SortDirection
}

type Page struct {
	Items         []*Unit `json:"content"`
	Page          int     `json:"page"`
	PageSize      int     `json:"page_size"`
	TotalPages    int     `json:"total_pages"`
	TotalElements int64   `json:"total_elements"`
}
