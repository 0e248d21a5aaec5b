package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"wtbooking/internal/domain"
	"wtbooking/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// UnitSeed is one catalog entry in units.yaml. Cost and markup are strings so
// that YAML floats never touch money.
type UnitSeed struct {
	ID                string `yaml:"id"`
	Rooms             int    `yaml:"rooms"`
	AccommodationType string `yaml:"accommodation_type"`
	Floor             int    `yaml:"floor"`
	IsAvailable       *bool  `yaml:"is_available"`
	Cost              string `yaml:"cost"`
	MarkupPercent     string `yaml:"markup_percent"`
	Description       string `yaml:"description"`
}

type unitsFile struct {
	Units []UnitSeed `yaml:"units"`
}

func LoadUnits(path string) ([]UnitSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read units: %w", err)
	}
	var f unitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse units: %w", err)
	}
	return f.Units, nil
}

func (u UnitSeed) Spec() (models.UnitSpec, error) {
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return models.UnitSpec{}, fmt.Errorf("%w: unit id %q", domain.ErrValidation, u.ID)
	}
	cost, err := decimal.NewFromString(u.Cost)
	if err != nil {
		return models.UnitSpec{}, fmt.Errorf("%w: unit %s cost %q", domain.ErrValidation, u.ID, u.Cost)
	}

	spec := models.UnitSpec{
		ID:                id,
		Rooms:             u.Rooms,
		AccommodationType: models.AccommodationType(u.AccommodationType),
		Floor:             u.Floor,
		IsAvailable:       u.IsAvailable,
		Cost:              cost,
		Description:       u.Description,
	}
	if u.MarkupPercent != "" {
		markup, err := decimal.NewFromString(u.MarkupPercent)
		if err != nil {
			return models.UnitSpec{}, fmt.Errorf("%w: unit %s markup %q", domain.ErrValidation, u.ID, u.MarkupPercent)
		}
		spec.MarkupPercent = &markup
	}
	return spec, nil
}

// Apply adds every seed whose ID is not in the catalog yet and returns how
// many were added. Existing units are left untouched.
func Apply(ctx context.Context, units domain.UnitService, seeds []UnitSeed, logger *zerolog.Logger) (int, error) {
	added := 0
	for _, s := range seeds {
		spec, err := s.Spec()
		if err != nil {
			return added, err
		}

		_, err = units.GetUnit(ctx, spec.ID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, domain.ErrNotFound):
			return added, fmt.Errorf("lookup unit %s: %w", spec.ID, err)
		}

		if _, err := units.AddUnit(ctx, spec); err != nil {
			// другой процесс успел добавить тот же объект
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return added, fmt.Errorf("add unit %s: %w", spec.ID, err)
		}
		added++
	}
	logger.Info().Int("seeded", added).Int("total", len(seeds)).Msg("Unit catalog seeded")
	return added, nil
}
