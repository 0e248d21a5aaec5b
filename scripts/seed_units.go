package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"wtbooking/internal/cache"
	"wtbooking/internal/database"
	"wtbooking/internal/models"
	"wtbooking/internal/repository"
	"wtbooking/internal/seed"
	"wtbooking/internal/service"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		unitsPath = flag.String("units", "configs/units.yaml", "path to units.yaml")
		dbPath    = flag.String("db", "./data/wtbooking.db", "path to sqlite db")
		markup    = flag.String("markup", fmt.Sprint(models.DefaultMarkupPercent), "markup percent for units without one")
	)
	flag.Parse()

	defaultMarkup, err := decimal.NewFromString(*markup)
	if err != nil {
		return fmt.Errorf("parse -markup: %w", err)
	}

	seeds, err := seed.LoadUnits(*unitsPath)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return fmt.Errorf("no units in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	// Сервер сбрасывает счетчики при старте, поэтому здесь хватает памяти.
	counter := cache.NewCounter(models.CounterAvailableUnits, repository.NewMemoryCounterStore(), &logger)
	units := service.NewUnitService(db, counter, nil, defaultMarkup, &logger)

	added, err := seed.Apply(context.Background(), units, seeds, &logger)
	if err != nil {
		return err
	}
	logger.Info().Int("added", added).Str("db", *dbPath).Msg("Seed completed")
	return nil
}
