package main

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/forestcarbon-backend/internal/absorption"
	"github.com/angelmondragon/forestcarbon-backend/internal/contracts"
	"github.com/angelmondragon/forestcarbon-backend/internal/credits"
	"github.com/angelmondragon/forestcarbon-backend/internal/cron"
	"github.com/angelmondragon/forestcarbon-backend/internal/environment"
	"github.com/angelmondragon/forestcarbon-backend/internal/farms"
	"github.com/angelmondragon/forestcarbon-backend/internal/ledger"
	"github.com/angelmondragon/forestcarbon-backend/internal/notifications"
	"github.com/angelmondragon/forestcarbon-backend/internal/ownerships"
	"github.com/angelmondragon/forestcarbon-backend/internal/projects"
	"github.com/angelmondragon/forestcarbon-backend/internal/reserves"
	"github.com/angelmondragon/forestcarbon-backend/pkg/config"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
	"github.com/angelmondragon/forestcarbon-backend/pkg/maps"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
	"github.com/angelmondragon/forestcarbon-backend/pkg/pubsub"
	"github.com/angelmondragon/forestcarbon-backend/pkg/weather"
)

type geocoder interface {
	Geocode(ctx context.Context, address string) (*maps.Place, error)
}

type weatherProvider interface {
	Fetch(ctx context.Context, lat, lng float64, from, to time.Time) (*weather.Reading, error)
}

type services struct {
	farms       farms.Service
	environment environment.Service
	absorption  absorption.Service
	reserves    reserves.Service
	credits     credits.Service
	ownerships  ownerships.Service
	contracts   contracts.Service
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, psClient *pubsub.Client, m *metrics.CarbonMetrics) (*services, error) {
	conn := dbClient.DB()

	var dispatcher notifications.Dispatcher = notifications.NewLogDispatcher(logg)
	if psClient != nil {
		pubsubDispatcher, err := notifications.NewPubSubDispatcher(psClient.NotificationPublisher())
		if err != nil {
			return nil, err
		}
		dispatcher = pubsubDispatcher
	}
	notifier := notifications.NewNotifier(dispatcher, logg)

	farmSvc, err := farms.NewService(farms.NewRepository(conn), geocoderFor(cfg.GoogleMaps))
	if err != nil {
		return nil, fmt.Errorf("farms: %w", err)
	}
	provider, err := weatherProviderFor(cfg.Weather)
	if err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}
	envSvc, err := environment.NewService(environment.NewRepository(conn), farmSvc, provider, cfg.Weather.Lookback)
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	absorptionSvc, err := absorption.NewService(absorption.NewRepository(conn), dbClient, notifier, cfg.Carbon.HealthAlertSurvival)
	if err != nil {
		return nil, fmt.Errorf("absorption: %w", err)
	}
	projectSvc, err := projects.NewService(projects.NewRepository(conn), dbClient, absorptionSvc)
	if err != nil {
		return nil, fmt.Errorf("projects: %w", err)
	}
	reserveSvc, err := reserves.NewService(reserves.NewRepository(conn), dbClient, projectSvc, m, cfg.Carbon.ReserveTTL)
	if err != nil {
		return nil, fmt.Errorf("reserves: %w", err)
	}
	journal, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	creditSvc, err := credits.NewService(credits.NewRepository(conn), dbClient, journal, notifier, m, cfg.Carbon.CreditLifetime)
	if err != nil {
		return nil, fmt.Errorf("credits: %w", err)
	}
	ownershipSvc, err := ownerships.NewService(ownerships.NewRepository(conn), dbClient, creditSvc, notifier, m)
	if err != nil {
		return nil, fmt.Errorf("ownerships: %w", err)
	}
	contractSvc, err := contracts.NewService(contracts.NewRepository(conn), dbClient, ownershipSvc, notifier, m, contracts.Defaults{
		TermMonths:        cfg.Carbon.DefaultTermMonths,
		RenewalNoticeDays: cfg.Carbon.DefaultRenewalNoticeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("contracts: %w", err)
	}

	return &services{
		farms:       farmSvc,
		environment: envSvc,
		absorption:  absorptionSvc,
		reserves:    reserveSvc,
		credits:     creditSvc,
		ownerships:  ownershipSvc,
		contracts:   contractSvc,
	}, nil
}

// geocoderFor returns a nil interface when no key is configured so farms
// report geocoding as unavailable instead of calling out.
func geocoderFor(cfg config.GoogleMapsConfig) geocoder {
	client, err := maps.NewClient(cfg.APIKey)
	if err != nil {
		return nil
	}
	return client
}

func weatherProviderFor(cfg config.WeatherConfig) (weatherProvider, error) {
	if cfg.BaseURL == "" {
		return nil, nil
	}
	return weather.NewClient(cfg.BaseURL, cfg.APIKey, weather.WithTimeout(cfg.Timeout))
}

// buildRegistry lists the sweeps in dependency order: fresh measurements feed
// the absorption recompute, and contracts settle before ownership expiry.
func buildRegistry(logg *logger.Logger, m *metrics.CronJobMetrics, deps *services) (*cron.Registry, error) {
	sweepParams := cron.SweepJobParams{Logger: logg, Metrics: m}

	envJob, err := cron.NewEnvironmentRefreshJob(cron.EnvironmentJobParams{
		Logger: logg, Metrics: m, Farms: deps.farms, Environment: deps.environment,
	})
	if err != nil {
		return nil, err
	}
	absorptionJob, err := cron.NewAbsorptionRecomputeJob(cron.AbsorptionJobParams{
		Logger: logg, Metrics: m, Absorption: deps.absorption,
	})
	if err != nil {
		return nil, err
	}
	reserveJob, err := cron.NewReserveExpiryJob(sweepParams, deps.reserves)
	if err != nil {
		return nil, err
	}
	creditJob, err := cron.NewCreditExpiryJob(sweepParams, deps.credits)
	if err != nil {
		return nil, err
	}
	contractJob, err := cron.NewContractLifecycleJob(sweepParams, deps.contracts)
	if err != nil {
		return nil, err
	}
	ownershipJob, err := cron.NewOwnershipExpiryJob(sweepParams, deps.ownerships)
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{envJob, absorptionJob, reserveJob, creditJob, contractJob, ownershipJob} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
