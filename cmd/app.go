package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	aggapp "telemetry-engine/internal/analytics/application"
	"telemetry-engine/internal/analytics/application/events"
	"telemetry-engine/internal/analytics/domain/rollup"
	"telemetry-engine/internal/analytics/infrastructure/archive"
	aggmem "telemetry-engine/internal/analytics/infrastructure/memory"
	aggpg "telemetry-engine/internal/analytics/infrastructure/postgres"
	"telemetry-engine/internal/composite"
	"telemetry-engine/internal/config"
	"telemetry-engine/internal/eventing"
	"telemetry-engine/internal/eventing/relay"
	latestapp "telemetry-engine/internal/latest/application"
	latest "telemetry-engine/internal/latest/domain"
	latestmem "telemetry-engine/internal/latest/infrastructure/memory"
	latestredis "telemetry-engine/internal/latest/infrastructure/redis"
	"telemetry-engine/internal/observability/metrics"
	platformpg "telemetry-engine/internal/platform/postgres"
	platformredis "telemetry-engine/internal/platform/redis"
	pointsapp "telemetry-engine/internal/points/application"
	points "telemetry-engine/internal/points/domain"
	pointsmem "telemetry-engine/internal/points/infrastructure/memory"
	pointspg "telemetry-engine/internal/points/infrastructure/postgres"
	seriesapp "telemetry-engine/internal/series/application"
	subsapp "telemetry-engine/internal/subscriptions/application"
	subscriptions "telemetry-engine/internal/subscriptions/domain"
	subsmem "telemetry-engine/internal/subscriptions/infrastructure/memory"
	subspg "telemetry-engine/internal/subscriptions/infrastructure/postgres"
	subsredis "telemetry-engine/internal/subscriptions/infrastructure/redis"
	"telemetry-engine/internal/subscriptions/infrastructure/yamlfile"
	teleapp "telemetry-engine/internal/telemetry/application"
	telemetry "telemetry-engine/internal/telemetry/domain"
	telemem "telemetry-engine/internal/telemetry/infrastructure/memory"
	telepg "telemetry-engine/internal/telemetry/infrastructure/postgres"
)

// app is the assembled engine. Services are built once per process.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db    *sql.DB
	redis *goredis.Client
	sink  relay.Sink

	bus       *eventing.InMemoryBus
	points    *pointsapp.Service
	series    *seriesapp.Resolver
	latest    *latestapp.Service
	registry  *subsapp.Registry
	analytics *aggapp.Service
	ingest    *teleapp.IngestService
	composite *composite.Handler
}

type stores struct {
	points   points.Repository
	readings telemetry.Repository
	fivemin  rollup.FiveMinuteRepository
	daily    rollup.DailyRepository
	latest   latest.Store
	subs     subscriptions.Store
	defs     subscriptions.DefinitionSource
}

// buildApp wires every component from cfg. Without a database URL the
// engine runs on in-memory stores.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{cfg: cfg, logger: logger, bus: eventing.NewInMemoryBus()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	metrics.Init(a.db, logger)

	a.series, err = seriesapp.NewResolver(st.points, logger)
	if err != nil {
		return nil, err
	}
	a.points, err = pointsapp.NewService(st.points, a.series, logger)
	if err != nil {
		return nil, err
	}

	policy, err := latest.ParseOrderingPolicy(cfg.Cache.Ordering)
	if err != nil {
		return nil, err
	}
	a.latest, err = latestapp.NewService(st.latest, logger, latestapp.WithPolicy(policy), latestapp.WithEventBus(a.bus))
	if err != nil {
		return nil, err
	}

	a.registry, err = subsapp.NewRegistry(st.defs, st.subs, logger)
	if err != nil {
		return nil, err
	}
	a.composite, err = composite.NewHandler(a.registry, a.points, a.latest, logger)
	if err != nil {
		return nil, err
	}
	a.composite.Attach(a.bus)

	aggOpts := []aggapp.Option{
		aggapp.WithEventBus(a.bus),
		aggapp.WithRetention(aggapp.Retention{
			Raw:        cfg.Retention.Raw,
			FiveMinute: cfg.Retention.FiveMinute,
			Daily:      cfg.Retention.Daily,
			BatchSize:  cfg.Retention.BatchSize,
		}),
	}
	if cfg.Retention.ArchiveDir != "" {
		archiver, err := archive.NewParquetArchiver(cfg.Retention.ArchiveDir, logger)
		if err != nil {
			return nil, err
		}
		aggOpts = append(aggOpts, aggapp.WithArchiver(archiver))
	}
	a.analytics, err = aggapp.NewService(a.points, st.readings, st.fivemin, st.daily, logger, aggOpts...)
	if err != nil {
		return nil, err
	}
	rollover, err := aggapp.NewRolloverHandler(a.analytics, nil, logger)
	if err != nil {
		return nil, err
	}
	aggapp.WireAnalyticsEventBus(a.bus, rollover, eventing.NewMemoryProcessedStore())

	a.ingest, err = teleapp.NewIngestService(a.points, st.readings, a.analytics, aggapp.BucketsTouched, logger,
		teleapp.WithLatestWriter(a.latest),
		teleapp.WithEventBus(a.bus),
	)
	if err != nil {
		return nil, err
	}

	if err := a.attachRelay(); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) openStores(ctx context.Context) (stores, error) {
	var st stores
	cfg := a.cfg

	if cfg.Database.URL != "" {
		db, err := platformpg.Open(ctx, cfg.Database.URL, a.logger)
		if err != nil {
			return st, err
		}
		a.db = db
		if cfg.Database.Migrate {
			if err := platformpg.Migrate(db, -1, a.logger); err != nil {
				return st, err
			}
		}
		st.points = pointspg.NewPointRepository(db)
		st.readings = telepg.NewReadingRepository(db)
		st.fivemin = aggpg.NewFiveMinuteRepository(db)
		st.daily = aggpg.NewDailyRepository(db)
	} else {
		a.logger.Warn("no database configured, using in-memory stores")
		st.points = pointsmem.NewPointRepository()
		st.readings = telemem.NewReadingRepository()
		st.fivemin = aggmem.NewFiveMinuteRepository()
		st.daily = aggmem.NewDailyRepository()
	}

	switch cfg.Cache.Backend {
	case config.BackendRedis:
		client, err := platformredis.Open(ctx, cfg.Redis.URL, a.logger)
		if err != nil {
			return st, err
		}
		a.redis = client
		cache, err := latestredis.NewStore(client, a.logger)
		if err != nil {
			return st, err
		}
		st.latest = cache
		subs, err := subsredis.NewStore(client)
		if err != nil {
			return st, err
		}
		st.subs = subs
	default:
		st.latest = latestmem.NewStore()
		st.subs = subsmem.NewStore()
	}

	switch cfg.Composites.Source {
	case config.SourceFile:
		st.defs = yamlfile.NewSource(cfg.Composites.File)
	case config.SourcePostgres:
		if a.db == nil {
			return st, errors.New("composites.source postgres needs database.url")
		}
		st.defs = subspg.NewDefinitionRepository(a.db)
	default:
		st.defs = subsmem.NewDefinitions()
	}
	return st, nil
}

// attachRelay forwards engine events to the configured broker.
func (a *app) attachRelay() error {
	cfg := a.cfg.Relay
	var (
		sink relay.Sink
		err  error
	)
	switch cfg.Driver {
	case config.RelayNATS:
		sink, err = relay.NewNATSSink(cfg.NATSURL, cfg.NATSPrefix, a.logger)
	case config.RelayKafka:
		sink, err = relay.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, a.logger)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	a.sink = sink
	forwarder, err := relay.NewForwarder(sink, a.logger)
	if err != nil {
		return err
	}
	forwarder.Attach(a.bus, eventRegistry())
	return nil
}

func eventRegistry() *eventing.Registry {
	return eventing.NewRegistry(
		latest.LatestValueWritten{},
		telemetry.ReadingsIngested{},
		events.DayAggregated{},
		events.RawPurged{},
	)
}

// ready pings the backing stores.
func (a *app) ready(r *http.Request) error {
	if a.db != nil {
		if err := a.db.PingContext(r.Context()); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(r.Context()).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases connections.
func (a *app) Close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("relay close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
