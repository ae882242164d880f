package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	libdb "parkline/backend/libs/db"
	libredis "parkline/backend/libs/redis"
	"parkline/backend/services/parking-service/internal/clients"
	"parkline/backend/services/parking-service/internal/config"
	"parkline/backend/services/parking-service/internal/events"
	"parkline/backend/services/parking-service/internal/feed"
	httpserver "parkline/backend/services/parking-service/internal/http"
	"parkline/backend/services/parking-service/internal/http/handlers"
	"parkline/backend/services/parking-service/internal/http/middleware"
	"parkline/backend/services/parking-service/internal/memstore"
	"parkline/backend/services/parking-service/internal/metrics"
	"parkline/backend/services/parking-service/internal/models"
	redisstore "parkline/backend/services/parking-service/internal/redis"
	"parkline/backend/services/parking-service/internal/repository"
	"parkline/backend/services/parking-service/internal/service"
	"parkline/backend/services/parking-service/internal/token"
)

const serviceName = "parking-service"

// App wires parking-service dependencies.
type App struct {
	server      *httpserver.Server
	hub         *feed.Hub
	bulk        *service.BulkService
	sweepEvery  time.Duration
	db          *sql.DB
	redisClient *redis.Client
	publisher   events.Publisher
	logger      *zap.Logger
}

type stores struct {
	sessions     service.SessionStore
	capacity     service.CapacityStore
	bulk         service.BulkStore
	transactions service.TransactionStore
	pricing      pricingStore
}

type pricingStore interface {
	service.PricingSource
	UpsertPricing(ctx context.Context, p models.Pricing) error
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	st, err := a.openStores(cfg)
	if err != nil {
		return nil, err
	}
	if err := seedPricing(context.Background(), st.pricing, cfg.Catalog.Facilities); err != nil {
		return nil, err
	}

	var active service.ActiveCache
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		a.redisClient, err = libredis.NewRedisClient(libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		active = redisstore.NewStore(a.redisClient, cfg.ActiveSessionTTL())
	} else {
		logger.Info("redis not configured, active sessions served from storage")
	}

	if strings.TrimSpace(cfg.AMQP.URL) != "" {
		a.publisher, err = events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue, logger)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info("amqp not configured, domain events disabled")
		a.publisher = events.Noop{}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(serviceName)
	}

	primary, fallback := catalogSources(cfg, st.pricing)
	catalog := service.NewCatalogService(primary, fallback, logger)

	a.hub = feed.NewHub(logger)
	capacity := service.NewCapacityService(st.capacity, catalog, cfg.Capacity.ReservationShare, a.hub, m, logger)
	reconciler := service.NewReconciler(st.transactions, st.sessions, st.bulk, logger)
	registry := token.NewRegistry(cfg.Tokens.Salt)

	sessions := service.NewSessionsService(service.SessionsDeps{
		Sessions:   st.sessions,
		Capacity:   capacity,
		Catalog:    catalog,
		Reconciler: reconciler,
		Tokens:     registry,
		Active:     active,
		Events:     a.publisher,
		Metrics:    m,
		Logger:     logger,
	})
	bulk := service.NewBulkService(st.bulk, capacity, catalog, reconciler, registry, a.publisher, m, logger)
	a.bulk = bulk
	a.sweepEvery = cfg.Capacity.SweepInterval
	tokens := service.NewTokenService(st.sessions, st.bulk, registry, logger)

	var ping func(ctx context.Context) error
	if a.db != nil {
		ping = a.db.PingContext
	}
	deps := httpserver.RouterDeps{
		Sessions:       handlers.NewSessionsHandlers(sessions, logger),
		Bulk:           handlers.NewBulkHandlers(bulk, logger),
		Capacity:       handlers.NewCapacityHandlers(capacity, logger),
		Transactions:   handlers.NewTransactionsHandlers(reconciler, logger),
		SessionsMe:     handlers.NewSessionsMeHandler(sessions, logger),
		ActiveSessions: handlers.NewActiveSessionsHandler(sessions, logger),
		DecodeToken:    handlers.NewDecodeTokenHandler(tokens, logger),
		Health:         handlers.NewHealthHandler(ping),
		CapacityFeed:   feed.NewServer(a.hub, cfg.Feed.PingInterval, cfg.Feed.WriteTimeout, logger).HandleWS,
	}
	if m != nil {
		deps.Metrics = m.Handler()
	}

	router := httpserver.NewRouter(deps, middleware.Auth(cfg.Auth.JWTSecret))
	a.server = httpserver.NewServer(cfg.HTTPAddress(), m.Middleware(router), httpserver.Timeouts{
		Read:     cfg.HTTP.ReadTimeout,
		Write:    cfg.HTTP.WriteTimeout,
		Shutdown: cfg.HTTP.ShutdownTimeout,
	}, logger)

	logger.Info("parking service configured",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis", active != nil),
		zap.Bool("metrics", m != nil),
		zap.Float64("reservation_share", cfg.Capacity.ReservationShare),
	)
	ok = true
	return a, nil
}

func (a *App) openStores(cfg *config.Config) (*stores, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		a.logger.Warn("using in-memory storage, data is lost on restart")
		return &stores{
			sessions:     memstore.NewSessions(),
			capacity:     memstore.NewCapacity(),
			bulk:         memstore.NewBulk(),
			transactions: memstore.NewTransactions(),
			pricing:      memstore.NewFacilities(),
		}, nil
	}

	sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN, libdb.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnLifetime: cfg.Database.ConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.db = sqlDB
	return &stores{
		sessions:     repository.NewSessionRepository(sqlDB),
		capacity:     repository.NewCapacityRepository(sqlDB),
		bulk:         repository.NewBulkRepository(sqlDB),
		transactions: repository.NewTransactionRepository(sqlDB),
		pricing:      repository.NewFacilityRepository(sqlDB),
	}, nil
}

// catalogSources puts the remote catalog first when configured and the local
// pricing table behind it.
func catalogSources(cfg *config.Config, local service.PricingSource) (primary, fallback service.PricingSource) {
	if strings.TrimSpace(cfg.Catalog.URL) == "" {
		return local, nil
	}
	remote := clients.NewCatalogClient(cfg.Catalog.URL, clients.NewDefaultHTTPClient(cfg.Catalog.Timeout))
	if cfg.Catalog.LocalFallback {
		return remote, local
	}
	return remote, nil
}

func seedPricing(ctx context.Context, store pricingStore, seeds []config.FacilitySeed) error {
	for _, s := range seeds {
		p, err := pricingFromSeed(s)
		if err != nil {
			return err
		}
		if err := store.UpsertPricing(ctx, p); err != nil {
			return fmt.Errorf("seed pricing for facility %d: %w", s.FacilityID, err)
		}
	}
	return nil
}

func pricingFromSeed(s config.FacilitySeed) (models.Pricing, error) {
	p := models.Pricing{
		FacilityID:  s.FacilityID,
		VehicleType: models.VehicleType(strings.ToLower(s.VehicleType)),
		TotalSlots:  s.TotalSlots,
	}
	if s.FacilityID <= 0 || !p.VehicleType.Valid() || s.TotalSlots < 0 {
		return p, fmt.Errorf("config: invalid facility seed %d/%s", s.FacilityID, s.VehicleType)
	}
	var err error
	if p.PricePer30Min, err = parseMoney(s.PricePer30Min); err != nil {
		return p, err
	}
	if p.PricePerDay, err = parseMoney(s.PricePerDay); err != nil {
		return p, err
	}
	if p.FixedBookingFee, err = parseMoney(s.BookingFee); err != nil {
		return p, err
	}
	return p, nil
}

func parseMoney(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: invalid amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: negative amount %q", raw)
	}
	return d, nil
}

// Run starts the capacity feed, the chunk sweeper and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run(ctx)
	if a.sweepEvery > 0 {
		go a.sweepChunks(ctx)
	}
	return a.server.Run(ctx)
}

func (a *App) sweepChunks(ctx context.Context) {
	ticker := time.NewTicker(a.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.bulk.SweepExpired(ctx)
			if err != nil {
				a.logger.Warn("chunk sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Info("expired chunks swept", zap.Int("chunks", n))
			}
		}
	}
}

// Close releases resources.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
