package main // Entry point package

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/cache"
	"github.com/iliyamo/cinema-booking-engine/internal/clock"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/database"
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/handler"
	"github.com/iliyamo/cinema-booking-engine/internal/lifecycle"
	"github.com/iliyamo/cinema-booking-engine/internal/middleware"
	"github.com/iliyamo/cinema-booking-engine/internal/pricing"
	"github.com/iliyamo/cinema-booking-engine/internal/queue"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
	"github.com/iliyamo/cinema-booking-engine/internal/router"
	"github.com/iliyamo/cinema-booking-engine/internal/seatlock"
	"github.com/iliyamo/cinema-booking-engine/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional outside development
	cfg := config.Load()

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	settings := config.NewSettings(log)
	if err := settings.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatal("invalid engine setting", zap.Error(err))
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal("schema migration failed", zap.Error(err))
		}
	}

	tm := repository.NewTxManager(db)
	holds := repository.NewSeatHoldRepo(tm)
	bookings := repository.NewBookingRepo(tm)
	catalog := repository.NewCatalogRepo(tm)

	clk := clock.NewRealClock()
	hub := broadcast.NewHub(log.Named("broadcast"))

	rdb := config.NewRedisClient(log)
	if rdb != nil {
		defer rdb.Close()
	}
	var seatMapCache service.SeatMapCache
	if c := cache.NewSeatMapCache(config.LoadCacheConfig(), rdb, log); c != nil {
		seatMapCache = c
		hub.Subscribe("seatmap-cache", c)
	}

	publisher := service.NewQueuePublisher(cfg.RabbitURL, log.Named("amqp"))
	defer publisher.Close()
	hub.Subscribe("amqp", publisher)
	// registered after the Redis and AMQP closers so observers drain first
	defer hub.Close()

	locks := seatlock.NewManager(holds, settings, clk, hub, log.Named("seatlock"))
	pe := pricing.NewEngine(settings, clk, log.Named("pricing"))
	bookingSvc := service.NewBookingService(service.BookingDeps{
		Bookings:  bookings,
		Catalog:   catalog,
		Locks:     locks,
		Machine:   lifecycle.NewMachine(log.Named("lifecycle")),
		Pricing:   pe,
		Settings:  settings,
		Clock:     clk,
		Broadcast: hub,
		Events:    publisher,
		Gateway:   service.NewStaticGateway(service.PaymentSuccess),
		Log:       log.Named("booking"),
	})
	seatMaps := service.NewSeatMapService(catalog, locks, pe, settings, clk, seatMapCache, log.Named("seatmap"))

	sweeper := seatlock.NewSweeper(locks, bookingSvc, clk, seatlock.SweeperConfig{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
	}, log.Named("sweeper"))
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal("sweeper start failed", zap.Error(err))
	}
	defer sweeper.Stop()

	journal, err := queue.NewJournal(cfg.BookingLogPath)
	if err != nil {
		log.Fatal("booking journal unavailable", zap.Error(err), zap.String("path", cfg.BookingLogPath))
	}
	defer func() { _ = journal.Sync() }()
	go func() {
		if err := queue.StartBookingConsumer(ctx, cfg.RabbitURL, journal, log.Named("consumer")); err != nil && !errs.Is(err, context.Canceled) {
			log.Error("booking consumer stopped", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	var limiter echo.MiddlewareFunc
	if rdb != nil {
		limiter = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, clk, log.Named("ratelimit"))
	}
	router.RegisterRoutes(e, handler.NewSeatMapHandler(seatMaps, hub, log), handler.Status(sweeper, hub))
	router.RegisterCustomer(e, handler.NewBookingHandler(bookingSvc, log), cfg.JWTSecret, limiter)
	router.RegisterAdmin(e, handler.NewSettingsHandler(settings, log), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errs.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
}

// newLogger builds a console logger in development and JSON otherwise.
func newLogger(cfg config.Config) *zap.Logger {
	zc := zap.NewProductionConfig()
	if cfg.IsDev() {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zc.Level = lvl
	}
	log, err := zc.Build()
	if err != nil {
		return zap.NewExample()
	}
	return log
}
