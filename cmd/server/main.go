package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/deskline/servicedesk/internal/config"
	"github.com/deskline/servicedesk/internal/database"
	"github.com/deskline/servicedesk/internal/handler"
	"github.com/deskline/servicedesk/internal/logger"
	"github.com/deskline/servicedesk/internal/metrics"
	"github.com/deskline/servicedesk/internal/middleware"
	"github.com/deskline/servicedesk/internal/queue"
	"github.com/deskline/servicedesk/internal/repository"
	"github.com/deskline/servicedesk/internal/router"
	"github.com/deskline/servicedesk/internal/service"
	"github.com/deskline/servicedesk/internal/utils"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	migrate := pflag.Bool("migrate", false, "apply the database schema at start-up")
	pflag.Parse()

	boot := logger.New("info", "text", os.Stderr)
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		boot.WithError(err).Fatalf("read %s", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		boot.WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName})
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}
	defer db.Close()
	if *migrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.WithError(err).Fatal("migrate database")
		}
		log.Info("schema applied")
	}

	// Redis backs the auth rate limiter and the office cache.  Without it
	// both pass requests through.
	var rdb *redis.Client
	if redisCfg := config.LoadRedisConfig(); redisCfg.Addr != "" {
		rdb, err = config.NewRedisClient(ctx, redisCfg)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, rate limiting and caching disabled")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	m := metrics.New()
	tokens := utils.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL, cfg.RefreshTTL)
	accountRepo := repository.NewAccountRepo(db)
	tokenRepo := repository.NewTokenRepo(db)
	officeRepo := repository.NewOfficeRepo(db)
	reportRepo := repository.NewReportRepo(db)

	var pub service.Publisher = service.NopPublisher{}
	if cfg.RabbitURL != "" {
		pub = service.NewAMQPPublisher(cfg.RabbitURL)
	}
	officeCache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb, logger.Component(log, "cache"))

	accounts := service.NewAccountService(accountRepo, tokenRepo, officeRepo, tokens,
		service.AccountConfig{BcryptCost: cfg.BcryptCost, MaxRefreshTokens: cfg.MaxRefreshTokens},
		logger.Component(log, "accounts"), m)
	reports := service.NewReportService(reportRepo, accountRepo, officeRepo, pub, logger.Component(log, "reports"), m)
	offices := service.NewOfficeService(officeRepo, officeCache, logger.Component(log, "offices"))

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		name := cfg.AdminName
		if name == "" {
			name = "Administrator"
		}
		changed, err := accounts.EnsureAdmin(ctx, name, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			log.WithError(err).Fatal("bootstrap admin")
		}
		if changed {
			log.WithField("email", cfg.AdminEmail).Info("bootstrap admin ready")
		}
	}

	jobs := cron.New()
	if _, err := jobs.AddFunc(cfg.TokenSweepSchedule, func() {
		n, err := accounts.SweepExpiredTokens(context.Background())
		if err != nil {
			log.WithError(err).Warn("refresh token sweep failed")
			return
		}
		log.WithField("deleted", n).Debug("refresh token sweep")
	}); err != nil {
		log.WithError(err).Fatal("schedule token sweep")
	}
	jobs.Start()

	if cfg.RabbitURL != "" {
		consumer := &queue.NotificationConsumer{URL: cfg.RabbitURL, LogPath: cfg.NotificationLog, Log: logger.Component(log, "notifications")}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("notification consumer stopped")
			}
		}()
	}

	e := newServer(cfg, log, m)
	router.Register(e, router.Deps{
		Auth:          handler.NewAuthHandler(accounts),
		Reports:       handler.NewReportHandler(reports),
		Users:         handler.NewUserHandler(accounts),
		Offices:       handler.NewOfficeHandler(offices),
		Authenticator: accounts,
		DB:            db,
		Metrics:       m,
		AuthLimiter:   middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger.Component(log, "ratelimit")),
		OfficeCache:   officeCache.Middleware(),
	})

	go func() {
		addr := ":" + cfg.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	<-jobs.Stop().Done()
}

func newServer(cfg config.Config, log *logrus.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(cfg.IsDev(), logger.Component(log, "http"))

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.RequestLogger(logger.Component(log, "http")))
	e.Use(middleware.Metrics(m))
	return e
}
