package main

import (
	"context"
	"flag"
	"log/syslog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/buzkaaclicker/profiles"
	"github.com/buzkaaclicker/profiles/objstore"
	"github.com/buzkaaclicker/profiles/persistent"
	"github.com/buzkaaclicker/profiles/transport/rest"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logrusys "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/tidwall/buntdb"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

type config struct {
	debug          bool
	dbVerbose      bool
	pgDsn          string
	redisUrl       string
	s3             objstore.Config
	listenAddr     string
	allowOrigins   string
	identityHeader string
	cacheTTL       time.Duration
	avatarURLTTL   time.Duration
}

func configFromEnv() config {
	requireEnv := func(key string) string {
		value := os.Getenv(key)
		if value == "" {
			logrus.Fatalln(key + " not set!")
		}
		return value
	}
	envOr := func(key string, fallback string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		return fallback
	}
	durationEnv := func(key string, fallback time.Duration) time.Duration {
		value := os.Getenv(key)
		if value == "" {
			return fallback
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			logrus.WithError(err).Fatalln(key + " is not a valid duration!")
		}
		return d
	}

	debug := os.Getenv("DEBUG") == "true"
	defaultAddr := ":2137"
	if debug {
		defaultAddr = "127.0.0.1:2137"
	}
	return config{
		debug:     debug,
		dbVerbose: os.Getenv("DB_VERBOSE") == "true",
		pgDsn:     requireEnv("POSTGRES_DSN"),
		redisUrl:  os.Getenv("REDIS_URL"),
		s3: objstore.Config{
			Endpoint:        requireEnv("S3_ENDPOINT"),
			AccessKeyId:     requireEnv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: requireEnv("S3_SECRET_ACCESS_KEY"),
			Bucket:          envOr("S3_BUCKET", "fastboosty-profile-bucket"),
			Region:          envOr("S3_REGION", "eu-north-1"),
			UseSSL:          os.Getenv("S3_USE_SSL") != "false",
		},
		listenAddr:     envOr("LISTEN_ADDR", defaultAddr),
		allowOrigins:   envOr("ALLOW_ORIGINS", "*"),
		identityHeader: envOr("IDENTITY_HEADER", rest.DefaultIdentityHeader),
		cacheTTL:       durationEnv("CACHE_TTL", profiles.DefaultCacheTTL),
		avatarURLTTL:   durationEnv("AVATAR_URL_TTL", profiles.DefaultAvatarURLTTL),
	}
}

func newServer(db *bun.DB, service *profiles.Service, cfg config) *fiber.App {
	profileController := rest.ProfileController{
		Service:  service,
		Identity: rest.HeaderIdentity(cfg.identityHeader),
	}
	healthController := rest.HealthController{Ping: db.PingContext}

	// server settings of mounted apps are ignored, limits belong to the root app
	server := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		BodyLimit:    8 * 1024 * 1024,
		ErrorHandler: rest.ErrorHandler,
	})
	server.Use(rest.LogHandler())

	api := fiber.New(fiber.Config{
		ErrorHandler: rest.ErrorHandler,
	})
	api.Use(recover.New())
	api.Use(cors.New(cors.Config{AllowOrigins: cfg.allowOrigins}))

	api.Get("/status", monitor.New())
	healthController.InstallTo(api)
	profileController.InstallTo(api)

	server.Mount("/api/", api)
	server.Use(rest.NotFoundHandler)
	return server
}

func openViewCache(ctx context.Context, redisUrl string) (profiles.ViewCache, func()) {
	if redisUrl == "" {
		logrus.Infoln("REDIS_URL not set, using embedded view cache.")
		bdb, err := buntdb.Open(":memory:")
		if err != nil {
			logrus.WithError(err).Fatalln("Could not open buntdb.")
		}
		return &persistent.BuntViewCache{Buntdb: bdb}, func() { _ = bdb.Close() }
	}

	opts, err := redis.ParseURL(redisUrl)
	if err != nil {
		logrus.WithError(err).Fatalln("Could not parse REDIS_URL.")
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// the cache is auxiliary, requests fall back to the store while it is down
		logrus.WithError(err).Warningln("Could not ping redis.")
	}
	return &persistent.RedisViewCache{Client: client}, func() { _ = client.Close() }
}

func setupLogger(verbose bool) {
	if os.Getenv("LOG_FORMAT") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.Stamp,
			FullTimestamp:   true,
		})
	}
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if os.Getenv("SYSLOG") != "true" {
		return
	}
	syslogHook, err := logrusys.NewSyslogHook("", "", syslog.LOG_USER, "profiles")
	if err != nil {
		logrus.WithError(err).Fatalln("Could not create syslog hook.")
		return
	}
	logrus.AddHook(syslogHook)
}

func main() {
	flag.Parse()
	cfg := configFromEnv()
	setupLogger(cfg.debug)
	logrus.Infoln("Starting profile service.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.Infoln("Opening database.")
	db, err := persistent.Open(ctx, cfg.pgDsn)
	if err != nil {
		logrus.WithError(err).Fatalln("Could not open database.")
	}
	if cfg.debug || cfg.dbVerbose {
		persistent.EnableQueryDebug(db)
	}
	defer db.Close()
	if err := persistent.CreateSchema(ctx, db); err != nil {
		logrus.WithError(err).Fatalln("Could not create database schema.")
	}

	cache, closeCache := openViewCache(ctx, cfg.redisUrl)
	defer closeCache()

	blobs, err := objstore.New(cfg.s3)
	if err != nil {
		logrus.WithError(err).Fatalln("Could not create object storage client.")
	}
	if strings.EqualFold(os.Getenv("S3_CREATE_BUCKET"), "true") {
		if err := blobs.EnsureBucket(ctx, cfg.s3.Region); err != nil {
			logrus.WithError(err).Fatalln("Could not ensure bucket.")
		}
	}

	service := profiles.NewService(profiles.ServiceConfig{
		Store:        &persistent.ProfileStore{DB: db},
		Blobs:        blobs,
		Cache:        cache,
		CacheTTL:     cfg.cacheTTL,
		AvatarURLTTL: cfg.avatarURLTTL,
		StoreRetries: profiles.DefaultStoreRetries,
	})
	server := newServer(db, service, cfg)

	logrus.WithField("addr", cfg.listenAddr).Infoln("Starting listening... To shut down use ^C")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Listen(cfg.listenAddr)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logrus.Infoln("Shutting down...")
		err := server.ShutdownWithTimeout(10 * time.Second)
		service.Flush()
		return err
	})
	if err := group.Wait(); err != nil {
		logrus.WithError(err).Warningln("Server stopped with error.")
	}
	logrus.Infoln("Bye.")
}
