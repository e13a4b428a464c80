// Command gepd runs a group encryption protocol daemon: a producer engine,
// a consumer engine, and the admin HTTP surface (health, metrics, debug
// toggle, demo produce/consume) described in internal/api, wired over a
// configurable key-database backend.
//
// gepd has no outbound network transport of its own — spec.md §1 scopes the
// named-data network as an external collaborator, so gepd drives its
// engines against the in-process fake transport used throughout the test
// suite. A production deployment links gepd against a real
// geptransport.Transport (an NDN forwarder client) in place of
// geptransport.NewFake(); nothing else in this file changes.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/ndn-group-encrypt/internal/api"
	"github.com/kenneth/ndn-group-encrypt/internal/consumer"
	"github.com/kenneth/ndn-group-encrypt/internal/debug"
	"github.com/kenneth/ndn-group-encrypt/internal/gepaudit"
	"github.com/kenneth/ndn-group-encrypt/internal/gepconfig"
	"github.com/kenneth/ndn-group-encrypt/internal/gepkeydb"
	"github.com/kenneth/ndn-group-encrypt/internal/gepmetrics"
	"github.com/kenneth/ndn-group-encrypt/internal/geptracing"
	"github.com/kenneth/ndn-group-encrypt/internal/geptransport"
	"github.com/kenneth/ndn-group-encrypt/internal/middleware"
	"github.com/kenneth/ndn-group-encrypt/internal/producer"
)

func main() {
	var (
		configPath     = flag.String("config", "config.yaml", "path to the gepd YAML config file")
		listenAddr     = flag.String("listen-addr", ":8080", "admin HTTP surface listen address")
		tracingKind    = flag.String("tracing-exporter", "none", "trace exporter: stdout, jaeger, otlp, or none")
		jaegerURL      = flag.String("jaeger-url", "http://localhost:14268/api/traces", "jaeger collector endpoint")
		otlpEndpoint   = flag.String("otlp-endpoint", "localhost:4317", "OTLP gRPC collector endpoint")
		auditBatchSize = flag.Int("audit-batch-size", 100, "audit event batch size before flush")
		auditInterval  = flag.Duration("audit-flush-interval", 5*time.Second, "audit event flush interval")
		verbose        = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		debug.SetEnabled(true)
	} else {
		logger.SetLevel(logrus.InfoLevel)
		debug.InitFromEnv()
	}

	cfg, err := gepconfig.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	store := gepconfig.NewStore(cfg)

	watcher, err := gepconfig.WatchFile(*configPath, store, func(err error) {
		logger.WithError(err).Warn("config reload failed, keeping previous config")
	})
	if err != nil {
		logger.WithError(err).Fatal("watch config file")
	}
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingShutdown, err := geptracing.Setup(ctx, geptracing.Config{
		ServiceName:  "gepd",
		Exporter:     geptracing.ExporterKind(*tracingKind),
		JaegerURL:    *jaegerURL,
		OTLPEndpoint: *otlpEndpoint,
	})
	if err != nil {
		logger.WithError(err).Fatal("setup tracing")
	}
	defer tracingShutdown(context.Background())

	keydb, closeKeydb, err := buildKeyDatabase(ctx, cfg.KeyDatabase)
	if err != nil {
		logger.WithError(err).Fatal("build key database backend")
	}
	defer closeKeydb()

	auditLogger := gepaudit.NewLogger(1000,
		gepaudit.NewBatchSink(&gepaudit.StdoutSink{}, *auditBatchSize, *auditInterval, 3, time.Second))
	defer auditLogger.Close()

	metrics := gepmetrics.NewMetrics()
	transport := geptransport.NewFake()

	prod := producer.New(cfg.Producer, transport, keydb, nil, metrics, auditLogger)
	cons := consumer.New(cfg.Consumer, transport, keydb, nil, metrics, auditLogger)

	handler := api.NewHandler(prod, cons, keydb, logger, metrics)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	var wrapped http.Handler = router
	wrapped = middleware.Recovery(logger)(wrapped)
	wrapped = middleware.Logging(logger)(wrapped)

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: wrapped,
	}

	logger.WithFields(logrus.Fields{
		"listen_addr":      *listenAddr,
		"group_name":       cfg.Consumer.GroupName,
		"producer_prefix":  cfg.Producer.Prefix,
		"key_db_backend":   cfg.KeyDatabase.Backend,
		"tracing_exporter": string(*tracingKind),
	}).Info("gepd starting")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("admin http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("admin http server shutdown")
	}
}

// buildKeyDatabase selects and constructs a gepkeydb.KeyDatabase backend per
// cfg.Backend ("memory", "redis", "s3"), returning a close func the caller
// should defer.
func buildKeyDatabase(ctx context.Context, cfg gepconfig.KeyDatabaseConfig) (gepkeydb.KeyDatabase, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		backend := gepkeydb.NewMemoryBackend()
		db := gepkeydb.New(backend)
		return db, func() { db.Close(context.Background()) }, nil

	case "redis":
		if cfg.Redis == nil {
			return nil, nil, errMissingBackendConfig("redis")
		}
		backend, err := gepkeydb.NewRedisBackend(gepkeydb.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		db := gepkeydb.New(backend)
		return db, func() { db.Close(context.Background()) }, nil

	case "s3":
		if cfg.S3 == nil {
			return nil, nil, errMissingBackendConfig("s3")
		}
		backend, err := gepkeydb.NewS3Backend(ctx, gepkeydb.S3Options{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		db := gepkeydb.New(backend)
		return db, func() { db.Close(context.Background()) }, nil

	default:
		return nil, nil, errUnknownBackend(cfg.Backend)
	}
}

type errMissingBackendConfig string

func (e errMissingBackendConfig) Error() string {
	return "gepd: key_database.backend=" + string(e) + " requires the matching config block"
}

type errUnknownBackend string

func (e errUnknownBackend) Error() string {
	return "gepd: unknown key_database.backend " + string(e)
}
