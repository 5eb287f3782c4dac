package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cadence_scheduler/internal/cadence"
	"cadence_scheduler/internal/catalog"
	"cadence_scheduler/internal/config"
	"cadence_scheduler/internal/configdb"
	"cadence_scheduler/internal/facility"
	"cadence_scheduler/internal/handlers"
	"cadence_scheduler/internal/lock"
	"cadence_scheduler/internal/logger"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/repository"
	"cadence_scheduler/internal/repository/db"
	"cadence_scheduler/internal/server"
	"cadence_scheduler/internal/service"
)

const shutdownTimeout = 10 * time.Second

// @title                       Cadence Scheduler API
// @version                     1.0
// @description                 Periodic calibration submissions for LCO instruments.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	configPath := flag.String("config", "", "path to config.yml (default: configs/config.yml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.LogLevel)

	// open DB
	sqlDB, err := openDB(cfg, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()
	repos := repository.NewRepository(sqlDB)

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	importCatalog(ctx, cfg.Catalog, repos, log)

	directory := configdb.NewCache(
		configdb.NewClient(cfg.ConfigDB.URL, cfg.ConfigDB.Timeout),
		cfg.ConfigDB.TTL,
		log.With("component", "configdb"),
	)
	if err := directory.Refresh(ctx); err != nil {
		// The scheduler retries on every sweep; NRES and bias cadences fail until then.
		log.Warnw("configdb_unavailable_at_startup", "err", err)
	}

	facilities, err := newFacilities(cfg.Facility, repos.Targets, log)
	if err != nil {
		log.Fatalw("failed to load facility schemas", "err", err)
	}

	locker, closeLocker := newLocker(cfg, log.With("component", "lock"))
	defer closeLocker()

	engine := cadence.NewEngine(cadence.Deps{
		Observations: repos.Observations,
		Targets:      repos.Targets,
		Instruments:  repos.Instruments,
		Directory:    directory,
		Facilities:   facilities,
		Locker:       locker,
		Log:          log.With("component", "cadence"),
	})

	// wire dependencies
	services := service.NewService(repos, service.Options{
		Runner:    engine,
		Directory: directory,
		Vocab:     models.DefaultVocabulary,
		Auth:      service.AuthConfig{SigningKey: cfg.Auth.SigningKey, TokenTTL: cfg.Auth.TokenTTL},
		Log:       log.With("component", "service"),
	})
	apiHandler := handlers.NewHandler(services, log.With("component", "http"))

	if cfg.Scheduler.Enabled {
		go services.Scheduler.Run(ctx, cfg.Scheduler.Tick)
		log.Infow("scheduler_started", "tick", cfg.Scheduler.Tick, "strategies", engine.Names())
	} else {
		log.Infow("scheduler_disabled")
	}

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
}

// openDB initializes the SQLite database using configuration.
func openDB(cfg config.Config, log *logger.Logger) (*sql.DB, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "cadences.db")
		dbPath = "cadences.db"
	}
	return db.InitDB(dbPath)
}

// importCatalog seeds instruments, filters and targets. A bad catalog is logged, not fatal.
func importCatalog(ctx context.Context, path string, repos *repository.Repository, log *logger.Logger) {
	if path == "" {
		return
	}
	file, err := catalog.Load(path)
	if err != nil {
		log.Errorw("catalog_load_failed", "path", path, "err", err)
		return
	}
	importer := catalog.NewImporter(repos.Instruments, repos.Targets, log.With("component", "catalog"))
	if _, err := importer.Import(ctx, file); err != nil {
		log.Errorw("catalog_import_failed", "path", path, "err", err)
	}
}

// newFacilities registers the four facilities served by the observation portal.
func newFacilities(cfg config.FacilityConfig, targets facility.TargetLookup, log *logger.Logger) (*facility.Registry, error) {
	schemas, err := facility.LoadSchemas()
	if err != nil {
		return nil, err
	}
	portal := facility.NewPortal(facility.PortalConfig{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
		RPS:     cfg.RPS,
		Burst:   cfg.Burst,
	}, log.With("component", "facility"))

	registry := facility.NewRegistry()
	for _, name := range []string{
		facility.LCOCalibrations,
		facility.ImagerCalibrations,
		facility.PhotometricStandards,
		facility.BiasCalibrations,
	} {
		registry.Register(facility.New(name, portal, schemas, targets))
	}
	return registry, nil
}

// newLocker picks the per-cadence lock backend. Redis is needed when several instances share a database.
func newLocker(cfg config.Config, log *logger.Logger) (lock.Locker, func()) {
	if cfg.Lock.Backend == config.LockRedis {
		r := lock.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Lock.TTL, log)
		return r, func() { _ = r.Close() }
	}
	return lock.NewMemory(), func() {}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		log.Infow("http_server_listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
