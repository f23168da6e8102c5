// WattSync - device-state synchronizer for energy-managed homes.
//
// wattsync signs in to the energy-management backend with a session token,
// keeps a live cached view of one house's devices (snapshot + SSE push +
// optimistic toggles) and relays that view to local consumers over HTTP,
// WebSocket, MQTT and InfluxDB.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wattwise/wattsync/internal/api"
	"github.com/wattwise/wattsync/internal/backend"
	"github.com/wattwise/wattsync/internal/infrastructure/config"
	"github.com/wattwise/wattsync/internal/infrastructure/database"
	"github.com/wattwise/wattsync/internal/infrastructure/influxdb"
	"github.com/wattwise/wattsync/internal/infrastructure/logging"
	"github.com/wattwise/wattsync/internal/infrastructure/mqtt"
	"github.com/wattwise/wattsync/internal/relay"
	"github.com/wattwise/wattsync/internal/session"
	"github.com/wattwise/wattsync/internal/snapshot"
	"github.com/wattwise/wattsync/internal/synchronizer"
	"github.com/wattwise/wattsync/internal/telemetry"
	"github.com/wattwise/wattsync/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// errSessionRejected is returned by run when the backend rejects the
// session token; the user has to sign in again.
var errSessionRejected = errors.New("session rejected by backend")

// options are the command-line settings.
type options struct {
	ConfigPath string
	// ResetCache discards the house's durable snapshot before starting.
	ResetCache bool
}

func main() {
	configFlag := flag.String("config", "", "path to config file (default $WATTSYNC_CONFIG or "+defaultConfigPath+")")
	resetFlag := flag.Bool("reset-cache", false, "discard the stored device snapshot and start cold")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := options{ConfigPath: getConfigPath(*configFlag), ResetCache: *resetFlag}
	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context, opts options) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting WattSync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.ConfigPath, "level", cfg.Logging.Level)

	sess, err := session.New(cfg.Session.Token)
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	houseID, err := sess.HouseID()
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	token, err := sess.Token()
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	log.Info("session loaded",
		"house_id", houseID,
		"user_id", sess.UserID(),
		"token", logging.RedactToken(token),
		"expires_at", sess.ExpiresAt(),
	)

	health := make(map[string]api.HealthChecker)

	store, closeStore, err := openStore(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.ResetCache {
		if err := store.Delete(ctx, houseID); err != nil {
			return fmt.Errorf("resetting snapshot cache: %w", err)
		}
		log.Info("stored snapshot discarded", "house_id", houseID)
	}

	authFailed := make(chan error, 1)
	syncer, err := synchronizer.New(synchronizer.Options{
		Backend:     backend.NewClient(cfg.Backend.BaseURL, cfg.BackendTimeout()),
		Store:       store,
		Logger:      log.With("component", "synchronizer"),
		RetryDelay:  cfg.Sync.RetryDelay,
		SettleDelay: cfg.Sync.SettleDelay,
		OnUnauthorized: func(err error) {
			select {
			case authFailed <- err:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("creating synchronizer: %w", err)
	}
	sess.OnInvalidate(syncer.Stop)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// MQTT relay (optional)
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
		health["mqtt"] = mqttClient

		rel, err := relay.New(relay.Options{
			Publisher:  mqttClient,
			Controller: syncer,
			Logger:     log.With("component", "relay"),
			QoS:        byte(cfg.MQTT.QoS),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT relay: %w", err)
		}
		defer syncer.Subscribe(rel.HandleEvent)()
		mqttClient.SetOnConnect(rel.Resync)

		relayDone := make(chan struct{})
		go func() {
			rel.Run(runCtx)
			close(relayDone)
		}()
		// Registered after the MQTT close so the relay drains first.
		defer func() {
			cancelRun()
			<-relayDone
		}()
	} else {
		log.Info("MQTT relay disabled")
	}

	// Power telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		health["influxdb"] = influxClient

		defer syncer.Subscribe(telemetry.NewRecorder(influxClient).HandleEvent)()
	} else {
		log.Info("InfluxDB telemetry disabled")
	}

	// Local HTTP/WebSocket surface (optional)
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Sync:    syncer,
			Health:  health,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		defer syncer.Subscribe(server.Hub().HandleEvent)()
		if err := server.Start(runCtx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := syncer.Start(runCtx, houseID, token); err != nil {
		return fmt.Errorf("starting synchronizer: %w", err)
	}
	defer syncer.Stop()

	if err := syncer.Load(runCtx); err != nil {
		if errors.Is(err, synchronizer.ErrUnauthorized) {
			sess.Logout()
			return fmt.Errorf("%w: %w", errSessionRejected, err)
		}
		// The live channel's INIT event or POST /refresh can still fill the cache.
		log.Warn("initial snapshot failed", "error", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
		return nil
	case err := <-authFailed:
		log.Error("backend rejected the session, signing out", "error", err)
		sess.Logout()
		return fmt.Errorf("%w: %w", errSessionRejected, err)
	}
}

// getConfigPath returns the -config flag value, then WATTSYNC_CONFIG, then
// the default path.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("WATTSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openStore opens the configured durable snapshot store and registers it
// for health reporting.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger, health map[string]api.HealthChecker) (snapshot.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("snapshot store ready", "driver", "sqlite", "path", cfg.Database.Path)
		health["database"] = db
		return snapshot.NewSQLiteStore(db), func() {
			log.Info("closing database")
			if err := db.Close(); err != nil {
				log.Error("error closing database", "error", err)
			}
		}, nil

	case config.StoreRedis:
		rdb, err := snapshot.OpenRedis(ctx, snapshot.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		log.Info("snapshot store ready", "driver", "redis", "addr", cfg.Redis.Addr)
		health["redis"] = redisHealth{rdb: rdb}
		return snapshot.NewRedisStore(rdb), func() {
			log.Info("closing Redis connection")
			if err := rdb.Close(); err != nil {
				log.Error("error closing Redis", "error", err)
			}
		}, nil

	default:
		log.Warn("snapshot store is in memory; cached devices are lost on exit")
		return snapshot.NewMemoryStore(), func() {}, nil
	}
}
