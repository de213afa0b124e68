// Wash Bay Gateway
//
// This is the main entry point for the car-wash bay gateway. The gateway
// bridges a PLC that exposes per-bay Modbus holding registers to an MQTT bus:
//   - Polls every bay and publishes retained status on state change
//   - Executes START/STOP commands received on wash/{bayId}/cmd
//   - Records one wash log per session in SQLite
//   - Degrades every bay to OFFLINE while the PLC is unreachable
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/nerrad567/washbay-gateway/migrations"

	"github.com/nerrad567/washbay-gateway/internal/api"
	"github.com/nerrad567/washbay-gateway/internal/bridges/modbus"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/config"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/database"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/washbay-gateway/internal/washbay"
	"github.com/nerrad567/washbay-gateway/internal/washlog"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path, used when it exists and WASHGW_CONFIG is unset.
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting wash bay gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Best-effort flush of the log file
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"gateway", cfg.Gateway.ID,
		"bays", cfg.Gateway.Bays,
	)

	// Open database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := washlog.NewRepository(db.DB)
	orphans, err := repo.CloseOrphaned(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("closing orphaned wash logs: %w", err)
	}
	if orphans > 0 {
		log.Warn("closed wash logs left open by previous run", "count", orphans)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Gateway.ID)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var telemetry washbay.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		telemetry = washbay.NewInfluxTelemetry(influxClient)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if regErr := metrics.Register(prometheus.DefaultRegisterer); regErr != nil {
		return fmt.Errorf("registering metrics: %w", regErr)
	}

	driver := newDriver(cfg, log)

	gateway, err := washbay.New(washbay.Options{
		GatewayID: cfg.Gateway.ID,
		BayIDs:    cfg.Gateway.Bays,
		Driver:    driver,
		Bus:       mqttClient,
		Store:     repo,
		Telemetry: telemetry,
		Logger:    log,
		QoS:       mqttClient.QoS(),
		Timing: washbay.Timing{
			PollInterval:             cfg.Timing.PollInterval(),
			OfflineBroadcastInterval: cfg.Timing.OfflineBroadcastInterval(),
			HeartbeatInterval:        cfg.Timing.HeartbeatInterval(),
			ReconnectInitial:         cfg.Timing.ReconnectInitial(),
			ReconnectMax:             cfg.Timing.ReconnectMax(),
		},
		Commands: washbay.CommandOptions{
			QueueSize:     cfg.Commands.QueueSize,
			DedupeTTL:     time.Duration(cfg.Commands.DedupeTTLSeconds) * time.Second,
			RatePerSecond: cfg.Commands.RatePerSecond,
			Burst:         cfg.Commands.Burst,
		},
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	if restoreErr := gateway.RestoreSnapshots(ctx, repo); restoreErr != nil {
		log.Warn("restoring bay snapshots", "error", restoreErr)
	}

	topics := mqtt.Topics{}
	if subErr := mqttClient.Subscribe(topics.AllBayCommands(), mqttClient.QoS(), gateway.HandleMessage); subErr != nil {
		return fmt.Errorf("subscribing to bay commands: %w", subErr)
	}
	log.Info("subscribed to bay commands", "topic", topics.AllBayCommands())

	gatewayDone := make(chan error, 1)
	go func() {
		gatewayDone <- gateway.Run(ctx)
	}()

	// Operations API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bays:    gateway,
			Logs:    repo,
			MQTT:    mqttClient,
			DB:      db,
			Metrics: metrics.Handler(),
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	health := washbay.NewHealthReporter(washbay.HealthReporterConfig{
		GatewayID:  cfg.Gateway.ID,
		Version:    version,
		PLCAddress: plcAddress(cfg),
		Interval:   cfg.Timing.HealthInterval(),
		Publisher:  mqttClient,
		Source:     gateway,
	})
	health.SetLogger(log)
	if pubErr := health.PublishStarting(); pubErr != nil {
		log.Warn("publishing starting health", "error", pubErr)
	}
	health.Start(ctx)
	defer health.Stop()

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	runErr := <-gatewayDone

	log.Info("shutdown signal received, cleaning up")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("gateway: %w", runErr)
	}

	log.Info("wash bay gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// WASHGW_CONFIG wins; otherwise the default path is used if the file exists,
// and "" (defaults plus environment) if it does not.
func getConfigPath() string {
	if path := os.Getenv("WASHGW_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// newDriver builds the PLC driver selected by modbus.mode.
func newDriver(cfg *config.Config, log *logging.Logger) modbus.Driver {
	if cfg.Modbus.Mode == config.ModbusModeSimulator {
		log.Info("using PLC simulator", "bays", len(cfg.Gateway.Bays))
		return modbus.NewSimulator(modbus.SimulatorConfig{
			Bays:         len(cfg.Gateway.Bays),
			WashDuration: time.Duration(cfg.Modbus.Simulator.WashDurationSeconds) * time.Second,
			IdleDelay:    time.Duration(cfg.Modbus.Simulator.IdleDelayMS) * time.Millisecond,
		})
	}

	log.Info("using Modbus TCP", "address", cfg.Modbus.Address(), "unit_id", cfg.Modbus.UnitID)
	return modbus.NewTCPDriver(modbus.TCPConfig{
		Address: cfg.Modbus.Address(),
		UnitID:  byte(cfg.Modbus.UnitID), //nolint:gosec // validated 0-255
		Timeout: cfg.Modbus.Timeout(),
	})
}

// plcAddress describes the PLC endpoint for health reports.
func plcAddress(cfg *config.Config) string {
	if cfg.Modbus.Mode == config.ModbusModeSimulator {
		return "simulator"
	}
	return cfg.Modbus.Address()
}

// healthCheck verifies the infrastructure connections are healthy.
// The PLC is not checked: the gateway runs degraded while it is down.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
