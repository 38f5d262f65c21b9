package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nerrad567/vineyard-core/internal/api"
	"github.com/nerrad567/vineyard-core/internal/gateway"
	"github.com/nerrad567/vineyard-core/internal/handler/messaging"
	"github.com/nerrad567/vineyard-core/internal/handler/rest"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/config"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/logging"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/mqtt"
)

// healthTimeout bounds the startup health check of each dependency.
const healthTimeout = 5 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway: open the store, restore every registration into its
backends and serve API traffic and the admin API on one listener.

The admin API lives under /_admin. Prometheus metrics are served at
gateway.metrics_path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve wires the gateway and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting vineyard",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	db, reg, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing store")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	log.Info("store ready", "dialect", db.Dialect().String())
	reg.SetLogger(log.Component("registry"))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := gateway.NewMetrics(promReg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	dispatch := gateway.NewDispatcher(reg)
	dispatch.SetLogger(log.Component("dispatcher"))
	dispatch.SetMetrics(metrics)

	lifecycle := gateway.NewLifecycle(reg, dispatch)
	lifecycle.SetLogger(log.Component("lifecycle"))
	lifecycle.SetMetrics(metrics)
	lifecycle.SetDispatchTimeout(cfg.GetDispatchTimeout())

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
		lifecycle.SetSink(influxClient)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	traffic := rest.New(lifecycle)
	traffic.SetLogger(log.Component("rest"))
	dispatch.Register(traffic)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		destinations := messaging.New(mqttClient, lifecycle)
		destinations.SetLogger(log.Component("messaging"))
		dispatch.Register(destinations)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, messaging backend not registered")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("startup health check failed", "error", err)
	}

	// A registration that fails to restore stays stored; its traffic is
	// refused until it is re-registered or the backend comes back.
	if n, restoreErr := lifecycle.Restore(ctx); restoreErr != nil {
		log.Warn("some registrations were not restored", "apis", n, "error", restoreErr)
	}

	metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	srv, err := api.New(api.Deps{
		Config:    cfg.Gateway,
		Logger:    log.Component("api"),
		Registry:  reg,
		Lifecycle: lifecycle,
		Traffic:   traffic,
		Metrics:   metricsHandler,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating gateway server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing gateway server", "error", closeErr)
		}
	}()

	log.Info("vineyard started", "address", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// healthCheck pings each configured dependency. Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
