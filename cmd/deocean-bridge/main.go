// Deocean bridge - connects a Deocean home-automation gateway to MQTT.
//
// The bridge keeps one TCP session to the gateway, tracks the lights and
// covers listed in the device table, runs panel scenes from the scene table
// and exposes state, commands, scene events and health over MQTT. Link
// counters are optionally recorded in InfluxDB.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/deocean-bridge/internal/bridges/deocean"
	"github.com/nerrad567/deocean-bridge/internal/infrastructure/config"
	"github.com/nerrad567/deocean-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/deocean-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/deocean-bridge/internal/infrastructure/mqtt"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root command runs the bridge.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "deocean-bridge",
		Short:         "Bridge a Deocean gateway to MQTT",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "path to the configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and the device and scene tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return check(cmd, configPath)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deocean-bridge %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	return root
}

// run is the bridge itself, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Deocean bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	sessionCfg, err := sessionConfig(cfg.Gateway)
	if err != nil {
		return err
	}

	deviceTable, err := cfg.Tables.DeviceTable()
	if err != nil {
		return fmt.Errorf("loading device table: %w", err)
	}
	sceneTable, err := cfg.Tables.SceneTable()
	if err != nil {
		return fmt.Errorf("loading scene table: %w", err)
	}

	// Gateway session: open the socket, register and sync devices, then
	// start receiving.
	session := deocean.NewSession(sessionCfg, log.With("component", "deocean"))
	defer func() {
		log.Info("stopping gateway session")
		session.Stop()
	}()

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	devices := session.LoadDevices(deviceTable)
	scenes := session.LoadScenes(sceneTable)
	log.Info("tables loaded", "devices", devices, "scenes", scenes)

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway session: %w", err)
	}

	// Link telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
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

		recorder := deocean.NewStatsRecorder(influxClient, session, cfg.Bridge.ID, cfg.Gateway.Address(), cfg.InfluxDB.Interval)
		recorder.Start(ctx)
		defer recorder.Stop()
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT bridge (optional)
	if cfg.MQTT.Enabled {
		bridge, err := startBridge(ctx, cfg, session, log)
		if err != nil {
			return err
		}
		defer bridge.Stop()
	} else {
		log.Info("MQTT disabled, running gateway session only")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Bridge (publishes "stopping") and MQTT
	// 2. Stats recorder and InfluxDB
	// 3. Gateway session

	return nil
}

// startBridge connects to the broker with the bridge's Last Will and starts
// the MQTT bridge. The returned bridge's Stop also closes the MQTT client.
func startBridge(ctx context.Context, cfg *config.Config, session *deocean.Session, log *logging.Logger) (*stoppableBridge, error) {
	topics := deocean.Topics{Prefix: cfg.MQTT.TopicPrefix}

	lwt, err := json.Marshal(deocean.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return nil, fmt.Errorf("building MQTT will: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithWill(mqtt.Will{Topic: topics.Health(), Payload: lwt, QoS: 1, Retained: true}),
		mqtt.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := deocean.NewBridge(deocean.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		Topics:         topics,
		Registry:       session.Registry(),
		Link:           session,
		GatewayAddress: cfg.Gateway.Address(),
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		HealthInterval: cfg.Health.Interval,
		Logger:         log.With("component", "bridge"),
	})
	if err != nil {
		_ = mqttClient.Close()
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	// After a reconnect the broker has published the Will, so restore the
	// retained health and inventory.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		if err := bridge.Health().PublishNow(); err != nil {
			log.Warn("failed to republish health", "error", err)
		}
		bridge.PublishDiscovery()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := bridge.Start(ctx); err != nil {
		_ = mqttClient.Close()
		return nil, fmt.Errorf("starting bridge: %w", err)
	}

	return &stoppableBridge{bridge: bridge, client: mqttClient, log: log}, nil
}

// stoppableBridge stops the bridge before disconnecting from the broker so
// the final "stopping" status is delivered.
type stoppableBridge struct {
	bridge *deocean.Bridge
	client *mqtt.Client
	log    *logging.Logger
}

func (s *stoppableBridge) Stop() {
	s.log.Info("stopping MQTT bridge")
	s.bridge.Stop()
	if err := s.client.Close(); err != nil {
		s.log.Error("error closing MQTT", "error", err)
	}
}

// sessionConfig converts the gateway configuration section.
func sessionConfig(g config.GatewayConfig) (deocean.SessionConfig, error) {
	polarity, err := deocean.ParseCoverPolarity(g.CoverPolarity)
	if err != nil {
		return deocean.SessionConfig{}, fmt.Errorf("gateway.cover_polarity: %w", err)
	}
	toggle, err := deocean.ParseTogglePolicy(g.ToggleUnknown)
	if err != nil {
		return deocean.SessionConfig{}, fmt.Errorf("gateway.toggle_unknown: %w", err)
	}

	return deocean.SessionConfig{
		Gateway: deocean.GatewayConfig{
			Host:              g.Host,
			Port:              g.Port,
			ConnectTimeout:    g.ConnectTimeout,
			ReadTimeout:       g.ReadTimeout,
			WriteTimeout:      g.WriteTimeout,
			ReconnectInterval: g.ReconnectInterval,
			MaxRetry:          g.MaxRetry,
		},
		CoverPolarity:     polarity,
		TogglePolicy:      toggle,
		ToggleSyncTimeout: g.ToggleSyncTimeout,
		SceneQueueSize:    g.SceneQueueSize,
	}, nil
}

// getConfigPath returns the configuration file path.
// Uses DEOCEAN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DEOCEAN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface, whose handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements deocean.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements deocean.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements deocean.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
