package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/AlchemyMachine/internal/api"
	"github.com/AaronLay10/AlchemyMachine/internal/bridge"
	"github.com/AaronLay10/AlchemyMachine/internal/config"
	"github.com/AaronLay10/AlchemyMachine/internal/events"
	"github.com/AaronLay10/AlchemyMachine/internal/lights"
	"github.com/AaronLay10/AlchemyMachine/internal/mqtt"
	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
	"github.com/AaronLay10/AlchemyMachine/internal/storage/postgres"
	"github.com/AaronLay10/AlchemyMachine/internal/telemetry"
	"github.com/AaronLay10/AlchemyMachine/internal/version"
)

const (
	// offlinePayload is the retained last-will on the host state topic.
	offlinePayload = `{"state":"offline"}`

	heartbeatCheckInterval = time.Second
	alertCheckInterval     = 10 * time.Second
	postgresPingInterval   = 10 * time.Second
	lampTestHold           = 150 * time.Millisecond
	lampTestWaitIO         = 5 * time.Second
	shutdownTimeout        = 5 * time.Second
)

func runProp(parent context.Context, opts *rootOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", opts.configPath, err)
	}
	pcfg, err := cfg.Puzzle()
	if err != nil {
		return err
	}

	events.SetOutput(os.Stdout, cfg.Debug || opts.debug)

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "alchemy machine starting", map[string]interface{}{
		"service":  "alchemy",
		"prop":     cfg.PropID(),
		"version":  version.Version,
		"hostname": hostname,
		"pid":      os.Getpid(),
	})
	events.StartSession()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	api.InitMetrics()
	api.SetPropName(propName(cfg))
	if err := api.InitAuth(); err != nil {
		return err
	}
	api.InitTLS(cfg.Network.TLSCert, cfg.Network.TLSKey)
	api.InitAlerts(cfg.Postgres.Enabled)

	if cfg.Postgres.Enabled {
		if pg := connectPostgres(cfg); pg != nil {
			defer pg.Close()
			go watchPostgres(ctx, pg)
		}
	}

	// IO controller bridge.
	readers := len(pcfg.CorrectTags)
	registry := mqtt.NewDeviceRegistry()
	inputs := bridge.NewIOState(readers, cfg.TagStaleAfter())
	inbox := mqtt.NewCommandInbox()

	client, err := newMQTTClient(cfg)
	if err != nil {
		return err
	}
	outputs := bridge.NewCommandPublisher(client, registry, bridge.Options{
		LatchPulse:   cfg.LatchPulse(),
		StripLengths: stripLengths(cfg),
	})
	reporter := mqtt.NewHostReporter(client, cfg.HostTopic())
	subscriber := mqtt.NewDeviceSubscriber(client, registry, inputs)

	ctrl, err := puzzle.NewController(pcfg, puzzle.Ports{
		Readers:   inputs,
		Sensors:   inputs,
		Actuators: outputs,
		Lights:    outputs,
		Commands:  inbox,
	})
	if err != nil {
		return err
	}

	monitor := mqtt.NewMonitor(mqtt.IOControllerSpecs(readers, stripNumbers()), cfg.HeartbeatTolerance())
	monitor.OnChange(func(_ string, connected bool) {
		if !connected {
			inputs.Invalidate()
		}
		api.SetIOState(connected)
	})

	mqttOptional := cfg.MQTTOptional()
	client.SetOnConnect(func() {
		api.SetMQTTState(true, mqttOptional)
		reporter.Announce()
		ctrl.Resync()
	})
	client.SetOnConnectionLost(func(err error) {
		api.SetMQTTState(false, mqttOptional)
		events.Emit("warning", "system.error", "mqtt connection lost", map[string]interface{}{
			"broker": client.BrokerURL(),
			"error":  err.Error(),
		})
	})

	go outputs.Run(ctx)
	go reporter.Run(ctx)

	connected := client.StartWithRetry(map[string]paho.MessageHandler{
		cfg.CommandTopic(): inbox.Handler(),
		cfg.RegistrationTopic(): mqtt.RegistrationHandler(monitor, registry, subscriber, func(string) {
			ctrl.Resync()
		}),
		cfg.HeartbeatTopic(): monitor.HeartbeatHandler(),
	})
	api.SetMQTTState(connected, mqttOptional)
	if !connected {
		if !mqttOptional {
			return fmt.Errorf("mqtt broker %s unreachable", cfg.BrokerURL())
		}
		events.Emit("warning", "system.error", "mqtt unavailable, running without remote IO", map[string]interface{}{
			"broker": cfg.BrokerURL(),
		})
	}
	defer client.Disconnect()

	monitor.Start(heartbeatCheckInterval)
	defer monitor.Stop()

	go api.RunAlertMonitor(ctx, alertCheckInterval)

	observers := puzzle.Observers{api.NewMetrics(), reporter}
	if rec := connectTelemetry(cfg); rec != nil {
		defer rec.Close()
		go rec.Forward(ctx)
		observers = append(observers, rec)
	}
	ctrl.SetObserver(observers)

	api.SetPuzzleView(ctrl)
	api.SetCommandSink(inbox)
	server := api.NewServer(cfg.UIPort())
	server.Start()

	if cfg.Lights.LampTest {
		runLampTest(ctx, monitor, outputs)
	}

	api.SetControllerReady(true)
	err = ctrl.Run(ctx, cfg.CycleInterval())
	api.SetControllerReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		events.Emit("warning", "system.error", "api shutdown", map[string]interface{}{"error": serr.Error()})
	}

	events.Emit("info", "system.shutdown", "", map[string]interface{}{
		"state": string(ctrl.State()),
	})

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func propName(cfg *config.DeploymentConfig) string {
	if cfg.Prop.Name != "" {
		return cfg.Prop.Name
	}
	return cfg.PropID()
}

func newMQTTClient(cfg *config.DeploymentConfig) (*mqtt.Client, error) {
	pass, err := cfg.MQTTPassword()
	if err != nil {
		return nil, err
	}
	return mqtt.NewClient(mqtt.Options{
		BrokerURL:   cfg.BrokerURL(),
		ClientID:    cfg.ClientID(),
		Username:    cfg.MQTT.Username,
		Password:    pass,
		WillTopic:   cfg.HostTopic() + "/state",
		WillPayload: offlinePayload,
	}), nil
}

// connectPostgres opens the event store. Failure is reported and the prop
// runs without persistence.
func connectPostgres(cfg *config.DeploymentConfig) *postgres.Client {
	popts, err := cfg.PostgresOptions()
	if err == nil {
		var pg *postgres.Client
		pg, err = postgres.New(cfg.PropID(), popts)
		if err == nil {
			events.SetPostgresClient(pg)
			api.SetPostgresState(true, true)
			return pg
		}
	}
	api.SetPostgresState(false, true)
	events.Emit("warning", "system.error", "postgres unavailable, events not persisted", map[string]interface{}{
		"error": err.Error(),
	})
	return nil
}

func watchPostgres(ctx context.Context, pg *postgres.Client) {
	ticker := time.NewTicker(postgresPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := pg.Ping(pctx)
			cancel()
			api.SetPostgresState(err == nil, true)
		}
	}
}

// connectTelemetry returns nil when InfluxDB is disabled or unreachable.
func connectTelemetry(cfg *config.DeploymentConfig) *telemetry.Recorder {
	topts, err := cfg.TelemetryOptions()
	if err == nil {
		var rec *telemetry.Recorder
		rec, err = telemetry.Connect(topts)
		if err == nil {
			return rec
		}
	}
	if !errors.Is(err, telemetry.ErrDisabled) {
		events.Emit("warning", "system.error", "influx unavailable, telemetry off", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

// runLampTest waits briefly for the IO controller to register, then wipes
// the strips once.
func runLampTest(ctx context.Context, monitor *mqtt.Monitor, d lights.Driver) {
	deadline := time.Now().Add(lampTestWaitIO)
	for len(monitor.ConnectedControllers()) == 0 {
		if time.Now().After(deadline) {
			events.Emit("warning", "device.error", "lamp test skipped, IO controller not registered", nil)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	lampTest(ctx, d, lampTestHold)
}

// lampTest reports a wipe cut short by anything but shutdown.
func lampTest(ctx context.Context, d lights.Driver, hold time.Duration) {
	if err := lights.LampTest(ctx, d, hold); err != nil && !errors.Is(err, context.Canceled) {
		events.Emit("warning", "device.error", "lamp test interrupted", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func stripNumbers() []int {
	n := make([]int, 0, len(lights.AllStrips))
	for _, s := range lights.AllStrips {
		n = append(n, int(s))
	}
	return n
}

func stripLengths(cfg *config.DeploymentConfig) map[lights.Strip]int {
	m := make(map[lights.Strip]int, len(lights.AllStrips))
	for _, s := range lights.AllStrips {
		if n := cfg.StripLength(int(s)); n > 0 {
			m[s] = n
		}
	}
	return m
}
