package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types
const (
	AlertMQTTDisconnected         = "mqtt_disconnected"
	AlertIOControllerDisconnected = "io_controller_disconnected"
	AlertPostgresUnavailable      = "postgres_unavailable"
)

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	Prop      string                 `json:"prop"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// dependencyWatch raises one alert after a dependency has been down for
// delay, and one recovery notice when it comes back.
type dependencyWatch struct {
	event    string
	severity string
	label    string
	delay    time.Duration

	up        bool
	downSince time.Time
	alerted   bool
}

func (d *dependencyWatch) observe(connected bool, now time.Time) (AlertPayload, bool) {
	if connected {
		recovered := !d.up && d.alerted
		d.up = true
		d.downSince = time.Time{}
		d.alerted = false
		if recovered {
			return AlertPayload{
				Event:    d.event,
				Severity: SeverityInfo,
				Message:  d.label + " restored",
				Details:  map[string]interface{}{"recovered_at": now.UTC().Format(time.RFC3339)},
			}, true
		}
		return AlertPayload{}, false
	}

	if d.up {
		d.downSince = now
	}
	d.up = false

	if d.alerted || d.downSince.IsZero() {
		return AlertPayload{}, false
	}
	down := now.Sub(d.downSince)
	if down < d.delay {
		return AlertPayload{}, false
	}
	d.alerted = true
	return AlertPayload{
		Event:    d.event,
		Severity: d.severity,
		Message:  d.label + " disconnected",
		Details: map[string]interface{}{
			"disconnected_since":   d.downSince.UTC().Format(time.RFC3339),
			"disconnected_seconds": int(down.Seconds()),
		},
	}, true
}

type alertState struct {
	mu          sync.Mutex
	webhookURL  string
	mqtt        *dependencyWatch
	io          *dependencyWatch
	postgres    *dependencyWatch
	watchPG     bool
	initialized bool
	send        func(url string, p AlertPayload)
}

var alerts = newAlertState()

func newAlertState() *alertState {
	return &alertState{
		mqtt: &dependencyWatch{
			event: AlertMQTTDisconnected, severity: SeverityWarning,
			label: "MQTT broker", delay: 30 * time.Second, up: true,
		},
		io: &dependencyWatch{
			event: AlertIOControllerDisconnected, severity: SeverityCritical,
			label: "IO controller", delay: 15 * time.Second, up: true,
		},
		postgres: &dependencyWatch{
			event: AlertPostgresUnavailable, severity: SeverityWarning,
			label: "PostgreSQL", delay: 5 * time.Second, up: true,
		},
		send: sendWebhook,
	}
}

func envDelay(name string, def time.Duration) time.Duration {
	if s := os.Getenv(name); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}

// InitAlerts reads the webhook URL and delays from ALCHEMY_*_ALERT_* and
// arms the watchers. The event store is only watched when configured.
func InitAlerts(watchPostgres bool) {
	alerts.mu.Lock()
	defer alerts.mu.Unlock()

	alerts.watchPG = watchPostgres
	alerts.webhookURL = os.Getenv("ALCHEMY_ALERT_WEBHOOK_URL")
	alerts.mqtt.delay = envDelay("ALCHEMY_MQTT_ALERT_DELAY", alerts.mqtt.delay)
	alerts.io.delay = envDelay("ALCHEMY_IO_ALERT_DELAY", alerts.io.delay)
	alerts.postgres.delay = envDelay("ALCHEMY_POSTGRES_ALERT_DELAY", alerts.postgres.delay)

	if alerts.webhookURL != "" {
		log.Printf("Alerts enabled: webhook URL configured (mqtt_delay=%s, io_delay=%s, pg_delay=%s)",
			alerts.mqtt.delay, alerts.io.delay, alerts.postgres.delay)
	}
	alerts.initialized = true
}

// GetAlertWebhookURL returns the configured webhook URL.
func GetAlertWebhookURL() string {
	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	return alerts.webhookURL
}

// SendAlert posts to the webhook in the background, or logs when no
// webhook is configured.
func SendAlert(p AlertPayload) {
	alerts.mu.Lock()
	url := alerts.webhookURL
	send := alerts.send
	alerts.mu.Unlock()

	if p.Prop == "" {
		p.Prop = GetPropName()
	}
	if p.Prop == "" {
		p.Prop = "unknown"
	}
	if p.Timestamp == "" {
		p.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if url == "" {
		log.Printf("[ALERT] %s severity=%s msg=%q details=%v", p.Event, p.Severity, p.Message, p.Details)
		return
	}
	go send(url, p)
}

func sendWebhook(url string, payload AlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("alert: failed to marshal payload: %v", err)
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("alert: webhook POST failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("alert: webhook returned status %d", resp.StatusCode)
	}
}

func checkAndAlert(w *dependencyWatch, connected bool, now time.Time) {
	alerts.mu.Lock()
	if !alerts.initialized {
		alerts.mu.Unlock()
		return
	}
	p, fire := w.observe(connected, now)
	alerts.mu.Unlock()

	if fire {
		SendAlert(p)
	}
}

// CheckAndAlertMQTT records broker state and alerts after a long outage.
func CheckAndAlertMQTT(connected bool) {
	checkAndAlert(alerts.mqtt, connected, time.Now())
}

// CheckAndAlertIO records IO controller state and alerts after a long outage.
func CheckAndAlertIO(connected bool) {
	checkAndAlert(alerts.io, connected, time.Now())
}

// CheckAndAlertPostgres records event store state and alerts after a long outage.
func CheckAndAlertPostgres(connected bool) {
	checkAndAlert(alerts.postgres, connected, time.Now())
}

// RunAlertMonitor checks the readiness state every interval until ctx
// is cancelled.
func RunAlertMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c := connectivity()
			CheckAndAlertMQTT(c.MQTT)
			CheckAndAlertIO(c.IOController)
			alerts.mu.Lock()
			watchPG := alerts.watchPG
			alerts.mu.Unlock()
			if watchPG {
				CheckAndAlertPostgres(c.Postgres)
			}
		}
	}
}
