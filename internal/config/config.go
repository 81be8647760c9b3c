package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
	"github.com/AaronLay10/AlchemyMachine/internal/storage/postgres"
	"github.com/AaronLay10/AlchemyMachine/internal/telemetry"
)

// DeploymentConfig is the per-prop alchemy.yaml.
type DeploymentConfig struct {
	Version int `yaml:"version"`
	Prop    struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"prop"`
	Tags struct {
		Correct []string `yaml:"correct"`
		Reset   string   `yaml:"reset"`
	} `yaml:"tags"`
	Timing struct {
		CycleMS         int `yaml:"cycle_ms"`
		SolvedTimeoutMS int `yaml:"solved_timeout_ms"`
		SolveSequenceMS int `yaml:"solve_sequence_ms"`
		LatchPulseMS    int `yaml:"latch_pulse_ms"`
		TagStaleAfterMS int `yaml:"tag_stale_after_ms"`
	} `yaml:"timing"`
	Lights struct {
		FlashPeriodMS int         `yaml:"flash_period_ms"`
		LampTest      bool        `yaml:"lamp_test"`
		Strips        map[int]int `yaml:"strips"` // strip number -> pixel count
	} `yaml:"lights"`
	MQTT struct {
		URL                string  `yaml:"url"`
		ClientID           string  `yaml:"client_id"`
		Username           string  `yaml:"username"`
		CommandTopic       string  `yaml:"command_topic"`
		HostTopic          string  `yaml:"host_topic"`
		RegistrationTopic  string  `yaml:"registration_topic"`
		HeartbeatTopic     string  `yaml:"heartbeat_topic"`
		Optional           *bool   `yaml:"optional"`
		HeartbeatTolerance float64 `yaml:"heartbeat_tolerance"`
	} `yaml:"mqtt"`
	Network struct {
		UIPort  int    `yaml:"ui_port"`
		TLSCert string `yaml:"tls_cert"`
		TLSKey  string `yaml:"tls_key"`
	} `yaml:"network"`
	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`
	Influx struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Org     string `yaml:"org"`
		Bucket  string `yaml:"bucket"`
	} `yaml:"influx"`
	Debug bool `yaml:"debug"`
}

// Load reads and validates a deployment file.
func Load(path string) (*DeploymentConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes and validates deployment YAML.
func Parse(b []byte) (*DeploymentConfig, error) {
	var cfg DeploymentConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported alchemy.yaml version: %d", cfg.Version)
	}

	if _, err := cfg.Puzzle(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// PropID returns the prop identifier, defaulting to "alchemy".
func (c *DeploymentConfig) PropID() string {
	if c.Prop.ID == "" {
		return "alchemy"
	}
	return c.Prop.ID
}

// Puzzle converts the tag and timing sections into a puzzle.Config.
// Missing values fall back to the shipped defaults.
func (c *DeploymentConfig) Puzzle() (puzzle.Config, error) {
	pc := puzzle.DefaultConfig()

	if len(c.Tags.Correct) > 0 {
		pc.CorrectTags = pc.CorrectTags[:0]
		for i, s := range c.Tags.Correct {
			id, err := puzzle.ParseTagID(s)
			if err != nil {
				return pc, fmt.Errorf("tags.correct[%d]: %w", i, err)
			}
			pc.CorrectTags = append(pc.CorrectTags, id)
		}
	}
	if c.Tags.Reset != "" {
		id, err := puzzle.ParseTagID(c.Tags.Reset)
		if err != nil {
			return pc, fmt.Errorf("tags.reset: %w", err)
		}
		pc.ResetTag = id
	}
	for i, id := range pc.CorrectTags {
		if id == pc.ResetTag {
			return pc, fmt.Errorf("tags.correct[%d] equals tags.reset", i)
		}
	}

	pc.SolvedTimeout = millis(c.Timing.SolvedTimeoutMS, puzzle.DefaultSolvedTimeout)
	pc.SolveDuration = millis(c.Timing.SolveSequenceMS, puzzle.DefaultSolveDuration)
	pc.FlashPeriod = millis(c.Lights.FlashPeriodMS, puzzle.DefaultFlashPeriod)
	return pc, nil
}

// CycleInterval returns the control loop period, defaulting to 50ms.
func (c *DeploymentConfig) CycleInterval() time.Duration {
	return millis(c.Timing.CycleMS, puzzle.DefaultCycleInterval)
}

// LatchPulse returns the latch pulse width, defaulting to 10ms.
func (c *DeploymentConfig) LatchPulse() time.Duration {
	return millis(c.Timing.LatchPulseMS, 10*time.Millisecond)
}

// TagStaleAfter returns how long a tag reading stays valid without a
// refresh from the IO controller, defaulting to 1s.
func (c *DeploymentConfig) TagStaleAfter() time.Duration {
	return millis(c.Timing.TagStaleAfterMS, time.Second)
}

// StripLength returns the pixel count of a strip, 0 if unknown.
func (c *DeploymentConfig) StripLength(strip int) int {
	if n, ok := c.Lights.Strips[strip]; ok {
		return n
	}
	return defaultStripLengths[strip]
}

var defaultStripLengths = map[int]int{1: 27, 2: 8, 3: 22, 4: 8}

// UIPort returns the configured UI port, defaulting to 8080 if not set.
func (c *DeploymentConfig) UIPort() int {
	if c.Network.UIPort == 0 {
		return 8080
	}
	return c.Network.UIPort
}

// BrokerURL returns the MQTT broker URL. MQTT_URL overrides the file.
func (c *DeploymentConfig) BrokerURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	if c.MQTT.URL != "" {
		return c.MQTT.URL
	}
	return "tcp://localhost:1883"
}

// ClientID returns the MQTT client id, defaulting to "AlchemyMachine".
func (c *DeploymentConfig) ClientID() string {
	return orDefault(c.MQTT.ClientID, "AlchemyMachine")
}

// CommandTopic is where operators publish "solve" and "reset".
func (c *DeploymentConfig) CommandTopic() string {
	return orDefault(c.MQTT.CommandTopic, "ToDevice/"+c.ClientID())
}

// HostTopic is where the prop reports status to the game host.
func (c *DeploymentConfig) HostTopic() string {
	return orDefault(c.MQTT.HostTopic, "ToHost/"+c.ClientID())
}

// RegistrationTopic is where the IO controller announces its devices.
func (c *DeploymentConfig) RegistrationTopic() string {
	return orDefault(c.MQTT.RegistrationTopic, "alchemy/"+c.PropID()+"/register")
}

// HeartbeatTopic is where the IO controller sends its heartbeats.
func (c *DeploymentConfig) HeartbeatTopic() string {
	return orDefault(c.MQTT.HeartbeatTopic, "alchemy/"+c.PropID()+"/heartbeat")
}

// MQTTOptional reports whether the prop counts as ready without a
// broker. Defaults to true: the machine still runs on stale inputs.
func (c *DeploymentConfig) MQTTOptional() bool {
	if c.MQTT.Optional == nil {
		return true
	}
	return *c.MQTT.Optional
}

// MQTTPassword resolves MQTT_PASSWORD (or MQTT_PASSWORD_FILE).
func (c *DeploymentConfig) MQTTPassword() (string, error) {
	return ResolveSecret("MQTT_PASSWORD")
}

// PostgresOptions builds the event store connection settings. The
// password comes from PGPASSWORD or PGPASSWORD_FILE.
func (c *DeploymentConfig) PostgresOptions() (postgres.Options, error) {
	pass, err := ResolveSecret("PGPASSWORD")
	if err != nil {
		return postgres.Options{}, err
	}
	return postgres.Options{
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		User:     c.Postgres.User,
		Database: c.Postgres.Database,
		Password: pass,
		SSLMode:  c.Postgres.SSLMode,
	}, nil
}

// TelemetryOptions builds the InfluxDB settings. The token comes from
// INFLUX_TOKEN or INFLUX_TOKEN_FILE and must be set when influx is enabled.
func (c *DeploymentConfig) TelemetryOptions() (telemetry.Options, error) {
	resolve := ResolveSecret
	if c.Influx.Enabled {
		resolve = RequireSecret
	}
	token, err := resolve("INFLUX_TOKEN")
	if err != nil {
		return telemetry.Options{}, err
	}
	return telemetry.Options{
		Enabled: c.Influx.Enabled,
		URL:     orDefault(c.Influx.URL, "http://localhost:8086"),
		Token:   token,
		Org:     c.Influx.Org,
		Bucket:  orDefault(c.Influx.Bucket, "alchemy"),
		PropID:  c.PropID(),
	}, nil
}

// HeartbeatTolerance returns the missed-heartbeat multiplier, default 2.
func (c *DeploymentConfig) HeartbeatTolerance() float64 {
	if c.MQTT.HeartbeatTolerance <= 1.0 {
		return 2.0
	}
	return c.MQTT.HeartbeatTolerance
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
