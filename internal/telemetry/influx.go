// Package telemetry writes puzzle activity to InfluxDB: state
// transitions, solve timings, control loop latency and a copy of every
// non-debug event.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
)

const (
	pingTimeout = 5 * time.Second

	// cycle latency is summarised once per window rather than per cycle.
	defaultCycleWindow = 10 * time.Second
)

var (
	// ErrDisabled is returned when telemetry is turned off in alchemy.yaml.
	ErrDisabled = errors.New("telemetry: influx disabled")
	// ErrUnhealthy is returned when the server answers the ping but is not ready.
	ErrUnhealthy = errors.New("telemetry: influx not healthy")
)

// Options configures the InfluxDB connection.
type Options struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
	PropID  string
}

// pointWriter is the non-blocking write API.
type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Recorder implements puzzle.Observer and forwards events to InfluxDB.
type Recorder struct {
	client influxdb2.Client
	writer pointWriter
	propID string
	now    func() time.Time

	mu          sync.Mutex
	enteredAt   time.Time
	current     puzzle.State
	window      time.Duration
	windowStart time.Time
	cycles      int
	cycleSum    time.Duration
	cycleMax    time.Duration
}

// Connect pings the server and returns a recorder using its async write API.
func Connect(opts Options) (*Recorder, error) {
	if !opts.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token,
		influxdb2.DefaultOptions().SetBatchSize(50).SetFlushInterval(1000))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry: ping %s: %w", opts.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, ErrUnhealthy
	}

	writeAPI := client.WriteAPI(opts.Org, opts.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			events.Emit("warning", "system.error", "influx write failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	r := newRecorder(writeAPI, opts.PropID)
	r.client = client
	return r, nil
}

func newRecorder(w pointWriter, propID string) *Recorder {
	return &Recorder{
		writer: w,
		propID: propID,
		now:    time.Now,
		window: defaultCycleWindow,
	}
}

// Transition implements puzzle.Observer. It records the state change and
// how long the previous state lasted.
func (r *Recorder) Transition(from, to puzzle.State, reason string) {
	now := r.now()

	r.mu.Lock()
	var dwell time.Duration
	if !r.enteredAt.IsZero() && r.current == from {
		dwell = now.Sub(r.enteredAt)
	}
	r.enteredAt = now
	r.current = to
	r.mu.Unlock()

	r.writer.WritePoint(write.NewPoint(
		"puzzle_transition",
		map[string]string{
			"prop": r.propID,
			"from": string(from),
			"to":   string(to),
		},
		map[string]interface{}{
			"reason":   reason,
			"dwell_ms": dwell.Milliseconds(),
		},
		now,
	))

	if to == puzzle.StateSolved {
		r.writer.WritePoint(write.NewPoint(
			"puzzle_solve",
			map[string]string{"prop": r.propID},
			map[string]interface{}{
				"reason":     reason,
				"powered_ms": dwell.Milliseconds(),
			},
			now,
		))
	}
}

// CycleCompleted implements puzzle.Observer. Latency is aggregated and
// written once per window.
func (r *Recorder) CycleCompleted(took time.Duration) {
	now := r.now()

	r.mu.Lock()
	if r.windowStart.IsZero() {
		r.windowStart = now
	}
	r.cycles++
	r.cycleSum += took
	if took > r.cycleMax {
		r.cycleMax = took
	}
	if now.Sub(r.windowStart) < r.window {
		r.mu.Unlock()
		return
	}
	n, sum, peak := r.cycles, r.cycleSum, r.cycleMax
	r.cycles, r.cycleSum, r.cycleMax = 0, 0, 0
	r.windowStart = now
	r.mu.Unlock()

	r.writer.WritePoint(write.NewPoint(
		"control_loop",
		map[string]string{"prop": r.propID},
		map[string]interface{}{
			"cycles": n,
			"avg_us": (sum / time.Duration(n)).Microseconds(),
			"max_us": peak.Microseconds(),
		},
		now,
	))
}

// Forward copies non-debug events into the prop_events measurement until
// ctx is cancelled.
func (r *Recorder) Forward(ctx context.Context) {
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			r.writeEvent(e)
		}
	}
}

func (r *Recorder) writeEvent(e events.Event) {
	if e.Level == "debug" {
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		ts = r.now()
	}

	fields := map[string]interface{}{"count": 1}
	if e.Message != "" {
		fields["msg"] = e.Message
	}
	if e.SessionID != "" {
		fields["session_id"] = e.SessionID
	}

	r.writer.WritePoint(write.NewPoint(
		"prop_events",
		map[string]string{
			"prop":  r.propID,
			"event": e.Name,
			"level": e.Level,
		},
		fields,
		ts,
	))
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() {
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
}
