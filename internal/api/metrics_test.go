package api

import (
	"bufio"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	metricsHandler().ServeHTTP(w, req)
	body, _ := io.ReadAll(w.Body)
	return string(body)
}

// sample returns the value of the series written exactly as series, or
// 0 when it is absent.
func sample(t *testing.T, text, series string) float64 {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, series+" ") {
			v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, series)), 64)
			if err != nil {
				t.Fatalf("parse %q: %v", line, err)
			}
			return v
		}
	}
	return 0
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()

	text := scrape(t)
	if v := sample(t, text, `alchemy_puzzle_state{state="initializing"}`); v != 1 {
		t.Errorf("initializing gauge = %v, want 1", v)
	}
	transitions := sample(t, text, `alchemy_puzzle_transitions_total{from="powered",to="solved"}`)
	solves := sample(t, text, `alchemy_puzzle_solves_total{reason="solve:tags"}`)

	m.Transition(puzzle.StatePowered, puzzle.StateSolved, "solve:tags")

	text = scrape(t)
	if got := sample(t, text, `alchemy_puzzle_transitions_total{from="powered",to="solved"}`); got != transitions+1 {
		t.Errorf("transitions = %v, want %v", got, transitions+1)
	}
	if got := sample(t, text, `alchemy_puzzle_solves_total{reason="solve:tags"}`); got != solves+1 {
		t.Errorf("solves = %v, want %v", got, solves+1)
	}
	if v := sample(t, text, `alchemy_puzzle_state{state="solved"}`); v != 1 {
		t.Errorf("solved gauge = %v, want 1", v)
	}
	if v := sample(t, text, `alchemy_puzzle_state{state="powered"}`); v != 0 {
		t.Errorf("powered gauge = %v, want 0", v)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	InitMetrics()
	SetPropName("alchemy-metrics")
	SetMQTTState(true, true)
	SetIOState(false)

	text := scrape(t)
	cycles := sample(t, text, "alchemy_loop_cycle_seconds_count")
	NewMetrics().CycleCompleted(time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	NewMux().ServeHTTP(w, req)
	body, _ := io.ReadAll(w.Body)
	text = string(body)

	for _, want := range []string{
		"alchemy_uptime_seconds",
		"alchemy_events_total",
		"alchemy_events_dropped_total",
		`alchemy_build_info{prop="alchemy-metrics"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if v := sample(t, text, "alchemy_mqtt_connected"); v != 1 {
		t.Errorf("mqtt_connected = %v", v)
	}
	if v := sample(t, text, "alchemy_io_controller_connected"); v != 0 {
		t.Errorf("io_controller_connected = %v", v)
	}
	if v := sample(t, text, "alchemy_loop_cycle_seconds_count"); v != cycles+1 {
		t.Errorf("cycle count = %v, want %v", v, cycles+1)
	}
}
