// Package api is the operator HTTP surface of the prop: health and
// readiness probes, a status snapshot, the event log, live events over
// WebSocket, Prometheus metrics and the solve/reset buttons.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
	"github.com/AaronLay10/AlchemyMachine/internal/storage/postgres"
)

// PuzzleView exposes the controller snapshot.
type PuzzleView interface {
	Snapshot() puzzle.Snapshot
}

// CommandSink accepts operator commands. The MQTT command inbox
// implements it, so HTTP and MQTT share one pending slot.
type CommandSink interface {
	Offer(cmd puzzle.Command, source string)
}

var (
	puzzleView  PuzzleView
	commandSink CommandSink
)

// SetPuzzleView sets the snapshot source used by /status.
func SetPuzzleView(v PuzzleView) {
	puzzleView = v
}

// SetCommandSink sets where operator commands are delivered.
func SetCommandSink(s CommandSink) {
	commandSink = s
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "alchemy",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// StatusResponse is the /status body.
type StatusResponse struct {
	Prop         string           `json:"prop"`
	SessionID    string           `json:"session_id,omitempty"`
	Puzzle       *puzzle.Snapshot `json:"puzzle,omitempty"`
	Connectivity Connectivity     `json:"connectivity"`
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	resp := StatusResponse{
		Prop:         GetPropName(),
		SessionID:    events.SessionID(),
		Connectivity: connectivity(),
	}
	if puzzleView == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	snap := puzzleView.Snapshot()
	resp.Puzzle = &snap
	_ = json.NewEncoder(w).Encode(resp)
}

// eventsHandler serves the in-memory ring buffer, or the Postgres event
// store with ?source=db (optionally filtered by &session= and &limit=).
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	q := r.URL.Query()
	if q.Get("source") != "db" {
		_ = json.NewEncoder(w).Encode(events.Snapshot())
		return
	}

	pg := events.GetPostgresClient()
	if pg == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "event store not available"})
		return
	}

	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "invalid limit"})
			return
		}
		limit = n
	}

	var (
		rows []postgres.EventRow
		err  error
	)
	if session := q.Get("session"); session != "" {
		rows, err = pg.QuerySession(session, limit)
	} else {
		rows, err = pg.Query(limit)
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(rows)
}

type OperatorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// operatorCommandHandler posts cmd into the command sink.
func operatorCommandHandler(cmd puzzle.Command, event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "method not allowed"})
			return
		}

		if commandSink == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "controller not running"})
			return
		}

		commandSink.Offer(cmd, "operator")
		events.Emit("info", event, "", map[string]interface{}{
			"remote_addr": r.RemoteAddr,
		})

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: true})
	}
}

// NewMux builds the API routes.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.Handle("/metrics", metricsHandler())

	mux.HandleFunc("/status", RequireAnyRole(statusHandler))
	mux.HandleFunc("/events", RequireAnyRole(eventsHandler))
	mux.HandleFunc("/ws/events", RequireAnyRole(wsEventsHandler))
	mux.HandleFunc("/ui", RequireAnyRole(uiHandler))

	mux.HandleFunc("/operator/solve", RequireOperator(operatorCommandHandler(puzzle.CommandSolve, "operator.solve")))
	mux.HandleFunc("/operator/reset", RequireOperator(operatorCommandHandler(puzzle.CommandReset, "operator.reset")))
	return mux
}

// Server is the operator HTTP server.
type Server struct {
	srv *http.Server
}

// NewServer creates a server on port. TLS is used when InitTLS found a
// certificate pair.
func NewServer(port int) *Server {
	return &Server{srv: &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewMux(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         LoadTLSConfig(),
	}}
}

// ListenAndServe blocks until the server exits.
func (s *Server) ListenAndServe() error {
	if s.srv.TLSConfig != nil {
		log.Printf("API listening on %s (TLS)\n", s.srv.Addr)
		return s.srv.ListenAndServeTLS("", "")
	}
	log.Printf("API listening on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Start runs the server in a goroutine. Errors are logged but do not
// stop the caller.
func (s *Server) Start() {
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("api server error: %v", err)
			events.Emit("error", "system.error", "api server stopped", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
}

// Shutdown stops accepting connections and closes live event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	events.CloseAllSubscribers()
	return s.srv.Shutdown(ctx)
}
