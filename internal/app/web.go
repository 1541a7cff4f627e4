// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/thrust_stand/internal/catalog"
	"github.com/relabs-tech/thrust_stand/internal/config"
	"github.com/relabs-tech/thrust_stand/internal/sequencer"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is sent by dashboard clients.
type WSMessage struct {
	Action string `json:"action"` // estop, key
	Key    string `json:"key,omitempty"`
}

// dashboard serves the live view and the E-Stop button. press and estop
// deliver operator input either in-process or over MQTT.
type dashboard struct {
	live    *Live
	catalog *catalog.Store
	press   func(source string, key byte)
	estop   func(source string)
}

func (d *dashboard) routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/snapshot", d.handleSnapshot)
	mux.HandleFunc("/api/session", d.handleLastSession)
	mux.HandleFunc("/api/sessions", d.handleSessions)
	mux.HandleFunc("/api/calibrations", d.handleCalibrations)
	mux.HandleFunc("/api/estop", d.handleEStop)
	mux.HandleFunc("/api/key", d.handleKey)
	mux.HandleFunc("/ws", d.handleWS)

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (d *dashboard) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := d.live.Latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (d *dashboard) handleLastSession(w http.ResponseWriter, r *http.Request) {
	res := d.live.LastSession()
	if res == nil {
		http.Error(w, "no session yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *dashboard) limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 50
	}
	return n
}

func (d *dashboard) handleSessions(w http.ResponseWriter, r *http.Request) {
	if d.catalog == nil {
		http.Error(w, "catalog disabled", http.StatusNotFound)
		return
	}
	sessions, err := d.catalog.Sessions(r.Context(), d.limit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (d *dashboard) handleCalibrations(w http.ResponseWriter, r *http.Request) {
	if d.catalog == nil {
		http.Error(w, "catalog disabled", http.StatusNotFound)
		return
	}
	cals, err := d.catalog.Calibrations(r.Context(), d.limit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cals)
}

func (d *dashboard) handleEStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	d.estop("web")
	w.WriteHeader(http.StatusAccepted)
}

func (d *dashboard) handleKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	k := r.URL.Query().Get("k")
	if len(k) != 1 {
		http.Error(w, "k must be one key", http.StatusBadRequest)
		return
	}
	d.press("web", k[0])
	w.WriteHeader(http.StatusAccepted)
}

// handleWS streams live events to the client and accepts E-Stop and key
// messages from it.
func (d *dashboard) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := d.live.Subscribe()
	defer unsubscribe()

	if snap, ok := d.live.Latest(); ok {
		if err := conn.WriteJSON(Event{Type: "snapshot", Snapshot: &snap}); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("web: websocket read error: %v", err)
				}
				return
			}
			switch msg.Action {
			case "estop":
				d.estop("web")
			case "key":
				if len(msg.Key) == 1 {
					d.press("web", msg.Key[0])
				}
			default:
				log.Printf("web: unknown websocket action %q", msg.Action)
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// listen serves mux on port until ctx is done.
func listen(ctx context.Context, port int, mux *http.ServeMux) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("web server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// serveStand runs the dashboard inside the stand process.
func serveStand(ctx context.Context, port int, s *Stand, op *Operator) error {
	d := &dashboard{
		live:    s.live,
		catalog: s.catalog,
		press:   op.Press,
		estop:   op.EmergencyStop,
	}
	mux := http.NewServeMux()
	d.routes(mux)
	mux.HandleFunc("/api/debug", s.handleDebug)
	return listen(ctx, port, mux)
}

// RunWeb runs the dashboard on another host, bridged to the stand by MQTT.
func RunWeb(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for the web bridge")
	}
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-web")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	live := NewLive()
	if err := subscribe(client, cfg.TopicSnapshot, func(payload []byte) {
		var s telemetry.Snapshot
		if err := json.Unmarshal(payload, &s); err != nil {
			log.Printf("web: snapshot unmarshal error: %v", err)
			return
		}
		live.Publish(s)
	}); err != nil {
		return err
	}
	if err := subscribe(client, cfg.TopicSession, func(payload []byte) {
		var r sequencer.Result
		if err := json.Unmarshal(payload, &r); err != nil {
			log.Printf("web: session unmarshal error: %v", err)
			return
		}
		live.Session(r)
	}); err != nil {
		return err
	}

	command := func(payload string) {
		token := client.Publish(cfg.TopicCommand, 1, false, payload)
		if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
			log.Printf("web: command publish error: %v", token.Error())
		}
	}

	d := &dashboard{
		live:  live,
		press: func(_ string, key byte) { command(string([]byte{key})) },
		estop: func(string) { command("estop") },
	}
	if cfg.CatalogDB != "" {
		if _, err := os.Stat(cfg.CatalogDB); err == nil {
			d.catalog = catalog.New(cfg.CatalogDB)
			defer d.catalog.Close()
		}
	}

	mux := http.NewServeMux()
	d.routes(mux)
	return listen(ctx, cfg.WebServerPort, mux)
}
