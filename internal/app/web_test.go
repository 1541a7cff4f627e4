// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/thrust_stand/internal/catalog"
	"github.com/relabs-tech/thrust_stand/internal/sequencer"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
	"github.com/relabs-tech/thrust_stand/internal/throttle"
)

type inputs struct {
	mu     sync.Mutex
	keys   []byte
	estops []string
}

func (in *inputs) get() (string, []string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return string(in.keys), append([]string(nil), in.estops...)
}

func newDashboard(t *testing.T, withCatalog bool) (*dashboard, *inputs, *httptest.Server) {
	t.Helper()
	in := &inputs{}
	d := &dashboard{
		live:  NewLive(),
		press: func(_ string, k byte) {
			in.mu.Lock()
			in.keys = append(in.keys, k)
			in.mu.Unlock()
		},
		estop: func(src string) {
			in.mu.Lock()
			in.estops = append(in.estops, src)
			in.mu.Unlock()
		},
	}
	if withCatalog {
		d.catalog = catalog.New(filepath.Join(t.TempDir(), "stand.db"))
		t.Cleanup(func() { d.catalog.Close() })
	}
	mux := http.NewServeMux()
	d.routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return d, in, srv
}

func TestSnapshotEndpoint(t *testing.T) {
	d, _, srv := newDashboard(t, false)

	resp, err := http.Get(srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status before data = %d", resp.StatusCode)
	}

	d.live.Publish(telemetry.Snapshot{RPM: 4321, Thrust: 250})
	resp, err = http.Get(srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got telemetry.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.RPM != 4321 || got.Thrust != 250 {
		t.Errorf("snapshot %+v", got)
	}
}

func TestControlEndpoints(t *testing.T) {
	_, in, srv := newDashboard(t, false)

	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/api/estop", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/estop", http.StatusAccepted},
		{http.MethodPost, "/api/key?k=A", http.StatusAccepted},
		{http.MethodPost, "/api/key?k=AB", http.StatusBadRequest},
		{http.MethodGet, "/api/key?k=A", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/session", http.StatusNotFound},
		{http.MethodGet, "/api/sessions", http.StatusNotFound},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.status)
		}
	}
	if keys, estops := in.get(); len(estops) != 1 || estops[0] != "web" || keys != "A" {
		t.Errorf("estops %q keys %q", estops, keys)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	d, _, srv := newDashboard(t, true)
	ctx := context.Background()
	id, err := d.catalog.SessionStarted(ctx, sequencer.SessionInfo{
		Number: 12, File: "TEST012.CSV", Profile: throttle.DefaultProfile(), StartTime: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	d.catalog.SessionFinished(ctx, id, sequencer.Result{Number: 12, OutcomeName: "complete", Rows: 40})

	resp, err := http.Get(srv.URL + "/api/sessions?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sessions []catalog.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Number != 12 || sessions[0].Rows != 40 {
		t.Errorf("sessions %+v", sessions)
	}
}

func TestWebsocket(t *testing.T) {
	d, in, srv := newDashboard(t, false)
	d.live.Publish(telemetry.Snapshot{RPM: 10})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev Event
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != "snapshot" || ev.Snapshot.RPM != 10 {
		t.Fatalf("first event %+v, %v", ev, err)
	}

	d.live.Prompt("confirm")
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != "prompt" || ev.Message != "confirm" {
		t.Fatalf("prompt event %+v, %v", ev, err)
	}

	conn.WriteJSON(WSMessage{Action: "key", Key: "7"})
	conn.WriteJSON(WSMessage{Action: "estop"})
	deadline := time.Now().Add(2 * time.Second)
	keys, estops := in.get()
	for len(estops) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		keys, estops = in.get()
	}
	if keys != "7" || len(estops) != 1 {
		t.Errorf("keys %q estops %q", keys, estops)
	}
}
