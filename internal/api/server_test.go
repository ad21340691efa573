package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/arena-data/mocap.bridge/internal/bridge"
	"github.com/arena-data/mocap.bridge/internal/db"
	"github.com/arena-data/mocap.bridge/internal/mocap"
	"github.com/arena-data/mocap.bridge/internal/network"
)

type testEnv struct {
	handler  http.Handler
	bridge   *bridge.Bridge
	database *db.DB
	socket   *network.MockUDPSocket
}

// newTestEnv builds a full admin API over a running bridge with a mock
// transport and a temp config store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpDB, err := os.CreateTemp("", "test_mocap_api_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp DB: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpDB.Name()) })
	tmpDB.Close()

	database, err := db.NewDB(tmpDB.Name())
	if err != nil {
		t.Fatalf("Failed to create DB: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	sock := network.NewMockUDPSocket(nil)
	sock.Enqueue(serverInfoPacket())

	b := bridge.NewBridge(bridge.BridgeConfig{
		Connection: bridge.ConnectionConfig{Enabled: false},
		NewDispatcher: func(ver mocap.Version) bridge.Dispatcher {
			return nopDispatcher{}
		},
		SocketFactory:   network.NewMockUDPSocketFactory(sock),
		HandshakeSettle: time.Millisecond,
		HandshakeRetry:  time.Millisecond,
		PollInterval:    100 * time.Microsecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	manager := bridge.NewManager(b, database, nil)
	server := NewServer(b, manager, database)
	return &testEnv{
		handler:  server.Handler(),
		bridge:   b,
		database: database,
		socket:   sock,
	}
}

type nopDispatcher struct{}

func (nopDispatcher) Publish(ts time.Time, bodies []mocap.RigidBody) {}

// serverInfoPacket builds a minimal NatNet server-info response.
func serverInfoPacket() []byte {
	payload := make([]byte, 264)
	copy(payload, "Motive")
	payload[256] = 3 // server version major
	payload[260] = 3 // natnet version major
	pkt := []byte{0x01, 0x00, 0x08, 0x01} // id 1, length 264
	return append(pkt, payload...)
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Bridge bridge.Status         `json:"bridge"`
		Config bridge.ConfigSnapshot `json:"config"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if resp.Bridge.State != "disabled" {
		t.Errorf("Expected disabled state, got %q", resp.Bridge.State)
	}

	rec = env.do(t, http.MethodPost, "/api/status", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", rec.Code)
	}
}

func TestConnectionConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/configs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var list []db.ConnectionConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("Expected empty config list, got %d entries", len(list))
	}

	rec = env.do(t, http.MethodPost, "/api/configs", db.ConnectionConfig{
		Name:             "arena",
		Enabled:          true,
		CommandPort:      1511,
		DataPort:         1510,
		MulticastAddress: "239.255.42.99",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created db.ConnectionConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if created.ID <= 0 {
		t.Errorf("Expected assigned ID, got %d", created.ID)
	}

	// Name is mandatory.
	rec = env.do(t, http.MethodPost, "/api/configs", db.ConnectionConfig{MulticastAddress: "239.0.0.1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing name, got %d", rec.Code)
	}

	path := fmt.Sprintf("/api/configs/%d", created.ID)
	rec = env.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	created.Description = "updated"
	rec = env.do(t, http.MethodPut, path, created)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/configs/not-a-number", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad id, got %d", rec.Code)
	}
}

func TestPublisherEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/publishers", db.PublisherConfig{
		Name:        "robot_base",
		RigidBodyID: 1,
		Enabled:     true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created db.PublisherConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}

	rec = env.do(t, http.MethodGet, "/api/publishers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var list []db.PublisherConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(list) != 1 || list[0].Name != "robot_base" {
		t.Errorf("Unexpected publisher list %+v", list)
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/publishers/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/publishers", db.PublisherConfig{RigidBodyID: 2})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing name, got %d", rec.Code)
	}
}

func TestReloadEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.database.CreateConnectionConfig(&db.ConnectionConfig{
		Name:             "arena",
		Enabled:          true,
		CommandPort:      1511,
		DataPort:         1510,
		MulticastAddress: "239.255.42.99",
	})
	if err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/config/reload", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/config/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result bridge.ReloadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if !result.Success {
		t.Errorf("Expected success, got %+v", result)
	}
	if result.Config == nil || result.Config.Name != "arena" {
		t.Errorf("Unexpected reload config %+v", result.Config)
	}
	if env.bridge.State() == bridge.StateDisabled {
		t.Error("Expected bridge to leave the disabled state after reload")
	}
}

func TestReloadEndpointInvalidConfig(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.database.CreateConnectionConfig(&db.ConnectionConfig{
		Name:             "bad-hint",
		Enabled:          true,
		CommandPort:      1511,
		DataPort:         1510,
		MulticastAddress: "239.255.42.99",
		VersionHint:      "not-a-version",
	})
	if err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/config/reload", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var result bridge.ReloadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if result.Success {
		t.Error("Expected failure result for invalid stored config")
	}
}
