package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rustpanel-project/rustpanel/internal/config"
	"github.com/rustpanel-project/rustpanel/internal/db"
	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/metrics"
	"github.com/rustpanel-project/rustpanel/internal/monitor"
	"github.com/rustpanel-project/rustpanel/internal/protocol"
	"github.com/rustpanel-project/rustpanel/internal/util"
)

type fakeMonitor struct {
	connected bool
	mapInfo   *events.MapInfo
	entities  []events.MapEntity
	players   []events.Player

	connectedTo  string
	consoleLines []string
	chatLines    []string
	sent         [][]byte
	disconnects  int
}

func (f *fakeMonitor) Status() monitor.Status {
	st := monitor.Status{State: events.StateDisconnected}
	if f.connected {
		st.State = events.StateConnected
		st.Address = "ws://" + f.connectedTo
	}
	return st
}

func (f *fakeMonitor) MapInfo() (events.MapInfo, bool) {
	if f.mapInfo == nil {
		return events.MapInfo{}, false
	}
	return *f.mapInfo, true
}

func (f *fakeMonitor) Entities() []events.MapEntity { return f.entities }
func (f *fakeMonitor) Players() []events.Player     { return f.players }

func (f *fakeMonitor) Connect(_ context.Context, host string, port int, _ string, _ bool) error {
	f.connected = true
	f.connectedTo = host + ":" + strconv.Itoa(port)
	return nil
}

func (f *fakeMonitor) Disconnect() {
	f.disconnects++
	f.connected = false
}

func (f *fakeMonitor) Console(_ context.Context, command string) error {
	if !f.connected {
		return monitor.ErrNotConnected
	}
	f.consoleLines = append(f.consoleLines, command)
	return nil
}

func (f *fakeMonitor) Chat(_ context.Context, message string) error {
	if !f.connected {
		return monitor.ErrNotConnected
	}
	f.chatLines = append(f.chatLines, message)
	return nil
}

func (f *fakeMonitor) Send(_ context.Context, frame []byte) error {
	if !f.connected {
		return monitor.ErrNotConnected
	}
	f.sent = append(f.sent, frame)
	return nil
}

type fakeStore struct {
	servers []db.Server
	samples []db.Sample
	deleted []int64
}

func (f *fakeStore) History(_ context.Context, since time.Time, limit int) ([]db.Sample, error) {
	var out []db.Sample
	for _, s := range f.samples {
		if !s.RecordedAt.Before(since) && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListServers(context.Context) ([]db.Server, error) { return f.servers, nil }

func (f *fakeStore) DeleteServer(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *fakeMonitor, *fakeStore) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.Directory = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	mon := &fakeMonitor{}
	store := &fakeStore{}
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	return NewServer(cfg, bus, mon, store, metrics.New(), "1.2.3"), mon, store
}

func do(t *testing.T, s *Server, method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPingIsPublic(t *testing.T) {
	s, _, _ := newTestServer(t, func(c *config.Config) { c.API.Token = "secret" })

	rec := do(t, s, http.MethodGet, "/api/ping", nil)
	if rec.Code != http.StatusOK || decode(t, rec)["version"] != "1.2.3" {
		t.Fatalf("ping = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Server") != "RustPanel" {
		t.Fatalf("Server header = %q", rec.Header().Get("Server"))
	}
}

func TestTokenRequired(t *testing.T) {
	s, _, _ := newTestServer(t, func(c *config.Config) { c.API.Token = "secret" })

	if rec := do(t, s, http.MethodGet, "/api/status", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/status", nil, "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/status", nil, "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Fatalf("good token: %d", rec.Code)
	}
}

func TestConnectConsoleDisconnect(t *testing.T) {
	s, mon, _ := newTestServer(t, nil)

	if rec := do(t, s, http.MethodPost, "/api/console", map[string]string{"command": "status"}); rec.Code != http.StatusConflict {
		t.Fatalf("console while disconnected: %d", rec.Code)
	}

	rec := do(t, s, http.MethodPost, "/api/connect", map[string]interface{}{"host": "rust.example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: %d %s", rec.Code, rec.Body.String())
	}
	if mon.connectedTo != "rust.example.com:3050" {
		t.Fatalf("connected to %q, want default port", mon.connectedTo)
	}
	if decode(t, rec)["state"] != "connected" {
		t.Fatalf("status after connect: %s", rec.Body.String())
	}

	if rec := do(t, s, http.MethodPost, "/api/console", map[string]string{"command": "status"}); rec.Code != http.StatusAccepted {
		t.Fatalf("console: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/chat", map[string]string{"message": "hi"}); rec.Code != http.StatusAccepted {
		t.Fatalf("chat: %d", rec.Code)
	}
	if len(mon.consoleLines) != 1 || len(mon.chatLines) != 1 {
		t.Fatalf("console %v chat %v", mon.consoleLines, mon.chatLines)
	}

	if rec := do(t, s, http.MethodPost, "/api/disconnect", nil); rec.Code != http.StatusOK || mon.connected {
		t.Fatalf("disconnect: %d connected=%v", rec.Code, mon.connected)
	}
}

func TestConnectValidation(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	if rec := do(t, s, http.MethodPost, "/api/connect", map[string]interface{}{"port": 3050}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing host: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/connect", map[string]interface{}{"host": "h", "port": 70000}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad port: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/console", map[string]string{"command": "  "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank command: %d", rec.Code)
	}
}

func TestSendNamedRPC(t *testing.T) {
	s, mon, _ := newTestServer(t, nil)
	mon.connected = true

	rec := do(t, s, http.MethodPost, "/api/rpc/"+protocol.RPCPlugins, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("rpc: %d %s", rec.Code, rec.Body.String())
	}
	if len(mon.sent) != 1 {
		t.Fatalf("sent %d frames", len(mon.sent))
	}
	hdr, _, err := protocol.ParseHeader(mon.sent[0])
	if err != nil || hdr.RPCID != protocol.RPCID(protocol.RPCPlugins) {
		t.Fatalf("header = %+v, %v", hdr, err)
	}

	if rec := do(t, s, http.MethodPost, "/api/rpc/NoSuchThing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown rpc: %d", rec.Code)
	}
}

func TestEntityAndPlayerViews(t *testing.T) {
	s, mon, _ := newTestServer(t, nil)
	mon.entities = []events.MapEntity{
		{EntityID: 1, Type: events.EntityActivePlayer, Online: true, SteamID: 7},
		{EntityID: 2, Type: events.EntityCargoShip},
		{EntityID: 3, Type: events.EntityCargoShip},
	}
	mon.players = []events.Player{
		{SteamID: 7, Online: true},
		{SteamID: 8, Online: false},
	}

	body := decode(t, do(t, s, http.MethodGet, "/api/entities?type=cargo_ship", nil))
	if body["total"] != float64(2) {
		t.Fatalf("filtered entities = %v", body)
	}

	body = decode(t, do(t, s, http.MethodGet, "/api/players?online=true", nil))
	if body["total"] != float64(2) || body["online"] != float64(1) || len(body["players"].([]interface{})) != 1 {
		t.Fatalf("players = %v", body)
	}
}

func TestMapEndpoints(t *testing.T) {
	s, mon, _ := newTestServer(t, nil)

	if rec := do(t, s, http.MethodGet, "/api/map", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("map before info: %d", rec.Code)
	}

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 8)...)
	mon.mapInfo = &events.MapInfo{WorldSize: 3500, Image: png, Monuments: []events.Monument{{Name: "launch_site"}}}

	body := decode(t, do(t, s, http.MethodGet, "/api/map", nil))
	if body["world_size"] != float64(3500) || body["has_image"] != true {
		t.Fatalf("map = %v", body)
	}

	rec := do(t, s, http.MethodGet, "/api/map/image", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" || !bytes.Equal(rec.Body.Bytes(), png) {
		t.Fatalf("image = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestHistoryAndServers(t *testing.T) {
	s, _, store := newTestServer(t, nil)
	now := time.Now()
	store.samples = []db.Sample{
		{RecordedAt: now.Add(-48 * time.Hour), Players: 1},
		{RecordedAt: now.Add(-time.Hour), Players: 2},
	}
	store.servers = []db.Server{{ID: 4, Name: "main", Host: "h", Port: 3050}}

	body := decode(t, do(t, s, http.MethodGet, "/api/history?hours=24", nil))
	if body["count"] != float64(1) {
		t.Fatalf("history = %v", body)
	}

	body = decode(t, do(t, s, http.MethodGet, "/api/servers", nil))
	if body["total"] != float64(1) {
		t.Fatalf("servers = %v", body)
	}

	if rec := do(t, s, http.MethodDelete, "/api/servers/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/api/servers/4", nil); rec.Code != http.StatusOK || len(store.deleted) != 1 {
		t.Fatalf("delete: %d %v", rec.Code, store.deleted)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	cfg := config.DefaultConfig()
	bus := events.NewEventBus()
	defer bus.Stop()
	s := NewServer(cfg, bus, &fakeMonitor{}, nil, nil, "dev")

	if rec := do(t, s, http.MethodGet, "/api/history", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("history without store: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics without registry: %d", rec.Code)
	}
}

func TestConfigRedactsSecrets(t *testing.T) {
	s, _, _ := newTestServer(t, func(c *config.Config) {
		c.Bridge.Password = "bridge-pass"
		c.MQTT.Password = "mqtt-pass"
	})

	rec := do(t, s, http.MethodGet, "/api/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("config: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "bridge-pass") || strings.Contains(rec.Body.String(), "mqtt-pass") {
		t.Fatalf("secrets leaked: %s", rec.Body.String())
	}
}

func TestRPCTable(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	body := decode(t, do(t, s, http.MethodGet, "/api/rpc", nil))
	rows := body["rpcs"].([]interface{})
	if len(rows) != len(protocol.Names()) {
		t.Fatalf("rpc rows = %d", len(rows))
	}
	first := rows[0].(map[string]interface{})
	if first["id"] != float64(protocol.RPCID(first["name"].(string))) {
		t.Fatalf("row = %v", first)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "rustpanel_") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestLogEntries(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	path := filepath.Join(s.cfg.GetLogging().Directory, util.LogFileName)
	lines := `{"level":"info","time":"2024-01-01T00:00:00Z","component":"bridge","message":"connected","address":"ws://h:3050"}
not json
{"level":"warn","message":"poll failed"}
`
	if err := os.WriteFile(path, []byte(lines), 0644); err != nil {
		t.Fatal(err)
	}

	body := decode(t, do(t, s, http.MethodGet, "/api/logs?count=2", nil))
	entries := body["entries"].([]interface{})
	if len(entries) != 2 {
		t.Fatalf("entries = %v", entries)
	}
	if entries[0].(map[string]interface{})["message"] != "not json" ||
		entries[1].(map[string]interface{})["level"] != "warn" {
		t.Fatalf("entries = %v", entries)
	}

	all, err := readRecentLogEntries(path, 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("all = %v, %v", all, err)
	}
	if all[0].Component != "bridge" || all[0].Fields["address"] != "ws://h:3050" {
		t.Fatalf("first = %+v", all[0])
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	if rec := do(t, s, http.MethodGet, "/api/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route: %d", rec.Code)
	}
}

func TestRateLimiterBucket(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()

	if !rl.allow("a", now) || !rl.allow("a", now) {
		t.Fatal("burst should allow two requests")
	}
	if rl.allow("a", now) {
		t.Fatal("third request should be limited")
	}
	if !rl.allow("b", now) {
		t.Fatal("buckets are per client")
	}
	if !rl.allow("a", now.Add(1500*time.Millisecond)) {
		t.Fatal("bucket should refill")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  xyz": "xyz",
		"Basic abc":   "",
		"":            "",
		"Bearer":      "",
	}
	for in, want := range cases {
		if got := extractBearerToken(in); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
