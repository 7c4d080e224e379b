package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matchpilot/matchpilot/internal/browser"
	"github.com/matchpilot/matchpilot/internal/bus"
	"github.com/matchpilot/matchpilot/internal/clock"
	"github.com/matchpilot/matchpilot/internal/config"
	"github.com/matchpilot/matchpilot/internal/events"
	"github.com/matchpilot/matchpilot/internal/pipeline"
	"github.com/matchpilot/matchpilot/internal/providers"
	"github.com/matchpilot/matchpilot/internal/stop"
	"github.com/matchpilot/matchpilot/internal/store"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

// --- fakes ---

type fakeDriver struct {
	mu       sync.Mutex
	profiles []string
	idx      int
	closed   bool
}

func (d *fakeDriver) Open(ctx context.Context, url string) error { return nil }

func (d *fakeDriver) OpenNextProfile(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.profiles) {
		return false, nil
	}
	d.idx++
	return true, nil
}

func (d *fakeDriver) ReadProfileText(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profiles[d.idx-1], nil
}

func (d *fakeDriver) ProfileName(ctx context.Context) string     { return "Alice" }
func (d *fakeDriver) FocusInput(ctx context.Context) error       { return nil }
func (d *fakeDriver) Fill(ctx context.Context, text string) error { return nil }
func (d *fakeDriver) Submit(ctx context.Context) error           { return nil }
func (d *fakeDriver) VerifySent(ctx context.Context) (bool, error) { return true, nil }
func (d *fakeDriver) Skip(ctx context.Context) error             { return nil }

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type memSeen struct {
	mu  sync.Mutex
	fps map[string]bool
}

func newMemSeen() *memSeen { return &memSeen{fps: make(map[string]bool)} }

func (s *memSeen) IsSeen(ctx context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps[fp], nil
}

func (s *memSeen) MarkSeen(ctx context.Context, fp string, firstSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fps[fp] = true
	return nil
}

func (s *memSeen) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.fps)), nil
}

type memQuota struct {
	mu      sync.Mutex
	buckets map[string]int
}

func newMemQuota() *memQuota { return &memQuota{buckets: make(map[string]int)} }

func (q *memQuota) TryConsume(ctx context.Context, dayKey, weekKey string, dayLimit, weekLimit int) (bool, store.QuotaCounters, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := store.QuotaCounters{Day: q.buckets[dayKey], Week: q.buckets[weekKey]}
	if c.Day >= dayLimit || c.Week >= weekLimit {
		return false, c, nil
	}
	q.buckets[dayKey]++
	q.buckets[weekKey]++
	c.Day++
	c.Week++
	return true, c, nil
}

func (q *memQuota) Counts(ctx context.Context, dayKey, weekKey string) (store.QuotaCounters, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return store.QuotaCounters{Day: q.buckets[dayKey], Week: q.buckets[weekKey]}, nil
}

// fakeProviderServer answers model listing and decision requests.
func fakeProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"id": "gpt-5-mini"}},
		})
	})
	mux.HandleFunc("/responses", func(w http.ResponseWriter, r *http.Request) {
		verdict := `{"decision":"YES","rationale":"good fit","draft":"Hi!","score":0.8,"confidence":0.7}`
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "resp_1",
			"status": "completed",
			"model":  "gpt-5-mini",
			"output": []map[string]interface{}{{
				"type": "message",
				"role": "assistant",
				"content": []map[string]interface{}{
					{"type": "output_text", "text": verdict},
				},
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// --- harness ---

type testGateway struct {
	server *Server
	addr   string
	cfg    *config.Config
	quota  *memQuota
	seen   *memSeen
}

func newTestGateway(t *testing.T, token string) *testGateway {
	t.Helper()

	api := fakeProviderServer(t)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Run.SelfProfile = "Bob, Go backend, NYC"
	cfg.Run.Criteria = "technical, ML, NYC"
	cfg.Run.Template = "{draft}"
	cfg.Run.AutoSend = true
	cfg.Run.ProfileLimit = 1
	cfg.Run.PaceSeconds = 0
	cfg.Browser.ListingURL = "https://example.test/candidates"
	cfg.Provider.APIKey = "test-key"
	cfg.Provider.APIBase = api.URL
	cfg.Gateway.Token = token

	b := bus.New()
	log, err := events.Open(filepath.Join(t.TempDir(), "events.jsonl"), b)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })

	seen := newMemSeen()
	quota := newMemQuota()
	stores := store.NewStores(seen, quota, nil)

	client := providers.NewClient(cfg.Provider.APIKey, cfg.Provider.APIBase)
	manager := pipeline.NewManager(cfg, client, stores, log, clock.NewSystem())
	manager.NewDriver = func(rc pipeline.RunContext, runLog *events.RunLog, sig *stop.Signal) (browser.Driver, error) {
		return &fakeDriver{profiles: []string{"Alice, Python & ML, NYC"}}, nil
	}

	srv := NewServer(cfg, "", b, manager, stores, clock.NewSystem())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	addr, start := StartTestServer(srv, ctx)
	go start()

	return &testGateway{server: srv, addr: addr, cfg: cfg, quota: quota, seen: seen}
}

// wsConn dials the gateway and returns the connection.
func (g *testGateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws://" + g.addr + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// call sends a request and waits for the matching response, buffering any
// event frames that arrive first.
func call(t *testing.T, conn *websocket.Conn, id, method string, params interface{}) *protocol.ResponseFrame {
	t.Helper()

	req := map[string]interface{}{"type": protocol.FrameTypeRequest, "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read waiting for %s response: %v", method, err)
		}
		ft, err := protocol.ParseFrameType(raw)
		if err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if ft != protocol.FrameTypeResponse {
			continue
		}
		var res protocol.ResponseFrame
		if err := json.Unmarshal(raw, &res); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if res.ID == id {
			return &res
		}
	}
}

// collectEvents reads frames until the named event arrives or the timeout
// expires, returning every event name seen.
func collectEvents(t *testing.T, conn *websocket.Conn, until string, timeout time.Duration) []string {
	t.Helper()
	var names []string
	deadline := time.Now().Add(timeout)
	for {
		conn.SetReadDeadline(deadline)
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read waiting for event %q: %v (saw %v)", until, err, names)
		}
		ft, _ := protocol.ParseFrameType(raw)
		if ft != protocol.FrameTypeEvent {
			continue
		}
		var ev protocol.EventFrame
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		names = append(names, ev.Event)
		if ev.Event == until {
			return names
		}
	}
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	g := newTestGateway(t, "")

	res, err := http.Get("http://" + g.addr + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	var body struct {
		Status   string `json:"status"`
		Protocol int    `json:"protocol"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Protocol != protocol.ProtocolVersion {
		t.Errorf("health = %+v", body)
	}
}

func TestAuthRequiredBeforeMethods(t *testing.T) {
	g := newTestGateway(t, "secret-token")
	conn := g.dial(t)

	res := call(t, conn, "1", protocol.MethodStatus, nil)
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrCodeAuth {
		t.Fatalf("status before connect = %+v, want auth error", res)
	}

	res = call(t, conn, "2", protocol.MethodConnect, map[string]string{"token": "wrong"})
	if res.OK || res.Error.Code != protocol.ErrCodeAuth {
		t.Fatalf("connect with bad token = %+v, want auth error", res)
	}

	res = call(t, conn, "3", protocol.MethodConnect, map[string]string{"token": "secret-token"})
	if !res.OK {
		t.Fatalf("connect with valid token = %+v", res)
	}

	res = call(t, conn, "4", protocol.MethodStatus, nil)
	if !res.OK {
		t.Fatalf("status after connect = %+v", res)
	}
}

func TestNoTokenMeansOpenGateway(t *testing.T) {
	g := newTestGateway(t, "")
	conn := g.dial(t)

	res := call(t, conn, "1", protocol.MethodStatus, nil)
	if !res.OK {
		t.Fatalf("status without connect = %+v, want ok when no token configured", res)
	}
}

func TestUnknownMethod(t *testing.T) {
	g := newTestGateway(t, "")
	conn := g.dial(t)

	res := call(t, conn, "1", "nope.nothing", nil)
	if res.OK || res.Error.Code != protocol.ErrCodeUnknownMethod {
		t.Fatalf("res = %+v, want unknown_method", res)
	}
}

func TestRequestFloodGetsRateLimited(t *testing.T) {
	g := newTestGateway(t, "")
	conn := g.dial(t)

	// Push well past the per-connection burst as fast as the socket
	// accepts; the overflow must come back as rate_limited responses,
	// not hit the handlers.
	n := rpcBurst + 10
	for i := 0; i < n; i++ {
		req := map[string]interface{}{
			"type":   protocol.FrameTypeRequest,
			"id":     fmt.Sprintf("flood-%d", i),
			"method": protocol.MethodHealth,
		}
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	ok, limited := 0, 0
	deadline := time.Now().Add(10 * time.Second)
	for ok+limited < n {
		conn.SetReadDeadline(deadline)
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read after %d ok / %d limited: %v", ok, limited, err)
		}
		ft, _ := protocol.ParseFrameType(raw)
		if ft != protocol.FrameTypeResponse {
			continue
		}
		var res protocol.ResponseFrame
		if err := json.Unmarshal(raw, &res); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		switch {
		case res.OK:
			ok++
		case res.Error != nil && res.Error.Code == protocol.ErrCodeRateLimited:
			limited++
		default:
			t.Fatalf("unexpected response %+v", res)
		}
	}

	if limited == 0 {
		t.Fatal("no request was rate limited")
	}
	if ok < rpcBurst {
		t.Errorf("ok = %d, want at least the burst of %d", ok, rpcBurst)
	}
}

func TestRunStartStreamsEventsToClient(t *testing.T) {
	g := newTestGateway(t, "")
	conn := g.dial(t)

	res := call(t, conn, "1", protocol.MethodRunStart, nil)
	if !res.OK {
		t.Fatalf("run.start = %+v", res)
	}
	payload, ok := res.Payload.(map[string]interface{})
	if !ok || payload["run_id"] == "" {
		t.Fatalf("run.start payload = %+v", res.Payload)
	}

	names := collectEvents(t, conn, protocol.EventRunComplete, 15*time.Second)
	want := map[string]bool{
		protocol.EventRunStart:  false,
		protocol.EventDecision:  false,
		protocol.EventSent:      false,
		protocol.EventRunComplete: false,
	}
	for _, n := range names {
		if _, tracked := want[n]; tracked {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("event %q never reached the client (saw %v)", n, names)
		}
	}
}

func TestRunStopWithoutRun(t *testing.T) {
	g := newTestGateway(t, "")
	conn := g.dial(t)

	res := call(t, conn, "1", protocol.MethodRunStop, nil)
	if res.OK || res.Error.Code != protocol.ErrCodeNoRun {
		t.Fatalf("run.stop = %+v, want no_run", res)
	}
}

func TestQuotaGetAndSeenCount(t *testing.T) {
	g := newTestGateway(t, "")
	conn := g.dial(t)

	now := time.Now()
	g.quota.TryConsume(context.Background(), store.DayKey(now), store.WeekKey(now), 25, 120)
	g.seen.MarkSeen(context.Background(), "abc123", now)

	res := call(t, conn, "1", protocol.MethodQuotaGet, nil)
	if !res.OK {
		t.Fatalf("quota.get = %+v", res)
	}
	payload := res.Payload.(map[string]interface{})
	if payload["day"].(float64) != 1 {
		t.Errorf("day = %v, want 1", payload["day"])
	}
	if payload["daily_limit"].(float64) != float64(g.cfg.Run.DailyQuota) {
		t.Errorf("daily_limit = %v", payload["daily_limit"])
	}

	res = call(t, conn, "2", protocol.MethodSeenCount, nil)
	if !res.OK {
		t.Fatalf("seen.count = %+v", res)
	}
	if n := res.Payload.(map[string]interface{})["count"].(float64); n != 1 {
		t.Errorf("count = %v, want 1", n)
	}
}

func TestConfigGetMasksSecrets(t *testing.T) {
	g := newTestGateway(t, "")
	conn := g.dial(t)

	res := call(t, conn, "1", protocol.MethodConfigGet, nil)
	if !res.OK {
		t.Fatalf("config.get = %+v", res)
	}
	raw, err := json.Marshal(res.Payload)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"test-key", "secret-token"} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("config.get leaked %q", secret)
		}
	}
}

func TestConfigPatchValidatesAndApplies(t *testing.T) {
	g := newTestGateway(t, "")
	conn := g.dial(t)

	res := call(t, conn, "1", protocol.MethodConfigPatch, map[string]interface{}{
		"profile_limit": -5,
	})
	if res.OK || res.Error.Code != protocol.ErrCodeBadParams {
		t.Fatalf("invalid patch = %+v, want bad_params", res)
	}
	if g.cfg.Run.ProfileLimit == -5 {
		t.Error("invalid patch was applied")
	}

	res = call(t, conn, "2", protocol.MethodConfigPatch, map[string]interface{}{
		"profile_limit": 7,
		"shadow":        true,
	})
	if !res.OK {
		t.Fatalf("valid patch = %+v", res)
	}
	if g.cfg.Run.ProfileLimit != 7 || !g.cfg.Run.Shadow {
		t.Errorf("patch not applied: limit=%d shadow=%v", g.cfg.Run.ProfileLimit, g.cfg.Run.Shadow)
	}
}

func TestOriginRejected(t *testing.T) {
	g := newTestGateway(t, "")
	g.cfg.Gateway.AllowedOrigins = []string{"https://app.example.com"}

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, res, err := websocket.DefaultDialer.Dial("ws://"+g.addr+"/ws", header)
	if err == nil {
		t.Fatal("dial with rejected origin succeeded")
	}
	if res != nil && res.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", res.StatusCode)
	}

	header.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+g.addr+"/ws", header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	conn.Close()
}
