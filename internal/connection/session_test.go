package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig(url string) SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.URL = url
	cfg.HeartbeatInterval = time.Hour
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.DialTimeout = 0
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// recorder collects dispatched envelopes.
type recorder struct {
	mu     sync.Mutex
	events []event.Envelope
}

func (r *recorder) handle(env event.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, typ := range r.types() {
		if typ == eventType {
			n++
		}
	}
	return n
}

func (r *recorder) last(eventType string) (event.Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == eventType {
			return r.events[i], true
		}
	}
	return event.Envelope{}, false
}

func TestSession_ConnectRequiresIdentity(t *testing.T) {
	s := NewSession(testConfig("ws://localhost:1/ws"), nil)

	err := s.Connect(context.Background(), "")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", s.State())
	}
}

func TestSession_ConnectRequiresURL(t *testing.T) {
	s := NewSession(testConfig(""), nil)

	if err := s.Connect(context.Background(), "user-1"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSession_ConnectHandshake(t *testing.T) {
	var gotQuery url.Values
	var gotKey string
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		mu.Lock()
		gotQuery = r.URL.Query()
		gotKey = r.Header.Get(event.APIKeyHeader)
		mu.Unlock()
		drain(conn)
	})
	defer server.Close()

	cfg := testConfig(wsURL(server) + "/ws")
	cfg.APIKey = "echomind-test-key"
	cfg.ClientKind = "web"

	s := NewSession(cfg, nil)
	rec := &recorder{}
	s.Subscribe(event.TypeConnectionEstablished, rec.handle)

	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	if s.State() != StateOpen {
		t.Errorf("State = %v, want open", s.State())
	}

	mu.Lock()
	if gotQuery.Get(event.ParamIdentity) != "user-1" {
		t.Errorf("identity = %q, want user-1", gotQuery.Get(event.ParamIdentity))
	}
	if gotQuery.Get(event.ParamClient) != "web" {
		t.Errorf("client = %q, want web", gotQuery.Get(event.ParamClient))
	}
	if gotQuery.Get(event.ParamVersion) != event.ProtocolVersion {
		t.Errorf("version = %q, want %q", gotQuery.Get(event.ParamVersion), event.ProtocolVersion)
	}
	if gotKey != "echomind-test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	mu.Unlock()

	env, ok := rec.last(event.TypeConnectionEstablished)
	if !ok {
		t.Fatal("expected local connection_established event")
	}
	if env.Timestamp.IsZero() {
		t.Error("connection_established should carry a timestamp")
	}
	if env.Payload["local"] != true {
		t.Errorf("local = %v, want true", env.Payload["local"])
	}
}

func TestSession_ConnectWhileOpen(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) { drain(conn) })
	defer server.Close()

	s := NewSession(testConfig(wsURL(server)), nil)
	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Errorf("second Connect with same identity = %v, want nil", err)
	}
	if err := s.Connect(context.Background(), "user-2"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Connect with other identity = %v, want ErrAlreadyConnected", err)
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {})
	url := wsURL(server)
	server.Close()

	s := NewSession(testConfig(url), nil)

	err := s.Connect(context.Background(), "user-1")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", s.State())
	}

	// A failed manual connect does not start the reconnection policy.
	time.Sleep(50 * time.Millisecond)
	if got := s.Stats().Reconnects; got != 0 {
		t.Errorf("Reconnects = %d, want 0", got)
	}
}

func TestSession_SendNotConnected(t *testing.T) {
	s := NewSession(testConfig("ws://localhost:1"), nil)

	err := s.Send(event.New(event.TypeNotification, nil))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if s.TrySend(event.New(event.TypeNotification, nil)) {
		t.Error("TrySend should report false when not connected")
	}
}

func TestSession_Send(t *testing.T) {
	received := make(chan []byte, 10)

	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	})
	defer server.Close()

	s := NewSession(testConfig(wsURL(server)), nil)
	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	if !s.TrySend(event.New(event.TypeStateSync, map[string]any{"view": "journal"})) {
		t.Fatal("TrySend returned false")
	}

	select {
	case msg := <-received:
		env, err := event.Decode(msg)
		if err != nil {
			t.Fatalf("server could not decode message: %v", err)
		}
		if env.Type != event.TypeStateSync || env.String("view") != "journal" {
			t.Errorf("received %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSession_DispatchOrderAndIsolation(t *testing.T) {
	messages := []string{
		`{"type":"connection_established","session_id":"abc"}`,
		`{"type":"heartbeat"}`,
		`{"type":"connection_closed","code":1000}`,
		`not json at all`,
		`{"type":"memory_update","seq":1}`,
		`{"no_type":true}`,
		`{"type":"notification","text":"hello"}`,
		`{"type":"memory_update","seq":2}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		drain(conn)
	})
	defer server.Close()

	s := NewSession(testConfig(wsURL(server)), nil)

	var panics atomic.Int32
	s.Subscribe(event.TypeMemoryUpdate, func(event.Envelope) error {
		panics.Add(1)
		panic("boom")
	})
	s.Subscribe(event.TypeMemoryUpdate, func(event.Envelope) error {
		return errors.New("handler failed")
	})
	rec := &recorder{}
	s.Subscribe(event.TypeMemoryUpdate, rec.handle)
	s.Subscribe(event.TypeNotification, rec.handle)
	all := &recorder{}
	s.Subscribe(AnyEvent, all.handle)

	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	waitFor(t, time.Second, func() bool { return len(rec.types()) == 3 })

	want := []string{event.TypeMemoryUpdate, event.TypeNotification, event.TypeMemoryUpdate}
	got := rec.types()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}

	rec.mu.Lock()
	first, _ := rec.events[0].Field("seq")
	rec.mu.Unlock()
	if fmt.Sprint(first) != "1" {
		t.Errorf("first memory_update seq = %v, want 1", first)
	}

	if panics.Load() != 2 {
		t.Errorf("panicking handler ran %d times, want 2", panics.Load())
	}

	stats := s.Stats()
	if stats.MalformedDropped != 2 {
		t.Errorf("MalformedDropped = %d, want 2", stats.MalformedDropped)
	}
	if stats.HandlerFailures != 4 {
		t.Errorf("HandlerFailures = %d, want 4", stats.HandlerFailures)
	}

	// AnyEvent sees the local connection_established plus the three domain events,
	// never the remote system events.
	if n := all.count(event.TypeConnectionEstablished); n != 1 {
		t.Errorf("AnyEvent saw %d connection_established, want 1 (local only)", n)
	}
	if n := all.count(event.TypeHeartbeat); n != 0 {
		t.Errorf("AnyEvent saw %d heartbeats, want 0", n)
	}
	if n := all.count(event.TypeConnectionClosed); n != 0 {
		t.Errorf("AnyEvent saw %d connection_closed from the peer, want 0", n)
	}
}

func TestSession_DuplicateRegistration(t *testing.T) {
	s := NewSession(testConfig("ws://localhost:1"), nil)

	var calls atomic.Int32
	handler := func(event.Envelope) error {
		calls.Add(1)
		return nil
	}

	first := s.Subscribe(event.TypeNotification, handler)
	s.Subscribe(event.TypeNotification, handler)

	if n := s.HandlerCount(event.TypeNotification); n != 2 {
		t.Fatalf("HandlerCount = %d, want 2", n)
	}

	s.handlers.dispatch(event.New(event.TypeNotification, nil))
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (list semantics)", calls.Load())
	}

	s.Unsubscribe(first)
	s.Unsubscribe(first)
	s.Unsubscribe(Subscription{eventType: event.TypeNotification, id: 999})
	s.Unsubscribe(Subscription{eventType: "never-registered", id: 1})

	if n := s.HandlerCount(event.TypeNotification); n != 1 {
		t.Fatalf("HandlerCount after one Unsubscribe = %d, want 1", n)
	}

	calls.Store(0)
	s.handlers.dispatch(event.New(event.TypeNotification, nil))
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSession_HeartbeatOnlyWhileOpen(t *testing.T) {
	heartbeats := make(chan struct{}, 100)

	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if env, err := event.Decode(msg); err == nil && env.Type == event.TypeHeartbeat {
				if _, ok := env.Field("client_timestamp"); ok {
					heartbeats <- struct{}{}
				}
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HeartbeatInterval = 20 * time.Millisecond

	s := NewSession(cfg, nil)
	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-heartbeats:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for heartbeat %d", i+1)
		}
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	// Allow one period for an in-flight tick, then the count must stop moving.
	time.Sleep(cfg.HeartbeatInterval)
	sent := s.Stats().HeartbeatsSent
	time.Sleep(5 * cfg.HeartbeatInterval)
	if after := s.Stats().HeartbeatsSent; after != sent {
		t.Errorf("heartbeats continued after Close: %d -> %d", sent, after)
	}
}

func TestSession_HeartbeatStopsAfterTransportDrop(t *testing.T) {
	dialer := &fakeDialer{}

	cfg := testConfig("ws://fake/ws")
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Hour
	s := NewSession(cfg, nil, WithDialer(dialer))

	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	tr := dialer.transport(0)
	waitFor(t, time.Second, func() bool {
		writes, _ := tr.writeCounts()
		return writes >= 2
	})

	tr.drop()
	waitFor(t, time.Second, func() bool { return s.State() != StateOpen })

	// One tick may already be past the state check when the drop lands.
	time.Sleep(cfg.HeartbeatInterval)
	_, tries := tr.writeCounts()
	sent := s.Stats().HeartbeatsSent
	time.Sleep(5 * cfg.HeartbeatInterval)

	if _, after := tr.writeCounts(); after != tries {
		t.Errorf("heartbeat writes attempted after drop: %d -> %d", tries, after)
	}
	if after := s.Stats().HeartbeatsSent; after != sent {
		t.Errorf("HeartbeatsSent moved after drop: %d -> %d", sent, after)
	}
	if len(dialer.dialTimes()) != 1 {
		t.Errorf("dials = %d, want 1 while the retry timer is pending", len(dialer.dialTimes()))
	}
}

func TestSession_ReconnectAfterUnexpectedClose(t *testing.T) {
	var connections atomic.Int32

	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		if connections.Add(1) == 1 {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server restart"),
				time.Now().Add(time.Second),
			)
			return
		}
		drain(conn)
	})
	defer server.Close()

	s := NewSession(testConfig(wsURL(server)), nil)
	rec := &recorder{}
	s.Subscribe(AnyEvent, rec.handle)

	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(event.TypeConnectionEstablished) == 2 && s.State() == StateOpen
	})

	closed, ok := rec.last(event.TypeConnectionClosed)
	if !ok {
		t.Fatal("expected connection_closed event")
	}
	if closed.Payload["code"] != websocket.CloseGoingAway {
		t.Errorf("code = %v, want %d", closed.Payload["code"], websocket.CloseGoingAway)
	}
	if closed.Payload["reason"] != "server restart" {
		t.Errorf("reason = %v, want server restart", closed.Payload["reason"])
	}
	if closed.Payload["local"] != true {
		t.Errorf("local = %v, want true", closed.Payload["local"])
	}

	stats := s.Stats()
	if stats.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", stats.Reconnects)
	}
	if stats.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0 after successful open", stats.ReconnectAttempts)
	}
}

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	dialer *fakeDialer

	mu      sync.Mutex
	closed  bool
	adopted bool
	done    chan struct{}
	writes  int
	tries   int
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	f.mu.Lock()
	if !f.closed && !f.adopted {
		f.adopted = true
		f.dialer.adopt()
	}
	f.mu.Unlock()

	<-f.done
	return nil, &websocket.CloseError{Code: websocket.CloseGoingAway, Text: "dropped"}
}

func (f *fakeTransport) isAdopted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adopted
}

func (f *fakeTransport) WriteMessage([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tries++
	if f.closed {
		return errors.New("closed")
	}
	f.writes++
	return nil
}

// writeCounts returns successful writes and all write attempts.
func (f *fakeTransport) writeCounts() (writes, tries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes, f.tries
}

func (f *fakeTransport) Close(int, string) error {
	f.drop()
	return nil
}

// drop simulates the peer going away.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	if f.adopted {
		f.dialer.release()
	}
}

// fakeDialer records dials and tracks how many transports a session holds open.
type fakeDialer struct {
	delay time.Duration
	fail  func(n int) bool

	mu         sync.Mutex
	dials      []time.Time
	transports []*fakeTransport
	live       int
	maxLive    int
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ http.Header) (Transport, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.dials)
	d.dials = append(d.dials, time.Now())
	if d.fail != nil && d.fail(n) {
		return nil, errors.New("connection refused")
	}

	tr := &fakeTransport{dialer: d, done: make(chan struct{})}
	d.transports = append(d.transports, tr)
	return tr, nil
}

func (d *fakeDialer) adopt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
}

func (d *fakeDialer) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live--
}

func (d *fakeDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials...)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

func TestSession_ReconnectBackoffExhausted(t *testing.T) {
	dialer := &fakeDialer{fail: func(n int) bool { return n > 0 }}

	cfg := testConfig("ws://fake/ws")
	s := NewSession(cfg, nil, WithDialer(dialer))

	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return dialer.transport(0).isAdopted() })

	droppedAt := time.Now()
	dialer.transport(0).drop()

	waitFor(t, 3*time.Second, func() bool { return len(dialer.dialTimes()) == 6 })

	// A sixth retry would fire 320ms after the fifth; give it ample time.
	time.Sleep(500 * time.Millisecond)

	dials := dialer.dialTimes()
	if len(dials) != 6 {
		t.Fatalf("dials = %d, want 6 (1 connect + 5 retries)", len(dials))
	}

	prev := droppedAt
	for n := 0; n < 5; n++ {
		want := cfg.ReconnectBaseDelay << n
		gap := dials[n+1].Sub(prev)
		if gap < want {
			t.Errorf("retry %d fired after %v, want >= %v", n+1, gap, want)
		}
		prev = dials[n+1]
	}

	if s.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", s.State())
	}
	if got := s.Stats().ReconnectAttempts; got != 5 {
		t.Errorf("ReconnectAttempts = %d, want 5", got)
	}

	// Exhausted sessions ignore the network signal; only a manual Connect resumes.
	s.NotifyNetworkAvailable()
	time.Sleep(50 * time.Millisecond)
	if len(dialer.dialTimes()) != 6 {
		t.Error("NotifyNetworkAvailable must not revive an exhausted session")
	}
}

func TestSession_CloseCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}

	cfg := testConfig("ws://fake/ws")
	cfg.ReconnectBaseDelay = 50 * time.Millisecond
	s := NewSession(cfg, nil, WithDialer(dialer))

	closedCh := make(chan struct{}, 1)
	s.Subscribe(event.TypeConnectionClosed, func(event.Envelope) error {
		closedCh <- struct{}{}
		return nil
	})

	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return dialer.transport(0).isAdopted() })
	dialer.transport(0).drop()

	select {
	case <-closedCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection_closed")
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	time.Sleep(4 * cfg.ReconnectBaseDelay)

	if n := len(dialer.dialTimes()); n != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after Close)", n)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", s.State())
	}
}

func TestSession_NetworkAvailableSkipsBackoff(t *testing.T) {
	dialer := &fakeDialer{}

	cfg := testConfig("ws://fake/ws")
	cfg.ReconnectBaseDelay = time.Hour
	s := NewSession(cfg, nil, WithDialer(dialer))
	defer s.Close()

	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return dialer.transport(0).isAdopted() })
	dialer.transport(0).drop()

	waitFor(t, time.Second, func() bool { return s.Stats().ReconnectAttempts == 1 })

	s.NotifyNetworkAvailable()

	waitFor(t, time.Second, func() bool { return s.State() == StateOpen })
	if n := len(dialer.dialTimes()); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
}

func TestSession_RapidConnectCloseSingleTransport(t *testing.T) {
	dialer := &fakeDialer{delay: time.Millisecond}
	s := NewSession(testConfig("ws://fake/ws"), nil, WithDialer(dialer))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Connect(context.Background(), "user-1")
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	s.Close()

	waitFor(t, time.Second, func() bool {
		dialer.mu.Lock()
		defer dialer.mu.Unlock()
		return dialer.live == 0
	})

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	if dialer.maxLive > 1 {
		t.Errorf("session held %d transports at once, want at most 1", dialer.maxLive)
	}
}

func TestSession_CloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dialer := &fakeDialer{}
	cfg := testConfig("ws://fake/ws")
	cfg.HeartbeatInterval = 10 * time.Millisecond
	s := NewSession(cfg, nil, WithDialer(dialer))

	if err := s.Connect(context.Background(), "user-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestReconnectPolicy(t *testing.T) {
	p := ReconnectPolicy{BaseDelay: 100 * time.Millisecond, MaxAttempts: 5}

	tests := []struct {
		attempt   int
		wantDelay time.Duration
		wantRetry bool
	}{
		{0, 100 * time.Millisecond, true},
		{1, 200 * time.Millisecond, true},
		{2, 400 * time.Millisecond, true},
		{3, 800 * time.Millisecond, true},
		{4, 1600 * time.Millisecond, true},
		{5, 3200 * time.Millisecond, false},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.wantDelay {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.wantDelay)
		}
		if got := p.ShouldRetry(tt.attempt); got != tt.wantRetry {
			t.Errorf("ShouldRetry(%d) = %v, want %v", tt.attempt, got, tt.wantRetry)
		}
	}

	if d := p.Delay(-1); d != p.BaseDelay {
		t.Errorf("Delay(-1) = %v, want %v", d, p.BaseDelay)
	}
	if d := p.Delay(100); d <= 0 {
		t.Errorf("Delay(100) overflowed: %v", d)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateOpen:         "open",
		StateClosing:      "closing",
		State(42):         "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.MaxReconnectAttempts)
	}
	if cfg.ProtocolVersion != event.ProtocolVersion {
		t.Errorf("ProtocolVersion = %q", cfg.ProtocolVersion)
	}
}
