package dispatcher

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HyphaGroup/agentrelay/internal/agent"
	"github.com/HyphaGroup/agentrelay/internal/auth"
)

func newTestDispatcher(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	d := New(opts)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return d, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readEvent(t *testing.T, c *websocket.Conn) *agent.Event {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	ev, err := agent.ParseFrame(msg)
	if err != nil {
		t.Fatalf("ParseFrame(%s) error = %v", msg, err)
	}
	return ev
}

func TestEchoWords(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Hi there", []string{"Hi", " there"}},
		{"  spaced   out  ", []string{"spaced", " out"}},
		{"one", []string{"one"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		got := echoWords(tt.input)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("echoWords(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	_, srv := newTestDispatcher(t, Options{Tokens: auth.StaticTokens{"tok": "u1"}})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 without a token", resp.StatusCode)
	}
}

func TestSocket_EchoStream(t *testing.T) {
	_, srv := newTestDispatcher(t, Options{})

	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	if ev := readEvent(t, c); ev.Type != agent.EventConnected || ev.UserID != "anonymous" {
		t.Fatalf("first frame = %+v, want connected anonymous", ev)
	}

	_ = c.WriteMessage(websocket.TextMessage, agent.EncodePing())
	if ev := readEvent(t, c); ev.Type != agent.EventPong {
		t.Errorf("ping reply = %s, want pong", ev.Type)
	}

	data, _ := agent.EncodeRequest(&agent.ExecuteRequest{AgentName: "echo", Input: "Hi there"})
	_ = c.WriteMessage(websocket.TextMessage, data)

	var types []string
	var text string
	for {
		ev := readEvent(t, c)
		types = append(types, string(ev.Type))
		text += ev.Chunk
		if ev.Type.Terminal() {
			break
		}
	}
	if got := strings.Join(types, ","); got != "stream_start,stream_chunk,stream_chunk,stream_end" {
		t.Errorf("frames = %s", got)
	}
	if text != "Hi there" {
		t.Errorf("text = %q, want %q", text, "Hi there")
	}
}

func TestSocket_RejectsBadMessages(t *testing.T) {
	_, srv := newTestDispatcher(t, Options{})

	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = c.Close() }()
	readEvent(t, c)

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"missing agent", `{"type":"execute_agent","input":"x"}`, "agentName is required"},
		{"unknown type", `{"type":"subscribe"}`, "unknown message type: subscribe"},
		{"not json", `nope`, "invalid message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = c.WriteMessage(websocket.TextMessage, []byte(tt.msg))
			ev := readEvent(t, c)
			if ev.Type != agent.EventError || ev.Error != tt.want {
				t.Errorf("reply = %+v, want error %q", ev, tt.want)
			}
		})
	}
}

func TestSocket_Authentication(t *testing.T) {
	_, srv := newTestDispatcher(t, Options{Tokens: auth.StaticTokens{"tok-1": "user-1"}})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil {
		t.Fatal("Dial() without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer tok-1")
	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("Dial() with token error = %v", err)
	}
	defer func() { _ = c.Close() }()
	if ev := readEvent(t, c); ev.UserID != "user-1" {
		t.Errorf("connected userId = %q, want user-1", ev.UserID)
	}

	// Browsers pass the token in the query string
	q, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token=tok-1", nil)
	if err != nil {
		t.Fatalf("Dial() with query token error = %v", err)
	}
	_ = q.Close()
}

func initiate(t *testing.T, srv *httptest.Server, agentName, input string) string {
	t.Helper()
	body := strings.NewReader(`{"input":"` + input + `","sessionId":"s1"}`)
	resp, err := http.Post(srv.URL+"/agents/"+agentName+"/stream", "application/json", body)
	if err != nil {
		t.Fatalf("initiate error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("initiate status = %d, want 201", resp.StatusCode)
	}
	var init agent.StreamInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&init); err != nil {
		t.Fatalf("decode initiation: %v", err)
	}
	if init.StreamID == "" {
		t.Fatal("initiation returned no streamId")
	}
	return init.StreamID
}

func TestEvents_StreamLifecycle(t *testing.T) {
	d, srv := newTestDispatcher(t, Options{})

	id := initiate(t, srv, "echo", "Hello world")

	resp, err := http.Get(srv.URL + "/stream/" + id)
	if err != nil {
		t.Fatalf("GET stream error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	var types []string
	var text string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		ev, err := agent.ParseFrame([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			t.Fatalf("ParseFrame() error = %v", err)
		}
		types = append(types, string(ev.Type))
		text += ev.Chunk
	}
	if got := strings.Join(types, ","); got != "connected,stream_start,stream_chunk,stream_chunk,stream_end" {
		t.Errorf("events = %s", got)
	}
	if text != "Hello world" {
		t.Errorf("text = %q", text)
	}

	d.mu.Lock()
	left := len(d.streams)
	d.mu.Unlock()
	if left != 0 {
		t.Errorf("%d streams still registered after completion", left)
	}
}

func TestEvents_Errors(t *testing.T) {
	_, srv := newTestDispatcher(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown stream", http.MethodGet, "/stream/nope", http.StatusNotFound},
		{"cancel unknown stream", http.MethodPost, "/stream/nope/cancel", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/agents/echo/stream", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, http.NoBody)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request error = %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp, err := http.Post(srv.URL+"/agents/echo/stream", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("initiate error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", resp.StatusCode)
	}
}

func TestEvents_Cancel(t *testing.T) {
	d, srv := newTestDispatcher(t, Options{})
	id := initiate(t, srv, "echo", "never attached")

	resp, err := http.Post(srv.URL+"/stream/"+id+"/cancel", "application/json", http.NoBody)
	if err != nil {
		t.Fatalf("cancel error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("cancel status = %d, want 204", resp.StatusCode)
	}

	d.mu.Lock()
	_, ok := d.streams[id]
	d.mu.Unlock()
	if ok {
		t.Error("cancelled stream should be removed")
	}
}

func TestRateLimit(t *testing.T) {
	_, srv := newTestDispatcher(t, Options{RatePerSecond: 0.001, Burst: 1})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/stream/nope")
		if err != nil {
			t.Fatalf("request error = %v", err)
		}
		_ = resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusNotFound || codes[1] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [404 429]", codes)
	}
}
