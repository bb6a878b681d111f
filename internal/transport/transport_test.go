package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/callintake/internal/finalize"
	"github.com/MrWong99/callintake/internal/incident"
	"github.com/MrWong99/callintake/internal/session"
	"github.com/MrWong99/callintake/internal/transport"
	"github.com/MrWong99/callintake/pkg/audio"
)

// ── Fake session manager ──────────────────────────────────────────────────────

type fakeSessions struct {
	mu     sync.Mutex
	n      int
	metas  []finalize.Meta
	sinks  map[string]session.Sink
	chunks []transport.AudioChunk
	ended  chan string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sinks: make(map[string]session.Sink), ended: make(chan string, 8)}
}

func (f *fakeSessions) Start(_ context.Context, meta finalize.Meta, sink session.Sink) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	id := "call-" + string(rune('0'+f.n))
	f.metas = append(f.metas, meta)
	f.sinks[id] = sink
	return id, nil
}

func (f *fakeSessions) PushAudio(id string, c session.AudioChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sinks[id]; !ok {
		return session.ErrNotFound
	}
	f.chunks = append(f.chunks, transport.AudioChunk{SessionID: id, AudioData: c.Data, SampleRate: c.SampleRate, Channels: c.Channels})
	return nil
}

func (f *fakeSessions) End(_ context.Context, id string) error {
	f.mu.Lock()
	_, ok := f.sinks[id]
	delete(f.sinks, id)
	f.mu.Unlock()
	if !ok {
		return session.ErrNotFound
	}
	f.ended <- id
	return nil
}

func (f *fakeSessions) Active() []session.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Info
	for id := range f.sinks {
		out = append(out, session.Info{SessionID: id, State: session.StateOpen})
	}
	return out
}

func (f *fakeSessions) sink(id string) session.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[id]
}

func (f *fakeSessions) Chunks() []transport.AudioChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.AudioChunk(nil), f.chunks...)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func startServer(t *testing.T, f *fakeSessions) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	transport.New(f).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(transport.Frame{Event: event, Data: raw})
	sendRaw(t, c, frame)
}

func sendRaw(t *testing.T, c *websocket.Conn, b []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, c *websocket.Conn, want string, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f transport.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Event != want {
		t.Fatalf("event = %q, want %q", f.Event, want)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("decode %s: %v", want, err)
	}
}

func startCall(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	send(t, c, transport.EventCallStart, transport.CallStart{Device: "chrome", Phone: "+77011112233"})
	var started transport.CallStarted
	read(t, c, transport.EventCallStarted, &started)
	if started.SessionID == "" {
		t.Fatal("call-started without session id")
	}
	return started.SessionID
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestCallStart(t *testing.T) {
	t.Parallel()

	f := newFakeSessions()
	c := dial(t, startServer(t, f))

	id := startCall(t, c)
	if id != "call-1" {
		t.Errorf("session id = %q, want %q", id, "call-1")
	}
	f.mu.Lock()
	meta := f.metas[0]
	f.mu.Unlock()
	if meta.Device != "chrome" || meta.Phone != "+77011112233" || meta.Remote == "" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestCallStart_LegacyNameWithoutPayload(t *testing.T) {
	t.Parallel()

	f := newFakeSessions()
	c := dial(t, startServer(t, f))

	sendRaw(t, c, []byte(`{"event":"call-ai"}`))
	var started transport.CallStarted
	read(t, c, transport.EventCallStarted, &started)
	if started.SessionID == "" {
		t.Error("no session id for legacy call-ai")
	}
}

func TestAudioChunkAndResponse(t *testing.T) {
	t.Parallel()

	f := newFakeSessions()
	c := dial(t, startServer(t, f))
	id := startCall(t, c)

	send(t, c, transport.EventAudioChunk, transport.AudioChunk{SessionID: id, AudioData: "AAAA", SampleRate: 48000, Channels: 2})
	// A second call-start round trip guarantees the chunk was handled.
	startCall(t, c)

	chunks := f.Chunks()
	if len(chunks) != 1 || chunks[0].AudioData != "AAAA" || chunks[0].SampleRate != 48000 || chunks[0].Channels != 2 {
		t.Fatalf("chunks = %+v", chunks)
	}

	f.sink(id)(id, session.Result{
		Text:     "пожар",
		Response: "Назовите адрес.",
		Audio:    []byte("RIFF"),
		Incident: incident.Record{Priority: incident.String("high")},
	})

	var resp transport.AIResponse
	read(t, c, transport.EventAIResponse, &resp)
	if resp.SessionID != id || resp.Text != "пожар" || resp.Response != "Назовите адрес." {
		t.Errorf("ai-response = %+v", resp)
	}
	if resp.Audio == nil || *resp.Audio != audio.EncodeBase64([]byte("RIFF")) {
		t.Errorf("audio = %v, want base64 of the WAV", resp.Audio)
	}
	if incident.Value(resp.Incident.Priority) != "high" {
		t.Errorf("incident priority = %q", incident.Value(resp.Incident.Priority))
	}
}

func TestAIResponse_SilentResultIsStillSent(t *testing.T) {
	t.Parallel()

	f := newFakeSessions()
	c := dial(t, startServer(t, f))
	id := startCall(t, c)

	f.sink(id)(id, session.Result{Incident: incident.Record{Category: incident.String("fire")}})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"audio":null`) {
		t.Errorf("frame %s does not carry audio:null", data)
	}

	var fr transport.Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if fr.Event != transport.EventAIResponse {
		t.Fatalf("event = %q, want %q", fr.Event, transport.EventAIResponse)
	}
	var resp transport.AIResponse
	if err := json.Unmarshal(fr.Data, &resp); err != nil {
		t.Fatalf("decode ai-response: %v", err)
	}
	if resp.SessionID != id || resp.Text != "" || resp.Response != "" {
		t.Errorf("ai-response = %+v, want empty text and reply", resp)
	}
	if incident.Value(resp.Incident.Category) != "fire" {
		t.Errorf("incident category = %q, want %q", incident.Value(resp.Incident.Category), "fire")
	}
}

func TestAIResponse_NullAudio(t *testing.T) {
	t.Parallel()

	f := newFakeSessions()
	c := dial(t, startServer(t, f))
	id := startCall(t, c)

	f.sink(id)(id, session.Result{Text: "алло", Response: "Служба 102."})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"audio":null`) {
		t.Errorf("frame %s does not carry audio:null", data)
	}
}

func TestInvalidFramesAreIgnored(t *testing.T) {
	t.Parallel()

	f := newFakeSessions()
	c := dial(t, startServer(t, f))

	sendRaw(t, c, []byte("not json"))
	sendRaw(t, c, []byte(`{"event":"dance"}`))
	sendRaw(t, c, []byte(`{"event":"audio-chunk","data":"oops"}`))
	send(t, c, transport.EventAudioChunk, transport.AudioChunk{SessionID: "unknown", AudioData: "AAAA"})
	send(t, c, transport.EventAudioChunk, transport.AudioChunk{AudioData: "AAAA"})

	// The connection still works.
	startCall(t, c)
	if n := len(f.Chunks()); n != 0 {
		t.Errorf("chunks = %d, want 0", n)
	}
}

func TestCallEnd(t *testing.T) {
	t.Parallel()

	f := newFakeSessions()
	c := dial(t, startServer(t, f))
	id := startCall(t, c)

	send(t, c, transport.EventCallEnd, transport.CallEnd{SessionID: id})
	select {
	case got := <-f.ended:
		if got != id {
			t.Errorf("ended %q, want %q", got, id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("End was not called")
	}
}

func TestDisconnectEndsOwnedCalls(t *testing.T) {
	t.Parallel()

	f := newFakeSessions()
	c := dial(t, startServer(t, f))
	a := startCall(t, c)
	b := startCall(t, c)

	c.Close(websocket.StatusNormalClosure, "bye")

	got := map[string]bool{}
	for range 2 {
		select {
		case id := <-f.ended:
			got[id] = true
		case <-time.After(3 * time.Second):
			t.Fatalf("ended calls = %v, want %s and %s", got, a, b)
		}
	}
	if !got[a] || !got[b] {
		t.Errorf("ended calls = %v, want %s and %s", got, a, b)
	}
}

func TestHandleSessions(t *testing.T) {
	t.Parallel()

	f := newFakeSessions()
	srv := startServer(t, f)
	c := dial(t, srv)
	startCall(t, c)

	resp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Count    int            `json:"count"`
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Sessions) != 1 || body.Sessions[0].State != session.StateOpen {
		t.Errorf("body = %+v", body)
	}
}
