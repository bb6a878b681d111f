// Package transport implements the real-time call channel: a WebSocket
// endpoint carrying JSON event frames between the caller's browser and the
// session manager.
//
// Every frame is {"event": "<name>", "data": {...}}. Inbound events are
// call-start, audio-chunk and call-end; outbound events are call-started and
// ai-response. There are no error frames: failures degrade to a normal
// ai-response or are ignored.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/callintake/internal/finalize"
	"github.com/MrWong99/callintake/internal/incident"
	"github.com/MrWong99/callintake/internal/session"
	"github.com/MrWong99/callintake/pkg/audio"
)

// Event names.
const (
	EventCallStart   = "call-start"
	EventAudioChunk  = "audio-chunk"
	EventCallEnd     = "call-end"
	EventCallStarted = "call-started"
	EventAIResponse  = "ai-response"
)

// Names used by older browser clients.
const (
	legacyCallStart = "call-ai"
	legacyCallEnd   = "end-ai-call"
)

const (
	readLimit           = 4 << 20
	defaultWriteTimeout = 10 * time.Second
)

// Sessions is the part of the session manager the transport drives.
type Sessions interface {
	Start(ctx context.Context, meta finalize.Meta, sink session.Sink) (string, error)
	PushAudio(sessionID string, chunk session.AudioChunk) error
	End(ctx context.Context, sessionID string) error
	Active() []session.Info
}

// Frame is one JSON message on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CallStart is the payload of call-start. All fields are optional.
type CallStart struct {
	Device string `json:"device,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// AudioChunk is the payload of audio-chunk.
type AudioChunk struct {
	SessionID  string `json:"sessionId"`
	AudioData  string `json:"audioData"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// CallEnd is the payload of call-end.
type CallEnd struct {
	SessionID string `json:"sessionId"`
}

// CallStarted is the payload of call-started.
type CallStarted struct {
	SessionID string `json:"sessionId"`
}

// AIResponse is the payload of ai-response. Audio is base64 WAV or null.
type AIResponse struct {
	SessionID string          `json:"sessionId"`
	Text      string          `json:"text"`
	Response  string          `json:"response"`
	Audio     *string         `json:"audio"`
	Incident  incident.Record `json:"incident"`
}

// Option configures a [Server].
type Option func(*Server)

// WithAllowedOrigins sets the accepted browser origin patterns (see
// websocket.AcceptOptions.OriginPatterns). Empty means same-origin only.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithWriteTimeout bounds a single frame write. Defaults to 10s.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithEndTimeout bounds how long a closed connection waits for its calls to
// be finalized. Defaults to 60s.
func WithEndTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.endTimeout = d
		}
	}
}

// Server serves the call channel.
type Server struct {
	sessions     Sessions
	origins      []string
	log          *slog.Logger
	writeTimeout time.Duration
	endTimeout   time.Duration
}

// New returns a Server driving sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{
		sessions:     sessions,
		log:          slog.Default(),
		writeTimeout: defaultWriteTimeout,
		endTimeout:   60 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register mounts GET /ws and GET /api/sessions on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.HandleWS)
	mux.HandleFunc("GET /api/sessions", s.HandleSessions)
}

// HandleSessions lists the active calls.
func (s *Server) HandleSessions(w http.ResponseWriter, _ *http.Request) {
	active := s.sessions.Active()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"count":    len(active),
		"sessions": active,
	}); err != nil {
		s.log.Warn("encode sessions", "err", err)
	}
}

// HandleWS upgrades the request and serves one caller connection until it
// closes. Calls started on the connection are ended when it closes.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(readLimit)

	c := &conn{
		srv:    s,
		ws:     ws,
		remote: r.RemoteAddr,
		log:    s.log.With("remote", r.RemoteAddr),
		owned:  make(map[string]struct{}),
	}
	c.serve(r.Context())
}

// conn is one caller connection.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	remote string
	log    *slog.Logger

	writeMu sync.Mutex

	mu    sync.Mutex
	owned map[string]struct{}
}

func (c *conn) serve(ctx context.Context) {
	c.log.Debug("connection opened")
	defer c.closeAll()

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				c.log.Debug("connection closed", "status", status)
			} else {
				c.log.Info("connection lost", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			c.log.Warn("ignoring binary frame", "bytes", len(data))
			continue
		}
		c.dispatch(ctx, data)
	}
}

func (c *conn) dispatch(ctx context.Context, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Warn("ignoring undecodable frame", "err", err)
		return
	}

	switch f.Event {
	case EventCallStart, legacyCallStart:
		var p CallStart
		if !c.decode(f, &p) {
			return
		}
		c.start(ctx, p)

	case EventAudioChunk:
		var p AudioChunk
		if !c.decode(f, &p) {
			return
		}
		c.audio(p)

	case EventCallEnd, legacyCallEnd:
		var p CallEnd
		if !c.decode(f, &p) {
			return
		}
		c.end(p.SessionID)

	default:
		c.log.Warn("ignoring unknown event", "event", f.Event)
	}
}

// decode unmarshals f.Data into v. An absent payload leaves v zero.
func (c *conn) decode(f Frame, v any) bool {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return true
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		c.log.Warn("ignoring malformed payload", "event", f.Event, "err", err)
		return false
	}
	return true
}

func (c *conn) start(ctx context.Context, p CallStart) {
	meta := finalize.Meta{Phone: p.Phone, Device: p.Device, Remote: c.remote}
	id, err := c.srv.sessions.Start(ctx, meta, c.deliver)
	if err != nil {
		c.log.Error("start call failed", "err", err)
		return
	}
	c.mu.Lock()
	c.owned[id] = struct{}{}
	c.mu.Unlock()

	c.write(EventCallStarted, CallStarted{SessionID: id})
}

func (c *conn) audio(p AudioChunk) {
	if p.SessionID == "" {
		c.log.Warn("ignoring audio chunk without session id")
		return
	}
	err := c.srv.sessions.PushAudio(p.SessionID, session.AudioChunk{
		Data:       p.AudioData,
		SampleRate: p.SampleRate,
		Channels:   p.Channels,
	})
	switch {
	case err == nil, errors.Is(err, session.ErrNotFound):
	case errors.Is(err, audio.ErrMalformedFrame):
		c.log.Warn("dropping malformed audio chunk", "session_id", p.SessionID, "err", err)
	default:
		c.log.Warn("audio chunk rejected", "session_id", p.SessionID, "err", err)
	}
}

// end tears the call down in the background so the connection keeps
// reading while the last utterance drains.
func (c *conn) end(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	delete(c.owned, id)
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.srv.endTimeout)
		defer cancel()
		if err := c.srv.sessions.End(ctx, id); err != nil && !errors.Is(err, session.ErrNotFound) {
			c.log.Warn("end call", "session_id", id, "err", err)
		}
	}()
}

// closeAll ends every call still owned by the connection.
func (c *conn) closeAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.owned))
	for id := range c.owned {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.log.Info("connection closed with call open, ending it", "session_id", id)
		c.end(id)
	}
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

// deliver is the session sink. A silent result still goes out with an empty
// transcript and reply so the client sees every utterance answered.
func (c *conn) deliver(sessionID string, r session.Result) {
	resp := AIResponse{
		SessionID: sessionID,
		Text:      r.Text,
		Response:  r.Response,
		Incident:  r.Incident,
	}
	if r.Audio != nil {
		enc := audio.EncodeBase64(r.Audio)
		resp.Audio = &enc
	}
	c.write(EventAIResponse, resp)
}

// write sends one frame. Writes are serialised per connection.
func (c *conn) write(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("encode frame", "event", event, "err", err)
		return
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		c.log.Error("encode frame", "event", event, "err", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.srv.writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		c.log.Debug("write frame failed", "event", event, "err", err)
	}
}
