// Package session owns live calls: it segments caller audio into utterances,
// runs each utterance through transcription, analysis, response and
// synthesis, and finalizes the call into a case when it ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/callintake/internal/analyzer"
	"github.com/MrWong99/callintake/internal/archive"
	"github.com/MrWong99/callintake/internal/dispatcher"
	"github.com/MrWong99/callintake/internal/events"
	"github.com/MrWong99/callintake/internal/finalize"
	"github.com/MrWong99/callintake/internal/incident"
	"github.com/MrWong99/callintake/internal/observe"
	"github.com/MrWong99/callintake/internal/resilience"
	"github.com/MrWong99/callintake/internal/segment"
	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/cases"
	"github.com/MrWong99/callintake/pkg/provider/stt"
	"github.com/MrWong99/callintake/pkg/provider/tts"
	"github.com/MrWong99/callintake/pkg/provider/vad"
)

var (
	// ErrNotFound is returned for ids that were never started, have
	// ended, or are being torn down. The transport ignores it.
	ErrNotFound = errors.New("session: not found")

	// ErrShuttingDown is returned by Start after Shutdown was called.
	ErrShuttingDown = errors.New("session: shutting down")
)

// State is the lifecycle state of a call.
type State string

const (
	StateOpen    State = "open"
	StateClosing State = "closing"
)

// AudioChunk is one audio-chunk message as received from the transport.
type AudioChunk struct {
	// Data is base64-encoded PCM16 little-endian audio.
	Data       string
	SampleRate int
	Channels   int
}

// Result is the outcome of one processed utterance. A Result with empty
// Text means nothing intelligible was heard.
type Result struct {
	Text     string
	Response string

	// Audio is the spoken reply as a WAV file, nil when synthesis failed or
	// there was nothing to say.
	Audio []byte

	// Incident is the merged record after this utterance.
	Incident incident.Record
}

// Silent reports whether r carries no transcript.
func (r Result) Silent() bool { return r.Text == "" }

// Sink receives every processed utterance of a session, in order.
type Sink func(sessionID string, r Result)

// Finalizer runs the end-of-call steps on a snapshot.
type Finalizer interface {
	Finalize(ctx context.Context, snap finalize.Snapshot) finalize.Result
}

// Settings are the hot-reloadable pipeline parameters. Segmentation and
// queue settings apply to calls started after a change.
type Settings struct {
	SampleRate int

	STT      resilience.Policy
	TTS      resilience.Policy
	Analyzer resilience.Policy

	// MinTranscriptChars is the shortest transcript, in runes, that is
	// analysed and answered.
	MinTranscriptChars int

	IdleTimeout   time.Duration
	SweepInterval time.Duration
	QueueDepth    int

	Segmenter segment.Config
	VAD       vad.Config
	Voice     tts.Voice
}

// Info describes a call for the status endpoint.
type Info struct {
	SessionID    string          `json:"sessionId"`
	State        State           `json:"state"`
	Meta         finalize.Meta   `json:"meta"`
	StartedAt    time.Time       `json:"startedAt"`
	LastActivity time.Time       `json:"lastActivity"`
	Utterances   int             `json:"utterances"`
	Queued       int             `json:"queued"`
	Speaking     bool            `json:"speaking"`
	Incident     incident.Record `json:"incident"`
}

// Config holds all dependencies for a [Manager]. STT, TTS, VAD, Analyzer,
// Dispatcher, Incidents and Finalizer are required.
type Config struct {
	STT        stt.Provider
	TTS        tts.Provider
	VAD        vad.Engine
	Analyzer   *analyzer.Analyzer
	Dispatcher *dispatcher.Dispatcher
	Incidents  *incident.Store
	Finalizer  Finalizer

	// Archive stores utterance and reply audio. Nil disables it.
	Archive *archive.Store

	// Publisher receives lifecycle events. Nil logs them.
	Publisher events.Publisher

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	Settings Settings
	Logger   *slog.Logger
}

// Manager owns every call from start to finalization. Utterances of one
// call are processed strictly in arrival order by a dedicated worker; calls
// are independent of each other. All exported methods are safe for
// concurrent use.
type Manager struct {
	stt        stt.Provider
	tts        tts.Provider
	vad        vad.Engine
	analyzer   *analyzer.Analyzer
	dispatcher *dispatcher.Dispatcher
	incidents  *incident.Store
	finalizer  Finalizer
	archive    *archive.Store
	publisher  events.Publisher
	metrics    *observe.Metrics
	log        *slog.Logger

	settings atomic.Pointer[Settings]

	mu     sync.RWMutex
	calls  map[string]*call
	closed bool

	// newID is replaced in tests.
	newID func() string
}

// call is the state of one call. Fields below mu are guarded by it; the
// segmenter is only touched with mu held.
type call struct {
	id        string
	meta      finalize.Meta
	sink      Sink
	startedAt time.Time
	vad       vad.SessionHandle
	queue     chan audio.Utterance
	rate      int

	// drained is closed when the worker has processed the last utterance.
	drained chan struct{}
	// gone is closed once the session is finalized and purged.
	gone     chan struct{}
	teardown sync.Once

	mu           sync.Mutex
	state        State
	seg          *segment.Segmenter
	lastActivity time.Time
	busy         bool
	utterances   int
	transcript   []cases.Turn
	lastAudio    *archive.Ref
}

// New creates a Manager. Call [Manager.Run] to enable the idle sweep.
func New(cfg Config) *Manager {
	m := &Manager{
		stt:        cfg.STT,
		tts:        cfg.TTS,
		vad:        cfg.VAD,
		analyzer:   cfg.Analyzer,
		dispatcher: cfg.Dispatcher,
		incidents:  cfg.Incidents,
		finalizer:  cfg.Finalizer,
		archive:    cfg.Archive,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		calls:      make(map[string]*call),
		newID:      uuid.NewString,
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.publisher == nil {
		m.publisher = events.NewLogPublisher(m.log)
	}
	m.Reconfigure(cfg.Settings)
	return m
}

// Reconfigure swaps the pipeline settings.
func (m *Manager) Reconfigure(s Settings) {
	if s.SampleRate <= 0 {
		s.SampleRate = 16000
	}
	if s.QueueDepth <= 0 {
		s.QueueDepth = 8
	}
	s.Segmenter.SampleRate = s.SampleRate
	s.VAD.SampleRate = s.SampleRate
	m.settings.Store(&s)
}

func (m *Manager) current() Settings { return *m.settings.Load() }

// Start opens a call and returns its session id. sink receives the result
// of every utterance; it may be nil.
func (m *Manager) Start(ctx context.Context, meta finalize.Meta, sink Sink) (string, error) {
	st := m.current()

	handle, err := m.vad.NewSession(st.VAD)
	if err != nil {
		return "", fmt.Errorf("session: start vad session: %w", err)
	}

	now := time.Now()
	s := &call{
		id:           m.newID(),
		meta:         meta,
		sink:         sink,
		startedAt:    now,
		vad:          handle,
		queue:        make(chan audio.Utterance, st.QueueDepth),
		rate:         st.SampleRate,
		drained:      make(chan struct{}),
		gone:         make(chan struct{}),
		state:        StateOpen,
		lastActivity: now,
	}
	s.seg = segment.New(st.Segmenter, handle,
		segment.WithLogger(m.log.With("session_id", s.id)),
		segment.WithDiscardHook(func(time.Duration) {
			m.metrics.RecordDiscard(context.Background(), "too_short")
		}),
	)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = handle.Close()
		return "", ErrShuttingDown
	}
	m.calls[s.id] = s
	m.mu.Unlock()

	go m.work(s)

	m.metrics.ActiveSessions.Add(ctx, 1)
	m.log.Info("call started", "session_id", s.id, "device", meta.Device, "remote", meta.Remote)
	m.publish(ctx, events.New(events.TypeCallStarted, s.id, map[string]any{
		"device": meta.Device,
		"phone":  meta.Phone,
	}))
	return s.id, nil
}

// PushAudio feeds one chunk of caller audio into the session's segmenter.
// Completed utterances are queued for processing. Chunks for unknown or
// closing sessions return [ErrNotFound]; undecodable chunks return
// an error wrapping [audio.ErrMalformedFrame] and leave the session intact.
func (m *Manager) PushAudio(sessionID string, chunk AudioChunk) error {
	s := m.lookup(sessionID)
	if s == nil {
		return ErrNotFound
	}

	samples, err := audio.DecodeBase64PCM16(chunk.Data)
	if err != nil {
		return fmt.Errorf("session: decode chunk: %w", err)
	}
	channels := chunk.Channels
	if channels == 0 {
		channels = 1
	}
	frame, err := audio.Normalize(
		audio.Frame{Samples: samples, SampleRate: chunk.SampleRate, Channels: channels},
		audio.Format{SampleRate: s.rate, Channels: 1},
	)
	if err != nil {
		return fmt.Errorf("session: normalise chunk: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return ErrNotFound
	}
	s.lastActivity = time.Now()
	for _, u := range s.seg.Push(frame) {
		select {
		case s.queue <- u:
		default:
			m.log.Warn("utterance queue full, dropping utterance",
				"session_id", s.id, "duration", u.Duration())
			m.metrics.RecordDiscard(context.Background(), "backlog")
		}
	}
	return nil
}

// End closes a call. Audio still buffered in the segmenter is flushed as a
// final utterance, queued utterances are processed, then the call is
// finalized and purged. End waits for all of that or for ctx; cancelling
// ctx does not stop the teardown. Ending an unknown session returns
// [ErrNotFound]; ending a closing one waits for it.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	s := m.calls[sessionID]
	m.mu.RUnlock()
	if s == nil {
		return ErrNotFound
	}
	m.close(s, "call-end")
	select {
	case <-s.gone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close starts the teardown of s once.
func (m *Manager) close(s *call, reason string) {
	s.teardown.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		last, ok := s.seg.Flush()
		s.mu.Unlock()

		m.log.Info("call ending", "session_id", s.id, "reason", reason)
		go m.finish(s, last, ok)
	})
}

// finish drains, finalizes and purges s. PushAudio no longer sends once the
// state is closing, so this goroutine is the only remaining sender.
func (m *Manager) finish(s *call, last audio.Utterance, hasLast bool) {
	if hasLast {
		s.queue <- last
	}
	close(s.queue)
	<-s.drained

	s.mu.Lock()
	snap := finalize.Snapshot{
		SessionID:  s.id,
		Meta:       s.meta,
		Record:     m.incidents.Snapshot(s.id),
		Transcript: append([]cases.Turn(nil), s.transcript...),
		LastAudio:  s.lastAudio,
		StartedAt:  s.startedAt,
		EndedAt:    time.Now(),
	}
	s.mu.Unlock()

	ctx, span := observe.StartCallSpan(context.Background(), "call.finalize", s.id)
	res := m.finalizer.Finalize(ctx, snap)
	observe.EndSpan(span, errors.Join(res.CaseErr, res.RegisterErr))
	m.metrics.RecordFinalization(ctx, "case", res.CaseErr)
	if res.Registered {
		m.metrics.RecordFinalization(ctx, "register", res.RegisterErr)
	}

	m.incidents.Reset(s.id)
	m.dispatcher.Forget(s.id)
	if err := s.vad.Close(); err != nil {
		m.log.Warn("close vad session", "session_id", s.id, "err", err)
	}

	m.mu.Lock()
	delete(m.calls, s.id)
	m.mu.Unlock()
	m.metrics.ActiveSessions.Add(ctx, -1)

	m.log.Info("call finalized",
		"session_id", s.id,
		"case_id", res.CaseID,
		"reference", res.Reference,
		"turns", len(snap.Transcript),
		"duration", snap.EndedAt.Sub(snap.StartedAt).Round(time.Millisecond),
	)
	close(s.gone)
}

// work is the per-session worker. It exits when the queue is closed and
// empty.
func (m *Manager) work(s *call) {
	defer close(s.drained)
	for u := range s.queue {
		s.mu.Lock()
		s.busy = true
		s.mu.Unlock()

		res := m.process(context.Background(), s, u)

		s.mu.Lock()
		s.busy = false
		s.lastActivity = time.Now()
		s.mu.Unlock()

		if s.sink != nil {
			s.sink(s.id, res)
		}
	}
}

// Run sweeps idle calls until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.current().SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			m.sweep(now)
		}
	}
}

// sweep closes calls without activity for longer than the idle timeout.
// A call whose worker is busy is never idle.
func (m *Manager) sweep(now time.Time) {
	idle := m.current().IdleTimeout
	if idle <= 0 {
		return
	}
	m.mu.RLock()
	var stale []*call
	for _, s := range m.calls {
		s.mu.Lock()
		if s.state == StateOpen && !s.busy && len(s.queue) == 0 && now.Sub(s.lastActivity) > idle {
			stale = append(stale, s)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, s := range stale {
		m.close(s, "idle")
	}
}

// Shutdown rejects new calls, ends every open call and waits until all of
// them are finalized or ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	all := make([]*call, 0, len(m.calls))
	for _, s := range m.calls {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.close(s, "shutdown")
	}
	for _, s := range all {
		select {
		case <-s.gone:
		case <-ctx.Done():
			return fmt.Errorf("session: drain: %w", ctx.Err())
		}
	}
	return nil
}

// Info returns the state of one call.
func (m *Manager) Info(sessionID string) (Info, bool) {
	m.mu.RLock()
	s := m.calls[sessionID]
	m.mu.RUnlock()
	if s == nil {
		return Info{}, false
	}
	return m.info(s), true
}

// Active lists every call that has not been purged yet, oldest first.
func (m *Manager) Active() []Info {
	m.mu.RLock()
	all := make([]*call, 0, len(m.calls))
	for _, s := range m.calls {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, m.info(s))
	}
	sortByStart(out)
	return out
}

// Len returns the number of calls held, including closing ones.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

func (m *Manager) info(s *call) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:    s.id,
		State:        s.state,
		Meta:         s.meta,
		StartedAt:    s.startedAt,
		LastActivity: s.lastActivity,
		Utterances:   s.utterances,
		Queued:       len(s.queue),
		Speaking:     s.seg.Speaking(),
		Incident:     m.incidents.Snapshot(s.id),
	}
}

// lookup returns the open session with id, or nil.
func (m *Manager) lookup(id string) *call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[id]
}

func (m *Manager) publish(ctx context.Context, e events.Event) {
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.log.Warn("publish event failed", "type", e.Type, "session_id", e.SessionID, "err", err)
	}
}
