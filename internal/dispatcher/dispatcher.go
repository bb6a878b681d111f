// Package dispatcher implements the conversational dispatcher persona that
// answers the caller after every utterance.
//
// Each session owns an append-only conversation seeded with the persona's
// system instruction. A turn appends the annotated caller text, asks the
// model for a reply with the whole history as context, appends the reply,
// and trims the history to the seed plus the most recent messages. The
// dispatcher always answers: if the model fails, the persona's fallback
// reply is spoken and recorded instead.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/callintake/internal/incident"
	"github.com/MrWong99/callintake/internal/resilience"
	"github.com/MrWong99/callintake/pkg/provider/llm"
)

// Defaults.
const (
	DefaultHistoryLimit = 20
	DefaultTemperature  = 0.5
	DefaultMaxTokens    = 150
)

// Config tunes the dispatcher. Zero values select the defaults.
type Config struct {
	Persona Persona

	// HistoryLimit is the number of non-seed messages kept per session.
	HistoryLimit int

	Temperature float64
	MaxTokens   int

	// Policy bounds each model call.
	Policy resilience.Policy
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Reply is the outcome of one dispatcher turn.
type Reply struct {
	Text string

	// Outcome reports attempts and, when the fallback was used, why.
	Outcome resilience.Outcome
}

// FellBack reports whether Text is the persona's fallback reply.
func (r Reply) FellBack() bool { return r.Outcome.FellBack() }

// Dispatcher holds per-session conversation histories. Sessions are
// independent; turns of one session must not run concurrently, which the
// session manager guarantees.
type Dispatcher struct {
	llm llm.Provider
	log *slog.Logger

	mu        sync.Mutex
	cfg       Config
	histories map[string][]llm.Message
}

// New creates a Dispatcher backed by p.
func New(p llm.Provider, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		llm:       p,
		log:       slog.Default(),
		cfg:       normalise(cfg),
		histories: make(map[string][]llm.Message),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func normalise(cfg Config) Config {
	cfg.Persona = cfg.Persona.withDefaults()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Policy.Name == "" {
		cfg.Policy.Name = "dispatcher"
	}
	return cfg
}

// Reconfigure swaps the configuration. Running sessions keep their seed
// instruction; the new persona applies to sessions started afterwards,
// while the fallback reply, notes and limits apply immediately.
func (d *Dispatcher) Reconfigure(cfg Config) {
	d.mu.Lock()
	d.cfg = normalise(cfg)
	d.mu.Unlock()
}

// FallbackReply returns the configured fallback utterance.
func (d *Dispatcher) FallbackReply() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Persona.FallbackReply
}

// Respond runs one turn for sessionID. rec is the incident snapshot used
// to annotate the caller turn. It never fails.
func (d *Dispatcher) Respond(ctx context.Context, sessionID, text string, rec incident.Record) Reply {
	d.mu.Lock()
	cfg := d.cfg
	history, ok := d.histories[sessionID]
	if !ok {
		history = []llm.Message{{Role: llm.RoleSystem, Content: cfg.Persona.SystemPrompt}}
	}
	history = trim(append(history, llm.Message{Role: llm.RoleUser, Content: cfg.Persona.Annotate(text, rec)}), cfg.HistoryLimit)
	d.histories[sessionID] = history
	req := llm.CompletionRequest{
		Messages:    slices.Clone(history),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	d.mu.Unlock()

	reply, out := resilience.Call(ctx, cfg.Policy, func(ctx context.Context) (string, error) {
		resp, err := d.llm.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return "", errors.New("dispatcher: empty reply")
		}
		return strings.TrimSpace(resp.Content), nil
	}, cfg.Persona.FallbackReply)
	if out.FellBack() {
		d.log.Warn("dispatcher fell back", "session_id", sessionID, "attempts", out.Attempts, "err", out.Err)
	}

	d.mu.Lock()
	// Forget may have run meanwhile; do not resurrect the session.
	if h, ok := d.histories[sessionID]; ok {
		h = append(h, llm.Message{Role: llm.RoleAssistant, Content: reply})
		d.histories[sessionID] = trim(h, cfg.HistoryLimit)
	}
	d.mu.Unlock()

	return Reply{Text: reply, Outcome: out}
}

// History returns a copy of the session's conversation.
func (d *Dispatcher) History(sessionID string) []llm.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.histories[sessionID])
}

// Forget drops the session's conversation.
func (d *Dispatcher) Forget(sessionID string) {
	d.mu.Lock()
	delete(d.histories, sessionID)
	d.mu.Unlock()
}

// Len returns the number of sessions with a conversation.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.histories)
}

// trim keeps the seed message plus the most recent limit messages.
func trim(h []llm.Message, limit int) []llm.Message {
	if len(h) <= limit+1 {
		return h
	}
	out := make([]llm.Message, 0, limit+1)
	out = append(out, h[0])
	return append(out, h[len(h)-limit:]...)
}
