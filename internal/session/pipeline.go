package session

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callintake/internal/dispatcher"
	"github.com/MrWong99/callintake/internal/events"
	"github.com/MrWong99/callintake/internal/finalize"
	"github.com/MrWong99/callintake/internal/incident"
	"github.com/MrWong99/callintake/internal/observe"
	"github.com/MrWong99/callintake/internal/resilience"
	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/cases"
	"github.com/MrWong99/callintake/pkg/provider/stt"
	"github.com/MrWong99/callintake/pkg/provider/tts"
)

var errEmptyAudio = errors.New("tts: provider returned no audio")

// process runs one utterance through STT, then analyzer and responder
// concurrently, then merge and TTS. It never fails: every stage has a
// fallback value.
func (m *Manager) process(ctx context.Context, s *call, u audio.Utterance) Result {
	st := m.current()
	start := time.Now()
	ctx, span := observe.StartCallSpan(ctx, "call.utterance", s.id)
	defer span.End()
	log := observe.Logger(ctx, m.log).With("session_id", s.id)

	m.archiveUtterance(s, u)

	tr, sttOut := resilience.Call(ctx, st.STT, func(ctx context.Context) (stt.Transcript, error) {
		return m.stt.Transcribe(ctx, u)
	}, stt.Transcript{})
	m.recordStage(ctx, observe.StageSTT, sttOut)

	text := strings.TrimSpace(tr.Text)
	if utf8.RuneCountInString(text) < max(st.MinTranscriptChars, 1) {
		log.Debug("no speech recognised", "duration", u.Duration(), "stt_failed", sttOut.FellBack())
		m.metrics.RecordDiscard(ctx, "silence")
		return Result{Incident: m.incidents.Snapshot(s.id)}
	}

	snapshot := m.incidents.Snapshot(s.id)

	var (
		partial incident.Partial
		reply   dispatcher.Reply
	)
	// Neither stage returns an error so one never cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		var out resilience.Outcome
		partial, out = resilience.Call(ctx, st.Analyzer, func(ctx context.Context) (incident.Partial, error) {
			return m.analyzer.Analyze(ctx, text)
		}, incident.Partial{})
		m.recordStage(ctx, observe.StageAnalyzer, out)
		return nil
	})
	g.Go(func() error {
		reply = m.dispatcher.Respond(ctx, s.id, text, snapshot)
		m.recordStage(ctx, observe.StageResponder, reply.Outcome)
		return nil
	})
	_ = g.Wait()

	rec := m.incidents.Merge(s.id, partial)

	var wav []byte
	if reply.Text != "" {
		speech, ttsOut := resilience.Call(ctx, st.TTS, func(ctx context.Context) (tts.Audio, error) {
			a, err := m.tts.Synthesize(ctx, reply.Text, st.Voice)
			if err == nil && a.Empty() {
				err = errEmptyAudio
			}
			return a, err
		}, tts.Audio{})
		m.recordStage(ctx, observe.StageTTS, ttsOut)
		if !speech.Empty() {
			wav = speech.WAV()
			m.archiveReply(s, speech)
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.utterances++
	s.transcript = append(s.transcript,
		cases.Turn{Role: finalize.RoleCaller, Text: text, At: now},
		cases.Turn{Role: finalize.RoleDispatcher, Text: reply.Text, At: now},
	)
	s.mu.Unlock()

	elapsed := time.Since(start)
	m.metrics.Utterances.Add(ctx, 1)
	m.metrics.UtteranceDuration.Record(ctx, elapsed.Seconds())
	log.Info("utterance processed",
		"chars", utf8.RuneCountInString(text),
		"priority", incident.Value(rec.Priority),
		"reply_fallback", reply.FellBack(),
		"audio", wav != nil,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	m.publish(ctx, events.New(events.TypeUtteranceProcessed, s.id, map[string]any{
		"text":     text,
		"response": reply.Text,
		"priority": incident.Value(rec.Priority),
		"category": incident.Value(rec.Category),
	}))

	return Result{Text: text, Response: reply.Text, Audio: wav, Incident: rec}
}

func (m *Manager) recordStage(ctx context.Context, stage string, out resilience.Outcome) {
	failed := out.Attempts
	if !out.FellBack() {
		failed--
	}
	m.metrics.RecordStage(ctx, stage, out.Elapsed.Seconds(), out.Attempts, max(failed, 0), out.FellBack())
	observe.RecordStage(ctx, stage, out.Err)
}

// archiveUtterance stores the caller audio and remembers it as the call's
// latest recording. Failures are logged only.
func (m *Manager) archiveUtterance(s *call, u audio.Utterance) {
	if !m.archive.Enabled() {
		return
	}
	ref, err := m.archive.SaveUtterance(s.id, u)
	if err != nil {
		m.log.Warn("archive utterance failed", "session_id", s.id, "err", err)
		return
	}
	s.mu.Lock()
	s.lastAudio = &ref
	s.mu.Unlock()
}

func (m *Manager) archiveReply(s *call, a tts.Audio) {
	if !m.archive.Enabled() {
		return
	}
	if _, err := m.archive.SaveReply(s.id, a.PCM, a.SampleRate); err != nil {
		m.log.Warn("archive reply failed", "session_id", s.id, "err", err)
	}
}

func sortByStart(infos []Info) {
	slices.SortFunc(infos, func(a, b Info) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.SessionID, b.SessionID))
	})
}
