// Package archive writes caller utterances and synthesized replies to disk as
// WAV files, one directory per session.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/callintake/pkg/audio"
)

// Kinds of archived audio.
const (
	KindUtterance = "utterance"
	KindReply     = "reply"
)

// ErrDisabled is returned by a Store created with an empty directory.
var ErrDisabled = errors.New("archive: disabled")

// Ref identifies one archived file.
type Ref struct {
	SessionID string
	Kind      string
	Path      string
	At        time.Time
}

// Store writes WAV files beneath a root directory. The zero value and a
// Store created with an empty directory are disabled.
type Store struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	last int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to name files.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store rooted at dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enabled reports whether files are written.
func (s *Store) Enabled() bool {
	return s != nil && s.dir != ""
}

// SaveUtterance archives a caller utterance.
func (s *Store) SaveUtterance(sessionID string, u audio.Utterance) (Ref, error) {
	ch := u.Channels
	if ch == 0 {
		ch = 1
	}
	return s.save(sessionID, KindUtterance, audio.EncodeWAV(u.PCM, u.SampleRate, ch))
}

// SaveReply archives synthesized mono PCM16 at rate.
func (s *Store) SaveReply(sessionID string, pcm []byte, rate int) (Ref, error) {
	return s.save(sessionID, KindReply, audio.EncodeWAV(pcm, rate, 1))
}

func (s *Store) save(sessionID, kind string, wav []byte) (Ref, error) {
	if !s.Enabled() {
		return Ref{}, ErrDisabled
	}
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return Ref{}, fmt.Errorf("archive: invalid session id %q", sessionID)
	}

	dir := filepath.Join(s.dir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Ref{}, fmt.Errorf("archive: create session dir: %w", err)
	}

	at, stamp := s.stamp()
	path := filepath.Join(dir, strconv.FormatInt(stamp, 10)+"-"+kind+".wav")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Ref{}, fmt.Errorf("archive: create %s: %w", path, err)
	}
	if _, err := f.Write(wav); err != nil {
		f.Close()
		return Ref{}, fmt.Errorf("archive: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return Ref{}, fmt.Errorf("archive: close %s: %w", path, err)
	}
	return Ref{SessionID: sessionID, Kind: kind, Path: path, At: at}, nil
}

// stamp returns a strictly increasing nanosecond timestamp so two saves
// within one clock tick get distinct names.
func (s *Store) stamp() (time.Time, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now()
	n := at.UnixNano()
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return at, n
}
