package incident

import "sync"

// Store is the process-wide registry of per-session incident records. All
// methods are safe for concurrent use. Records handed out are deep copies.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Merge folds p into the session's record and returns the result.
//
// For every field in p holding a meaningful value, the stored field is
// replaced. Nil fields and values for which [IsUnknown] is true leave the
// stored value untouched, so known facts never regress. Extra entries merge
// key by key under the same rule.
func (s *Store) Merge(sessionID string, p Partial) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[sessionID]
	if !ok {
		cur = &Record{}
		s.records[sessionID] = cur
	}

	src := Record(p)
	dst := cur.fields()
	for i, f := range src.fields() {
		if *f == nil || IsUnknown(**f) {
			continue
		}
		v := **f
		*dst[i] = &v
	}
	for k, v := range p.Extra {
		if IsUnknown(v) {
			continue
		}
		if cur.Extra == nil {
			cur.Extra = make(map[string]string)
		}
		cur.Extra[k] = v
	}
	return cur.Clone()
}

// Snapshot returns a copy of the session's record. Unknown sessions yield
// an empty record.
func (s *Store) Snapshot(sessionID string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[sessionID]; ok {
		return r.Clone()
	}
	return Record{}
}

// Reset discards everything known about the session.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
}

// Len returns the number of sessions with a record.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
