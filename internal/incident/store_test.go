package incident_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/MrWong99/callintake/internal/incident"
)

func TestStore_MergeScenario(t *testing.T) {
	t.Parallel()

	s := incident.NewStore()
	got := s.Merge("call-1", incident.Partial{
		Priority: incident.String("high"),
		Category: incident.String("пожар"),
		Address:  incident.String("Абая 10"),
	})
	if incident.Value(got.Priority) != "high" || incident.Value(got.Category) != "пожар" || incident.Value(got.Address) != "Абая 10" {
		t.Fatalf("after first merge = %+v", got)
	}
	if got.CallerName != nil || got.Emotion != nil || got.District != nil {
		t.Errorf("unexpected fields set: %+v", got)
	}

	got = s.Merge("call-1", incident.Partial{Priority: incident.String("medium")})
	if v := incident.Value(got.Priority); v != "medium" {
		t.Errorf("Priority = %q, want %q", v, "medium")
	}
	if v := incident.Value(got.Address); v != "Абая 10" {
		t.Errorf("Address = %q, want %q", v, "Абая 10")
	}
}

func TestStore_MergeNeverRegresses(t *testing.T) {
	t.Parallel()

	s := incident.NewStore()
	s.Merge("c", incident.Partial{Address: incident.String("Абая 10"), CallerPhone: incident.String("+77011234567")})

	for _, sentinel := range []string{"", "  ", "unknown", "UNKNOWN", "неизвестно", "Не указан", "null"} {
		got := s.Merge("c", incident.Partial{Address: incident.String(sentinel)})
		if v := incident.Value(got.Address); v != "Абая 10" {
			t.Errorf("merge %q: Address = %q, want %q", sentinel, v, "Абая 10")
		}
	}

	got := s.Merge("c", incident.Partial{Address: incident.String("Абая 12")})
	if v := incident.Value(got.Address); v != "Абая 12" {
		t.Errorf("Address = %q, want later value %q", v, "Абая 12")
	}
	if v := incident.Value(got.CallerPhone); v != "+77011234567" {
		t.Errorf("CallerPhone = %q, want it retained", v)
	}
}

func TestStore_MergeEmptyIsIdentity(t *testing.T) {
	t.Parallel()

	s := incident.NewStore()
	before := s.Merge("c", incident.Partial{Emotion: incident.String("panic"), Extra: map[string]string{"priorityEmoji": "🔴"}})
	after := s.Merge("c", incident.Partial{})

	if incident.Value(after.Emotion) != incident.Value(before.Emotion) {
		t.Errorf("Emotion = %q, want %q", incident.Value(after.Emotion), incident.Value(before.Emotion))
	}
	if after.Extra["priorityEmoji"] != "🔴" {
		t.Errorf("Extra = %v, want priorityEmoji kept", after.Extra)
	}
	if !(incident.Partial{}).Empty() {
		t.Error("empty Partial reports non-empty")
	}
}

func TestStore_ExtraMergesPerKey(t *testing.T) {
	t.Parallel()

	s := incident.NewStore()
	s.Merge("c", incident.Partial{Extra: map[string]string{"a": "1", "b": "2"}})
	got := s.Merge("c", incident.Partial{Extra: map[string]string{"a": "unknown", "c": "3"}})

	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		if got.Extra[k] != v {
			t.Errorf("Extra[%q] = %q, want %q", k, got.Extra[k], v)
		}
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := incident.NewStore()
	got := s.Merge("c", incident.Partial{Category: incident.String("дтп"), Extra: map[string]string{"k": "v"}})
	*got.Category = "mutated"
	got.Extra["k"] = "mutated"

	snap := s.Snapshot("c")
	if v := incident.Value(snap.Category); v != "дтп" {
		t.Errorf("Category = %q, want %q", v, "дтп")
	}
	if snap.Extra["k"] != "v" {
		t.Errorf("Extra[k] = %q, want %q", snap.Extra["k"], "v")
	}
}

func TestStore_ResetAndIsolation(t *testing.T) {
	t.Parallel()

	s := incident.NewStore()
	s.Merge("a", incident.Partial{Priority: incident.String("low")})
	s.Merge("b", incident.Partial{Priority: incident.String("critical")})

	s.Reset("a")
	if !s.Snapshot("a").Empty() {
		t.Error("record a not empty after Reset")
	}
	if v := incident.Value(s.Snapshot("b").Priority); v != "critical" {
		t.Errorf("record b Priority = %q, want %q", v, "critical")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStore_ConcurrentSessions(t *testing.T) {
	t.Parallel()

	s := incident.NewStore()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%4)
			s.Merge(id, incident.Partial{District: incident.String(id)})
			_ = s.Snapshot(id)
		}()
	}
	wg.Wait()

	for i := range 4 {
		id := fmt.Sprintf("s%d", i)
		if v := incident.Value(s.Snapshot(id).District); v != id {
			t.Errorf("District for %s = %q, want %q", id, v, id)
		}
	}
}

func TestRecord_GetAndSet(t *testing.T) {
	t.Parallel()

	var r incident.Record
	r.Set("callerName", "Айгуль")
	r.Set("needsClarification", "true")

	if v, ok := r.Get("callerName"); !ok || v != "Айгуль" {
		t.Errorf("Get(callerName) = %q, %v", v, ok)
	}
	if v, ok := r.Get("needsClarification"); !ok || v != "true" {
		t.Errorf("Get(needsClarification) = %q, %v", v, ok)
	}
	if _, ok := r.Get("address"); ok {
		t.Error("Get(address) reported a value on an empty field")
	}
}
