package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callintake/internal/archive"
	"github.com/MrWong99/callintake/internal/events"
	eventsmock "github.com/MrWong99/callintake/internal/events/mock"
	"github.com/MrWong99/callintake/internal/gazetteer"
	"github.com/MrWong99/callintake/internal/incident"
	"github.com/MrWong99/callintake/pkg/cases"
	casesmock "github.com/MrWong99/callintake/pkg/cases/mock"
)

var (
	started = time.Date(2026, 5, 4, 10, 15, 0, 0, time.UTC)
	ended   = started.Add(90 * time.Second)
)

func fireSnapshot() Snapshot {
	return Snapshot{
		SessionID: "sess-1",
		Meta:      Meta{Phone: "+380501112233", Device: "web"},
		Record: incident.Record{
			Priority:    incident.String("critical"),
			Address:     incident.String("ул. Ленина 5"),
			ServiceType: incident.String("fire"),
		},
		Transcript: []cases.Turn{
			{Role: RoleCaller, Text: "Пожар на улице Ленина 5"},
			{Role: RoleDispatcher, Text: "Выезжаем. Все вышли из здания?"},
			{Role: RoleCaller, Text: " да "},
		},
		StartedAt: started,
		EndedAt:   ended,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// BuildCase
// ─────────────────────────────────────────────────────────────────────────────

func TestBuildCase_FromRecord(t *testing.T) {
	t.Parallel()

	c := BuildCase(fireSnapshot(), DefaultDistrict)

	checks := []struct{ name, got, want string }{
		{"Title", c.Title, "Звонок от +380501112233"},
		{"PhoneNumber", c.PhoneNumber, "+380501112233"},
		{"Transcription", c.Transcription, "Пожар на улице Ленина 5 да"},
		{"Description", c.Description, "Пожар на улице Ленина 5 да"},
		{"Priority", c.Priority, "critical"},
		{"ServiceType", c.ServiceType, "fire"},
		{"District", c.District, DefaultDistrict},
		{"Status", c.Status, cases.StatusPending},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
	inc, _ := c.Metadata["incident"].(map[string]any)
	if inc["address"] != "ул. Ленина 5" {
		t.Errorf("Metadata.incident.address = %v, want %q", inc["address"], "ул. Ленина 5")
	}
	if c.Metadata["device"] != "web" {
		t.Errorf("Metadata.device = %v, want %q", c.Metadata["device"], "web")
	}
}

func TestBuildCase_Heuristics(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		SessionID:  "s",
		Transcript: []cases.Turn{{Role: RoleCaller, Text: "Тут драка, у него нож"}},
		LastAudio:  &archive.Ref{Path: "/tmp/a.wav"},
	}
	c := BuildCase(snap, "Центральный район")

	if c.PhoneNumber != cases.UnknownPhone {
		t.Errorf("PhoneNumber = %q, want %q", c.PhoneNumber, cases.UnknownPhone)
	}
	if c.Priority != incident.PriorityHigh {
		t.Errorf("Priority = %q, want %q", c.Priority, incident.PriorityHigh)
	}
	if c.ServiceType != incident.ServicePolice {
		t.Errorf("ServiceType = %q, want %q", c.ServiceType, incident.ServicePolice)
	}
	if c.District != "Центральный район" {
		t.Errorf("District = %q, want %q", c.District, "Центральный район")
	}
	if c.AudioURL != "/tmp/a.wav" {
		t.Errorf("AudioURL = %q, want %q", c.AudioURL, "/tmp/a.wav")
	}
}

func TestBuildCase_RecordPhoneWins(t *testing.T) {
	t.Parallel()

	snap := fireSnapshot()
	snap.Record.CallerPhone = incident.String("0671234567")
	snap.Record.EventDescription = incident.String("Пожар в жилом доме")
	snap.Record.District = incident.String("Ленинский район")

	c := BuildCase(snap, DefaultDistrict)
	if c.PhoneNumber != "0671234567" {
		t.Errorf("PhoneNumber = %q, want %q", c.PhoneNumber, "0671234567")
	}
	if c.Description != "Пожар в жилом доме" {
		t.Errorf("Description = %q, want %q", c.Description, "Пожар в жилом доме")
	}
	if c.District != "Ленинский район" {
		t.Errorf("District = %q, want %q", c.District, "Ленинский район")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Finalize
// ─────────────────────────────────────────────────────────────────────────────

type registry struct {
	mu       sync.Mutex
	payloads []Payload
	uploads  []string
	fail     bool
}

func (reg *registry) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files/upload", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = io.Copy(io.Discard, f)
		reg.mu.Lock()
		reg.uploads = append(reg.uploads, hdr.Filename)
		reg.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"filename": "stored-" + hdr.Filename})
	})
	mux.HandleFunc("POST /api/incidents/create", func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		if reg.fail {
			http.Error(w, "registry down", http.StatusServiceUnavailable)
			return
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reg.payloads = append(reg.payloads, p)
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func newRegistrar(t *testing.T, url string) *Registrar {
	t.Helper()
	r, err := NewRegistrar(RegistrarConfig{
		BaseURL:             url + "/",
		OrganizationID:      "org-7",
		ClassificationCodes: []string{"115", "125"},
		ReferencePrefix:     "10226",
		Location:            time.UTC,
	})
	if err != nil {
		t.Fatalf("NewRegistrar: %v", err)
	}
	return r
}

func TestFinalize_PersistsRegistersAndPublishes(t *testing.T) {
	t.Parallel()

	reg := &registry{}
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	wav := filepath.Join(t.TempDir(), "123-utterance.wav")
	if err := os.WriteFile(wav, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	snap := fireSnapshot()
	snap.LastAudio = &archive.Ref{Path: wav, Kind: archive.KindUtterance}

	store := &casesmock.Store{}
	pub := &eventsmock.Publisher{}
	f := New(store, WithRegistrar(newRegistrar(t, srv.URL)), WithPublisher(pub))

	res := f.Finalize(context.Background(), snap)
	if res.CaseErr != nil || res.RegisterErr != nil {
		t.Fatalf("Finalize: case err %v, register err %v", res.CaseErr, res.RegisterErr)
	}
	if len(store.Created()) != 1 {
		t.Fatalf("created %d cases, want 1", len(store.Created()))
	}
	if res.CaseID != store.Created()[0].ID {
		t.Errorf("CaseID = %q, want %q", res.CaseID, store.Created()[0].ID)
	}

	if len(reg.uploads) != 1 || reg.uploads[0] != "123-utterance.wav" {
		t.Errorf("uploads = %v, want [123-utterance.wav]", reg.uploads)
	}
	if len(reg.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(reg.payloads))
	}
	p := reg.payloads[0]
	if p.ReferenceNumber != res.Reference || len(p.ReferenceNumber) != ReferenceLength {
		t.Errorf("ReferenceNumber = %q (result %q), want %d chars", p.ReferenceNumber, res.Reference, ReferenceLength)
	}
	if p.RegisteredAt != "04.05.2026 10:16" {
		t.Errorf("RegisteredAt = %q, want %q", p.RegisteredAt, "04.05.2026 10:16")
	}
	if p.AudioFile != "stored-123-utterance.wav" {
		t.Errorf("AudioFile = %q, want %q", p.AudioFile, "stored-123-utterance.wav")
	}
	if p.MessageType != MessageType || p.CallerPhone != "+380501112233" || p.CallID != "sess-1" {
		t.Errorf("payload = %+v", p)
	}
	if p.OrganizationID != "org-7" || len(p.ClassificationCodes) != 2 {
		t.Errorf("payload org/codes = %q %v", p.OrganizationID, p.ClassificationCodes)
	}

	fin := pub.OfType(events.TypeCallFinalized)
	if len(fin) != 1 || fin[0].Data["case_id"] != res.CaseID {
		t.Errorf("call.finalized events = %+v", fin)
	}
}

func TestFinalize_FailuresAreIndependent(t *testing.T) {
	t.Parallel()

	reg := &registry{}
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	storeErr := errors.New("db down")
	store := &casesmock.Store{CreateErr: storeErr}
	f := New(store, WithRegistrar(newRegistrar(t, srv.URL)))

	res := f.Finalize(context.Background(), fireSnapshot())
	if !errors.Is(res.CaseErr, storeErr) {
		t.Errorf("CaseErr = %v, want %v", res.CaseErr, storeErr)
	}
	if res.RegisterErr != nil {
		t.Errorf("RegisterErr = %v, want nil", res.RegisterErr)
	}
	if len(reg.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1 despite store failure", len(reg.payloads))
	}
	if p := reg.payloads[0]; p.AudioFile != "" {
		t.Errorf("AudioFile = %q, want empty without captured audio", p.AudioFile)
	}
}

func TestFinalize_RegistryDown(t *testing.T) {
	t.Parallel()

	reg := &registry{fail: true}
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	store := &casesmock.Store{}
	f := New(store, WithRegistrar(newRegistrar(t, srv.URL)))

	res := f.Finalize(context.Background(), fireSnapshot())
	if res.RegisterErr == nil {
		t.Error("RegisterErr = nil, want error")
	}
	if res.CaseErr != nil || len(store.Created()) != 1 {
		t.Errorf("case not created: err %v, created %d", res.CaseErr, len(store.Created()))
	}
}

func TestFinalize_CancelledContextStillRuns(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &casesmock.Store{}
	res := New(store).Finalize(ctx, fireSnapshot())
	if res.CaseErr != nil || len(store.Created()) != 1 {
		t.Errorf("Finalize after cancel: err %v, created %d", res.CaseErr, len(store.Created()))
	}
	if res.Registered {
		t.Error("Registered = true without a registrar")
	}
}

func TestFinalize_NormalizesDistrict(t *testing.T) {
	t.Parallel()

	snap := fireSnapshot()
	snap.Record.District = incident.String("заводский р-н")

	store := &casesmock.Store{}
	pub := &eventsmock.Publisher{}
	f := New(store,
		WithPublisher(pub),
		WithDistricts(gazetteer.New([]string{"Заводской район", "Ленинский район"})),
	)
	f.Finalize(context.Background(), snap)

	created := store.Created()
	if len(created) != 1 {
		t.Fatalf("created %d cases, want 1", len(created))
	}
	if created[0].District != "Заводской район" {
		t.Errorf("District = %q, want %q", created[0].District, "Заводской район")
	}
	fin := pub.OfType(events.TypeCallFinalized)
	if len(fin) != 1 || fin[0].Data["district"] != "Заводской район" {
		t.Errorf("call.finalized events = %+v", fin)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Registrar
// ─────────────────────────────────────────────────────────────────────────────

func TestNewRegistrar_Validates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  RegistrarConfig
	}{
		{"no base url", RegistrarConfig{}},
		{"long prefix", RegistrarConfig{BaseURL: "http://x", ReferencePrefix: "123456789012345"}},
		{"non-digit prefix", RegistrarConfig{BaseURL: "http://x", ReferencePrefix: "AB1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewRegistrar(tt.cfg); err == nil {
				t.Error("NewRegistrar err = nil, want error")
			}
		})
	}
}

func TestReferenceNumber(t *testing.T) {
	t.Parallel()

	r, err := NewRegistrar(RegistrarConfig{BaseURL: "http://x", ReferencePrefix: "102"})
	if err != nil {
		t.Fatalf("NewRegistrar: %v", err)
	}
	r.digit = func() int { return 7 }

	if got, want := r.ReferenceNumber(), "102777777777777"; got != want {
		t.Errorf("ReferenceNumber() = %q, want %q", got, want)
	}
}
