// Package finalize turns an ended call into a durable case and an external
// registration. Both steps are best-effort: failures are logged and reported
// in the [Result] but never returned as errors, since the caller has already
// hung up and nothing can be retried interactively.
package finalize

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callintake/internal/archive"
	"github.com/MrWong99/callintake/internal/events"
	"github.com/MrWong99/callintake/internal/incident"
	"github.com/MrWong99/callintake/pkg/cases"
)

// DefaultDistrict is used when neither the caller nor configuration names
// one.
const DefaultDistrict = "Заводской район"

// Transcript roles.
const (
	RoleCaller     = "caller"
	RoleDispatcher = "dispatcher"
)

// Meta is what the transport knows about a call before anything is said.
type Meta struct {
	Phone  string `json:"phone,omitempty"`
	Device string `json:"device,omitempty"`
	Remote string `json:"remote,omitempty"`
}

// Snapshot is the complete state of an ended call, captured before the
// session is purged.
type Snapshot struct {
	SessionID  string
	Meta       Meta
	Record     incident.Record
	Transcript []cases.Turn
	LastAudio  *archive.Ref
	StartedAt  time.Time
	EndedAt    time.Time
}

// CallerText joins every caller turn with a space.
func (s Snapshot) CallerText() string {
	var parts []string
	for _, t := range s.Transcript {
		if t.Role == RoleCaller && strings.TrimSpace(t.Text) != "" {
			parts = append(parts, strings.TrimSpace(t.Text))
		}
	}
	return strings.Join(parts, " ")
}

// Result reports what finalization achieved.
type Result struct {
	CaseID      string
	CaseErr     error
	Reference   string
	RegisterErr error
	// Registered is false when no registrar is configured.
	Registered bool
}

// Finalizer runs the end-of-call steps.
type Finalizer struct {
	store           cases.Store
	registrar       *Registrar
	publisher       events.Publisher
	defaultDistrict string
	districts       DistrictNormalizer
	timeout         time.Duration
	log             *slog.Logger
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithRegistrar enables external registration.
func WithRegistrar(r *Registrar) Option {
	return func(f *Finalizer) { f.registrar = r }
}

// WithPublisher sets where call.finalized is published.
func WithPublisher(p events.Publisher) Option {
	return func(f *Finalizer) { f.publisher = p }
}

// WithDefaultDistrict overrides [DefaultDistrict].
func WithDefaultDistrict(d string) Option {
	return func(f *Finalizer) {
		if d != "" {
			f.defaultDistrict = d
		}
	}
}

// DistrictNormalizer maps a spoken district name to its canonical spelling.
// *gazetteer.Matcher implements it.
type DistrictNormalizer interface {
	Normalize(name string) string
}

// WithDistricts canonicalizes the case district before it is stored or
// registered.
func WithDistricts(n DistrictNormalizer) Option {
	return func(f *Finalizer) { f.districts = n }
}

// WithTimeout bounds the whole finalization. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(f *Finalizer) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Finalizer) { f.log = l }
}

// New returns a Finalizer writing cases to store.
func New(store cases.Store, opts ...Option) *Finalizer {
	f := &Finalizer{
		store:           store,
		defaultDistrict: DefaultDistrict,
		timeout:         30 * time.Second,
		log:             slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Finalize persists snap as a case and registers it externally. The two
// steps run concurrently and independently. Cancellation of ctx does not
// abort them; only the configured timeout does.
func (f *Finalizer) Finalize(ctx context.Context, snap Snapshot) Result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	c := BuildCase(snap, f.defaultDistrict)
	log := f.log.With("session_id", snap.SessionID)
	if f.districts != nil {
		if d := f.districts.Normalize(c.District); d != c.District {
			log.Debug("district normalized", "heard", c.District, "district", d)
			c.District = d
		}
	}

	var res Result
	var g errgroup.Group
	g.Go(func() error {
		created, err := f.store.Create(ctx, c)
		if err != nil {
			log.Warn("case creation failed", "err", err)
			res.CaseErr = err
			return nil
		}
		res.CaseID = created.ID
		log.Info("case created", "case_id", created.ID, "priority", created.Priority, "service_type", created.ServiceType)
		return nil
	})
	if f.registrar != nil {
		res.Registered = true
		g.Go(func() error {
			reg, err := f.registrar.Register(ctx, snap, c)
			if err != nil {
				log.Warn("external registration failed", "err", err)
				res.RegisterErr = err
				return nil
			}
			if reg.UploadErr != nil {
				log.Warn("audio upload failed, registered without audio", "err", reg.UploadErr)
			}
			res.Reference = reg.ReferenceNumber
			log.Info("call registered", "reference", reg.ReferenceNumber)
			return nil
		})
	}
	_ = g.Wait()

	if f.publisher != nil {
		data := map[string]any{
			"case_id":      res.CaseID,
			"reference":    res.Reference,
			"priority":     c.Priority,
			"service_type": c.ServiceType,
			"district":     c.District,
			"duration_s":   snap.EndedAt.Sub(snap.StartedAt).Seconds(),
		}
		if err := f.publisher.Publish(ctx, events.New(events.TypeCallFinalized, snap.SessionID, data)); err != nil {
			log.Warn("publish call.finalized failed", "err", err)
		}
	}
	return res
}

// BuildCase maps a call snapshot to the case record. Missing priority and
// service type are estimated from the caller's words; a missing district
// falls back to defaultDistrict.
func BuildCase(snap Snapshot, defaultDistrict string) cases.Case {
	rec := snap.Record
	text := snap.CallerText()

	phone := incident.Value(rec.CallerPhone)
	if phone == "" {
		phone = snap.Meta.Phone
	}
	if incident.IsUnknown(phone) {
		phone = cases.UnknownPhone
	}

	description := incident.Value(rec.EventDescription)
	if description == "" {
		description = text
	}

	priority := incident.Value(rec.Priority)
	if priority == "" {
		priority = incident.KeywordPriority(text)
	}
	service := incident.Value(rec.ServiceType)
	if service == "" {
		service = incident.ClassifyService(text)
	}
	district := incident.Value(rec.District)
	if district == "" {
		district = defaultDistrict
	}

	c := cases.Case{
		Title:         "Звонок от " + phone,
		Description:   description,
		Status:        cases.StatusPending,
		PhoneNumber:   phone,
		Transcription: text,
		Transcript:    snap.Transcript,
		Category:      incident.Value(rec.Category),
		ServiceType:   service,
		Priority:      priority,
		District:      district,
		Metadata: map[string]any{
			"session_id": snap.SessionID,
			"incident":   recordMap(rec),
			"started_at": snap.StartedAt.UTC().Format(time.RFC3339),
			"ended_at":   snap.EndedAt.UTC().Format(time.RFC3339),
		},
	}
	if snap.Meta.Device != "" {
		c.Metadata["device"] = snap.Meta.Device
	}
	if snap.LastAudio != nil {
		c.AudioURL = snap.LastAudio.Path
	}
	return c
}

// recordMap renders rec as a plain JSON object so it survives storage in a
// JSONB column without the pointer fields.
func recordMap(rec incident.Record) map[string]any {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
