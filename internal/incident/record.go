// Package incident holds the cumulative, structured understanding of one
// emergency call and the merge policy that grows it turn by turn.
//
// A [Record] is a fixed set of optional text fields plus a small open map for
// classifier fields that have no dedicated slot. Per-utterance analysis
// produces a sparse [Partial]; [Store.Merge] folds it into the session's
// record without ever regressing a known value to empty or "unknown".
package incident

import (
	"maps"
	"strings"
)

// Priority values accepted in [Record.Priority].
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// ValidPriority reports whether p is one of the four priority levels.
func ValidPriority(p string) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Urgent reports whether p is critical or high.
func Urgent(p string) bool {
	return p == PriorityCritical || p == PriorityHigh
}

// Record is the accumulated incident facts for a call. A nil field means no
// meaningful value is known yet.
type Record struct {
	Priority         *string `json:"priority,omitempty"`
	Category         *string `json:"category,omitempty"`
	District         *string `json:"district,omitempty"`
	Address          *string `json:"address,omitempty"`
	CallerName       *string `json:"callerName,omitempty"`
	CallerPhone      *string `json:"callerPhone,omitempty"`
	Emotion          *string `json:"emotion,omitempty"`
	EventDescription *string `json:"eventDescription,omitempty"`
	ServiceType      *string `json:"serviceType,omitempty"`
	DispatchTo       *string `json:"dispatchTo,omitempty"`

	// Extra carries classifier output without a dedicated field, such as
	// priorityEmoji or needsClarification.
	Extra map[string]string `json:"extra,omitempty"`
}

// Partial is the sparse output of analysing a single utterance. Fields with
// no new evidence are nil.
type Partial Record

// Empty reports whether p carries no fields at all.
func (p Partial) Empty() bool {
	return Record(p).Empty()
}

// Empty reports whether r holds no values.
func (r Record) Empty() bool {
	for _, f := range r.fields() {
		if *f != nil {
			return false
		}
	}
	return len(r.Extra) == 0
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := Record{}
	dst := out.fields()
	for i, f := range r.fields() {
		if *f != nil {
			v := **f
			*dst[i] = &v
		}
	}
	if len(r.Extra) > 0 {
		out.Extra = maps.Clone(r.Extra)
	}
	return out
}

// Get returns the value of field and whether it is set. Field names are the
// JSON names used on the wire; anything else is looked up in Extra.
func (r Record) Get(field string) (string, bool) {
	if p, ok := r.byName()[field]; ok {
		if *p == nil {
			return "", false
		}
		return **p, true
	}
	v, ok := r.Extra[field]
	return v, ok
}

// Value returns the field value or "" when unset.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// String returns a pointer to s, for building records in code and tests.
func String(s string) *string { return &s }

// fields returns pointers to every optional field in a fixed order.
func (r *Record) fields() []**string {
	return []**string{
		&r.Priority, &r.Category, &r.District, &r.Address, &r.CallerName,
		&r.CallerPhone, &r.Emotion, &r.EventDescription, &r.ServiceType, &r.DispatchTo,
	}
}

func (r *Record) byName() map[string]**string {
	return map[string]**string{
		"priority":         &r.Priority,
		"category":         &r.Category,
		"district":         &r.District,
		"address":          &r.Address,
		"callerName":       &r.CallerName,
		"callerPhone":      &r.CallerPhone,
		"emotion":          &r.Emotion,
		"eventDescription": &r.EventDescription,
		"serviceType":      &r.ServiceType,
		"dispatchTo":       &r.DispatchTo,
	}
}

// Set assigns field by its JSON name, routing unknown names to Extra. It
// applies no sentinel filtering; use [Store.Merge] for that.
func (r *Record) Set(field, value string) {
	if p, ok := r.byName()[field]; ok {
		v := value
		*p = &v
		return
	}
	if r.Extra == nil {
		r.Extra = make(map[string]string)
	}
	r.Extra[field] = value
}

// unknownValues are the sentinel strings classifiers emit for "no value".
var unknownValues = map[string]struct{}{
	"":            {},
	"unknown":     {},
	"null":        {},
	"none":        {},
	"n/a":         {},
	"неизвестно":  {},
	"не указан":   {},
	"не указано":  {},
	"не известно": {},
}

// IsUnknown reports whether v carries no information: empty, whitespace, or
// an explicit "unknown" sentinel in any letter case.
func IsUnknown(v string) bool {
	_, ok := unknownValues[strings.ToLower(strings.TrimSpace(v))]
	return ok
}
