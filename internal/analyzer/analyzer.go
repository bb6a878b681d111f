// Package analyzer extracts structured incident facts from one utterance of
// caller speech.
//
// The analyzer sends the recognised text to a chat model constrained to a
// fixed JSON schema and turns the reply into a sparse [incident.Partial].
// Replies are parsed tolerantly: backends without a JSON mode may wrap the
// object in prose or code fences, keys may use the registry aliases of the
// schema, and values may be strings, numbers, booleans or lists.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/callintake/internal/incident"
	"github.com/MrWong99/callintake/pkg/provider/llm"
)

// ErrNoJSON is returned when the model reply contains no JSON object.
var ErrNoJSON = errors.New("analyzer: reply contains no JSON object")

// DistrictPlaceholder in the prompt is replaced with Config.DefaultDistrict.
const DistrictPlaceholder = "{default_district}"

// DefaultPrompt is the system instruction describing the output schema.
const DefaultPrompt = `Ты аналитик экстренных вызовов полиции.
Извлеки данные из реплики заявителя и верни ТОЛЬКО JSON-объект без пояснений.

Структура JSON:
{
  "priority": "critical|high|medium|low",
  "priorityEmoji": "🔴|🟠|🟡|🟢",
  "category": "убийство|грабеж|дтп|бытовой_конфликт|мошенничество|справочный|пожар|здоровье|другое",
  "dispatchTo": "Полиция|Скорая|МЧС|Газ|Участковый|Справочная",
  "serviceType": "police|fire|ambulance|emergency|other",
  "emotion": "паника|агрессия|шок|страх|спокойствие",
  "address": "адрес или null",
  "callerName": "ФИО или null",
  "callerPhone": "телефон или null",
  "needsClarification": ["список вопросов"],
  "isFalseCall": false,
  "district": "район; по умолчанию '{default_district}'",
  "eventDescription": "сухая юридическая фабула, 3-4 предложения",
  "field_5_1": "против собственности|против личности|прочие|общественная безопасность",
  "field_5_6": "Да|Нет (интернет-мошенничество)"
}

Если сведений нет, ставь null. Не выдумывай адреса и имена.`

// Defaults.
const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 500
)

// keyAliases maps alternative key spellings to record field names.
var keyAliases = map[string]string{
	"categoryRu":             "category",
	"dispatchToRu":           "dispatchTo",
	"erdr_district":          "district",
	"erdr_event_description": "eventDescription",
	"phone":                  "callerPhone",
	"callerPhoneNumber":      "callerPhone",
	"description":            "eventDescription",
}

// Config tunes the analyzer. Zero values select the defaults.
type Config struct {
	Prompt          string
	DefaultDistrict string
	Temperature     float64
	MaxTokens       int
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.log = l }
}

// Analyzer turns utterance text into partial incident records. It is
// stateless and safe for concurrent use.
type Analyzer struct {
	llm         llm.Provider
	prompt      string
	temperature float64
	maxTokens   int
	log         *slog.Logger
}

// New creates an Analyzer backed by p.
func New(p llm.Provider, cfg Config, opts ...Option) *Analyzer {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	a := &Analyzer{
		llm:         p,
		prompt:      strings.ReplaceAll(cfg.Prompt, DistrictPlaceholder, cfg.DefaultDistrict),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze runs one extraction. It returns an error when the model call fails
// or the reply cannot be parsed; callers substitute an empty partial.
func (a *Analyzer) Analyze(ctx context.Context, text string) (incident.Partial, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return incident.Partial{}, nil
	}
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt:   a.prompt,
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:    a.temperature,
		MaxTokens:      a.maxTokens,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return incident.Partial{}, fmt.Errorf("analyzer: complete: %w", err)
	}
	if resp == nil {
		return incident.Partial{}, errors.New("analyzer: nil response")
	}
	p, err := Parse(resp.Content)
	if err != nil {
		a.log.Debug("analyzer reply not parseable", "reply", resp.Content, "err", err)
		return incident.Partial{}, err
	}
	return p, nil
}

// Parse converts a model reply into a partial record. Unknown sentinels are
// dropped, priority is lower-cased and dropped when outside the enum, and
// keys without a dedicated field land in Extra.
func Parse(reply string) (incident.Partial, error) {
	obj, err := extractObject(reply)
	if err != nil {
		return incident.Partial{}, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return incident.Partial{}, fmt.Errorf("analyzer: decode reply: %w", err)
	}

	var rec incident.Record
	var aliases []string
	for key, val := range raw {
		if _, ok := keyAliases[key]; ok {
			aliases = append(aliases, key)
			continue
		}
		if v, ok := usable(key, val); ok {
			rec.Set(key, v)
		}
	}
	// Aliases only fill fields the canonical keys left empty.
	slices.Sort(aliases)
	for _, key := range aliases {
		field := keyAliases[key]
		if _, set := rec.Get(field); set {
			continue
		}
		if v, ok := usable(field, raw[key]); ok {
			rec.Set(field, v)
		}
	}
	return incident.Partial(rec), nil
}

// usable returns the trimmed value of field key, or false when it is null,
// an "unknown" sentinel or an invalid priority.
func usable(key string, raw json.RawMessage) (string, bool) {
	v, ok := flatten(raw)
	if !ok || incident.IsUnknown(v) {
		return "", false
	}
	v = strings.TrimSpace(v)
	if key == "priority" {
		v = strings.ToLower(v)
		if !incident.ValidPriority(v) {
			return "", false
		}
	}
	return v, true
}

// extractObject returns the span from the first '{' to the last '}'.
func extractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// flatten renders a JSON value as a field string. It reports false for
// null and for empty lists.
func flatten(raw json.RawMessage) (string, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := flatten(mustMarshal(e)); ok && !incident.IsUnknown(s) {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, "; "), true
	default:
		return string(raw), true
	}
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
