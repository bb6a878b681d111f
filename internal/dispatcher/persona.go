package dispatcher

import (
	"fmt"
	"strings"

	"github.com/MrWong99/callintake/internal/incident"
)

// DefaultSystemPrompt seeds every conversation.
const DefaultSystemPrompt = `Ты — диспетчер экстренных служб 102 (полиция).
Твоя задача — профессионально общаться с заявителем.

ПРИНЦИПЫ:
1. ПРИОРИТЕТ ЖИЗНИ: если угроза жизни, оружие или насилие, сразу отправляй наряд. Не задавай лишних вопросов.
2. АДАПТИВНОСТЬ:
   - CRITICAL / HIGH (убийство, нападение, ДТП с жертвами): спрашивай только "ГДЕ?" и "ЕСТЬ ЛИ ОРУЖИЕ/УГРОЗА?", сразу говори: "Наряд выехал. Оставайтесь на линии."
   - MEDIUM / LOW (шум, кража, справочная): что случилось, где, кто звонит, детали. Будь вежлив, но краток.
3. СТИЛЬ: говори кратко (максимум 2 предложения), успокаивай, давай четкие команды.
4. СБОР ДАННЫХ: обязательно узнай имя и фамилию заявителя, если ситуация позволяет.`

// DefaultFallbackReply is spoken when the model cannot answer.
const DefaultFallbackReply = "Служба 102. Говорите, я вас слышу."

// Persona is the dispatcher's fixed instruction plus the wording of the
// context notes prepended to every caller turn. Format strings take one %s.
type Persona struct {
	SystemPrompt  string
	FallbackReply string

	// UrgentNote is used for critical and high priority; %s is the emotion.
	UrgentNote string
	// PriorityNote is used otherwise; %s is the priority or NormalPriority.
	PriorityNote   string
	NormalPriority string
	// UnknownEmotion replaces a missing emotion in UrgentNote.
	UnknownEmotion string

	// KnownNote wraps the known-facts list; %s is the list.
	KnownNote string
	// KnownAddress describes a known address; %s is the address.
	KnownAddress string
	// MissingAddress asks the model to request the address.
	MissingAddress string

	// CallerPrefix precedes the caller's own words.
	CallerPrefix string
}

// DefaultPersona returns the police-line persona.
func DefaultPersona() Persona {
	return Persona{
		SystemPrompt:   DefaultSystemPrompt,
		FallbackReply:  DefaultFallbackReply,
		UrgentNote:     "[КРИТИЧЕСКИЙ ПРИОРИТЕТ! ЭМОЦИИ: %s. СОКРАТИ ВОПРОСЫ!]",
		PriorityNote:   "[Приоритет: %s]",
		NormalPriority: "обычный",
		UnknownEmotion: "не определены",
		KnownNote:      "[Известно: %s]",
		KnownAddress:   "АДРЕС ЕСТЬ: %s",
		MissingAddress: "АДРЕСА НЕТ (спроси!)",
		CallerPrefix:   "Заявитель: ",
	}
}

// withDefaults fills empty fields from DefaultPersona.
func (p Persona) withDefaults() Persona {
	d := DefaultPersona()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&p.SystemPrompt, d.SystemPrompt)
	fill(&p.FallbackReply, d.FallbackReply)
	fill(&p.UrgentNote, d.UrgentNote)
	fill(&p.PriorityNote, d.PriorityNote)
	fill(&p.NormalPriority, d.NormalPriority)
	fill(&p.UnknownEmotion, d.UnknownEmotion)
	fill(&p.KnownNote, d.KnownNote)
	fill(&p.KnownAddress, d.KnownAddress)
	fill(&p.MissingAddress, d.MissingAddress)
	fill(&p.CallerPrefix, d.CallerPrefix)
	return p
}

// Annotate builds the user turn for text given what is known about the
// incident so far.
func (p Persona) Annotate(text string, rec incident.Record) string {
	priority := incident.Value(rec.Priority)

	var urgency string
	if incident.Urgent(priority) {
		emotion := incident.Value(rec.Emotion)
		if emotion == "" {
			emotion = p.UnknownEmotion
		}
		urgency = fmt.Sprintf(p.UrgentNote, emotion)
	} else {
		if priority == "" {
			priority = p.NormalPriority
		}
		urgency = fmt.Sprintf(p.PriorityNote, priority)
	}

	known := p.MissingAddress
	if addr := incident.Value(rec.Address); addr != "" {
		known = fmt.Sprintf(p.KnownAddress, addr)
	}

	var b strings.Builder
	b.WriteString(urgency)
	b.WriteByte('\n')
	fmt.Fprintf(&b, p.KnownNote, known)
	b.WriteString("\n\n")
	b.WriteString(p.CallerPrefix)
	b.WriteString(text)
	return b.String()
}
