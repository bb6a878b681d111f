package incident

import "strings"

// Service types used when routing a case.
const (
	ServiceFire      = "fire"
	ServicePolice    = "police"
	ServiceAmbulance = "ambulance"
	ServiceEmergency = "emergency"
	ServiceOther     = "other"
)

var (
	highPriorityKeywords = []string{
		"оружие", "драка", "нож", "стрельба", "террорист", "взрыв", "заложник",
		"убийство", "нападение", "грабеж", "грабёж", "разбой", "пожар", "взрывчатка",
		"опасность", "срочно", "помогите", "спасите",
	}
	mediumPriorityKeywords = []string{
		"боль", "ранен", "пострадавший", "дтп", "авария", "травма",
		"несчастный случай", "кровь", "перелом", "сердце", "инфаркт", "инсульт", "давление",
	}

	serviceKeywords = []struct {
		service  string
		keywords []string
	}{
		{ServiceFire, []string{"пожар", "огонь", "горит", "дым"}},
		{ServicePolice, []string{"дтп", "авария", "столкновение"}},
		{ServiceAmbulance, []string{"боль", "скорая", "врач", "медик", "ранен", "кровь"}},
		{ServicePolice, []string{"оружие", "драка", "нож", "грабеж", "грабёж", "кража"}},
		{ServiceEmergency, []string{"чс", "стихий", "наводнение", "землетрясение"}},
	}
)

// KeywordPriority estimates a priority from the caller's words. Used when the
// analyzer never produced one.
func KeywordPriority(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, highPriorityKeywords):
		return PriorityHigh
	case containsAny(lower, mediumPriorityKeywords):
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ClassifyService maps the caller's words to the service that should
// respond. The first matching rule wins; text that matches nothing is
// [ServiceOther].
func ClassifyService(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range serviceKeywords {
		if containsAny(lower, rule.keywords) {
			return rule.service
		}
	}
	return ServiceOther
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
