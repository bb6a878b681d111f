// Package gazetteer maps free-form place names onto a fixed list of
// canonical names. Callers name their district the way they speak it, the
// recogniser writes what it heard and the analyzer copies that into the
// incident record, so "Заводский", "заводской р-н" and "Zavodskoy" all need to
// land on "Заводской район" before a case is filed.
//
// Matching runs in two stages:
//
//  1. Phonetic candidate filtering: every significant token is transliterated
//     to Latin and encoded with Double Metaphone. A canonical name whose codes
//     overlap the input's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: phonetic candidates are ranked by Jaro-Winkler
//     similarity on the transliterated strings and accepted above the
//     phonetic threshold. Without a phonetic candidate, pure Jaro-Winkler is
//     tried against every name with a stricter fuzzy threshold.
//
// Generic words such as "район" or "district" are ignored on both sides so
// that they never make two different districts look alike.
package gazetteer

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// stopwords are dropped before matching.
var stopwords = map[string]struct{}{
	"район": {}, "района": {}, "районе": {}, "р-н": {}, "рн": {},
	"микрорайон": {}, "мкр": {}, "город": {}, "г": {},
	"district": {}, "raion": {}, "rayon": {},
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched name. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// candidate exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// entry is a canonical name with its precomputed match keys.
type entry struct {
	name   string
	tokens []string
	full   string
	codes  map[string]struct{}
}

// Matcher resolves place names against a fixed list. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	entries           []entry
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher over names. Blank names and names made only of
// stopwords are ignored.
func New(names []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		toks := tokens(n)
		if len(toks) == 0 {
			continue
		}
		m.entries = append(m.entries, entry{
			name:   n,
			tokens: toks,
			full:   strings.Join(toks, " "),
			codes:  codesForTokens(toks),
		})
	}
	return m
}

// Len reports how many canonical names the matcher knows.
func (m *Matcher) Len() int { return len(m.entries) }

// Match finds the canonical name closest to s. When matched is false,
// canonical equals s unchanged and confidence is 0.
func (m *Matcher) Match(s string) (canonical string, confidence float64, matched bool) {
	in := tokens(s)
	if len(m.entries) == 0 || len(in) == 0 {
		return s, 0, false
	}
	inFull := strings.Join(in, " ")
	inCodes := codesForTokens(in)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, e := range m.entries {
		score := bestJWScore(in, e.tokens, inFull, e.full)
		if codesOverlap(inCodes, e.codes) {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{name: e.name, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
			best = candidate{name: e.name, score: score}
		}
	}

	if best.name != "" {
		return best.name, best.score, true
	}
	return s, 0, false
}

// Normalize returns the canonical spelling of s, or s itself when nothing
// matches.
func (m *Matcher) Normalize(s string) string {
	c, _, _ := m.Match(s)
	return c
}

// tokens lowercases s, folds ё to е, splits it into words and returns them
// transliterated, dropping stopwords and single letters.
func tokens(s string) []string {
	s = strings.ReplaceAll(strings.ToLower(s), "ё", "е")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if _, stop := stopwords[f]; stop || len([]rune(f)) < 2 {
			continue
		}
		out = append(out, transliterate(f))
	}
	return out
}

// codesForTokens returns the union of Double Metaphone codes of toks.
func codesForTokens(toks []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(toks)*2)
	for _, t := range toks {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(inTokens, entTokens []string, inFull, entFull string) float64 {
	score := matchr.JaroWinkler(inFull, entFull, false)

	if len(inTokens) > 1 || len(entTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(entTokens, ""), false); s > score {
			score = s
		}
	}

	for _, it := range inTokens {
		for _, et := range entTokens {
			if s := matchr.JaroWinkler(it, et, false); s > score {
				score = s
			}
		}
	}
	return score
}

var translit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'ґ': "g", 'д': "d", 'е': "e",
	'є': "ye", 'ж': "zh", 'з': "z", 'и': "i", 'і': "i", 'ї': "yi", 'й': "y",
	'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o", 'п': "p", 'р': "r",
	'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch",
	'ш': "sh", 'щ': "shch", 'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu",
	'я': "ya",
}

// transliterate renders Cyrillic in Latin letters so Double Metaphone has
// something to encode. Other runes pass through.
func transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if t, ok := translit[r]; ok {
			b.WriteString(t)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
