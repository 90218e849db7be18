package classifier

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/sidekick/internal/domain"
)

// Interrogative and help phrases addressed to the assistant or the table.
var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(what|who|where) (was|is|were|are) (the|that|his|her|their|its) (name|names)\b`),
	regexp.MustCompile(`(?i)\bwhat('s| is| was) (the )?(rule|dc|modifier|penalty|bonus) for\b`),
	regexp.MustCompile(`(?i)\bhow does (that|this|it|grappling|stealth) work\b`),
	regexp.MustCompile(`(?i)\b(remind me|help me|i need help|can you help|any ideas)\b`),
	regexp.MustCompile(`(?i)\bgive me (a|an|some) (idea|name|names|suggestion|suggestions)\b`),
	regexp.MustCompile(`(?i)\bwhat (happens|should happen) (next|now)\b`),
	regexp.MustCompile(`(?i)\b(hey|ok|okay) sidekick\b`),
}

// Narration cues that a scene or act is changing.
var transitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(meanwhile|later that (day|night|evening)|the next (morning|day|night))\b`),
	regexp.MustCompile(`(?i)\b(you|the party) (arrive|arrives) (at|in)\b`),
	regexp.MustCompile(`(?i)\b(let's|we) (cut|move) to\b`),
	regexp.MustCompile(`(?i)\b(end of|that concludes) (the |this )?(scene|act)\b`),
	regexp.MustCompile(`(?i)\b(time skip|fast forward|a few hours later)\b`),
	regexp.MustCompile(`(?i)\bact (one|two|three|four|five|[1-5]) (begins|starts)\b`),
}

// Matcher reports whether text triggers a rule and which fragment matched.
type Matcher func(text string) (string, bool)

// RegexMatcher returns a Matcher trying each pattern in order.
func RegexMatcher(patterns ...*regexp.Regexp) Matcher {
	return func(text string) (string, bool) {
		for _, p := range patterns {
			if m := p.FindString(text); m != "" {
				return m, true
			}
		}
		return "", false
	}
}

// Rule binds a matcher to a trigger type and priority. States limits the
// assistant states in which the rule is evaluated; empty means all states.
type Rule struct {
	Name     string
	Type     domain.TriggerType
	Priority domain.TriggerPriority
	States   []domain.AssistantState
	Match    Matcher
}

func (r Rule) appliesIn(s domain.AssistantState) bool {
	if len(r.States) == 0 {
		return true
	}
	for _, allowed := range r.States {
		if allowed == s {
			return true
		}
	}
	return false
}

// DefaultRules returns the built-in keyword rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "question",
			Type:     domain.TriggerQuestion,
			Priority: domain.P1,
			Match:    RegexMatcher(questionPatterns...),
		},
		{
			Name:     "scene_transition",
			Type:     domain.TriggerSceneTransition,
			Priority: domain.P2,
			States:   []domain.AssistantState{domain.StateActive},
			Match:    RegexMatcher(transitionPatterns...),
		},
	}
}

// compileTerm builds a case-insensitive whole-word pattern for term, so
// "darwin" never matches inside "darwinist".
func compileTerm(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

type garbledTerm struct {
	form      string
	canonical string
	re        *regexp.Regexp
}

// buildGarbledTerms compiles a garbled-form -> canonical dictionary. Canonical
// terms are matched as themselves. Forms shorter than minLen runes are skipped.
// Longer forms come first so multi-word forms win over their parts.
func buildGarbledTerms(dict map[string]string, minLen int) []garbledTerm {
	forms := make(map[string]string, len(dict)*2)
	for garbled, canonical := range dict {
		garbled = strings.ToLower(strings.TrimSpace(garbled))
		canonical = strings.TrimSpace(canonical)
		if canonical == "" {
			continue
		}
		if garbled != "" {
			forms[garbled] = canonical
		}
		forms[strings.ToLower(canonical)] = canonical
	}

	terms := make([]garbledTerm, 0, len(forms))
	for form, canonical := range forms {
		if utf8.RuneCountInString(form) < minLen {
			continue
		}
		terms = append(terms, garbledTerm{form: form, canonical: canonical, re: compileTerm(form)})
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i].form) != len(terms[j].form) {
			return len(terms[i].form) > len(terms[j].form)
		}
		return terms[i].form < terms[j].form
	})
	return terms
}

// canonicalTerms returns the distinct canonical terms found in text.
func canonicalTerms(terms []garbledTerm, text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range terms {
		if seen[t.canonical] {
			continue
		}
		if t.re.MatchString(text) {
			seen[t.canonical] = true
			out = append(out, t.canonical)
		}
	}
	return out
}

// normalizeGarbled rewrites garbled forms in text to their canonical spelling.
func normalizeGarbled(terms []garbledTerm, text string) string {
	for _, t := range terms {
		if strings.EqualFold(t.form, t.canonical) {
			continue
		}
		text = t.re.ReplaceAllLiteralString(text, t.canonical)
	}
	return text
}

type npcMatcher struct {
	entry *domain.NPCCacheEntry
	terms []string
	res   []*regexp.Regexp
}

func buildNPCMatchers(entries []*domain.NPCCacheEntry) []npcMatcher {
	out := make([]npcMatcher, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		m := npcMatcher{entry: e}
		for _, term := range e.Terms() {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			m.terms = append(m.terms, term)
			m.res = append(m.res, compileTerm(term))
		}
		if len(m.res) > 0 {
			out = append(out, m)
		}
	}
	return out
}

func (m npcMatcher) match(text string) (string, bool) {
	for i, re := range m.res {
		if re.MatchString(text) {
			return m.terms[i], true
		}
	}
	return "", false
}

type sceneMatcher struct {
	entry    *domain.SceneIndexEntry
	keywords []string
	res      []*regexp.Regexp
}

func buildSceneMatchers(entries []*domain.SceneIndexEntry) []sceneMatcher {
	out := make([]sceneMatcher, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		m := sceneMatcher{entry: e}
		for _, kw := range e.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			m.keywords = append(m.keywords, kw)
			m.res = append(m.res, compileTerm(kw))
		}
		if len(m.res) > 0 {
			out = append(out, m)
		}
	}
	return out
}

func (m sceneMatcher) matches(text string) []string {
	var out []string
	for i, re := range m.res {
		if re.MatchString(text) {
			out = append(out, m.keywords[i])
		}
	}
	return out
}

func compileKeywords(keywords []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		out = append(out, compileTerm(kw))
	}
	return out
}

func matchesAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
