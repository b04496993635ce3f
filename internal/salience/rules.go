package salience

import (
	"strings"
	"unicode"
)

// Rules are the keyword lists the content and temporal rules match against.
// Entries may be single words or short phrases; matching is case-insensitive
// and aligned to word boundaries.
type Rules struct {
	QuestionWords    []string `mapstructure:"question_words" yaml:"question_words"`
	EmotionalWords   []string `mapstructure:"emotional_words" yaml:"emotional_words"`
	InterestKeywords []string `mapstructure:"interest_keywords" yaml:"interest_keywords"`
	CreativeWords    []string `mapstructure:"creative_words" yaml:"creative_words"`
}

// DefaultRules returns the built-in rule set used when none is configured.
func DefaultRules() Rules {
	return Rules{
		QuestionWords: []string{
			"what", "why", "how", "when", "where", "who", "which",
			"can", "could", "would", "should", "do", "does", "did",
			"is", "are", "will", "have",
		},
		EmotionalWords: []string{
			"love", "hate", "amazing", "awesome", "sad", "happy", "excited",
			"angry", "scared", "lonely", "lol", "omg", "wow", "crying",
			"hype", "pog", "ugh", "thank you", "thanks", "miss you",
		},
		InterestKeywords: []string{
			"music", "song", "singing", "game", "games", "gaming", "art",
			"drawing", "anime", "vtuber", "stream", "tech", "coding", "story",
		},
		CreativeWords: []string{
			"let's", "lets", "together", "collab", "idea", "imagine",
			"what if", "create", "build", "draw", "write", "design",
		},
	}
}

// stopwords never count as topical keywords.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "am": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {},
	"me": {}, "my": {}, "your": {}, "our": {}, "this": {}, "that": {},
	"so": {}, "do": {}, "does": {}, "did": {}, "just": {}, "not": {}, "no": {},
	"yes": {}, "what": {}, "how": {}, "why": {}, "can": {}, "will": {},
	"i'm": {}, "it's": {}, "don't": {}, "im": {}, "u": {}, "too": {}, "very": {},
	"have": {}, "has": {}, "had": {}, "there": {}, "here": {}, "about": {},
}

// Tokens lowercases text and splits it into words. Apostrophes inside words
// are kept so contractions survive; '@' and '#' prefixes are dropped.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Keywords returns the distinct non-stopword tokens of text in first-seen
// order. Tokens shorter than three characters are dropped.
func Keywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokens(text) {
		if len([]rune(tok)) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// matcher finds rule entries inside a tokenized message.
type matcher struct {
	phrases []string
}

func newMatcher(entries []string) matcher {
	m := matcher{}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		phrase := strings.Join(Tokens(e), " ")
		if phrase == "" {
			continue
		}
		if _, dup := seen[phrase]; dup {
			continue
		}
		seen[phrase] = struct{}{}
		m.phrases = append(m.phrases, phrase)
	}
	return m
}

// matches returns the distinct entries present in the padded token string.
func (m matcher) matches(padded string) []string {
	var hits []string
	for _, p := range m.phrases {
		if strings.Contains(padded, " "+p+" ") {
			hits = append(hits, p)
		}
	}
	return hits
}

func (m matcher) any(padded string) bool {
	for _, p := range m.phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func pad(tokens []string) string {
	return " " + strings.Join(tokens, " ") + " "
}
