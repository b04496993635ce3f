// Package salience turns an inbound chat message and its rolling context into
// a normalized importance score.
package salience

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/normanking/cortex-attention/internal/chat"
)

// Weights are the fixed coefficients of the four sub-scores. They must sum to 1.
type Weights struct {
	Content   float64 `mapstructure:"content" yaml:"content"`
	Authority float64 `mapstructure:"authority" yaml:"authority"`
	Relevance float64 `mapstructure:"relevance" yaml:"relevance"`
	Temporal  float64 `mapstructure:"temporal" yaml:"temporal"`
}

// DefaultWeights returns content .40, authority .25, relevance .20, temporal .15.
func DefaultWeights() Weights {
	return Weights{Content: 0.40, Authority: 0.25, Relevance: 0.20, Temporal: 0.15}
}

func (w Weights) sum() float64 {
	return w.Content + w.Authority + w.Relevance + w.Temporal
}

// Rule increments. Each sub-score clamps its own sum to [0,1].
const (
	mentionBoost      = 0.35
	questionBoost     = 0.25
	emotionBoost      = 0.20
	interestPerHit    = 0.10
	interestMax       = 0.30
	creativeBoost     = 0.15
	subscriberBoost   = 0.30
	longTenureBoost   = 0.20
	shortTenureBoost  = 0.10
	moderatorBoost    = 0.40
	firstTimeBoost    = 0.10
	streamTopicBoost  = 0.40
	statementBoost    = 0.30
	openThreadBoost   = 0.30
	recentTopicBoost  = 0.10
	freshnessMax      = 0.85
	questionBonus     = 0.15
	statementMinShare = 2
)

// Config configures an Engine.
type Config struct {
	PersonaName    string
	PersonaAliases []string
	Weights        Weights
	// DecayWindow is how long the temporal freshness takes to reach zero.
	DecayWindow time.Duration
	// LongTenure and ShortTenure are the author tenure steps that earn authority.
	LongTenure  time.Duration
	ShortTenure time.Duration
	Rules       Rules
}

// DefaultConfig returns the engine defaults for a persona.
func DefaultConfig(persona string) Config {
	return Config{
		PersonaName: persona,
		Weights:     DefaultWeights(),
		DecayWindow: 5 * time.Minute,
		LongTenure:  180 * 24 * time.Hour,
		ShortTenure: 30 * 24 * time.Hour,
		Rules:       DefaultRules(),
	}
}

// Engine scores messages. It holds only immutable compiled rules and is safe
// for concurrent use.
type Engine struct {
	cfg      Config
	names    map[string]struct{}
	question matcher
	emotion  matcher
	interest matcher
	creative matcher
}

// NewEngine compiles cfg into an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if math.Abs(cfg.Weights.sum()-1) > 1e-6 {
		return nil, fmt.Errorf("salience weights must sum to 1, got %.4f", cfg.Weights.sum())
	}
	for _, w := range []float64{cfg.Weights.Content, cfg.Weights.Authority, cfg.Weights.Relevance, cfg.Weights.Temporal} {
		if w < 0 {
			return nil, fmt.Errorf("salience weights must be non-negative")
		}
	}
	if cfg.DecayWindow <= 0 {
		return nil, fmt.Errorf("decay window must be positive, got %s", cfg.DecayWindow)
	}

	e := &Engine{
		cfg:      cfg,
		names:    make(map[string]struct{}),
		question: newMatcher(cfg.Rules.QuestionWords),
		emotion:  newMatcher(cfg.Rules.EmotionalWords),
		interest: newMatcher(cfg.Rules.InterestKeywords),
		creative: newMatcher(cfg.Rules.CreativeWords),
	}
	for _, n := range append([]string{cfg.PersonaName}, cfg.PersonaAliases...) {
		n = strings.ToLower(strings.TrimLeft(strings.TrimSpace(n), "@"))
		if n != "" {
			e.names[n] = struct{}{}
		}
	}
	return e, nil
}

// Score computes the salience of msg under rc. The result depends only on the
// two arguments. It returns an error only when msg lacks a required field.
func (e *Engine) Score(msg *chat.Message, rc chat.RollingContext) (chat.Score, error) {
	if err := msg.Validate(); err != nil {
		return chat.Score{}, err
	}

	tokens := Tokens(msg.Text)
	padded := pad(tokens)
	question := e.isQuestion(msg.Text, tokens)

	var reasons []string
	content := e.content(msg, tokens, padded, question, &reasons)
	authority := e.authority(msg.Author, &reasons)
	relevance := e.relevance(msg, tokens, rc, &reasons)
	temporal := e.temporal(msg.Age(rc.Now), question, &reasons)

	w := e.cfg.Weights
	total := chat.Clamp(w.Content*content+w.Authority*authority+w.Relevance*relevance+w.Temporal*temporal, 0, 1)
	// Round away float noise before mapping onto level thresholds.
	total = math.Round(total*1e9) / 1e9

	return chat.Score{
		Total: total,
		Breakdown: chat.Breakdown{
			Content:   content,
			Authority: authority,
			Relevance: relevance,
			Temporal:  temporal,
		},
		Level:     chat.LevelFor(total),
		Reasoning: reasons,
	}, nil
}

func (e *Engine) content(msg *chat.Message, tokens []string, padded string, question bool, reasons *[]string) float64 {
	if len(tokens) == 0 && len(msg.Mentions) == 0 {
		return 0
	}
	var s float64
	if e.mentionsPersona(msg, tokens) {
		s += mentionBoost
		*reasons = append(*reasons, "mentions persona")
	}
	if question {
		s += questionBoost
		*reasons = append(*reasons, "asks a question")
	}
	if hits := e.emotion.matches(padded); len(hits) > 0 {
		s += emotionBoost
		*reasons = append(*reasons, "emotional language: "+strings.Join(hits, ", "))
	}
	if hits := e.interest.matches(padded); len(hits) > 0 {
		s += math.Min(float64(len(hits))*interestPerHit, interestMax)
		*reasons = append(*reasons, "interest keywords: "+strings.Join(hits, ", "))
	}
	if e.creative.any(padded) {
		s += creativeBoost
		*reasons = append(*reasons, "creative or collaborative language")
	}
	return chat.Clamp(s, 0, 1)
}

func (e *Engine) authority(a chat.Author, reasons *[]string) float64 {
	var s float64
	if a.Roles.Subscriber {
		s += subscriberBoost
		*reasons = append(*reasons, "subscriber")
	}
	if a.Tenure != nil {
		switch t := *a.Tenure; {
		case e.cfg.LongTenure > 0 && t >= e.cfg.LongTenure:
			s += longTenureBoost
			*reasons = append(*reasons, "long tenure")
		case e.cfg.ShortTenure > 0 && t >= e.cfg.ShortTenure:
			s += shortTenureBoost
			*reasons = append(*reasons, "established tenure")
		}
	}
	if a.Roles.Moderator {
		s += moderatorBoost
		*reasons = append(*reasons, "moderator")
	}
	if a.Roles.FirstTime {
		s += firstTimeBoost
		*reasons = append(*reasons, "first-time chatter")
	}
	return chat.Clamp(s, 0, 1)
}

func (e *Engine) relevance(msg *chat.Message, tokens []string, rc chat.RollingContext, reasons *[]string) float64 {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}

	var s float64
	if overlap(set, rc.StreamTopic) > 0 {
		s += streamTopicBoost
		*reasons = append(*reasons, "matches stream topic")
	}
	if overlap(set, rc.RecentStatements) >= statementMinShare {
		s += statementBoost
		*reasons = append(*reasons, "references a recent persona statement")
	}
	if rc.HasOpenThread(msg.Author.ID) {
		s += openThreadBoost
		*reasons = append(*reasons, "continues an open thread")
	}
	if overlap(set, rc.RecentTopics) > 0 {
		s += recentTopicBoost
		*reasons = append(*reasons, "matches a recent chat topic")
	}
	return chat.Clamp(s, 0, 1)
}

// temporal decays linearly from freshnessMax at arrival to zero at the decay
// window, plus a flat bonus for questions.
func (e *Engine) temporal(age time.Duration, question bool, reasons *[]string) float64 {
	remaining := 1 - float64(age)/float64(e.cfg.DecayWindow)
	fresh := freshnessMax * chat.Clamp(remaining, 0, 1)
	if fresh > 0 {
		*reasons = append(*reasons, fmt.Sprintf("freshness %.2f", fresh))
	}
	s := fresh
	if question {
		s += questionBonus
		*reasons = append(*reasons, "direct question bonus")
	}
	return chat.Clamp(s, 0, 1)
}

func (e *Engine) mentionsPersona(msg *chat.Message, tokens []string) bool {
	if len(e.names) == 0 {
		return false
	}
	for _, m := range msg.Mentions {
		if _, ok := e.names[strings.ToLower(strings.TrimLeft(m, "@"))]; ok {
			return true
		}
	}
	for _, t := range tokens {
		if _, ok := e.names[t]; ok {
			return true
		}
	}
	return false
}

func (e *Engine) isQuestion(text string, tokens []string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	if len(tokens) == 0 {
		return false
	}
	return e.question.any(" " + tokens[0] + " ")
}

func overlap(set map[string]struct{}, words []string) int {
	n := 0
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := set[w]; ok {
			n++
		}
	}
	return n
}
