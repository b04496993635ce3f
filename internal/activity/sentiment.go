package activity

import "github.com/normanking/cortex-attention/internal/salience"

var positiveWords = map[string]struct{}{
	"love": {}, "great": {}, "awesome": {}, "amazing": {}, "good": {}, "nice": {},
	"happy": {}, "fun": {}, "cute": {}, "cool": {}, "best": {}, "thanks": {},
	"lol": {}, "lmao": {}, "haha": {}, "pog": {}, "hype": {}, "wholesome": {},
	"beautiful": {}, "excited": {}, "yay": {}, "gg": {},
}

var negativeWords = map[string]struct{}{
	"hate": {}, "bad": {}, "boring": {}, "sad": {}, "angry": {}, "worst": {},
	"awful": {}, "terrible": {}, "ugh": {}, "cringe": {}, "lag": {}, "annoying": {},
	"tired": {}, "rip": {}, "scared": {}, "lonely": {}, "sucks": {}, "mad": {},
}

// Sentiment returns a lexicon score in [-1, 1] for text: the balance of
// positive and negative words among those that carry any polarity.
func Sentiment(text string) float64 {
	var pos, neg int
	for _, tok := range salience.Tokens(text) {
		if _, ok := positiveWords[tok]; ok {
			pos++
		}
		if _, ok := negativeWords[tok]; ok {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}
