package chat

import (
	"fmt"
	"strings"
)

// Level is the coarse importance bucket derived from a score total.
type Level int

const (
	LevelIgnore Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

// Lower bounds (inclusive) of each level.
const (
	CriticalThreshold = 0.8
	HighThreshold     = 0.6
	MediumThreshold   = 0.4
	LowThreshold      = 0.2
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelCritical:
		return "critical"
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "medium"
	case LevelLow:
		return "low"
	case LevelIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// AtLeast reports whether l is as severe as min or more.
func (l Level) AtLeast(min Level) bool {
	return l >= min
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts a level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return LevelCritical, nil
	case "high":
		return LevelHigh, nil
	case "medium":
		return LevelMedium, nil
	case "low":
		return LevelLow, nil
	case "ignore":
		return LevelIgnore, nil
	}
	return LevelIgnore, fmt.Errorf("unknown level %q", s)
}

// LevelFor maps a score total onto its level.
func LevelFor(total float64) Level {
	switch {
	case total >= CriticalThreshold:
		return LevelCritical
	case total >= HighThreshold:
		return LevelHigh
	case total >= MediumThreshold:
		return LevelMedium
	case total >= LowThreshold:
		return LevelLow
	default:
		return LevelIgnore
	}
}

// Breakdown holds the four unweighted sub-scores, each in [0,1].
type Breakdown struct {
	Content   float64 `json:"content"`
	Authority float64 `json:"authority"`
	Relevance float64 `json:"relevance"`
	Temporal  float64 `json:"temporal"`
}

// Score is the result of salience scoring.
type Score struct {
	Total     float64   `json:"total"`
	Breakdown Breakdown `json:"breakdown"`
	Level     Level     `json:"level"`
	Reasoning []string  `json:"reasoning,omitempty"`
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
