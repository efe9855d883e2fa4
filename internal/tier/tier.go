// Package tier maps a reputation score onto a discrete expert level and a
// flat per-minute billing rate.
//
// The band table is ordered highest first. Each band covers the half-open
// score interval [Min, Max); the top band is closed so that a perfect score
// of 100 resolves to it.
package tier

import (
	"math"
)

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Level bounds.
const (
	MinLevel = 1
	MaxLevel = 999
)

// Band is one row of the pricing table.
type Band struct {
	Label            string  `json:"label"`
	MinScore         float64 `json:"minScore"`
	MaxScore         float64 `json:"maxScore"`
	MinLevel         int     `json:"minLevel"`
	MaxLevel         int     `json:"maxLevel"`
	CreditsPerMinute int64   `json:"creditsPerMinute"`
}

// contains reports whether score falls inside the band. The top band's
// upper bound is inclusive.
func (b Band) contains(score float64) bool {
	if score < b.MinScore {
		return false
	}
	if b.MaxScore >= MaxScore {
		return score <= b.MaxScore
	}
	return score < b.MaxScore
}

// level interpolates linearly across the band's level range.
func (b Band) level(score float64) int {
	if b.MinLevel == b.MaxLevel || b.MaxScore <= b.MinScore {
		return b.MaxLevel
	}
	frac := (score - b.MinScore) / (b.MaxScore - b.MinScore)
	lvl := b.MinLevel + int(math.Floor(frac*float64(b.MaxLevel-b.MinLevel)))
	if lvl < b.MinLevel {
		lvl = b.MinLevel
	}
	if lvl > b.MaxLevel {
		lvl = b.MaxLevel
	}
	return lvl
}

// Label names.
const (
	Legend         = "Legend"
	GrandMaster    = "Grand Master"
	Master         = "Master"
	Expert         = "Expert"
	Senior         = "Senior"
	Professional   = "Professional"
	Skilled        = "Skilled"
	Core           = "Core"
	RisingStar     = "Rising Star"
	EmergingTalent = "Emerging Talent"
	FreshMind      = "Fresh Mind"
)

// DefaultBands is the production pricing table, highest band first.
var DefaultBands = []Band{
	{Label: Legend, MinScore: 98, MaxScore: 100, MinLevel: 999, MaxLevel: 999, CreditsPerMinute: 600},
	{Label: GrandMaster, MinScore: 92, MaxScore: 98, MinLevel: 900, MaxLevel: 998, CreditsPerMinute: 500},
	{Label: Master, MinScore: 87, MaxScore: 92, MinLevel: 800, MaxLevel: 899, CreditsPerMinute: 500},
	{Label: Expert, MinScore: 82, MaxScore: 87, MinLevel: 700, MaxLevel: 799, CreditsPerMinute: 450},
	{Label: Senior, MinScore: 77, MaxScore: 82, MinLevel: 600, MaxLevel: 699, CreditsPerMinute: 400},
	{Label: Professional, MinScore: 72, MaxScore: 77, MinLevel: 500, MaxLevel: 599, CreditsPerMinute: 350},
	{Label: Skilled, MinScore: 67, MaxScore: 72, MinLevel: 400, MaxLevel: 499, CreditsPerMinute: 300},
	{Label: Core, MinScore: 62, MaxScore: 67, MinLevel: 300, MaxLevel: 399, CreditsPerMinute: 250},
	{Label: RisingStar, MinScore: 57, MaxScore: 62, MinLevel: 200, MaxLevel: 299, CreditsPerMinute: 200},
	{Label: EmergingTalent, MinScore: 52, MaxScore: 57, MinLevel: 100, MaxLevel: 199, CreditsPerMinute: 150},
	{Label: FreshMind, MinScore: 0, MaxScore: 52, MinLevel: 1, MaxLevel: 99, CreditsPerMinute: 100},
}

// Result is the outcome of resolving a score.
type Result struct {
	Level            int     `json:"level"`
	CreditsPerMinute int64   `json:"creditsPerMinute"`
	Label            string  `json:"tierLabel"`
	Score            float64 `json:"rankingScore"`
}

// Resolver resolves scores against a band table.
type Resolver struct {
	bands []Band
}

// NewResolver creates a resolver over the default table.
func NewResolver() *Resolver {
	return &Resolver{bands: DefaultBands}
}

// Resolve returns the level, rate and label for score. Scores outside
// [0, 100] are clamped; NaN resolves as 0.
func (r *Resolver) Resolve(score float64) Result {
	score = clampScore(score)
	for _, b := range r.bands {
		if b.contains(score) {
			return Result{
				Level:            b.level(score),
				CreditsPerMinute: b.CreditsPerMinute,
				Label:            b.Label,
				Score:            score,
			}
		}
	}
	// Unreachable with a table covering [0, 100]; fall back to the bottom row.
	last := r.bands[len(r.bands)-1]
	return Result{Level: last.MinLevel, CreditsPerMinute: last.CreditsPerMinute, Label: last.Label, Score: score}
}

// Bands returns a copy of the table, highest band first.
func (r *Resolver) Bands() []Band {
	out := make([]Band, len(r.bands))
	copy(out, r.bands)
	return out
}

// Resolve resolves score against the default table.
func Resolve(score float64) Result {
	return defaultResolver.Resolve(score)
}

var defaultResolver = NewResolver()

func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}
