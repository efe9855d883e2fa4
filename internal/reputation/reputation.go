// Package reputation scores experts from their behavioral counters and
// prices them through the tier table.
//
// The score is a weighted sum of five independently capped sub-scores:
// - Session volume (40), saturating at 1000 sessions
// - Average rating (30), linear over 0-5
// - Review volume (15), saturating at 500 reviews
// - Repeat-client ratio (10)
// - Likes (5), saturating at 1000 likes
//
// Caps sum to exactly 100, so the score needs no clamping beyond flooring
// negative inputs.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidInput   = errors.New("reputation: invalid input")
	ErrMissingExpert  = fmt.Errorf("%w: expert id is required", ErrInvalidInput)
	ErrInvalidRating  = fmt.Errorf("%w: rating must be between 0 and 5", ErrInvalidInput)
	ErrInvalidMinutes = fmt.Errorf("%w: minutes must be positive", ErrInvalidInput)
	ErrNotFound       = errors.New("reputation: expert statistics not found")
)

// Saturation points for the capped sub-scores.
const (
	SessionCap = 1000
	ReviewCap  = 500
	LikeCap    = 1000
	MaxRating  = 5.0
)

// Counters are the raw behavioral inputs to the score.
type Counters struct {
	TotalSessions int64   `json:"totalSessions"`
	AvgRating     float64 `json:"avgRating"`
	ReviewCount   int64   `json:"reviewCount"`
	RepeatClients int64   `json:"repeatClients"`
	LikeCount     int64   `json:"likeCount"`
}

// Sanitize floors negative or NaN counters to zero and caps the rating.
func (c Counters) Sanitize() Counters {
	out := Counters{
		TotalSessions: floorInt(c.TotalSessions),
		ReviewCount:   floorInt(c.ReviewCount),
		RepeatClients: floorInt(c.RepeatClients),
		LikeCount:     floorInt(c.LikeCount),
	}
	switch {
	case math.IsNaN(c.AvgRating) || c.AvgRating < 0:
		out.AvgRating = 0
	case c.AvgRating > MaxRating:
		out.AvgRating = MaxRating
	default:
		out.AvgRating = c.AvgRating
	}
	return out
}

// Components breaks the score down by factor.
type Components struct {
	SessionScore float64 `json:"sessionScore"` // 0-40
	RatingScore  float64 `json:"ratingScore"`  // 0-30
	ReviewScore  float64 `json:"reviewScore"`  // 0-15
	RepeatScore  float64 `json:"repeatScore"`  // 0-10
	LikeScore    float64 `json:"likeScore"`    // 0-5
}

// Total sums the components.
func (c Components) Total() float64 {
	return c.SessionScore + c.RatingScore + c.ReviewScore + c.RepeatScore + c.LikeScore
}

// Weights are the maximum points each factor contributes.
type Weights struct {
	Sessions float64
	Rating   float64
	Reviews  float64
	Repeat   float64
	Likes    float64
}

// DefaultWeights sum to 100.
var DefaultWeights = Weights{
	Sessions: 40,
	Rating:   30,
	Reviews:  15,
	Repeat:   10,
	Likes:    5,
}

// Calculator computes reputation scores.
type Calculator struct {
	weights Weights
}

// NewCalculator creates a calculator with the default weights.
func NewCalculator() *Calculator {
	return &Calculator{weights: DefaultWeights}
}

// Calculate returns the score in [0, 100] and its breakdown. It is pure.
func (c *Calculator) Calculate(in Counters) (float64, Components) {
	m := in.Sanitize()
	comp := Components{
		SessionScore: capped(float64(m.TotalSessions), SessionCap) * c.weights.Sessions,
		RatingScore:  (m.AvgRating / MaxRating) * c.weights.Rating,
		ReviewScore:  capped(float64(m.ReviewCount), ReviewCap) * c.weights.Reviews,
		LikeScore:    capped(float64(m.LikeCount), LikeCap) * c.weights.Likes,
	}
	if m.TotalSessions > 0 {
		comp.RepeatScore = math.Min(1, float64(m.RepeatClients)/float64(m.TotalSessions)) * c.weights.Repeat
	}
	return comp.Total(), comp
}

// Stats is the persisted per-expert record. The derived fields are
// refreshed from the counters on every write.
type Stats struct {
	ExpertID string `json:"expertId"`
	Counters

	RankingScore     float64 `json:"rankingScore"`
	Level            int     `json:"level"`
	TierLabel        string  `json:"tierLabel"`
	CreditsPerMinute int64   `json:"creditsPerMinute"`
	Ranking          int     `json:"ranking"`
	TotalExperts     int     `json:"totalExperts"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExpertLevel is the pricing view of an expert.
type ExpertLevel struct {
	ExpertID         string     `json:"expertId"`
	Level            int        `json:"level"`
	CreditsPerMinute int64      `json:"creditsPerMinute"`
	TierLabel        string     `json:"tierLabel"`
	RankingScore     float64    `json:"rankingScore"`
	Components       Components `json:"components"`
	Ranking          int        `json:"ranking,omitempty"`
	TotalExperts     int        `json:"totalExperts,omitempty"`
}

// RankEntry is one row of a population ranking.
type RankEntry struct {
	ExpertID         string  `json:"expertId"`
	RankingScore     float64 `json:"rankingScore"`
	Level            int     `json:"level"`
	TierLabel        string  `json:"tierLabel"`
	CreditsPerMinute int64   `json:"creditsPerMinute"`
	Ranking          int     `json:"ranking"`
}

// Quote prices a session of a given length.
type Quote struct {
	ExpertID         string `json:"expertId"`
	Level            int    `json:"level"`
	TierLabel        string `json:"tierLabel"`
	CreditsPerMinute int64  `json:"creditsPerMinute"`
	Minutes          int64  `json:"minutes"`
	Credits          int64  `json:"credits"`
	Won              int64  `json:"won"`
}

// Store persists expert statistics.
type Store interface {
	// Get returns ErrNotFound when the expert has no record.
	Get(ctx context.Context, expertID string) (*Stats, error)

	// Update atomically loads the record (or a fresh zero record), applies
	// fn, and writes it back.
	Update(ctx context.Context, expertID string, fn func(*Stats) error) (*Stats, error)

	// List returns every record ordered by ascending expert id.
	List(ctx context.Context) ([]*Stats, error)

	// SaveRankings writes each entry's Ranking and totalExperts. Score, level
	// and rate are owned by Update, which derives them from the counters it
	// commits, so a recompute never overwrites them with an older snapshot.
	SaveRankings(ctx context.Context, entries []RankEntry, totalExperts int) error

	Delete(ctx context.Context, expertID string) error
}

// EventPublisher receives ranking notifications. May be nil.
type EventPublisher interface {
	PublishRankings(entries []RankEntry)
}

func capped(v, limit float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Min(v/limit, 1)
}

func floorInt(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
