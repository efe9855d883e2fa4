package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/consultcredit/internal/tier"
	"github.com/mbd888/consultcredit/internal/traces"
	"github.com/mbd888/consultcredit/internal/units"
)

// Service provides expert scoring, pricing and ranking.
type Service struct {
	store      Store
	calculator *Calculator
	resolver   *tier.Resolver
	events     EventPublisher
	logger     *slog.Logger
	now        units.Clock
}

// NewService creates a reputation service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		calculator: NewCalculator(),
		resolver:   tier.NewResolver(),
		logger:     logger,
		now:        time.Now,
	}
}

// WithEvents attaches a ranking event publisher.
func (s *Service) WithEvents(p EventPublisher) *Service {
	s.events = p
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(c units.Clock) *Service {
	s.now = c
	return s
}

// Evaluate scores and prices a set of counters without touching the store.
func (s *Service) Evaluate(c Counters) (tier.Result, Components) {
	score, comp := s.calculator.Calculate(c)
	return s.resolver.Resolve(score), comp
}

// GetExpertLevel returns the current level and rate for an expert. The score
// is always derived from the stored counters; an expert with no record
// resolves to a zero score.
func (s *Service) GetExpertLevel(ctx context.Context, expertID string) (*ExpertLevel, error) {
	expertID = normalizeID(expertID)
	if expertID == "" {
		return nil, ErrMissingExpert
	}
	ctx, span := traces.StartSpan(ctx, "reputation.GetExpertLevel", traces.ExpertID(expertID))
	defer span.End()

	var counters Counters
	var ranking, total int
	st, err := s.store.Get(ctx, expertID)
	switch {
	case err == nil:
		counters = st.Counters
		ranking, total = st.Ranking, st.TotalExperts
	case errors.Is(err, ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load expert stats: %w", err)
	}

	res, comp := s.Evaluate(counters)
	return &ExpertLevel{
		ExpertID:         expertID,
		Level:            res.Level,
		CreditsPerMinute: res.CreditsPerMinute,
		TierLabel:        res.Label,
		RankingScore:     res.Score,
		Components:       comp,
		Ranking:          ranking,
		TotalExperts:     total,
	}, nil
}

// RecomputeAllRankings scores the whole population in parallel, orders it by
// score descending and persists each expert's ordinal position. Ties keep
// ascending expert id order. Counter writes that land during the run keep
// their own derived fields and take effect on positions at the next run.
func (s *Service) RecomputeAllRankings(ctx context.Context) ([]RankEntry, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "reputation.RecomputeAllRankings")
	defer span.End()

	all, err := s.store.List(ctx)
	if err != nil {
		traces.Fail(ctx, err)
		return nil, fmt.Errorf("failed to list expert stats: %w", err)
	}

	entries := make([]RankEntry, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, st := range all {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, _ := s.Evaluate(st.Counters)
			entries[i] = RankEntry{
				ExpertID:         st.ExpertID,
				RankingScore:     res.Score,
				Level:            res.Level,
				TierLabel:        res.Label,
				CreditsPerMinute: res.CreditsPerMinute,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].RankingScore > entries[b].RankingScore
	})
	for i := range entries {
		entries[i].Ranking = i + 1
	}

	if err := s.store.SaveRankings(ctx, entries, len(entries)); err != nil {
		traces.Fail(ctx, err)
		return nil, fmt.Errorf("failed to save rankings: %w", err)
	}

	span.SetAttributes(traces.Count(len(entries)))
	RankingRecomputeDuration.Observe(time.Since(start).Seconds())
	RankingExperts.Set(float64(len(entries)))
	s.logger.Info("rankings recomputed", "experts", len(entries), "duration", time.Since(start))

	if s.events != nil {
		s.events.PublishRankings(entries)
	}
	return entries, nil
}

// Rankings returns the ordering persisted by the last recompute. Experts
// created since then are omitted until the next run.
func (s *Service) Rankings(ctx context.Context, limit int) ([]RankEntry, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list expert stats: %w", err)
	}
	out := make([]RankEntry, 0, len(all))
	for _, st := range all {
		if st.Ranking <= 0 {
			continue
		}
		out = append(out, RankEntry{
			ExpertID:         st.ExpertID,
			RankingScore:     st.RankingScore,
			Level:            st.Level,
			TierLabel:        st.TierLabel,
			CreditsPerMinute: st.CreditsPerMinute,
			Ranking:          st.Ranking,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Ranking < out[b].Ranking })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordSession counts a completed session, optionally from a returning client.
func (s *Service) RecordSession(ctx context.Context, expertID string, repeatClient bool) (*Stats, error) {
	return s.mutate(ctx, "reputation.RecordSession", expertID, func(c *Counters) error {
		c.TotalSessions++
		if repeatClient {
			c.RepeatClients++
		}
		return nil
	})
}

// RecordReview folds a new rating into the running average.
func (s *Service) RecordReview(ctx context.Context, expertID string, rating float64) (*Stats, error) {
	if math.IsNaN(rating) || rating < 0 || rating > MaxRating {
		return nil, ErrInvalidRating
	}
	return s.mutate(ctx, "reputation.RecordReview", expertID, func(c *Counters) error {
		n := float64(c.ReviewCount)
		c.AvgRating = (c.AvgRating*n + rating) / (n + 1)
		c.ReviewCount++
		return nil
	})
}

// RecordLike counts one like.
func (s *Service) RecordLike(ctx context.Context, expertID string) (*Stats, error) {
	return s.mutate(ctx, "reputation.RecordLike", expertID, func(c *Counters) error {
		c.LikeCount++
		return nil
	})
}

// OverrideStats replaces all five counters (admin).
func (s *Service) OverrideStats(ctx context.Context, expertID string, counters Counters) (*Stats, error) {
	st, err := s.mutate(ctx, "reputation.OverrideStats", expertID, func(c *Counters) error {
		*c = counters.Sanitize()
		return nil
	})
	if err == nil {
		s.logger.Info("expert stats overridden", "expert_id", st.ExpertID, "score", st.RankingScore)
	}
	return st, err
}

// DeleteStats hard-deletes an expert's record (admin).
func (s *Service) DeleteStats(ctx context.Context, expertID string) error {
	expertID = normalizeID(expertID)
	if expertID == "" {
		return ErrMissingExpert
	}
	if err := s.store.Delete(ctx, expertID); err != nil {
		return err
	}
	s.logger.Info("expert stats deleted", "expert_id", expertID)
	return nil
}

// GetStats returns the stored record.
func (s *Service) GetStats(ctx context.Context, expertID string) (*Stats, error) {
	expertID = normalizeID(expertID)
	if expertID == "" {
		return nil, ErrMissingExpert
	}
	return s.store.Get(ctx, expertID)
}

// QuoteSession prices a session of the given length at the expert's current rate.
func (s *Service) QuoteSession(ctx context.Context, expertID string, minutes int64) (*Quote, error) {
	if minutes <= 0 {
		return nil, ErrInvalidMinutes
	}
	lvl, err := s.GetExpertLevel(ctx, expertID)
	if err != nil {
		return nil, err
	}
	credits := lvl.CreditsPerMinute * minutes
	return &Quote{
		ExpertID:         lvl.ExpertID,
		Level:            lvl.Level,
		TierLabel:        lvl.TierLabel,
		CreditsPerMinute: lvl.CreditsPerMinute,
		Minutes:          minutes,
		Credits:          credits,
		Won:              units.CreditsToWon(credits),
	}, nil
}

// ListTiers returns the pricing table, highest band first.
func (s *Service) ListTiers() []tier.Band {
	return s.resolver.Bands()
}

// mutate applies fn to the counters and refreshes derived fields in the same
// store write.
func (s *Service) mutate(ctx context.Context, op, expertID string, fn func(*Counters) error) (*Stats, error) {
	expertID = normalizeID(expertID)
	if expertID == "" {
		return nil, ErrMissingExpert
	}
	ctx, span := traces.StartSpan(ctx, op, traces.ExpertID(expertID))
	defer span.End()

	now := s.now()
	st, err := s.store.Update(ctx, expertID, func(st *Stats) error {
		if err := fn(&st.Counters); err != nil {
			return err
		}
		s.derive(st, now)
		return nil
	})
	traces.Fail(ctx, err)
	return st, err
}

func (s *Service) derive(st *Stats, now time.Time) {
	res, _ := s.Evaluate(st.Counters)
	st.RankingScore = res.Score
	st.Level = res.Level
	st.TierLabel = res.Label
	st.CreditsPerMinute = res.CreditsPerMinute
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
