// internal/engine/match-engine/engine.go
package matchengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/common/metrics"
	filterevaluator "listing-alerts/internal/engine/filter-evaluator"
	filterexpression "listing-alerts/internal/engine/filter-expression"
	"listing-alerts/internal/models"

	"golang.org/x/sync/errgroup"
)

const Component = "match-engine"

type Engine struct {
	config   *Config
	logger   logger.Logger
	now      func() time.Time
	evaluate func(*filterexpression.Expression, *models.PropertySnapshot) (bool, error)
}

func NewEngine(config *Config, log logger.Logger) *Engine {
	return &Engine{
		config:   config,
		logger:   log.WithFields(map[string]interface{}{"component": Component}),
		now:      time.Now,
		evaluate: filterevaluator.Evaluate,
	}
}

// SelectSnapshot picks the snapshot the filters run against and the reasons
// a match reports. A listing that just left the market is matched on its
// last listed state so that watchers hear that it sold. ok is false when the
// event cannot produce matches.
func SelectSnapshot(event *models.PropertyChangeEvent, reasons models.ReasonSet) (*models.PropertySnapshot, models.ReasonSet, bool) {
	if reasons.Empty() {
		return nil, nil, false
	}

	curr := &event.CurrentSnapshot
	if curr.Status.IsMatchable() {
		return curr, reasons, true
	}

	prev := event.PreviousSnapshot
	if prev != nil && prev.Status.IsMatchable() && curr.Status.IsTerminal() && reasons.Has(models.ReasonStatusChanged) {
		return prev, models.NewReasonSet(models.ReasonStatusChanged), true
	}
	return nil, nil, false
}

// Match evaluates every candidate against the event's property. Unevaluable
// searches are reported in Result.Skipped and never stop the batch. Matches
// are ordered by saved search id.
func (e *Engine) Match(ctx context.Context, event *models.PropertyChangeEvent, reasons models.ReasonSet, candidates []Candidate) (*Result, error) {
	start := e.now()
	defer func() {
		metrics.EventDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	}()

	snap, matchReasons, ok := SelectSnapshot(event, reasons)
	if !ok {
		e.logger.Debug("event produces no matches", map[string]interface{}{
			"propertyId": event.PropertyID,
			"status":     string(event.CurrentSnapshot.Status),
			"reasons":    reasons.String(),
		})
		return &Result{}, nil
	}

	outcomes := make([]outcome, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Parallelism)
	for i := range candidates {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = e.evaluateCandidate(&candidates[i], event, snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matchedAt := event.OccurredAt
	if matchedAt.IsZero() {
		matchedAt = e.now()
	}
	matchedAt = matchedAt.UTC()

	result := &Result{Evaluated: snap, Reasons: matchReasons}
	for i, o := range outcomes {
		c := &candidates[i]
		switch {
		case o.err != nil:
			result.Skipped = append(result.Skipped, models.SkippedSearch{
				SavedSearchID: c.Search.ID,
				UserID:        c.Search.UserID,
				Err:           o.err,
			})
			metrics.SearchesSkipped.WithLabelValues(errorCode(o.err)).Inc()
			e.logger.Warn("saved search skipped", map[string]interface{}{
				"savedSearchId": c.Search.ID,
				"propertyId":    event.PropertyID,
				"error":         o.err.Error(),
			})
		case o.matched:
			result.Matches = append(result.Matches, models.Match{
				SavedSearchID: c.Search.ID,
				UserID:        c.Search.UserID,
				PropertyID:    event.PropertyID,
				Reasons:       matchReasons,
				Score:         o.score,
				MatchedAt:     matchedAt,
			})
		}
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		return result.Matches[i].SavedSearchID < result.Matches[j].SavedSearchID
	})
	sort.SliceStable(result.Skipped, func(i, j int) bool {
		return result.Skipped[i].SavedSearchID < result.Skipped[j].SavedSearchID
	})

	for _, m := range result.Matches {
		for _, r := range m.Reasons {
			metrics.Matches.WithLabelValues(string(r)).Inc()
		}
	}

	e.logger.Info("matching complete", map[string]interface{}{
		"propertyId": event.PropertyID,
		"candidates": len(candidates),
		"matches":    len(result.Matches),
		"skipped":    len(result.Skipped),
		"reasons":    matchReasons.String(),
	})
	return result, nil
}

// eligible applies the ownership and activity rules that exclude a search
// before its filters are looked at.
func eligible(s *models.SavedSearch, event *models.PropertyChangeEvent, snap *models.PropertySnapshot) bool {
	if !s.Active || !s.OwnerActive {
		return false
	}
	return s.UserID != snap.OwnerID && s.UserID != event.CurrentSnapshot.OwnerID
}

func (e *Engine) evaluateCandidate(c *Candidate, event *models.PropertyChangeEvent, snap *models.PropertySnapshot) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome{err: &apperrors.EvaluationError{
				SavedSearchID: c.Search.ID,
				Reason:        fmt.Sprintf("panic: %v", r),
			}}
		}
	}()

	if !eligible(&c.Search, event, snap) {
		return outcome{}
	}
	if c.ParseErr != nil {
		return outcome{err: c.ParseErr}
	}

	matched, err := e.evaluate(c.Expr, snap)
	if err != nil {
		var evalErr *apperrors.EvaluationError
		if errors.As(err, &evalErr) && evalErr.SavedSearchID == "" {
			err = &apperrors.EvaluationError{SavedSearchID: c.Search.ID, Reason: evalErr.Reason}
		}
		return outcome{err: err}
	}
	return outcome{matched: matched, score: c.Expr.Evaluable()}
}
