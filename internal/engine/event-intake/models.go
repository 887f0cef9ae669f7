// internal/engine/event-intake/models.go
package eventintake

import (
	"context"

	matchengine "listing-alerts/internal/engine/match-engine"
	"listing-alerts/internal/models"
)

// SavedSearchSource supplies the compiled saved searches to match against.
type SavedSearchSource interface {
	ActiveSearches(ctx context.Context) ([]matchengine.Candidate, error)
}

type Matcher interface {
	Match(ctx context.Context, event *models.PropertyChangeEvent, reasons models.ReasonSet, candidates []matchengine.Candidate) (*matchengine.Result, error)
}

type AlertDispatcher interface {
	Dispatch(ctx context.Context, matches []models.Match) ([]models.NotificationJob, error)
	Rollback(ctx context.Context, jobs []models.NotificationJob)
}

// NotificationSink hands finished jobs to whatever delivers them.
type NotificationSink interface {
	Publish(ctx context.Context, jobs []models.NotificationJob) error
}

// PriceHistoryRecorder persists price history rows. Optional.
type PriceHistoryRecorder interface {
	Record(ctx context.Context, entry models.PriceHistory) error
}

// Outcome is what one processed event produced.
type Outcome struct {
	EventID    string
	PropertyID string
	Reasons    models.ReasonSet
	Matches    []models.Match
	Skipped    []models.SkippedSearch
	Jobs       []models.NotificationJob
}

// DoneFunc receives the result of an enqueued event.
type DoneFunc func(*Outcome, error)

type task struct {
	ctx   context.Context
	event *models.PropertyChangeEvent
	done  DoneFunc
	seq   uint64
}

const (
	outcomeIgnored  = "ignored"
	outcomeNoMatch  = "no_match"
	outcomeAlerted  = "alerted"
	outcomeMatched  = "matched"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)
