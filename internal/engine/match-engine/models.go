// internal/engine/match-engine/models.go
package matchengine

import (
	apperrors "listing-alerts/internal/common/errors"
	filterexpression "listing-alerts/internal/engine/filter-expression"
	"listing-alerts/internal/models"
)

// Candidate is a saved search with its filters already parsed. ParseErr is
// set instead of Expr when the filters are unevaluable.
type Candidate struct {
	Search   models.SavedSearch
	Expr     *filterexpression.Expression
	ParseErr error
}

// Compile parses the filters of one saved search.
func Compile(s models.SavedSearch) Candidate {
	expr, err := filterexpression.Parse(s.Filters)
	if err != nil {
		return Candidate{Search: s, ParseErr: err}
	}
	return Candidate{Search: s, Expr: expr}
}

// CompileAll parses every saved search, keeping unevaluable ones so they are
// reported as skipped rather than silently dropped.
func CompileAll(searches []models.SavedSearch) []Candidate {
	out := make([]Candidate, len(searches))
	for i, s := range searches {
		out[i] = Compile(s)
	}
	return out
}

// Result is the outcome of matching one event against a batch of searches.
type Result struct {
	Matches []models.Match
	Skipped []models.SkippedSearch
	// Evaluated is the snapshot the filters were run against, nil when the
	// event could not produce matches.
	Evaluated *models.PropertySnapshot
	Reasons   models.ReasonSet
}

type outcome struct {
	matched bool
	score   int
	err     error
}

func errorCode(err error) string {
	return string(apperrors.AsStandard(err).Code)
}
