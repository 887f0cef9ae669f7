// internal/engine/filter-evaluator/evaluator.go
package filterevaluator

import (
	"fmt"
	"math"
	"strings"

	apperrors "listing-alerts/internal/common/errors"
	filterexpression "listing-alerts/internal/engine/filter-expression"
	"listing-alerts/internal/models"

	"golang.org/x/text/cases"
)

// Evaluate reports whether the property satisfies every clause of expr.
//
// An expression without evaluable clauses matches nothing: a search made only
// of unknown constraints must not alert on every listing.
func Evaluate(expr *filterexpression.Expression, p *models.PropertySnapshot) (bool, error) {
	if p == nil {
		return false, &apperrors.EvaluationError{Reason: "property snapshot is nil"}
	}
	if expr.Evaluable() == 0 {
		return false, nil
	}

	for _, c := range expr.Clauses {
		ok, err := evaluateClause(c, p)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateClause(c filterexpression.Clause, p *models.PropertySnapshot) (bool, error) {
	switch clause := c.(type) {
	case filterexpression.RangeClause:
		return evaluateRange(clause, p), nil
	case filterexpression.EqualsClause:
		return matchesScalar(clause.Field, clause.Value, p), nil
	case filterexpression.OneOfClause:
		for _, v := range clause.Values {
			if matchesScalar(clause.Field, v, p) {
				return true, nil
			}
		}
		return false, nil
	case filterexpression.TextContainsClause:
		return evaluateText(clause, p), nil
	case filterexpression.GeoRadiusClause:
		return evaluateGeo(clause, p)
	}
	return false, &apperrors.EvaluationError{Reason: fmt.Sprintf("unsupported clause %T", c)}
}

func evaluateRange(c filterexpression.RangeClause, p *models.PropertySnapshot) bool {
	v, ok := p.NumericField(c.Field)
	if !ok {
		return false
	}
	if c.Min != nil && v.LessThan(*c.Min) {
		return false
	}
	if c.Max != nil && v.GreaterThan(*c.Max) {
		return false
	}
	return true
}

func matchesScalar(field string, want filterexpression.Scalar, p *models.PropertySnapshot) bool {
	if want.IsNumber {
		v, ok := p.NumericField(field)
		return ok && v.Equal(want.Number)
	}
	v, ok := p.StringField(field)
	return ok && v == want.Text
}

func evaluateText(c filterexpression.TextContainsClause, p *models.PropertySnapshot) bool {
	v, ok := p.StringField(c.Field)
	if !ok || v == "" {
		return false
	}
	// A Caser carries state, so each call gets its own.
	fold := cases.Fold()
	return strings.Contains(fold.String(v), fold.String(c.Substring))
}

func evaluateGeo(c filterexpression.GeoRadiusClause, p *models.PropertySnapshot) (bool, error) {
	lat, lng, ok := p.Coordinates()
	if !ok {
		return false, nil
	}
	if !finite(lat) || !finite(lng) {
		return false, &apperrors.EvaluationError{
			Reason: fmt.Sprintf("property %s has non-finite coordinates", p.ID),
		}
	}
	return HaversineKm(c.Lat, c.Lng, lat, lng) <= c.RadiusKm, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
