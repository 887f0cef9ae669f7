// internal/engine/filter-expression/models.go
package filterexpression

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Constraint kinds as they appear in a saved search document.
const (
	KindRange        = "range"
	KindEquals       = "equals"
	KindOneOf        = "oneOf"
	KindGeoRadius    = "geoRadius"
	KindTextContains = "textContains"
)

// FieldType groups property attributes by the comparisons they support.
type FieldType int

const (
	FieldUnknown FieldType = iota
	FieldNumeric
	FieldEnum
	FieldText
)

var fieldTypes = map[string]FieldType{
	"price":        FieldNumeric,
	"bedrooms":     FieldNumeric,
	"bathrooms":    FieldNumeric,
	"squareFeet":   FieldNumeric,
	"yearBuilt":    FieldNumeric,
	"lotSize":      FieldNumeric,
	"propertyType": FieldEnum,
	"listingType":  FieldEnum,
	"status":       FieldEnum,
	"address":      FieldText,
	"city":         FieldText,
	"state":        FieldText,
	"zipCode":      FieldText,
	"description":  FieldText,
}

// TypeOf returns the type of a filterable property field.
func TypeOf(field string) FieldType {
	return fieldTypes[field]
}

// Clause is one evaluable constraint. The set of implementations is closed.
type Clause interface {
	Kind() string
	clause()
}

// RangeClause matches min <= field <= max. A nil bound is unbounded.
type RangeClause struct {
	Field string
	Min   *decimal.Decimal
	Max   *decimal.Decimal
}

// EqualsClause matches a field against exactly one value.
type EqualsClause struct {
	Field string
	Value Scalar
}

// OneOfClause matches a field against any of a non-empty value set.
type OneOfClause struct {
	Field  string
	Values []Scalar
}

// GeoRadiusClause matches properties within RadiusKm of a center point.
type GeoRadiusClause struct {
	Lat      float64
	Lng      float64
	RadiusKm float64
}

// TextContainsClause is a case-insensitive substring test.
type TextContainsClause struct {
	Field     string
	Substring string
}

func (RangeClause) Kind() string        { return KindRange }
func (EqualsClause) Kind() string       { return KindEquals }
func (OneOfClause) Kind() string        { return KindOneOf }
func (GeoRadiusClause) Kind() string    { return KindGeoRadius }
func (TextContainsClause) Kind() string { return KindTextContains }

func (RangeClause) clause()        {}
func (EqualsClause) clause()       {}
func (OneOfClause) clause()        {}
func (GeoRadiusClause) clause()    {}
func (TextContainsClause) clause() {}

// Scalar is a string or decimal literal from an equals or oneOf constraint.
type Scalar struct {
	Text     string
	Number   decimal.Decimal
	IsNumber bool
}

// TextScalar builds a string literal.
func TextScalar(s string) Scalar { return Scalar{Text: s} }

// NumberScalar builds a numeric literal.
func NumberScalar(d decimal.Decimal) Scalar { return Scalar{Number: d, IsNumber: true} }

func (s Scalar) String() string {
	if s.IsNumber {
		return s.Number.String()
	}
	return s.Text
}

// UnknownConstraint is kept verbatim so that documents written by newer
// clients round-trip, but it never takes part in evaluation.
type UnknownConstraint struct {
	Key  string
	Kind string
	Raw  json.RawMessage
}

// Expression is the parsed, validated form of a saved search's filters.
// All clauses are AND-ed.
type Expression struct {
	Clauses []Clause
	Unknown []UnknownConstraint
}

// Evaluable returns the number of clauses that take part in evaluation.
func (e *Expression) Evaluable() int {
	if e == nil {
		return 0
	}
	return len(e.Clauses)
}
