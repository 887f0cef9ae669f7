// internal/engine/filter-expression/parser.go
package filterexpression

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"

	apperrors "listing-alerts/internal/common/errors"

	"github.com/mmcloughlin/geohash"
	"github.com/shopspring/decimal"
)

type member struct {
	key string
	raw json.RawMessage
}

// Parse turns a saved search filter document into an Expression.
//
// The document maps a property field to a constraint object, or to a list of
// constraint objects. Keys are read in document order and repeated keys are
// all kept, so {"price":{"range":{"min":1}},"price":{"range":{"max":9}}}
// yields two AND-ed range clauses. An empty or null document parses to an
// expression with no clauses.
func Parse(raw json.RawMessage) (*Expression, error) {
	expr := &Expression{}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return expr, nil
	}

	members, err := objectMembers(trimmed)
	if err != nil {
		return nil, invalid("", "filters must be a JSON object: "+err.Error())
	}

	for _, m := range members {
		if err := expr.addEntry(m.key, m.raw); err != nil {
			return nil, err
		}
	}
	return expr, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(raw string) *Expression {
	expr, err := Parse(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return expr
}

func (e *Expression) addEntry(key string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return invalid(key, "malformed constraint list")
		}
		for _, item := range items {
			if err := e.addConstraint(key, item); err != nil {
				return err
			}
		}
		return nil
	}
	return e.addConstraint(key, trimmed)
}

func (e *Expression) addConstraint(key string, raw json.RawMessage) error {
	members, err := objectMembers(bytes.TrimSpace(raw))
	if err != nil {
		if TypeOf(key) == FieldUnknown {
			e.keepUnknown(key, "", raw)
			return nil
		}
		return invalid(key, "constraint must be an object")
	}

	for _, m := range members {
		if err := e.addClause(key, m.key, m.raw); err != nil {
			return err
		}
	}
	return nil
}

func (e *Expression) addClause(key, kind string, raw json.RawMessage) error {
	fieldType := TypeOf(key)

	switch kind {
	case KindGeoRadius:
		c, err := parseGeoRadius(key, raw)
		if err != nil {
			return err
		}
		e.Clauses = append(e.Clauses, c)
		return nil

	case KindRange, KindEquals, KindOneOf, KindTextContains:
		if fieldType == FieldUnknown {
			e.keepUnknown(key, kind, raw)
			return nil
		}

	default:
		e.keepUnknown(key, kind, raw)
		return nil
	}

	var (
		c   Clause
		err error
	)
	switch kind {
	case KindRange:
		c, err = parseRange(key, fieldType, raw)
	case KindEquals:
		c, err = parseEquals(key, fieldType, raw)
	case KindOneOf:
		c, err = parseOneOf(key, fieldType, raw)
	case KindTextContains:
		c, err = parseTextContains(key, fieldType, raw)
	}
	if err != nil {
		return err
	}
	e.Clauses = append(e.Clauses, c)
	return nil
}

func (e *Expression) keepUnknown(key, kind string, raw json.RawMessage) {
	e.Unknown = append(e.Unknown, UnknownConstraint{
		Key:  key,
		Kind: kind,
		Raw:  append(json.RawMessage(nil), raw...),
	})
}

func parseRange(key string, fieldType FieldType, raw json.RawMessage) (Clause, error) {
	if fieldType != FieldNumeric {
		return nil, invalid(key, "range requires a numeric field")
	}

	var params map[string]interface{}
	if err := decodeValue(raw, &params); err != nil || params == nil {
		return nil, invalid(key, "range must be an object with min and/or max")
	}

	lo, err := optionalDecimal(key, "range.min", params["min"])
	if err != nil {
		return nil, err
	}
	hi, err := optionalDecimal(key, "range.max", params["max"])
	if err != nil {
		return nil, err
	}
	if lo != nil && hi != nil && lo.GreaterThan(*hi) {
		return nil, invalid(key, fmt.Sprintf("range.min %s is greater than range.max %s", lo, hi))
	}

	return RangeClause{Field: key, Min: lo, Max: hi}, nil
}

func parseEquals(key string, fieldType FieldType, raw json.RawMessage) (Clause, error) {
	var value interface{}
	if err := decodeValue(raw, &value); err != nil {
		return nil, invalid(key, "equals value is not valid JSON")
	}
	s, err := scalarFor(key, fieldType, KindEquals, value)
	if err != nil {
		return nil, err
	}
	return EqualsClause{Field: key, Value: s}, nil
}

func parseOneOf(key string, fieldType FieldType, raw json.RawMessage) (Clause, error) {
	var values []interface{}
	if err := decodeValue(raw, &values); err != nil {
		return nil, invalid(key, "oneOf must be a list")
	}
	if len(values) == 0 {
		return nil, invalid(key, "oneOf must not be empty")
	}

	scalars := make([]Scalar, 0, len(values))
	for _, v := range values {
		s, err := scalarFor(key, fieldType, KindOneOf, v)
		if err != nil {
			return nil, err
		}
		scalars = append(scalars, s)
	}
	return OneOfClause{Field: key, Values: scalars}, nil
}

func parseTextContains(key string, fieldType FieldType, raw json.RawMessage) (Clause, error) {
	if fieldType != FieldText {
		return nil, invalid(key, "textContains requires a text field")
	}
	var s string
	if err := decodeValue(raw, &s); err != nil {
		return nil, invalid(key, "textContains must be a string")
	}
	if s == "" {
		return nil, invalid(key, "textContains must not be empty")
	}
	return TextContainsClause{Field: key, Substring: s}, nil
}

func parseGeoRadius(key string, raw json.RawMessage) (Clause, error) {
	var params map[string]interface{}
	if err := decodeValue(raw, &params); err != nil || params == nil {
		return nil, invalid(key, "geoRadius must be an object")
	}

	radius, err := requiredFloat(key, "geoRadius.radiusKm", params["radiusKm"])
	if err != nil {
		return nil, err
	}
	if radius < 0 {
		return nil, invalid(key, "geoRadius.radiusKm must not be negative")
	}

	var lat, lng float64
	if hash, ok := params["geohash"]; ok {
		s, isString := hash.(string)
		if !isString || s == "" {
			return nil, invalid(key, "geoRadius.geohash must be a non-empty string")
		}
		if err := geohash.Validate(s); err != nil {
			return nil, invalid(key, "geoRadius.geohash: "+err.Error())
		}
		lat, lng = geohash.DecodeCenter(s)
	} else {
		if lat, err = requiredFloat(key, "geoRadius.lat", params["lat"]); err != nil {
			return nil, err
		}
		if lng, err = requiredFloat(key, "geoRadius.lng", params["lng"]); err != nil {
			return nil, err
		}
	}

	if lat < -90 || lat > 90 {
		return nil, invalid(key, "geoRadius.lat must be within [-90, 90]")
	}
	if lng < -180 || lng > 180 {
		return nil, invalid(key, "geoRadius.lng must be within [-180, 180]")
	}

	return GeoRadiusClause{Lat: lat, Lng: lng, RadiusKm: radius}, nil
}

func scalarFor(key string, fieldType FieldType, kind string, v interface{}) (Scalar, error) {
	switch val := v.(type) {
	case string:
		if fieldType == FieldNumeric {
			return Scalar{}, invalid(key, kind+" on a numeric field requires a number")
		}
		return TextScalar(val), nil
	case json.Number:
		if fieldType != FieldNumeric {
			return Scalar{}, invalid(key, kind+" on a text field requires a string")
		}
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return Scalar{}, invalid(key, kind+" value is not a valid number")
		}
		return NumberScalar(d), nil
	}
	return Scalar{}, invalid(key, fmt.Sprintf("%s value must be a string or number, got %T", kind, v))
}

func optionalDecimal(key, name string, v interface{}) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil, invalid(key, name+" must be numeric")
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return nil, invalid(key, name+" must be numeric")
	}
	return &d, nil
}

func requiredFloat(key, name string, v interface{}) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, invalid(key, name+" is required and must be numeric")
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalid(key, name+" must be a finite number")
	}
	return f, nil
}

// objectMembers walks a JSON object token by token so that repeated keys
// survive, which a map decode would collapse.
func objectMembers(raw json.RawMessage) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var members []member
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		members = append(members, member{key: key, raw: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after object")
	}
	return members, nil
}

func decodeValue(raw json.RawMessage, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func invalid(key, reason string) error {
	return &apperrors.InvalidFilterError{Key: key, Reason: reason}
}
