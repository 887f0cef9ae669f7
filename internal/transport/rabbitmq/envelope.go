// internal/transport/rabbitmq/envelope.go
package rabbitmq

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// eventSchema describes the wire shape of a property change event. Field
// level rules that need cross-field context live in PropertyChangeEvent.Validate.
const eventSchema = `{
  "type": "object",
  "required": ["eventId", "propertyId", "kind", "currentSnapshot"],
  "properties": {
    "eventId":    {"type": "string", "minLength": 1},
    "propertyId": {"type": "string", "minLength": 1},
    "kind":       {"type": "string", "enum": ["create", "update", "price-change"]},
    "occurredAt": {"type": "string"},
    "previousSnapshot": {"$ref": "#/definitions/snapshot"},
    "currentSnapshot":  {"$ref": "#/definitions/snapshot"}
  },
  "definitions": {
    "snapshot": {
      "type": "object",
      "required": ["id", "ownerId", "price", "status"],
      "properties": {
        "id":         {"type": "string", "minLength": 1},
        "ownerId":    {"type": "string", "minLength": 1},
        "price":      {"type": ["number", "string"]},
        "status":     {"type": "string", "enum": ["DRAFT", "ACTIVE", "PENDING", "SOLD", "INACTIVE"]},
        "bedrooms":   {"type": ["integer", "null"]},
        "squareFeet": {"type": ["integer", "null"]},
        "yearBuilt":  {"type": ["integer", "null"]},
        "bathrooms":  {"type": ["number", "string", "null"]},
        "lotSize":    {"type": ["number", "string", "null"]},
        "latitude":   {"type": ["number", "null"], "minimum": -90, "maximum": 90},
        "longitude":  {"type": ["number", "null"], "minimum": -180, "maximum": 180}
      }
    }
  }
}`

var compiledEventSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchema))
	if err != nil {
		panic(fmt.Sprintf("event schema: %v", err))
	}
	return s
}()

// DecodeEvent validates a message body against the event schema and
// decodes it. Every failure is a MalformedEventError.
func DecodeEvent(body []byte) (*models.PropertyChangeEvent, error) {
	result, err := compiledEventSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, &apperrors.MalformedEventError{Field: "body", Reason: "not valid JSON: " + err.Error()}
	}
	if !result.Valid() {
		errs := result.Errors()
		msgs := make([]string, len(errs))
		for i, desc := range errs {
			msgs[i] = desc.String()
		}
		return nil, &apperrors.MalformedEventError{
			EventID: eventIDOf(body),
			Field:   errs[0].Field(),
			Reason:  strings.Join(msgs, "; "),
		}
	}

	var event models.PropertyChangeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, &apperrors.MalformedEventError{EventID: eventIDOf(body), Field: "body", Reason: err.Error()}
	}
	return &event, nil
}

func eventIDOf(body []byte) string {
	var probe struct {
		EventID string `json:"eventId"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.EventID
}
