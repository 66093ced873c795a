package sink

import (
	"encoding/json"
	"fmt"
	"time"
)

// eventDateLayout is the timestamp format the export tool writes into
// the Date field.
const eventDateLayout = "2006-01-02T15:04:05"

// paramExcludedKeys are the record fields mapped to dedicated document
// fields; everything else becomes a sink parameter.
var paramExcludedKeys = map[string]bool{
	"Event":             true,
	"EventPresentation": true,
	"Session":           true,
	"User":              true,
	"UserName":          true,
	"Computer":          true,
}

// Event is one decoded export line.
type Event struct {
	fields map[string]any
}

// ParseEvent decodes a raw JSON record line.
func ParseEvent(line string) (*Event, error) {
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return nil, fmt.Errorf("decoding event record: %w", err)
	}
	return &Event{fields: fields}, nil
}

// Date returns the raw Date field, which doubles as the position
// marker when the timestamp does not parse.
func (e *Event) Date() string {
	date, _ := e.fields["Date"].(string)
	return date
}

// Timestamp parses the Date field in the server's local time zone.
func (e *Event) Timestamp() (time.Time, error) {
	return time.ParseInLocation(eventDateLayout, e.Date(), time.Local)
}

// Field returns a named record field, or nil when absent.
func (e *Event) Field(key string) any {
	return e.fields[key]
}

// StringField returns a named field as a string, empty when absent or
// of another type.
func (e *Event) StringField(key string) string {
	v, _ := e.fields[key].(string)
	return v
}

// Params walks every non-excluded, non-empty field. Nested objects are
// re-encoded as compact JSON strings so the sinks store them as opaque
// values.
func (e *Event) Params(visit func(key string, value any)) {
	for key, value := range e.fields {
		if paramExcludedKeys[key] {
			continue
		}

		if nested, ok := value.(map[string]any); ok {
			if encoded, err := json.Marshal(nested); err == nil {
				value = string(encoded)
			}
		}

		if emptyValue(value) {
			continue
		}

		visit(key, value)
	}
}

func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case bool:
		return !t
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
