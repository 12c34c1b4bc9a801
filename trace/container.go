package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ErrNotATrace is returned for input that does not look like a trace event
// container or bare event array.
var ErrNotATrace = errors.New("input is not a trace event stream")

// ErrTimeUnit is returned for a displayTimeUnit other than the two defined
// display modes.
var ErrTimeUnit = errors.New("unrecognized displayTimeUnit")

// Display time units accepted in a container.
const (
	DisplayUnitMs = "ms"
	DisplayUnitNs = "ns"
)

// Metadata is an unrecognized top-level container entry, retained verbatim.
type Metadata struct {
	Name  string
	Value any
}

// MalformedRecord remembers an event record that failed to decode. The
// importer reports these as parse warnings rather than failing the import.
type MalformedRecord struct {
	Index int
	Err   error
}

// Container is the decoded top-level shape of a trace. A bare event array
// decodes into a Container with only Events set.
type Container struct {
	Events            []Event
	Samples           []Sample
	StackFrames       map[string]StackFrameRecord
	DisplayTimeUnit   string
	SystemTraceEvents string
	BattorLogAsString string
	Annotations       map[string]any
	Metadata          []Metadata
	Malformed         []MalformedRecord
}

// ParseString parses a serialized trace.
func ParseString(s string) (*Container, error) {
	return Parse([]byte(s))
}

// Parse parses a serialized trace: either a JSON container object or a bare
// event array. A bare array missing its closing bracket is repaired by
// stripping a trailing comma and appending "]", which tolerates traces cut
// off mid-recording.
func Parse(data []byte) (*Container, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNotATrace
	}
	switch data[0] {
	case '[':
		data = repairEventArray(data)
		c := &Container{}
		if err := c.decodeEvents(data); err != nil {
			return nil, err
		}
		return c, nil
	case '{':
		return parseContainerObject(data)
	default:
		return nil, ErrNotATrace
	}
}

func repairEventArray(data []byte) []byte {
	if data[len(data)-1] == ']' {
		return data
	}
	data = bytes.TrimRight(data, " \t\r\n")
	data = bytes.TrimSuffix(data, []byte(","))
	out := make([]byte, 0, len(data)+1)
	out = append(out, data...)
	out = append(out, ']')
	return out
}

func (c *Container) decodeEvents(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("failed to decode event array: %w", err)
	}
	c.Events = make([]Event, 0, len(raws))
	for i, raw := range raws {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.Malformed = append(c.Malformed, MalformedRecord{Index: i, Err: err})
			continue
		}
		c.Events = append(c.Events, ev)
	}
	return nil
}

func parseContainerObject(data []byte) (*Container, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("failed to decode container: %w", err)
	}

	c := &Container{}
	if raw, ok := top["traceEvents"]; ok {
		if err := c.decodeEvents(raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := top["samples"]; ok {
		if err := json.Unmarshal(raw, &c.Samples); err != nil {
			return nil, fmt.Errorf("failed to decode samples: %w", err)
		}
	}
	if raw, ok := top["stackFrames"]; ok {
		if err := json.Unmarshal(raw, &c.StackFrames); err != nil {
			return nil, fmt.Errorf("failed to decode stackFrames: %w", err)
		}
	}
	if raw, ok := top["displayTimeUnit"]; ok {
		if err := json.Unmarshal(raw, &c.DisplayTimeUnit); err != nil {
			return nil, fmt.Errorf("failed to decode displayTimeUnit: %w", err)
		}
		switch c.DisplayTimeUnit {
		case "", DisplayUnitMs, DisplayUnitNs:
		default:
			return nil, fmt.Errorf("%w: %q", ErrTimeUnit, c.DisplayTimeUnit)
		}
	}
	if raw, ok := top["systemTraceEvents"]; ok {
		if err := json.Unmarshal(raw, &c.SystemTraceEvents); err != nil {
			return nil, fmt.Errorf("failed to decode systemTraceEvents: %w", err)
		}
	}
	if raw, ok := top["battorLogAsString"]; ok {
		if err := json.Unmarshal(raw, &c.BattorLogAsString); err != nil {
			return nil, fmt.Errorf("failed to decode battorLogAsString: %w", err)
		}
	}
	if raw, ok := top["traceAnnotations"]; ok {
		if err := json.Unmarshal(raw, &c.Annotations); err != nil {
			return nil, fmt.Errorf("failed to decode traceAnnotations: %w", err)
		}
	}

	// Every unrecognized top-level key becomes trace metadata. Keys are
	// sorted so two imports of the same input agree on metadata order.
	keys := maps.Keys(top)
	slices.Sort(keys)
	for _, k := range keys {
		switch k {
		case "traceEvents", "samples", "stackFrames", "displayTimeUnit",
			"systemTraceEvents", "battorLogAsString", "traceAnnotations":
			continue
		}
		var v any
		if err := json.Unmarshal(top[k], &v); err != nil {
			return nil, fmt.Errorf("failed to decode metadata %q: %w", k, err)
		}
		c.Metadata = append(c.Metadata, Metadata{Name: k, Value: v})
	}
	return c, nil
}

// CanImport reports whether the input looks like a trace event stream. It
// accepts a serialized trace (string or []byte beginning with '{' or '['), a
// decoded event array whose first element carries a "ph" field, or a decoded
// container with such a traceEvents array or with both samples and
// stackFrames.
func CanImport(input any) bool {
	switch v := input.(type) {
	case string:
		return canImportBytes([]byte(v))
	case []byte:
		return canImportBytes(v)
	case []any:
		return isEventArray(v)
	case map[string]any:
		if evs, ok := v["traceEvents"].([]any); ok && isEventArray(evs) {
			return true
		}
		_, hasSamples := v["samples"]
		_, hasFrames := v["stackFrames"]
		return hasSamples && hasFrames
	case *Container:
		return v != nil
	default:
		return false
	}
}

func canImportBytes(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && (data[0] == '{' || data[0] == '[')
}

func isEventArray(v []any) bool {
	if len(v) == 0 {
		return false
	}
	first, ok := v[0].(map[string]any)
	if !ok {
		return false
	}
	_, ok = first["ph"]
	return ok
}
