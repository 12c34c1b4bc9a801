// Package trace models the Chrome Trace Event Format wire layer: the raw
// phase-tagged records, the enclosing container shape, and input
// normalization. Assembly of records into a queryable model lives in
// trace/importer.
package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Phase is the single-character code selecting an event record's shape and
// meaning.
type Phase string

const (
	PhaseBegin    Phase = "B"
	PhaseEnd      Phase = "E"
	PhaseComplete Phase = "X"

	PhaseInstant           Phase = "I"
	PhaseInstantDeprecated Phase = "i"
	PhaseMark              Phase = "R"

	PhaseNestableBegin   Phase = "b"
	PhaseNestableInstant Phase = "n"
	PhaseNestableEnd     Phase = "e"

	PhaseAsyncBegin    Phase = "S"
	PhaseAsyncStepInto Phase = "T"
	PhaseAsyncStepPast Phase = "p"
	PhaseAsyncEnd      Phase = "F"

	PhaseFlowStart Phase = "s"
	PhaseFlowStep  Phase = "t"
	PhaseFlowEnd   Phase = "f"

	PhaseCounter  Phase = "C"
	PhaseMetadata Phase = "M"
	PhaseSample   Phase = "P"

	PhaseCreateObject   Phase = "N"
	PhaseSnapshotObject Phase = "O"
	PhaseDeleteObject   Phase = "D"

	PhaseMemoryDumpProcess Phase = "v"
	PhaseMemoryDumpGlobal  Phase = "V"
)

// StrippedArgs is the sentinel a producer writes in place of an args bag it
// removed before recording.
const StrippedArgs = "__stripped__"

// ID is an event identifier. Producers emit both JSON strings and numbers;
// numbers keep their literal text, so "0x100" stays as written and the
// number 7 decodes to the same ID as the string "7".
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	*id = ID(b)
	return nil
}

func (id ID) Empty() bool { return id == "" }

// Flag is a boolean that producers emit as true/false or 0/1.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch {
	case bytes.Equal(b, []byte("true")):
		*f = true
	case bytes.Equal(b, []byte("false")), bytes.Equal(b, []byte("null")):
		*f = false
	default:
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("flag is neither bool nor number: %s", b)
		}
		*f = n != 0
	}
	return nil
}

// Args is a dynamic argument bag. Values are the JSON scalar types plus
// nested []any and map[string]any.
type Args struct {
	// Stripped reports that the producer replaced the bag with the
	// "__stripped__" sentinel.
	Stripped bool
	Map      map[string]any
}

func (a *Args) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s != StrippedArgs {
			return fmt.Errorf("args is a string but not the stripped sentinel: %q", s)
		}
		a.Stripped = true
		a.Map = nil
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		a.Stripped = false
		a.Map = nil
		return nil
	}
	return json.Unmarshal(b, &a.Map)
}

// Event is one record of the trace event stream. Timestamps are in
// microseconds. Optional numeric fields are pointers so that absent and zero
// stay distinct.
type Event struct {
	Name  string  `json:"name"`
	Cat   string  `json:"cat"`
	Phase Phase   `json:"ph"`
	Pid   int64   `json:"pid"`
	Tid   int64   `json:"tid"`
	Ts    float64 `json:"ts"`

	Dur  *float64 `json:"dur"`
	Tts  *float64 `json:"tts"`
	Tdur *float64 `json:"tdur"`

	// Scope of instant events: 't' (thread), 'p' (process) or 'g' (global).
	Scope string `json:"s"`

	ID     ID `json:"id"`
	BindID ID `json:"bind_id"`

	FlowIn  Flag `json:"flow_in"`
	FlowOut Flag `json:"flow_out"`
	// BindPoint of a flow end: "" or "e" (enclosing slice).
	BindPoint string `json:"bp"`

	StackFrame    ID       `json:"sf"`
	EndStackFrame ID       `json:"esf"`
	Stack         []string `json:"stack"`
	EndStack      []string `json:"estack"`

	ColorName   string `json:"cname"`
	UseAsyncTTS Flag   `json:"use_async_tts"`

	Args Args `json:"args"`
}

// Sample is an OS-profiler sample from the container's top-level samples
// array.
type Sample struct {
	CPU        *int64  `json:"cpu"`
	Tid        int64   `json:"tid"`
	Ts         float64 `json:"ts"`
	Name       string  `json:"name"`
	StackFrame ID      `json:"sf"`
	Weight     int64   `json:"weight"`
}

// StackFrameRecord is one entry of the container's stackFrames dictionary.
type StackFrameRecord struct {
	Parent     ID     `json:"parent"`
	Category   string `json:"category"`
	Name       string `json:"name"`
	SourceInfo string `json:"src"`
}
