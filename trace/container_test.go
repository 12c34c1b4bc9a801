package trace

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseBareArray(t *testing.T) {
	c, err := ParseString(`[{"name":"a","cat":"c","ph":"B","pid":1,"tid":2,"ts":10}]`)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(c.Events))
	}
	want := Event{Name: "a", Cat: "c", Phase: PhaseBegin, Pid: 1, Tid: 2, Ts: 10}
	if diff := cmp.Diff(want, c.Events[0]); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRepairsTruncatedArray(t *testing.T) {
	inputs := []string{
		`[{"name":"a","ph":"B","pid":1,"tid":1,"ts":1},{"name":"b","ph":"E","pid":1,"tid":1,"ts":2}`,
		`[{"name":"a","ph":"B","pid":1,"tid":1,"ts":1},{"name":"b","ph":"E","pid":1,"tid":1,"ts":2},`,
		"[{\"name\":\"a\",\"ph\":\"B\",\"pid\":1,\"tid\":1,\"ts\":1},{\"name\":\"b\",\"ph\":\"E\",\"pid\":1,\"tid\":1,\"ts\":2},\n",
	}
	for _, in := range inputs {
		c, err := ParseString(in)
		if err != nil {
			t.Fatalf("input %q: %v", in, err)
		}
		if len(c.Events) != 2 {
			t.Errorf("input %q: got %d events, want 2", in, len(c.Events))
		}
	}
}

func TestParseContainerObject(t *testing.T) {
	c, err := ParseString(`{
		"traceEvents": [{"name":"a","ph":"X","pid":1,"tid":1,"ts":5,"dur":3}],
		"samples": [{"cpu":0,"tid":1,"ts":7,"name":"cycles","sf":"1","weight":2}],
		"stackFrames": {"1":{"category":"libc","name":"main","parent":"0"}},
		"displayTimeUnit": "ns",
		"systemTraceEvents": "ftrace goes here",
		"battorLogAsString": "battor",
		"traceAnnotations": {"note": "x"},
		"zmeta": 1,
		"ameta": true
	}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Events) != 1 || c.Events[0].Dur == nil || *c.Events[0].Dur != 3 {
		t.Fatalf("unexpected events: %+v", c.Events)
	}
	if len(c.Samples) != 1 || c.Samples[0].Name != "cycles" || c.Samples[0].Weight != 2 {
		t.Fatalf("unexpected samples: %+v", c.Samples)
	}
	if f, ok := c.StackFrames["1"]; !ok || f.Name != "main" || f.Category != "libc" || f.Parent != "0" {
		t.Fatalf("unexpected stack frames: %+v", c.StackFrames)
	}
	if c.DisplayTimeUnit != DisplayUnitNs {
		t.Errorf("displayTimeUnit = %q, want ns", c.DisplayTimeUnit)
	}
	if c.SystemTraceEvents != "ftrace goes here" || c.BattorLogAsString != "battor" {
		t.Errorf("system/battor text not retained")
	}
	if c.Annotations["note"] != "x" {
		t.Errorf("annotations = %+v", c.Annotations)
	}
	wantMeta := []Metadata{{Name: "ameta", Value: true}, {Name: "zmeta", Value: float64(1)}}
	if diff := cmp.Diff(wantMeta, c.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsUnknownTimeUnit(t *testing.T) {
	_, err := ParseString(`{"traceEvents":[],"displayTimeUnit":"fortnights"}`)
	if !errors.Is(err, ErrTimeUnit) {
		t.Fatalf("got %v, want ErrTimeUnit", err)
	}
}

func TestParseRejectsNonTrace(t *testing.T) {
	for _, in := range []string{"", "   ", "hello", "42"} {
		if _, err := ParseString(in); !errors.Is(err, ErrNotATrace) {
			t.Errorf("input %q: got %v, want ErrNotATrace", in, err)
		}
	}
}

func TestParseCollectsMalformedRecords(t *testing.T) {
	c, err := ParseString(`[{"name":"ok","ph":"B","pid":1,"tid":1,"ts":1},{"ph":"B","ts":"not a number"},{"name":"ok2","ph":"E","pid":1,"tid":1,"ts":2}]`)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Events) != 2 {
		t.Errorf("got %d events, want 2", len(c.Events))
	}
	if len(c.Malformed) != 1 || c.Malformed[0].Index != 1 {
		t.Fatalf("malformed = %+v", c.Malformed)
	}
}

func TestIDUnmarshal(t *testing.T) {
	c, err := ParseString(`[
		{"name":"a","ph":"N","pid":1,"tid":1,"ts":1,"id":"0x100"},
		{"name":"b","ph":"N","pid":1,"tid":1,"ts":2,"id":7},
		{"name":"c","ph":"N","pid":1,"tid":1,"ts":3,"id":"7"},
		{"name":"d","ph":"N","pid":1,"tid":1,"ts":4,"id":null}
	]`)
	if err != nil {
		t.Fatal(err)
	}
	got := []ID{c.Events[0].ID, c.Events[1].ID, c.Events[2].ID, c.Events[3].ID}
	want := []ID{"0x100", "7", "7", ""}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if !c.Events[3].ID.Empty() {
		t.Error("null id should be empty")
	}
}

func TestFlagUnmarshal(t *testing.T) {
	c, err := ParseString(`[
		{"name":"a","ph":"X","pid":1,"tid":1,"ts":1,"flow_out":true,"flow_in":0},
		{"name":"b","ph":"X","pid":1,"tid":1,"ts":2,"flow_out":1,"flow_in":false}
	]`)
	if err != nil {
		t.Fatal(err)
	}
	for i, ev := range c.Events {
		if !bool(ev.FlowOut) || bool(ev.FlowIn) {
			t.Errorf("event %d: flow_out=%v flow_in=%v", i, ev.FlowOut, ev.FlowIn)
		}
	}
}

func TestArgsUnmarshal(t *testing.T) {
	c, err := ParseString(`[
		{"name":"a","ph":"B","pid":1,"tid":1,"ts":1,"args":{"x":1,"nested":{"y":"z"}}},
		{"name":"b","ph":"B","pid":1,"tid":1,"ts":2,"args":"__stripped__"},
		{"name":"c","ph":"B","pid":1,"tid":1,"ts":3,"args":null}
	]`)
	if err != nil {
		t.Fatal(err)
	}
	if c.Events[0].Args.Map["x"] != float64(1) {
		t.Errorf("args.x = %v", c.Events[0].Args.Map["x"])
	}
	if !c.Events[1].Args.Stripped || c.Events[1].Args.Map != nil {
		t.Errorf("stripped args = %+v", c.Events[1].Args)
	}
	if c.Events[2].Args.Stripped || c.Events[2].Args.Map != nil {
		t.Errorf("null args = %+v", c.Events[2].Args)
	}
}

func TestArgsRejectsArbitraryString(t *testing.T) {
	c, err := ParseString(`[{"name":"a","ph":"B","pid":1,"tid":1,"ts":1,"args":"oops"}]`)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Malformed) != 1 {
		t.Fatalf("malformed = %+v", c.Malformed)
	}
}

func TestCanImport(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  bool
	}{
		{"serialized array", `[{"ph":"B"}]`, true},
		{"serialized object", []byte(`{"traceEvents":[]}`), true},
		{"plain text", "not a trace", false},
		{"decoded events", []any{map[string]any{"ph": "B"}}, true},
		{"decoded non-events", []any{map[string]any{"x": 1}}, false},
		{"empty array", []any{}, false},
		{"container with events", map[string]any{"traceEvents": []any{map[string]any{"ph": "X"}}}, true},
		{"container with samples and frames", map[string]any{"samples": []any{}, "stackFrames": map[string]any{}}, true},
		{"container with neither", map[string]any{"other": 1}, false},
		{"parsed container", &Container{}, true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := CanImport(tt.input); got != tt.want {
			t.Errorf("%s: CanImport = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func FuzzParse(f *testing.F) {
	f.Add([]byte(`[{"ph":"B","pid":1,"tid":1,"ts":0,"name":"a"}]`))
	f.Add([]byte(`{"traceEvents":[],"displayTimeUnit":"ns"}`))
	f.Add([]byte(`[{"ph":"X","ts":1,"dur":2},`))
	f.Add([]byte(`{"stackFrames":{"1":{"name":"main"}},"samples":[]}`))
	f.Add([]byte(`not a trace`))

	f.Fuzz(func(t *testing.T, in []byte) {
		// Parsing must terminate without crashing on arbitrary input.
		Parse(in)
	})
}
