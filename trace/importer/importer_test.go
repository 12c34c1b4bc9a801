package importer

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jillesme/bigrig/trace/model"
)

// noShift keeps raw timestamps so assertions can use the input values.
func noShift() Options {
	o := DefaultOptions()
	o.ShiftWorldToZero = false
	return o
}

func importJSON(t *testing.T, opts Options, s string) *model.Model {
	t.Helper()
	m, err := Import([]byte(s), opts)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func thread(t *testing.T, m *model.Model, pid, tid int64) *model.Thread {
	t.Helper()
	p, ok := m.Processes[pid]
	if !ok {
		t.Fatalf("no process %d", pid)
	}
	th, ok := p.Threads[tid]
	if !ok {
		t.Fatalf("no thread %d in process %d", tid, pid)
	}
	return th
}

func warningTypes(m *model.Model) []string {
	var out []string
	for _, w := range m.DistinctWarnings() {
		out = append(out, w.Type)
	}
	return out
}

func TestImportSimpleSlice(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"B","pid":1,"tid":1,"ts":0,"name":"a","cat":"c"},
		{"ph":"E","pid":1,"tid":1,"ts":10,"name":"a"}
	]`)
	th := thread(t, m, 1, 1)
	if len(th.SliceGroup.Slices) != 1 {
		t.Fatalf("got %d slices, want 1", len(th.SliceGroup.Slices))
	}
	s := th.SliceGroup.Slices[0]
	if s.Title != "a" || s.Category != "c" || s.Start != 0 {
		t.Errorf("slice = %+v", s)
	}
	if d, ok := s.Duration.Get(); !ok || d != 0.01 {
		t.Errorf("duration = %v %v, want 0.01", d, ok)
	}
	if s.DidNotFinish {
		t.Error("slice marked unfinished")
	}
	if len(m.ImportWarnings) != 0 {
		t.Errorf("warnings = %v", warningTypes(m))
	}
}

func TestImportAutoClosesOpenSlices(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"B","pid":1,"tid":1,"ts":0,"name":"a"},
		{"ph":"B","pid":1,"tid":1,"ts":5,"name":"b"},
		{"ph":"E","pid":1,"tid":1,"ts":8,"name":"b"}
	]`)
	th := thread(t, m, 1, 1)
	if len(th.SliceGroup.Slices) != 2 {
		t.Fatalf("got %d slices, want 2", len(th.SliceGroup.Slices))
	}
	outer, inner := th.SliceGroup.Slices[0], th.SliceGroup.Slices[1]
	if d, _ := inner.Duration.Get(); d != 0.003 {
		t.Errorf("inner duration = %v, want 0.003", d)
	}
	if d, _ := outer.Duration.Get(); d != m.Bounds.Max-outer.Start {
		t.Errorf("outer duration = %v, want closed at bounds max %v", d, m.Bounds.Max)
	}
	if !outer.DidNotFinish || inner.DidNotFinish {
		t.Error("DidNotFinish flags wrong")
	}
	if inner.Parent != outer {
		t.Error("inner not nested under outer")
	}
}

func TestImportTitleMismatchWarns(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"B","pid":1,"tid":1,"ts":0,"name":"a"},
		{"ph":"E","pid":1,"tid":1,"ts":10,"name":"z"}
	]`)
	want := []string{WarnTitleMatch}
	if diff := cmp.Diff(want, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
	if got := thread(t, m, 1, 1).SliceGroup.Slices[0].Title; got != "a" {
		t.Errorf("title = %q, want the opening event's", got)
	}
}

func TestImportArgMerge(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"B","pid":1,"tid":1,"ts":0,"name":"a","args":{"x":1}},
		{"ph":"E","pid":1,"tid":1,"ts":10,"name":"a","args":{"x":2,"y":3}}
	]`)
	s := thread(t, m, 1, 1).SliceGroup.Slices[0]
	if s.Args["x"] != float64(2) || s.Args["y"] != float64(3) {
		t.Errorf("args = %v", s.Args)
	}
	if diff := cmp.Diff([]string{WarnArgMerge}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportEndWithoutBegin(t *testing.T) {
	m := importJSON(t, noShift(), `[{"ph":"E","pid":1,"tid":1,"ts":10,"name":"a"}]`)
	if diff := cmp.Diff([]string{WarnDurationParse}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportBackwardTimestamps(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"B","pid":1,"tid":1,"ts":10,"name":"a"},
		{"ph":"B","pid":1,"tid":1,"ts":5,"name":"b"}
	]`)
	th := thread(t, m, 1, 1)
	if len(th.SliceGroup.Slices) != 1 || th.SliceGroup.Slices[0].Title != "a" {
		t.Fatalf("slices = %+v", th.SliceGroup.Slices)
	}
	if diff := cmp.Diff([]string{WarnDurationParse}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportCompleteEvent(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"X","pid":1,"tid":1,"ts":0,"dur":100,"name":"outer"},
		{"ph":"X","pid":1,"tid":1,"ts":10,"dur":20,"tdur":15,"tts":5,"name":"inner"}
	]`)
	th := thread(t, m, 1, 1)
	if len(th.SliceGroup.Slices) != 2 {
		t.Fatalf("got %d slices", len(th.SliceGroup.Slices))
	}
	inner := th.SliceGroup.Slices[1]
	if d, _ := inner.Duration.Get(); d != 0.02 {
		t.Errorf("duration = %v", d)
	}
	if td, ok := inner.ThreadDuration.Get(); !ok || td != 0.015 {
		t.Errorf("thread duration = %v %v", td, ok)
	}
	if len(th.SliceGroup.TopLevelSlices) != 1 {
		t.Errorf("top level = %v", th.SliceGroup.TopLevelSlices)
	}
}

func TestImportDropsTraceEventOverhead(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"X","pid":1,"tid":1,"ts":0,"dur":5,"cat":"trace_event_overhead","name":"overhead"}
	]`)
	if len(m.Processes) != 0 {
		t.Errorf("processes = %v", m.Processes)
	}
}

func TestImportShiftWorldToZero(t *testing.T) {
	m := importJSON(t, DefaultOptions(), `[
		{"ph":"X","pid":1,"tid":1,"ts":1000,"dur":100,"name":"a"}
	]`)
	s := thread(t, m, 1, 1).SliceGroup.Slices[0]
	if s.Start != 0 {
		t.Errorf("start = %v, want 0", s.Start)
	}
	if m.Bounds.Min != 0 || m.Bounds.Max != 0.1 {
		t.Errorf("bounds = %+v", m.Bounds)
	}
}

func TestImportInstantScopes(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"B","pid":1,"tid":1,"ts":0,"name":"keep"},
		{"ph":"E","pid":1,"tid":1,"ts":100,"name":"keep"},
		{"ph":"I","pid":1,"tid":1,"ts":5,"name":"t-scoped"},
		{"ph":"i","pid":1,"tid":1,"ts":6,"s":"p","name":"p-scoped"},
		{"ph":"R","pid":1,"tid":1,"ts":7,"s":"g","name":"g-scoped"},
		{"ph":"I","pid":1,"tid":1,"ts":8,"s":"q","name":"bad"}
	]`)
	th := thread(t, m, 1, 1)
	var instant *model.Slice
	for _, s := range th.SliceGroup.Slices {
		if s.Title == "t-scoped" {
			instant = s
		}
	}
	if instant == nil {
		t.Fatal("thread-scoped instant missing")
	}
	if d, ok := instant.Duration.Get(); !ok || d != 0 {
		t.Errorf("instant duration = %v %v", d, ok)
	}
	p := m.Processes[1]
	if len(p.InstantEvents) != 1 || p.InstantEvents[0].Title != "p-scoped" {
		t.Errorf("process instants = %+v", p.InstantEvents)
	}
	if len(m.InstantEvents) != 1 || m.InstantEvents[0].Title != "g-scoped" {
		t.Errorf("global instants = %+v", m.InstantEvents)
	}
	if diff := cmp.Diff([]string{WarnInstantParse}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportCounters(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"C","pid":1,"tid":1,"ts":0,"cat":"m","name":"mem","args":{"used":10,"free":5}},
		{"ph":"C","pid":1,"tid":1,"ts":10,"cat":"m","name":"mem","args":{"used":12}},
		{"ph":"C","pid":1,"tid":1,"ts":0,"cat":"m","name":"objects","id":7,"args":{"count":3}},
		{"ph":"C","pid":1,"tid":1,"ts":0,"cat":"m","name":"empty","args":{}}
	]`)
	p := m.Processes[1]
	ctr := p.Counters[model.CounterKey("m", "mem")]
	if ctr == nil {
		t.Fatal("counter mem missing")
	}
	if len(ctr.Series) != 2 || ctr.Series[0].Name != "free" || ctr.Series[1].Name != "used" {
		t.Fatalf("series = %+v", ctr.Series)
	}
	if diff := cmp.Diff([]float64{5, 0}, ctr.Series[0].Values); diff != "" {
		t.Errorf("free values (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{10, 12}, ctr.Series[1].Values); diff != "" {
		t.Errorf("used values (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 0.01}, ctr.Timestamps); diff != "" {
		t.Errorf("timestamps (-want +got):\n%s", diff)
	}
	if p.Counters[model.CounterKey("m", "objects[7]")] == nil {
		t.Error("id-suffixed counter missing")
	}
	if p.Counters[model.CounterKey("m", "empty")] != nil {
		t.Error("series-less counter not dropped")
	}
	if diff := cmp.Diff([]string{WarnCounterParse}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportMetadata(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"M","pid":1,"tid":1,"ts":0,"name":"process_name","args":{"name":"Browser"}},
		{"ph":"M","pid":1,"tid":1,"ts":0,"name":"process_labels","args":{"labels":"tab1,tab2"}},
		{"ph":"M","pid":1,"tid":1,"ts":0,"name":"process_sort_index","args":{"sort_index":-5}},
		{"ph":"M","pid":1,"tid":7,"ts":0,"name":"thread_name","args":{"name":"CrBrowserMain"}},
		{"ph":"M","pid":1,"tid":7,"ts":0,"name":"thread_sort_index","args":{"sort_index":2}},
		{"ph":"M","pid":1,"tid":1,"ts":0,"name":"num_cpus","args":{"number":4}},
		{"ph":"M","pid":1,"tid":1,"ts":0,"name":"num_cpus","args":{"number":8}},
		{"ph":"M","pid":1,"tid":1,"ts":0,"name":"num_cpus","args":{"number":2}},
		{"ph":"B","pid":1,"tid":7,"ts":0,"name":"keep"},
		{"ph":"E","pid":1,"tid":7,"ts":1,"name":"keep"}
	]`)
	p := m.Processes[1]
	if p.Name != "Browser" {
		t.Errorf("process name = %q", p.Name)
	}
	if diff := cmp.Diff([]string{"tab1", "tab2"}, p.Labels); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}
	if idx, ok := p.SortIndex.Get(); !ok || idx != -5 {
		t.Errorf("sort index = %v %v", idx, ok)
	}
	th := thread(t, m, 1, 7)
	if th.Name != "CrBrowserMain" {
		t.Errorf("thread name = %q", th.Name)
	}
	if idx, ok := th.SortIndex.Get(); !ok || idx != 2 {
		t.Errorf("thread sort index = %v %v", idx, ok)
	}
	if n, ok := m.Device.NumCPUs.Get(); !ok || n != 8 {
		t.Errorf("num cpus = %v %v, want the maximum reported", n, ok)
	}
}

func TestImportNestableAsync(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"b","pid":1,"tid":1,"ts":0,"cat":"net","id":"0x1","name":"request"},
		{"ph":"n","pid":1,"tid":1,"ts":5,"cat":"net","id":"0x1","name":"redirect"},
		{"ph":"e","pid":1,"tid":1,"ts":10,"cat":"net","id":"0x1","name":"request"}
	]`)
	th := thread(t, m, 1, 1)
	if len(th.AsyncSliceGroup.Slices) != 1 {
		t.Fatalf("got %d async slices", len(th.AsyncSliceGroup.Slices))
	}
	s := th.AsyncSliceGroup.Slices[0]
	if s.Title != "request" || s.Start != 0 || s.Duration != 0.01 {
		t.Errorf("slice = %+v", s)
	}
	if !s.IsTopLevel || s.Error != "" {
		t.Errorf("slice flags = %+v", s)
	}
	if len(s.SubSlices) != 1 || s.SubSlices[0].Title != "redirect" || s.SubSlices[0].Duration != 0 {
		t.Errorf("sub slices = %+v", s.SubSlices)
	}
}

func TestImportNestableAsyncUnmatched(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"b","pid":1,"tid":1,"ts":0,"cat":"net","id":"0x1","name":"leftopen"},
		{"ph":"e","pid":1,"tid":1,"ts":5,"cat":"net","id":"0x1","name":"neverbegun"}
	]`)
	th := thread(t, m, 1, 1)
	if len(th.AsyncSliceGroup.Slices) != 2 {
		t.Fatalf("got %d async slices", len(th.AsyncSliceGroup.Slices))
	}
	for _, s := range th.AsyncSliceGroup.Slices {
		if s.Error == "" {
			t.Errorf("slice %q has no error annotation", s.Title)
		}
	}
}

func TestImportLegacyAsync(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"S","pid":1,"tid":1,"ts":0,"cat":"c","id":7,"name":"q"},
		{"ph":"T","pid":1,"tid":1,"ts":5,"cat":"c","id":7,"name":"q","args":{"step":"a"}},
		{"ph":"F","pid":1,"tid":1,"ts":10,"cat":"c","id":7,"name":"q"}
	]`)
	th := thread(t, m, 1, 1)
	if len(th.AsyncSliceGroup.Slices) != 1 {
		t.Fatalf("got %d async slices", len(th.AsyncSliceGroup.Slices))
	}
	s := th.AsyncSliceGroup.Slices[0]
	if s.Title != "q" || s.Start != 0 || s.Duration != 0.01 {
		t.Errorf("slice = %+v", s)
	}
	if len(s.SubSlices) != 1 {
		t.Fatalf("sub slices = %+v", s.SubSlices)
	}
	sub := s.SubSlices[0]
	if sub.Title != "q:a" || sub.Start != 0 || sub.Duration != 0.005 {
		t.Errorf("sub = %+v", sub)
	}
}

func TestImportLegacyAsyncNeverFinished(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"S","pid":1,"tid":1,"ts":0,"cat":"c","id":7,"name":"q"}
	]`)
	if diff := cmp.Diff([]string{WarnAsyncSliceParse}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportFlowV1(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"B","pid":1,"tid":1,"ts":0,"name":"producer"},
		{"ph":"E","pid":1,"tid":1,"ts":10,"name":"producer"},
		{"ph":"B","pid":1,"tid":2,"ts":20,"name":"consumer"},
		{"ph":"E","pid":1,"tid":2,"ts":30,"name":"consumer"},
		{"ph":"s","pid":1,"tid":1,"ts":5,"id":"1","cat":"ipc","name":"msg"},
		{"ph":"f","pid":1,"tid":2,"ts":15,"id":"1","cat":"ipc","name":"msg"}
	]`)
	if len(m.FlowEvents) != 1 {
		t.Fatalf("got %d flow events", len(m.FlowEvents))
	}
	f := m.FlowEvents[0]
	if f.Title != "msg" || f.Start != 0.005 || f.End != 0.015 {
		t.Errorf("flow = %+v", f)
	}
	if f.StartSlice == nil || f.StartSlice.Title != "producer" {
		t.Errorf("start slice = %+v", f.StartSlice)
	}
	if f.EndSlice == nil || f.EndSlice.Title != "consumer" {
		t.Errorf("end slice = %+v", f.EndSlice)
	}
	if len(f.StartSlice.OutFlowEvents) != 1 || len(f.EndSlice.InFlowEvents) != 1 {
		t.Error("slice flow lists not wired")
	}
}

func TestImportFlowV2(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"X","pid":1,"tid":1,"ts":0,"dur":100,"name":"producer","bind_id":7,"flow_out":true},
		{"ph":"X","pid":1,"tid":2,"ts":200,"dur":50,"name":"consumer","bind_id":7,"flow_in":true}
	]`)
	if len(m.FlowEvents) != 1 {
		t.Fatalf("got %d flow events", len(m.FlowEvents))
	}
	f := m.FlowEvents[0]
	if f.ID != "7" || f.Start != 0 || f.End != 0.2 {
		t.Errorf("flow = %+v", f)
	}
	producer := thread(t, m, 1, 1).SliceGroup.Slices[0]
	consumer := thread(t, m, 1, 2).SliceGroup.Slices[0]
	if len(producer.OutFlowEvents) != 1 || producer.OutFlowEvents[0] != f {
		t.Error("producer outFlowEvents not wired")
	}
	if len(consumer.InFlowEvents) != 1 || consumer.InFlowEvents[0] != f {
		t.Error("consumer inFlowEvents not wired")
	}
}

func TestImportFlowV2MultipleConsumers(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"X","pid":1,"tid":1,"ts":0,"dur":10,"name":"producer","bind_id":"0xa","flow_out":true},
		{"ph":"X","pid":1,"tid":2,"ts":20,"dur":10,"name":"c1","bind_id":"0xa","flow_in":true},
		{"ph":"X","pid":1,"tid":3,"ts":40,"dur":10,"name":"c2","bind_id":"0xa","flow_in":true}
	]`)
	if len(m.FlowEvents) != 2 {
		t.Fatalf("got %d flow events, want one per consumer", len(m.FlowEvents))
	}
	producer := thread(t, m, 1, 1).SliceGroup.Slices[0]
	if len(producer.OutFlowEvents) != 2 {
		t.Errorf("producer out flows = %d", len(producer.OutFlowEvents))
	}
}

func TestImportObjects(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"N","pid":1,"tid":1,"ts":0,"id":"x","name":"Foo"},
		{"ph":"O","pid":1,"tid":1,"ts":1,"id":"x","name":"Foo","args":{"snapshot":{"id":"Bar/y","field":42}}},
		{"ph":"D","pid":1,"tid":1,"ts":2,"id":"x","name":"Foo"}
	]`)
	p := m.Processes[1]
	insts := p.Objects.AllInstances()
	if len(insts) != 2 {
		t.Fatalf("got %d instances, want 2", len(insts))
	}
	bar, foo := insts[0], insts[1]
	if foo.Name != "Foo" || foo.CreationTs != 0 || foo.DeletionTs != 0.002 || !foo.DeletionExplicit {
		t.Errorf("foo = %+v", foo)
	}
	if bar.Name != "Bar" || bar.ID != "Bar/y" || !bar.ImplicitlyCreated || bar.CreationTs != 0.001 {
		t.Errorf("bar = %+v", bar)
	}
	if len(foo.Snapshots) != 1 || len(bar.Snapshots) != 1 {
		t.Fatalf("snapshots: foo=%d bar=%d", len(foo.Snapshots), len(bar.Snapshots))
	}
	if bar.Snapshots[0].Args["field"] != float64(42) {
		t.Errorf("bar snapshot args = %v", bar.Snapshots[0].Args)
	}
	ref, ok := foo.Snapshots[0].Args["snapshot"].(*model.ObjectSnapshot)
	if !ok || ref != bar.Snapshots[0] {
		t.Errorf("foo snapshot args = %v", foo.Snapshots[0].Args)
	}
	if bar.Alive() {
		t.Error("implicit instance not closed at import end")
	}
}

func TestImportObjectSnapshotControlKeys(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"O","pid":1,"tid":1,"ts":5,"id":"0x1","name":"Layer","cat":"cc","args":{"snapshot":{"cat":"cc2","base_type":"cc::Layer","w":7}}}
	]`)
	insts := m.Processes[1].Objects.AllInstances()
	if len(insts) != 1 {
		t.Fatalf("instances = %+v", insts)
	}
	inst := insts[0]
	if inst.Category != "cc2" || inst.BaseType != "cc::Layer" {
		t.Errorf("instance = %+v", inst)
	}
	args := inst.Snapshots[0].Args
	if _, ok := args["cat"]; ok {
		t.Error("cat control key kept in args")
	}
	if _, ok := args["base_type"]; ok {
		t.Error("base_type control key kept in args")
	}
	if args["w"] != float64(7) {
		t.Errorf("args = %v", args)
	}
}

func TestImportSamplesFromContainer(t *testing.T) {
	m := importJSON(t, noShift(), `{
		"traceEvents": [
			{"ph":"B","pid":1,"tid":7,"ts":0,"name":"work"},
			{"ph":"E","pid":1,"tid":7,"ts":10,"name":"work"}
		],
		"samples": [
			{"cpu":2,"tid":7,"ts":5,"name":"cycles","sf":"1","weight":3},
			{"tid":999,"ts":6,"name":"cycles","sf":"1","weight":1}
		],
		"stackFrames": {"1":{"name":"main"}}
	}`)
	if len(m.Samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(m.Samples))
	}
	s := m.Samples[0]
	if s.Title != "cycles" || s.Ts != 0.005 || s.Weight != 3 || s.CPU != 2 {
		t.Errorf("sample = %+v", s)
	}
	if s.LeafFrame == nil || s.LeafFrame.Title != "main" {
		t.Errorf("leaf frame = %+v", s.LeafFrame)
	}
	if diff := cmp.Diff([]string{WarnSampleImport}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportSampleEvents(t *testing.T) {
	m := importJSON(t, noShift(), `{
		"traceEvents": [{"ph":"P","pid":1,"tid":1,"ts":50,"name":"tick","sf":"1"}],
		"stackFrames": {"1":{"category":"libc","name":"main"}}
	}`)
	if len(m.Samples) != 1 {
		t.Fatalf("got %d samples", len(m.Samples))
	}
	s := m.Samples[0]
	if s.Weight != 1 || s.CPU != -1 || s.Ts != 0.05 {
		t.Errorf("sample = %+v", s)
	}
	if s.LeafFrame == nil || s.LeafFrame.Title != "libc:main" {
		t.Errorf("leaf frame = %+v", s.LeafFrame)
	}
	// A thread whose only events are samples must survive pruning.
	th := thread(t, m, 1, 1)
	if len(th.Samples) != 1 || th.Samples[0] != s {
		t.Errorf("thread samples = %+v", th.Samples)
	}
}

func TestImportSampleEventUnknownFrame(t *testing.T) {
	m := importJSON(t, noShift(), `{
		"traceEvents": [{"ph":"P","pid":1,"tid":1,"ts":50,"name":"tick","sf":"99"}],
		"stackFrames": {"1":{"name":"main"}}
	}`)
	if len(m.Samples) != 1 {
		t.Fatalf("got %d samples", len(m.Samples))
	}
	if m.Samples[0].LeafFrame != nil {
		t.Errorf("leaf frame = %+v, want nil", m.Samples[0].LeafFrame)
	}
	if diff := cmp.Diff([]string{WarnSampleImport}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportStackFrameParents(t *testing.T) {
	m := importJSON(t, noShift(), `{
		"traceEvents": [{"ph":"P","pid":1,"tid":1,"ts":0,"name":"tick","sf":"2"}],
		"stackFrames": {
			"1": {"name":"main"},
			"2": {"name":"render","parent":"1"}
		}
	}`)
	child := m.StackFrames["g2"]
	if child == nil || child.Parent != m.StackFrames["g1"] {
		t.Fatalf("frame parents not linked: %+v", child)
	}
	if m.StackFrames["g1"].Parent != nil {
		t.Error("root frame has a parent")
	}
}

func TestImportMemoryDumps(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"v","pid":1,"tid":1,"ts":10,"id":"abc","args":{"dumps":{
			"level_of_detail":"detailed",
			"process_totals":{"resident_set_bytes":"0x1000"},
			"process_mmaps":{"vm_regions":[{"sa":"400000","sz":"1000","pf":5,"mf":"/lib/x.so","bs":{"pc":"10","pd":"20","sw":"0"}}]},
			"allocators":{
				"global/shared":{"guid":"g1","attrs":{"size":{"type":"scalar","units":"bytes","value":"100"}}},
				"malloc":{"guid":"m1","attrs":{}},
				"malloc/allocated_objects":{"guid":"m2","attrs":{}}
			},
			"allocators_graph":[{"source":"m1","target":"g1","type":"ownership","importance":2}]
		}}},
		{"ph":"v","pid":2,"tid":1,"ts":20,"id":"abc","args":{"dumps":{
			"level_of_detail":"light",
			"process_totals":{"resident_set_bytes":"0x2000","peak_resident_set_bytes":"0x3000","is_peak_rss_resetable":true},
			"allocators":{"global/shared":{"guid":"g1","attrs":{}}}
		}}},
		{"ph":"V","pid":1,"tid":1,"ts":15,"id":"abc"}
	]`)
	if len(m.GlobalMemoryDumps) != 1 {
		t.Fatalf("got %d global dumps", len(m.GlobalMemoryDumps))
	}
	gmd := m.GlobalMemoryDumps[0]
	if gmd.Start != 0.01 || gmd.Duration != 0.01 {
		t.Errorf("global dump range = %v + %v", gmd.Start, gmd.Duration)
	}
	if gmd.LevelOfDetail != model.LevelDetailed {
		t.Errorf("level = %v", gmd.LevelOfDetail)
	}
	if len(gmd.ProcessDumps) != 2 {
		t.Fatalf("got %d process dumps", len(gmd.ProcessDumps))
	}

	pmd1 := gmd.ProcessDumps[0]
	if pmd1.Totals == nil || pmd1.Totals.ResidentBytes != 0x1000 {
		t.Errorf("pmd1 totals = %+v", pmd1.Totals)
	}
	if len(pmd1.VMRegions) != 1 {
		t.Fatalf("vm regions = %+v", pmd1.VMRegions)
	}
	r := pmd1.VMRegions[0]
	if r.StartAddress != 0x400000 || r.SizeInBytes != 0x1000 || r.ProtectionFlags != 5 || r.MappedFile != "/lib/x.so" {
		t.Errorf("region = %+v", r)
	}
	if r.ByteStats.PrivateCleanResident != 0x10 || r.ByteStats.PrivateDirtyResident != 0x20 {
		t.Errorf("byte stats = %+v", r.ByteStats)
	}

	pmd2 := gmd.ProcessDumps[1]
	if pmd2.Totals == nil || pmd2.Totals.ResidentBytes != 0x2000 {
		t.Fatalf("pmd2 totals = %+v", pmd2.Totals)
	}
	if peak, ok := pmd2.Totals.PeakResidentBytes.Get(); !ok || peak != 0x3000 || !pmd2.Totals.ArePeakResidentBytesResettable {
		t.Errorf("pmd2 peak = %+v", pmd2.Totals)
	}

	shared, ok := gmd.AllocatorDump("shared")
	if !ok || shared.GUID != "g1" {
		t.Fatalf("global shared dump = %+v", shared)
	}
	if shared.Attributes["size"] == nil || shared.Attributes["size"].Value != "100" {
		t.Errorf("shared attrs = %+v", shared.Attributes)
	}

	malloc, ok := pmd1.AllocatorDump("malloc")
	if !ok {
		t.Fatal("malloc dump missing")
	}
	objects, _ := pmd1.AllocatorDump("malloc/allocated_objects")
	if objects == nil || objects.Parent != malloc {
		t.Errorf("allocator tree not linked: %+v", objects)
	}
	if malloc.Owns == nil || malloc.Owns.Target != shared || malloc.Owns.Importance != 2 {
		t.Errorf("ownership edge = %+v", malloc.Owns)
	}
	if len(shared.OwnedBy) != 1 {
		t.Errorf("owned by = %+v", shared.OwnedBy)
	}

	// The "differing levels of detail" warning fires because the two process
	// dumps disagree.
	if diff := cmp.Diff([]string{WarnMemoryDumpParse}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportMemoryDumpWithoutGlobal(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"v","pid":1,"tid":1,"ts":10,"id":"abc","args":{"dumps":{"process_totals":{"resident_set_bytes":"0x1000"}}}}
	]`)
	if len(m.GlobalMemoryDumps) != 0 {
		t.Errorf("dumps = %+v", m.GlobalMemoryDumps)
	}
	if diff := cmp.Diff([]string{WarnMemoryDumpParse}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportHeapDumps(t *testing.T) {
	m := importJSON(t, noShift(), `[
		{"ph":"v","pid":1,"tid":1,"ts":10,"id":"d1","args":{"dumps":{
			"process_totals":{"resident_set_bytes":"0x1000"},
			"stackFrames":{"1":{"name":"alloc"},"2":{"name":"child","parent":"1"}},
			"heaps":{"malloc":{"entries":[{"bt":"2","size":"20"},{"bt":"","size":"10"},{"bt":"99","size":"1"}]}}
		}}},
		{"ph":"V","pid":1,"tid":1,"ts":10,"id":"d1"}
	]`)
	if len(m.GlobalMemoryDumps) != 1 {
		t.Fatalf("dumps = %+v", m.GlobalMemoryDumps)
	}
	pmd := m.GlobalMemoryDumps[0].ProcessDumps[0]
	hd := pmd.HeapDumps["malloc"]
	if hd == nil {
		t.Fatal("heap dump missing")
	}
	if len(hd.Entries) != 2 {
		t.Fatalf("entries = %+v", hd.Entries)
	}
	if hd.Entries[0].Size != 0x20 || hd.Entries[0].LeafFrame == nil || hd.Entries[0].LeafFrame.Title != "child" {
		t.Errorf("entry 0 = %+v", hd.Entries[0])
	}
	if hd.Entries[1].LeafFrame != nil {
		t.Errorf("entry without bt should have no frame: %+v", hd.Entries[1])
	}
	if m.StackFrames["p1:2"].Parent != m.StackFrames["p1:1"] {
		t.Error("heap frame parents not linked")
	}
	if diff := cmp.Diff([]string{WarnMemoryDumpParse}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportDisplayTimeUnit(t *testing.T) {
	m := importJSON(t, noShift(), `{"traceEvents":[],"displayTimeUnit":"ns"}`)
	if unit, ok := m.IntrinsicTimeUnit(); !ok || unit != "ns" {
		t.Errorf("unit = %q %v", unit, ok)
	}
}

func TestImportContainerExtras(t *testing.T) {
	m := importJSON(t, noShift(), `{
		"traceEvents": [],
		"systemTraceEvents": "ftrace text",
		"battorLogAsString": "battor text",
		"traceAnnotations": {"note":"x"},
		"highres-ticks": true,
		"customKey": {"a":1}
	}`)
	if m.SystemTraceEvents != "ftrace text" || m.BattorLogAsString != "battor text" {
		t.Error("raw text payloads not retained")
	}
	if m.Annotations["note"] != "x" {
		t.Errorf("annotations = %v", m.Annotations)
	}
	if !m.IsTimeHighResolution {
		t.Error("highres-ticks not applied")
	}
	if len(m.Metadata) != 1 || m.Metadata[0].Name != "customKey" {
		t.Errorf("metadata = %+v", m.Metadata)
	}
	if len(m.ClockSyncRecords) != 1 || m.ClockSyncRecords[0].Name != "ftrace_importer" {
		t.Errorf("clock sync records = %+v", m.ClockSyncRecords)
	}
}

func TestImportUnknownPhaseWarns(t *testing.T) {
	m := importJSON(t, noShift(), `[{"ph":"Z","pid":1,"tid":1,"ts":0,"name":"weird"}]`)
	if diff := cmp.Diff([]string{WarnParse}, warningTypes(m)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestImportDeterministicAcrossRuns(t *testing.T) {
	const in = `[
		{"ph":"X","pid":1,"tid":1,"ts":0,"dur":10,"name":"a","args":{"z":1,"a":2,"m":{"k":1,"b":2}}},
		{"ph":"C","pid":1,"tid":1,"ts":0,"name":"ctr","args":{"x":1,"y":2,"z":3}},
		{"ph":"s","pid":1,"tid":1,"ts":5,"id":"1","name":"f"},
		{"ph":"f","pid":1,"tid":1,"ts":5,"id":"1","name":"f"}
	]`
	a := importJSON(t, noShift(), in)
	b := importJSON(t, noShift(), in)
	if len(a.ImportWarnings) != len(b.ImportWarnings) {
		t.Fatal("warning counts differ between runs")
	}
	for i := range a.ImportWarnings {
		if a.ImportWarnings[i] != b.ImportWarnings[i] {
			t.Fatalf("warning %d differs: %+v vs %+v", i, a.ImportWarnings[i], b.ImportWarnings[i])
		}
	}
	ca := a.Processes[1].Counters[model.CounterKey("", "ctr")]
	cb := b.Processes[1].Counters[model.CounterKey("", "ctr")]
	for i := range ca.Series {
		if ca.Series[i].Name != cb.Series[i].Name {
			t.Fatalf("series order differs at %d", i)
		}
	}
}
