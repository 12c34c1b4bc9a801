// Package importer assembles a decoded trace container into a model. The
// dispatcher routes each record to a per-phase handler during ImportEvents;
// async, flow and object records are buffered and drained in timestamp order
// during FinalizeImport, followed by memory dump assembly and the finalizer
// passes.
package importer

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	xslices "golang.org/x/exp/slices"

	"github.com/jillesme/bigrig/container"
	"github.com/jillesme/bigrig/mem"
	"github.com/jillesme/bigrig/trace"
	"github.com/jillesme/bigrig/trace/model"
)

// Warning kinds emitted during import. The model retains every warning and
// deduplicates by kind for user-facing logging.
const (
	WarnDurationParse      = "duration_parse_error"
	WarnTitleMatch         = "title_match_error"
	WarnArgMerge           = "arg_merge_error"
	WarnAsyncSliceParse    = "async_slice_parse_error"
	WarnFlowSliceParse     = "flow_slice_parse_error"
	WarnFlowSliceStart     = "flow_slice_start_error"
	WarnFlowSliceEnd       = "flow_slice_end_error"
	WarnFlowSliceOrdering  = "flow_slice_ordering_error"
	WarnFlowSliceBindPoint = "flow_slice_bind_point_error"
	WarnCounterParse       = "counter_parse_error"
	WarnObjectParse        = "object_parse_error"
	WarnObjectSnapshot     = "object_snapshot_parse_error"
	WarnMemoryDumpParse    = "memory_dump_parse_error"
	WarnMetadataParse      = "metadata_parse_error"
	WarnStackFrameAndStack = "stack_frame_and_stack_error"
	WarnSampleImport       = "sample_import_error"
	WarnInstantParse       = "instant_parse_error"
	WarnAnnotation         = "annotation_warning"
	WarnParse              = "parse_error"
)

// Options control the finalizer passes.
type Options struct {
	// ShiftWorldToZero translates the finished model so its earliest
	// timestamp is zero.
	ShiftWorldToZero bool
	// PruneEmptyContainers drops threads and processes that recorded no
	// events.
	PruneEmptyContainers bool
}

func DefaultOptions() Options {
	return Options{
		ShiftWorldToZero:     true,
		PruneEmptyContainers: true,
	}
}

// queuedEvent is a dispatched record held back for ordered processing. seq is
// the record's position in the input array and breaks timestamp ties.
type queuedEvent struct {
	seq int
	ev  *trace.Event
	// slice is set on flow entries that came from a complete event with a
	// bind id.
	slice *model.Slice
}

// memoryDumpGroup collects the dump events sharing one id.
type memoryDumpGroup struct {
	global    *trace.Event
	processes []*trace.Event
}

// Importer drives one import run over a single model.
type Importer struct {
	model *model.Model
	opts  Options

	asyncEvents  mem.BucketSlice[queuedEvent]
	flowEvents   mem.BucketSlice[queuedEvent]
	objectEvents mem.BucketSlice[queuedEvent]

	memoryDumps   map[string]*memoryDumpGroup
	memoryDumpIDs []string
}

func New(m *model.Model, opts Options) *Importer {
	return &Importer{
		model:       m,
		opts:        opts,
		memoryDumps: make(map[string]*memoryDumpGroup),
	}
}

// Import parses and imports a serialized trace in one step.
func Import(data []byte, opts Options) (*model.Model, error) {
	c, err := trace.Parse(data)
	if err != nil {
		return nil, err
	}
	return ImportContainer(c, opts)
}

// ImportContainer assembles a decoded container into a fresh model.
func ImportContainer(c *trace.Container, opts Options) (*model.Model, error) {
	m := model.NewModel()
	imp := New(m, opts)
	if err := imp.ImportEvents(c); err != nil {
		return nil, err
	}
	if err := imp.FinalizeImport(); err != nil {
		return nil, err
	}
	return m, nil
}

// ms converts an input timestamp in microseconds to model milliseconds.
func ms(us float64) float64 {
	return us / 1000
}

// ImportEvents dispatches every record of the container. Deferred records are
// drained later by FinalizeImport.
func (i *Importer) ImportEvents(c *trace.Container) error {
	for _, rec := range c.Malformed {
		i.warn(WarnParse, fmt.Sprintf("Malformed event record at index %d: %v.", rec.Index, rec.Err))
	}

	if c.DisplayTimeUnit != "" {
		if err := i.model.SetIntrinsicTimeUnit(c.DisplayTimeUnit); err != nil {
			return err
		}
	}
	i.model.SystemTraceEvents = c.SystemTraceEvents
	i.model.BattorLogAsString = c.BattorLogAsString

	i.importAnnotations(c.Annotations)
	for _, md := range c.Metadata {
		if md.Name == "highres-ticks" {
			if b, ok := md.Value.(bool); ok {
				i.model.IsTimeHighResolution = b
				continue
			}
		}
		i.model.Metadata = append(i.model.Metadata, model.MetadataEntry{Name: md.Name, Value: md.Value})
	}

	if err := i.importStackFrames(c.StackFrames, "g", false); err != nil {
		return err
	}

	for idx := range c.Events {
		if err := i.importEvent(idx, &c.Events[idx]); err != nil {
			return err
		}
	}

	i.importSamples(c.Samples)

	i.model.ClockSyncRecords = append(i.model.ClockSyncRecords, model.ClockSyncRecord{
		Name: "ftrace_importer",
		Ts:   0,
	})
	return nil
}

func (i *Importer) importAnnotations(anns map[string]any) {
	for _, k := range sortedKeys(anns) {
		v := anns[k]
		if v == nil {
			i.warn(WarnAnnotation, fmt.Sprintf("Annotation %q has no value.", k))
			continue
		}
		i.model.Annotations[k] = v
	}
}

// sortedKeys returns the map's keys in sorted order, so that every pass over
// a dynamic bag is deterministic across runs.
func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	xslices.Sort(keys)
	return keys
}

func (i *Importer) importEvent(seq int, ev *trace.Event) error {
	switch ev.Phase {
	case trace.PhaseBegin:
		i.processBeginEvent(ev)
	case trace.PhaseEnd:
		i.processEndEvent(ev)
	case trace.PhaseComplete:
		i.processCompleteEvent(seq, ev)
	case trace.PhaseInstant, trace.PhaseInstantDeprecated, trace.PhaseMark:
		return i.processInstantEvent(ev)
	case trace.PhaseNestableBegin, trace.PhaseNestableInstant, trace.PhaseNestableEnd,
		trace.PhaseAsyncBegin, trace.PhaseAsyncStepInto, trace.PhaseAsyncStepPast, trace.PhaseAsyncEnd:
		i.asyncEvents.Append(queuedEvent{seq: seq, ev: ev})
	case trace.PhaseFlowStart, trace.PhaseFlowStep, trace.PhaseFlowEnd:
		i.flowEvents.Append(queuedEvent{seq: seq, ev: ev})
	case trace.PhaseCounter:
		i.processCounterEvent(ev)
	case trace.PhaseMetadata:
		i.processMetadataEvent(ev)
	case trace.PhaseCreateObject, trace.PhaseSnapshotObject, trace.PhaseDeleteObject:
		i.objectEvents.Append(queuedEvent{seq: seq, ev: ev})
	case trace.PhaseSample:
		i.processSampleEvent(ev)
	case trace.PhaseMemoryDumpProcess, trace.PhaseMemoryDumpGlobal:
		i.processMemoryDumpEvent(ev)
	default:
		i.warn(WarnParse, fmt.Sprintf("Unknown event phase %q.", ev.Phase))
	}
	return nil
}

func (i *Importer) warn(kind, message string) {
	i.model.AddWarning(kind, message)
}

func (i *Importer) process(ev *trace.Event) *model.Process {
	return i.model.GetOrCreateProcess(ev.Pid)
}

func (i *Importer) thread(ev *trace.Event) *model.Thread {
	return i.process(ev).GetOrCreateThread(ev.Tid)
}

// eventArgs deep-copies the record's argument bag into the model's dynamic
// representation.
func eventArgs(ev *trace.Event) model.Args {
	if ev.Args.Map == nil {
		return nil
	}
	return model.Args(ev.Args.Map).DeepCopy()
}

// eventColorID reserves a color id from cname when the producer pinned one,
// else from the given name.
func eventColorID(ev *trace.Event, name string) uint32 {
	if ev.ColorName != "" {
		return model.StringColorID(ev.ColorName)
	}
	return model.StringColorID(name)
}

func threadTime(v *float64) container.Option[float64] {
	if v == nil {
		return container.None[float64]()
	}
	return container.Some(ms(*v))
}

func (i *Importer) processBeginEvent(ev *trace.Event) {
	t := i.thread(ev)
	if !t.SliceGroup.ObserveTimestamp(ms(ev.Ts)) {
		i.warn(WarnDurationParse, "Timestamps are moving backward.")
		return
	}
	s := &model.Slice{
		Category:        ev.Cat,
		Title:           ev.Name,
		ColorID:         eventColorID(ev, ev.Name),
		Start:           ms(ev.Ts),
		Args:            eventArgs(ev),
		ArgsStripped:    ev.Args.Stripped,
		ThreadStart:     threadTime(ev.Tts),
		StartStackFrame: i.stackFrameForEvent(ev, false),
	}
	t.SliceGroup.BeginSlice(s)
}

func (i *Importer) processEndEvent(ev *trace.Event) {
	t := i.thread(ev)
	if !t.SliceGroup.ObserveTimestamp(ms(ev.Ts)) {
		i.warn(WarnDurationParse, "Timestamps are moving backward.")
		return
	}
	if t.SliceGroup.OpenSliceCount() == 0 {
		i.warn(WarnDurationParse, "E phase event without a matching B phase event.")
		return
	}
	s := t.SliceGroup.EndSlice(ms(ev.Ts), threadTime(ev.Tts))
	s.EndStackFrame = i.stackFrameForEvent(ev, true)
	if ev.Args.Stripped {
		s.ArgsStripped = true
	}
	if endArgs := eventArgs(ev); len(endArgs) > 0 {
		if s.Args == nil {
			s.Args = model.Args{}
		}
		for _, k := range sortedKeys(endArgs) {
			if _, exists := s.Args[k]; exists {
				i.warn(WarnArgMerge, fmt.Sprintf(
					"Both the B and E phases of %s provided values for argument %s. The E phase value will be used.",
					s.Title, k))
			}
			s.Args[k] = endArgs[k]
		}
	}
	if ev.Name != "" && s.Title != ev.Name {
		i.warn(WarnTitleMatch, fmt.Sprintf(
			"Titles do not match. Title is %s in opening event, %s in closing event.",
			s.Title, ev.Name))
	}
}

func (i *Importer) processCompleteEvent(seq int, ev *trace.Event) {
	// Counting the tracing machinery's own overhead is a recording artifact,
	// not trace content.
	if strings.Contains(ev.Cat, "trace_event_overhead") {
		return
	}
	t := i.thread(ev)
	dur := 0.0
	if ev.Dur != nil {
		dur = ms(*ev.Dur)
	}
	s := &model.Slice{
		Category:        ev.Cat,
		Title:           ev.Name,
		ColorID:         eventColorID(ev, ev.Name),
		Start:           ms(ev.Ts),
		Duration:        container.Some(dur),
		Args:            eventArgs(ev),
		ArgsStripped:    ev.Args.Stripped,
		ThreadStart:     threadTime(ev.Tts),
		StartStackFrame: i.stackFrameForEvent(ev, false),
		EndStackFrame:   i.stackFrameForEvent(ev, true),
	}
	if ev.Tdur != nil {
		s.ThreadDuration = container.Some(ms(*ev.Tdur))
	}
	t.SliceGroup.PushCompleteSlice(s)

	if !ev.BindID.Empty() {
		in, out := bool(ev.FlowIn), bool(ev.FlowOut)
		switch {
		case in && out:
			s.FlowPhase = model.FlowStep
		case out:
			s.FlowPhase = model.FlowProducer
		case in:
			s.FlowPhase = model.FlowConsumer
		}
		if s.FlowPhase != model.FlowNone {
			s.BindID = string(ev.BindID)
			i.flowEvents.Append(queuedEvent{seq: seq, ev: ev, slice: s})
		}
	}
}

func (i *Importer) processInstantEvent(ev *trace.Event) error {
	scope := ev.Scope
	if scope == "" {
		scope = "t"
	}
	switch scope {
	case "t", "p", "g":
	default:
		i.warn(WarnInstantParse, fmt.Sprintf("Unknown instant event scope %q.", scope))
		return nil
	}

	switch scope {
	case "t":
		t := i.thread(ev)
		if !t.SliceGroup.ObserveTimestamp(ms(ev.Ts)) {
			i.warn(WarnDurationParse, "Timestamps are moving backward.")
			return nil
		}
		s := &model.Slice{
			Category:        ev.Cat,
			Title:           ev.Name,
			ColorID:         eventColorID(ev, ev.Name),
			Start:           ms(ev.Ts),
			Args:            eventArgs(ev),
			ArgsStripped:    ev.Args.Stripped,
			ThreadStart:     threadTime(ev.Tts),
			StartStackFrame: i.stackFrameForEvent(ev, false),
		}
		t.SliceGroup.BeginSlice(s)
		t.SliceGroup.EndSlice(ms(ev.Ts), threadTime(ev.Tts))
		return nil
	case "p":
		p := i.process(ev)
		p.InstantEvents = append(p.InstantEvents, &model.InstantEvent{
			Category: ev.Cat,
			Title:    ev.Name,
			ColorID:  eventColorID(ev, ev.Name),
			Scope:    model.InstantProcess,
			Ts:       ms(ev.Ts),
			Args:     eventArgs(ev),
		})
		return nil
	case "g":
		i.model.InstantEvents = append(i.model.InstantEvents, &model.InstantEvent{
			Category: ev.Cat,
			Title:    ev.Name,
			ColorID:  eventColorID(ev, ev.Name),
			Scope:    model.InstantGlobal,
			Ts:       ms(ev.Ts),
			Args:     eventArgs(ev),
		})
		return nil
	default:
		return fmt.Errorf("instant event scope %q survived the prefilter", scope)
	}
}

func (i *Importer) processMemoryDumpEvent(ev *trace.Event) {
	id := string(ev.ID)
	if id == "" {
		i.warn(WarnMemoryDumpParse, "Memory dump event without an id.")
		return
	}
	g, ok := i.memoryDumps[id]
	if !ok {
		g = &memoryDumpGroup{}
		i.memoryDumps[id] = g
		i.memoryDumpIDs = append(i.memoryDumpIDs, id)
	}
	if ev.Phase == trace.PhaseMemoryDumpGlobal {
		if g.global != nil {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf("Multiple global memory dump events with id %s.", id))
			return
		}
		g.global = ev
		return
	}
	g.processes = append(g.processes, ev)
}
