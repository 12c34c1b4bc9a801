// Package model holds the assembled trace: processes, threads, slices,
// async operations, flows, counters, objects and memory dumps, plus the
// bounds and indices computed during finalization. All timestamps are in
// milliseconds.
package model

import (
	"fmt"

	"golang.org/x/exp/maps"
	xslices "golang.org/x/exp/slices"

	"github.com/jillesme/bigrig/container"
)

// ImportWarning is one recoverable problem encountered during import.
// Every record is retained; FirstOfType supports user-facing deduplication.
type ImportWarning struct {
	Type        string
	Message     string
	FirstOfType bool
}

// Model is the root aggregate produced by an import.
type Model struct {
	Device *Device
	Kernel *Kernel

	Processes map[int64]*Process

	InstantEvents      []*InstantEvent
	FlowEvents         []*FlowEvent
	Alerts             []*Alert
	InteractionRecords []*InteractionRecord
	Samples            []*Sample
	GlobalMemoryDumps  []*GlobalMemoryDump
	ClockSyncRecords   []ClockSyncRecord

	Annotations map[string]any

	// StackFrames is keyed by fully-qualified frame id.
	StackFrames map[string]*StackFrame

	Bounds     Bounds
	Categories container.Set[string]

	// Index is built by BuildEventIndices during finalization.
	Index *EventIndex

	Metadata []MetadataEntry

	SystemTraceEvents string
	BattorLogAsString string

	IsTimeHighResolution bool

	ImportWarnings []ImportWarning

	flowIntervalTree *container.IntervalTree[float64, *FlowEvent]

	intrinsicTimeUnit    string
	intrinsicTimeUnitSet bool

	warningTypesSeen container.Set[string]
}

// MetadataEntry is an unrecognized top-level container entry retained on
// the model.
type MetadataEntry struct {
	Name  string
	Value any
}

func NewModel() *Model {
	return &Model{
		Device:           &Device{},
		Kernel:           NewKernel(),
		Processes:        make(map[int64]*Process),
		Annotations:      make(map[string]any),
		StackFrames:      make(map[string]*StackFrame),
		Bounds:           EmptyBounds(),
		Categories:       container.NewSet[string](),
		warningTypesSeen: container.NewSet[string](),
	}
}

// GetOrCreateProcess returns the process with the given pid, creating it on
// first reference.
func (m *Model) GetOrCreateProcess(pid int64) *Process {
	p, ok := m.Processes[pid]
	if !ok {
		p = NewProcess(pid)
		m.Processes[pid] = p
	}
	return p
}

// SortedProcesses returns the processes ordered by pid.
func (m *Model) SortedProcesses() []*Process {
	pids := maps.Keys(m.Processes)
	xslices.Sort(pids)
	out := make([]*Process, len(pids))
	for i, pid := range pids {
		out[i] = m.Processes[pid]
	}
	return out
}

// AllThreads returns process threads followed by kernel threads. The two
// populations are disjoint; kernel threads never appear under a process.
func (m *Model) AllThreads() []*Thread {
	var out []*Thread
	for _, p := range m.SortedProcesses() {
		out = append(out, p.SortedThreads()...)
	}
	out = append(out, m.Kernel.SortedThreads()...)
	return out
}

// FindAllThreadsNamed searches process threads and kernel threads.
func (m *Model) FindAllThreadsNamed(name string) []*Thread {
	var out []*Thread
	for _, p := range m.SortedProcesses() {
		out = append(out, p.FindAllThreadsNamed(name)...)
	}
	out = append(out, m.Kernel.FindAllThreadsNamed(name)...)
	return out
}

// AddStackFrame registers a frame under its fully-qualified id. Duplicate
// ids are an error; the table spans the whole model.
func (m *Model) AddStackFrame(f *StackFrame) error {
	if _, ok := m.StackFrames[f.ID]; ok {
		return fmt.Errorf("duplicate stack frame id %q", f.ID)
	}
	m.StackFrames[f.ID] = f
	return nil
}

// SetIntrinsicTimeUnit fixes the model's intrinsic display unit. It may be
// set at most once; a second set with a different unit is an error.
func (m *Model) SetIntrinsicTimeUnit(unit string) error {
	if m.intrinsicTimeUnitSet && m.intrinsicTimeUnit != unit {
		return fmt.Errorf("intrinsic time unit already set to %q, refusing %q", m.intrinsicTimeUnit, unit)
	}
	m.intrinsicTimeUnit = unit
	m.intrinsicTimeUnitSet = true
	return nil
}

func (m *Model) IntrinsicTimeUnit() (string, bool) {
	return m.intrinsicTimeUnit, m.intrinsicTimeUnitSet
}

// AddWarning records a typed warning, preserving emission order.
func (m *Model) AddWarning(warnType, message string) {
	first := !m.warningTypesSeen.Contains(warnType)
	m.warningTypesSeen.Add(warnType)
	m.ImportWarnings = append(m.ImportWarnings, ImportWarning{
		Type:        warnType,
		Message:     message,
		FirstOfType: first,
	})
}

// DistinctWarnings returns the first warning of each type, in emission
// order, for user-facing logging.
func (m *Model) DistinctWarnings() []ImportWarning {
	var out []ImportWarning
	for _, w := range m.ImportWarnings {
		if w.FirstOfType {
			out = append(out, w)
		}
	}
	return out
}

// UpdateBounds recomputes the model's bounds from every container.
func (m *Model) UpdateBounds() {
	m.Bounds.Reset()
	for _, p := range m.SortedProcesses() {
		p.UpdateBounds(&m.Bounds)
	}
	for _, t := range m.Kernel.SortedThreads() {
		t.UpdateBounds(&m.Bounds)
	}
	for _, c := range m.Kernel.SortedCounters() {
		c.UpdateBounds(&m.Bounds)
	}
	for _, ev := range m.InstantEvents {
		m.Bounds.AddValue(ev.Ts)
	}
	for _, f := range m.FlowEvents {
		m.Bounds.AddValue(f.Start)
		m.Bounds.AddValue(f.End)
	}
	for _, s := range m.Samples {
		m.Bounds.AddValue(s.Ts)
	}
	for _, d := range m.GlobalMemoryDumps {
		m.Bounds.AddValue(d.Start)
		m.Bounds.AddValue(d.End())
	}
	for _, a := range m.Alerts {
		m.Bounds.AddValue(a.Ts)
	}
	for _, ir := range m.InteractionRecords {
		m.Bounds.AddValue(ir.Start)
		m.Bounds.AddValue(ir.End())
	}
}

// UpdateCategories rebuilds the model-wide category set.
func (m *Model) UpdateCategories() {
	m.Categories = container.NewSet[string]()
	add := func(cat string) {
		if cat != "" {
			m.Categories.Add(cat)
		}
	}
	for _, t := range m.AllThreads() {
		for _, s := range t.SliceGroup.Slices {
			add(s.Category)
		}
		for _, s := range t.AsyncSliceGroup.Slices {
			add(s.Category)
		}
	}
	for _, p := range m.SortedProcesses() {
		for _, c := range p.SortedCounters() {
			add(c.Category)
		}
		for _, ev := range p.InstantEvents {
			add(ev.Category)
		}
		for _, inst := range p.Objects.AllInstances() {
			add(inst.Category)
		}
	}
	for _, c := range m.Kernel.SortedCounters() {
		add(c.Category)
	}
	for _, ev := range m.InstantEvents {
		add(ev.Category)
	}
	for _, f := range m.FlowEvents {
		add(f.Category)
	}
}

// ShiftWorldToZero translates every timestamp so the model starts at zero.
func (m *Model) ShiftWorldToZero() {
	if m.Bounds.Empty {
		return
	}
	m.ShiftTimestamps(-m.Bounds.Min)
	m.UpdateBounds()
}

// ShiftTimestamps translates every event in the model by amount.
func (m *Model) ShiftTimestamps(amount float64) {
	for _, p := range m.Processes {
		p.ShiftTimestamps(amount)
	}
	for _, t := range m.Kernel.Threads {
		t.ShiftTimestamps(amount)
	}
	for _, c := range m.Kernel.Counters {
		c.ShiftTimestamps(amount)
	}
	for _, ev := range m.InstantEvents {
		ev.Ts += amount
	}
	for _, f := range m.FlowEvents {
		f.Start += amount
		f.End += amount
	}
	for _, s := range m.Samples {
		s.Ts += amount
	}
	// Process dumps are shifted with their process.
	for _, d := range m.GlobalMemoryDumps {
		d.Start += amount
	}
	for _, a := range m.Alerts {
		a.Ts += amount
	}
	for _, ir := range m.InteractionRecords {
		ir.Start += amount
	}
	for i := range m.ClockSyncRecords {
		m.ClockSyncRecords[i].Ts += amount
	}
}

// PruneEmptyContainers drops threads and processes that recorded nothing.
func (m *Model) PruneEmptyContainers() {
	for pid, p := range m.Processes {
		for tid, t := range p.Threads {
			if t.IsEmpty() {
				delete(p.Threads, tid)
			}
		}
		if p.IsEmpty() && len(p.Threads) == 0 {
			delete(m.Processes, pid)
		}
	}
	for tid, t := range m.Kernel.Threads {
		if t.IsEmpty() {
			delete(m.Kernel.Threads, tid)
		}
	}
}

// BuildFlowEventIntervalTree indexes every flow event by its (start, end)
// interval.
func (m *Model) BuildFlowEventIntervalTree() {
	tree := container.NewIntervalTree[float64, *FlowEvent]()
	for _, f := range m.FlowEvents {
		min, max := f.Start, f.End
		if max < min {
			min, max = max, min
		}
		tree.Insert(min, max, f)
	}
	m.flowIntervalTree = tree
}

// FlowEventsInRange queries the interval tree built during finalization.
func (m *Model) FlowEventsInRange(min, max float64) []*FlowEvent {
	if m.flowIntervalTree == nil {
		return nil
	}
	return m.flowIntervalTree.Find(min, max, nil)
}

// CleanupUndeletedObjects stamps every still-live object instance as
// deleted at the model's upper bound.
func (m *Model) CleanupUndeletedObjects() {
	end := m.Bounds.Max
	for _, p := range m.SortedProcesses() {
		p.Objects.CloseOpenInstances(end)
	}
}
