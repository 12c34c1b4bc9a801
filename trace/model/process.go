package model

import (
	"golang.org/x/exp/maps"
	xslices "golang.org/x/exp/slices"

	"github.com/jillesme/bigrig/container"
)

// ProcessBase is the thread-and-counter container shared by Process and
// Kernel.
type ProcessBase struct {
	Threads  map[int64]*Thread
	Counters map[string]*Counter
}

func newProcessBase() ProcessBase {
	return ProcessBase{
		Threads:  make(map[int64]*Thread),
		Counters: make(map[string]*Counter),
	}
}

// SortedThreads returns the threads ordered by tid.
func (pb *ProcessBase) SortedThreads() []*Thread {
	tids := maps.Keys(pb.Threads)
	xslices.Sort(tids)
	out := make([]*Thread, len(tids))
	for i, tid := range tids {
		out[i] = pb.Threads[tid]
	}
	return out
}

// SortedCounters returns the counters ordered by key.
func (pb *ProcessBase) SortedCounters() []*Counter {
	keys := maps.Keys(pb.Counters)
	xslices.Sort(keys)
	out := make([]*Counter, len(keys))
	for i, k := range keys {
		out[i] = pb.Counters[k]
	}
	return out
}

// FindAllThreadsNamed returns the threads with the given name, ordered by
// tid.
func (pb *ProcessBase) FindAllThreadsNamed(name string) []*Thread {
	var out []*Thread
	for _, t := range pb.SortedThreads() {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

// Process is one traced process, created lazily on first reference.
type Process struct {
	ProcessBase

	Pid       int64
	Name      string
	Labels    []string
	SortIndex container.Option[int64]

	Objects *ObjectCollection

	InstantEvents []*InstantEvent
	MemoryDumps   []*ProcessMemoryDump

	TraceBufferOverflowedAt container.Option[float64]
}

func NewProcess(pid int64) *Process {
	p := &Process{
		ProcessBase: newProcessBase(),
		Pid:         pid,
	}
	p.Objects = NewObjectCollection(p)
	return p
}

// GetOrCreateThread returns the thread with the given tid, creating it on
// first reference.
func (p *Process) GetOrCreateThread(tid int64) *Thread {
	t, ok := p.Threads[tid]
	if !ok {
		t = NewThread(p, tid)
		p.Threads[tid] = t
	}
	return t
}

// CounterKey is how counters are keyed within a process.
func CounterKey(category, name string) string {
	return category + "." + name
}

// GetOrCreateCounter returns the counter for (category, name), creating it
// on first reference.
func (p *Process) GetOrCreateCounter(category, name string) *Counter {
	key := CounterKey(category, name)
	c, ok := p.Counters[key]
	if !ok {
		c = &Counter{Category: category, Name: name}
		p.Counters[key] = c
	}
	return c
}

func (p *Process) UpdateBounds(bounds *Bounds) {
	for _, t := range p.SortedThreads() {
		t.UpdateBounds(bounds)
	}
	for _, c := range p.SortedCounters() {
		c.UpdateBounds(bounds)
	}
	for _, ev := range p.InstantEvents {
		bounds.AddValue(ev.Ts)
	}
	p.Objects.UpdateBounds(bounds)
	for _, dump := range p.MemoryDumps {
		bounds.AddValue(dump.Start)
	}
}

func (p *Process) ShiftTimestamps(amount float64) {
	for _, t := range p.Threads {
		t.ShiftTimestamps(amount)
	}
	for _, c := range p.Counters {
		c.ShiftTimestamps(amount)
	}
	for _, ev := range p.InstantEvents {
		ev.Ts += amount
	}
	p.Objects.ShiftTimestamps(amount)
	for _, dump := range p.MemoryDumps {
		dump.Start += amount
	}
}

// IsEmpty reports whether the process holds no events at all.
func (p *Process) IsEmpty() bool {
	for _, t := range p.Threads {
		if !t.IsEmpty() {
			return false
		}
	}
	for _, c := range p.Counters {
		if c.NumSamples() > 0 {
			return false
		}
	}
	return len(p.InstantEvents) == 0 &&
		len(p.MemoryDumps) == 0 &&
		p.Objects.IsEmpty()
}

// Kernel is the process-like container for kernel threads and counters.
type Kernel struct {
	ProcessBase
}

func NewKernel() *Kernel {
	return &Kernel{ProcessBase: newProcessBase()}
}

// Device carries machine-wide metadata.
type Device struct {
	NumCPUs container.Option[int64]
}
