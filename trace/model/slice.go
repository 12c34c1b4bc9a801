package model

import (
	xslices "golang.org/x/exp/slices"

	"github.com/jillesme/bigrig/container"
	"github.com/jillesme/bigrig/slices"
)

// FlowPhase classifies how a slice participates in v2 flow stitching.
type FlowPhase uint8

const (
	FlowNone FlowPhase = iota
	FlowProducer
	FlowConsumer
	FlowStep
)

// Slice is a time interval on a thread. A slice without a duration is still
// open; within a SliceGroup the open slices form a stack ordered by start.
type Slice struct {
	Category string
	Title    string
	ColorID  uint32

	Start          float64
	Duration       container.Option[float64]
	ThreadStart    container.Option[float64]
	ThreadDuration container.Option[float64]

	Args         Args
	ArgsStripped bool

	StartStackFrame *StackFrame
	EndStackFrame   *StackFrame

	BindID    string
	FlowPhase FlowPhase

	OutFlowEvents []*FlowEvent
	InFlowEvents  []*FlowEvent

	SubSlices []*Slice
	Parent    *Slice

	// DidNotFinish marks a slice that was still open when the trace ended
	// and had to be closed at the model's upper bound.
	DidNotFinish bool
}

// End returns the slice's end timestamp. Open slices end where they start.
func (s *Slice) End() float64 {
	return s.Start + s.Duration.GetOr(0)
}

// SliceGroup holds the synchronous slices of one thread and the stack of
// slices that have begun but not yet ended.
type SliceGroup struct {
	Slices []*Slice
	// TopLevelSlices is filled by CreateSubSlices.
	TopLevelSlices []*Slice

	openSlices []*Slice

	maxTs  float64
	seenTs bool
}

// ObserveTimestamp records ts as seen and reports whether it respects the
// group's monotonic order.
func (g *SliceGroup) ObserveTimestamp(ts float64) bool {
	if g.seenTs && ts < g.maxTs {
		return false
	}
	if !g.seenTs || ts > g.maxTs {
		g.maxTs = ts
		g.seenTs = true
	}
	return true
}

// BeginSlice pushes a new open slice onto the stack.
func (g *SliceGroup) BeginSlice(s *Slice) *Slice {
	g.Slices = append(g.Slices, s)
	g.openSlices = append(g.openSlices, s)
	return s
}

// OpenSliceCount returns the depth of the open-slice stack.
func (g *SliceGroup) OpenSliceCount() int {
	return len(g.openSlices)
}

// MostRecentlyOpenedSlice returns the top of the open-slice stack.
func (g *SliceGroup) MostRecentlyOpenedSlice() (*Slice, bool) {
	return slices.Top(g.openSlices)
}

// EndSlice closes the top open slice at ts, with an optional thread-time end.
// The caller is responsible for checking OpenSliceCount first.
func (g *SliceGroup) EndSlice(ts float64, threadTs container.Option[float64]) *Slice {
	s, rest, _ := slices.Pop(g.openSlices)
	g.openSlices = rest
	s.Duration = container.Some(ts - s.Start)
	if tts, ok := threadTs.Get(); ok {
		if start, ok := s.ThreadStart.Get(); ok {
			s.ThreadDuration = container.Some(tts - start)
		}
	}
	return s
}

// PushCompleteSlice adds an already-closed slice.
func (g *SliceGroup) PushCompleteSlice(s *Slice) *Slice {
	g.Slices = append(g.Slices, s)
	return s
}

// AutoCloseOpenSlices closes every still-open slice at endTs and marks it as
// not having finished on its own.
func (g *SliceGroup) AutoCloseOpenSlices(endTs float64) {
	for _, s := range g.openSlices {
		s.Duration = container.Some(endTs - s.Start)
		s.DidNotFinish = true
	}
	g.openSlices = nil
}

// CreateSubSlices rebuilds the nesting structure. Slices are ordered by
// start (longer first on ties) and nested by interval containment; slices
// not contained in any other become top-level.
func (g *SliceGroup) CreateSubSlices() {
	for _, s := range g.Slices {
		s.SubSlices = nil
		s.Parent = nil
	}
	g.TopLevelSlices = nil
	if len(g.Slices) == 0 {
		return
	}

	ordered := xslices.Clone(g.Slices)
	xslices.SortStableFunc(ordered, func(a, b *Slice) int {
		if a.Start != b.Start {
			if a.Start < b.Start {
				return -1
			}
			return 1
		}
		// Longer slices first, so a slice precedes everything it contains.
		if a.End() != b.End() {
			if a.End() > b.End() {
				return -1
			}
			return 1
		}
		return 0
	})

	var stack []*Slice
	for _, s := range ordered {
		for len(stack) > 0 {
			top, _ := slices.Top(stack)
			if top.Start <= s.Start && s.End() <= top.End() {
				break
			}
			_, stack, _ = slices.Pop(stack)
		}
		if top, ok := slices.Top(stack); ok {
			s.Parent = top
			top.SubSlices = append(top.SubSlices, s)
		} else {
			g.TopLevelSlices = append(g.TopLevelSlices, s)
		}
		stack = append(stack, s)
	}
}

// FindSliceAtTs returns the deepest slice containing ts. A slice that is
// still open contains every timestamp at or after its start.
func (g *SliceGroup) FindSliceAtTs(ts float64) *Slice {
	var best *Slice
	for _, s := range g.Slices {
		if ts < s.Start {
			continue
		}
		if dur, ok := s.Duration.Get(); ok && ts > s.Start+dur {
			continue
		}
		if best == nil || s.Start >= best.Start {
			best = s
		}
	}
	return best
}

// FindNextSliceAfter returns the first slice starting at or after ts. Ties
// are broken by push order.
func (g *SliceGroup) FindNextSliceAfter(ts float64) *Slice {
	var best *Slice
	for _, s := range g.Slices {
		if s.Start < ts {
			continue
		}
		if best == nil || s.Start < best.Start {
			best = s
		}
	}
	return best
}

// UpdateBounds folds every slice's extent into bounds.
func (g *SliceGroup) UpdateBounds(bounds *Bounds) {
	for _, s := range g.Slices {
		bounds.AddValue(s.Start)
		bounds.AddValue(s.End())
	}
}

// ShiftTimestamps translates every slice by amount.
func (g *SliceGroup) ShiftTimestamps(amount float64) {
	for _, s := range g.Slices {
		s.Start += amount
	}
	if g.seenTs {
		g.maxTs += amount
	}
}
