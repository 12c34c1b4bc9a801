package model

import (
	"github.com/jillesme/bigrig/container"
)

// AsyncSlice is a possibly multi-thread operation assembled from async
// begin/step/end records. Steps become sub-slices.
type AsyncSlice struct {
	Category string
	Title    string
	ColorID  uint32
	ID       string

	Start    float64
	Duration float64

	ThreadStart    container.Option[float64]
	ThreadDuration container.Option[float64]

	Args Args

	StartThread *Thread
	EndThread   *Thread

	StartStackFrame *StackFrame
	EndStackFrame   *StackFrame

	SubSlices []*AsyncSlice

	// Error describes an unmatched begin or end, when the slice had to be
	// extended to the group's boundary.
	Error string

	// IsTopLevel marks slices that sit at the root of the nestable
	// hierarchy.
	IsTopLevel bool
}

func (s *AsyncSlice) End() float64 {
	return s.Start + s.Duration
}

// AsyncSliceGroup holds the async slices attached to one thread.
type AsyncSliceGroup struct {
	Slices []*AsyncSlice
}

func (g *AsyncSliceGroup) Push(s *AsyncSlice) {
	g.Slices = append(g.Slices, s)
}

func (g *AsyncSliceGroup) UpdateBounds(bounds *Bounds) {
	for _, s := range g.Slices {
		updateAsyncBounds(s, bounds)
	}
}

func updateAsyncBounds(s *AsyncSlice, bounds *Bounds) {
	bounds.AddValue(s.Start)
	bounds.AddValue(s.End())
	for _, sub := range s.SubSlices {
		updateAsyncBounds(sub, bounds)
	}
}

func (g *AsyncSliceGroup) ShiftTimestamps(amount float64) {
	for _, s := range g.Slices {
		shiftAsync(s, amount)
	}
}

func shiftAsync(s *AsyncSlice, amount float64) {
	s.Start += amount
	for _, sub := range s.SubSlices {
		shiftAsync(sub, amount)
	}
}

func (g *AsyncSliceGroup) IsEmpty() bool {
	return len(g.Slices) == 0
}
