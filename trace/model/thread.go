package model

import (
	"strconv"

	"github.com/jillesme/bigrig/container"
)

// Thread is one thread of a process. Slice nesting and async operations
// hang off the thread's groups.
type Thread struct {
	Process *Process

	Tid       int64
	Name      string
	SortIndex container.Option[int64]

	SliceGroup      *SliceGroup
	AsyncSliceGroup *AsyncSliceGroup

	// Samples recorded on this thread. They alias the model's flat list,
	// which owns bounds and timestamp shifting.
	Samples []*Sample
}

func NewThread(p *Process, tid int64) *Thread {
	return &Thread{
		Process:         p,
		Tid:             tid,
		SliceGroup:      &SliceGroup{},
		AsyncSliceGroup: &AsyncSliceGroup{},
	}
}

// UserFriendlyName is the thread name, or a tid-derived fallback.
func (t *Thread) UserFriendlyName() string {
	if t.Name != "" {
		return t.Name
	}
	return "Thread " + strconv.FormatInt(t.Tid, 10)
}

func (t *Thread) UpdateBounds(bounds *Bounds) {
	t.SliceGroup.UpdateBounds(bounds)
	t.AsyncSliceGroup.UpdateBounds(bounds)
}

func (t *Thread) ShiftTimestamps(amount float64) {
	t.SliceGroup.ShiftTimestamps(amount)
	t.AsyncSliceGroup.ShiftTimestamps(amount)
}

// IsEmpty reports whether the thread recorded no events.
func (t *Thread) IsEmpty() bool {
	return len(t.SliceGroup.Slices) == 0 &&
		t.AsyncSliceGroup.IsEmpty() &&
		len(t.Samples) == 0
}
