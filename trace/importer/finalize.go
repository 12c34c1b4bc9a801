package importer

import (
	xslices "golang.org/x/exp/slices"

	"github.com/jillesme/bigrig/trace/model"
)

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FinalizeImport drains the deferred queues and runs the finalization
// passes. Flows bind to the slices built during dispatch, and memory dump
// edges are applied once every allocator dump of their group is registered.
func (i *Importer) FinalizeImport() error {
	i.createAsyncSlices()
	i.createFlowSlices()
	if err := i.createObjects(); err != nil {
		return err
	}
	i.createMemoryDumps()

	m := i.model

	xslices.SortStableFunc(m.Samples, func(a, b *model.Sample) int {
		return cmpFloat(a.Ts, b.Ts)
	})

	m.UpdateBounds()
	for _, t := range m.AllThreads() {
		t.SliceGroup.AutoCloseOpenSlices(m.Bounds.Max)
	}
	m.UpdateCategories()

	if i.opts.ShiftWorldToZero {
		m.ShiftWorldToZero()
	}
	for _, t := range m.AllThreads() {
		t.SliceGroup.CreateSubSlices()
	}
	if i.opts.PruneEmptyContainers {
		m.PruneEmptyContainers()
	}

	m.BuildFlowEventIntervalTree()
	m.CleanupUndeletedObjects()

	xslices.SortFunc(m.GlobalMemoryDumps, func(a, b *model.GlobalMemoryDump) int {
		return cmpFloat(a.Start, b.Start)
	})
	for _, p := range m.SortedProcesses() {
		xslices.SortFunc(p.MemoryDumps, func(a, b *model.ProcessMemoryDump) int {
			return cmpFloat(a.Start, b.Start)
		})
	}
	xslices.SortFunc(m.InteractionRecords, func(a, b *model.InteractionRecord) int {
		return cmpFloat(a.Start, b.Start)
	})
	xslices.SortFunc(m.Alerts, func(a, b *model.Alert) int {
		return cmpFloat(a.Ts, b.Ts)
	})

	m.BuildEventIndices()
	return nil
}
