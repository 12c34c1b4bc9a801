package importer

import (
	"fmt"
	"strings"

	"github.com/jillesme/bigrig/trace"
	"github.com/jillesme/bigrig/trace/model"
)

// v2FlowState is one open bind_id flow: the producer slice and whether a
// consumer has closed it at least once.
type v2FlowState struct {
	producer *model.Slice
	ev       *trace.Event
	consumed bool
}

// createFlowSlices drains the flow queue. The s/t/f dialect and the bind_id
// dialect share the queue so their relative timestamp order is preserved,
// but their id namespaces are independent.
func (i *Importer) createFlowSlices() {
	queue := drainQueue(&i.flowEvents)
	openV1 := make(map[string]*model.FlowEvent)
	openV2 := make(map[string]*v2FlowState)

	for _, qe := range queue {
		if qe.slice != nil {
			i.processV2FlowEvent(openV2, qe)
			continue
		}
		ev := qe.ev
		switch ev.Phase {
		case trace.PhaseFlowStart:
			i.processFlowStart(openV1, ev)
		case trace.PhaseFlowStep:
			i.processFlowStep(openV1, ev)
		case trace.PhaseFlowEnd:
			i.processFlowEnd(openV1, ev)
		}
	}

	for _, id := range sortedKeys(openV1) {
		i.warn(WarnFlowSliceParse, fmt.Sprintf("Flow id %s never finished.", id))
	}
	for _, id := range sortedKeys(openV2) {
		if !openV2[id].consumed {
			i.warn(WarnFlowSliceParse, fmt.Sprintf("Flow id %s was produced but never consumed.", id))
		}
	}
}

func (i *Importer) processFlowStart(open map[string]*model.FlowEvent, ev *trace.Event) {
	id := string(ev.ID)
	t := i.thread(ev)
	slice := t.SliceGroup.FindSliceAtTs(ms(ev.Ts))
	if slice == nil {
		i.warn(WarnFlowSliceStart, fmt.Sprintf("No slice at %v for the start of flow id %s.", ev.Ts, id))
		return
	}
	if _, dup := open[id]; dup {
		i.warn(WarnFlowSliceOrdering, fmt.Sprintf("Flow id %s started while still open.", id))
	}
	open[id] = &model.FlowEvent{
		Category:   ev.Cat,
		Title:      ev.Name,
		ColorID:    eventColorID(ev, ev.Name),
		ID:         id,
		Start:      ms(ev.Ts),
		Args:       eventArgs(ev),
		StartSlice: slice,
	}
}

// processFlowStep closes the open flow at the step's containing slice and
// immediately opens a fresh flow from that slice under the same id.
func (i *Importer) processFlowStep(open map[string]*model.FlowEvent, ev *trace.Event) {
	id := string(ev.ID)
	flow, ok := open[id]
	if !ok {
		i.warn(WarnFlowSliceOrdering, fmt.Sprintf("Step for unknown flow id %s.", id))
		return
	}
	t := i.thread(ev)
	slice := t.SliceGroup.FindSliceAtTs(ms(ev.Ts))
	if slice == nil {
		i.warn(WarnFlowSliceEnd, fmt.Sprintf("No slice at %v for a step of flow id %s.", ev.Ts, id))
		return
	}
	flow.Finish(slice, ms(ev.Ts))
	i.model.FlowEvents = append(i.model.FlowEvents, flow)
	open[id] = &model.FlowEvent{
		Category:   ev.Cat,
		Title:      ev.Name,
		ColorID:    eventColorID(ev, ev.Name),
		ID:         id,
		Start:      ms(ev.Ts),
		Args:       eventArgs(ev),
		StartSlice: slice,
	}
}

func (i *Importer) processFlowEnd(open map[string]*model.FlowEvent, ev *trace.Event) {
	id := string(ev.ID)
	flow, ok := open[id]
	if !ok {
		i.warn(WarnFlowSliceOrdering, fmt.Sprintf("End for unknown flow id %s.", id))
		return
	}
	if ev.BindPoint != "" && ev.BindPoint != "e" {
		i.warn(WarnFlowSliceBindPoint, fmt.Sprintf("Unknown bind point %q for flow id %s.", ev.BindPoint, id))
		return
	}
	bindToParent := ev.BindPoint == "e" ||
		strings.Contains(ev.Cat, "input") ||
		strings.Contains(ev.Cat, "ipc.flow")

	t := i.thread(ev)
	var slice *model.Slice
	if bindToParent {
		slice = t.SliceGroup.FindSliceAtTs(ms(ev.Ts))
	} else {
		slice = t.SliceGroup.FindNextSliceAfter(ms(ev.Ts))
	}
	if slice == nil {
		i.warn(WarnFlowSliceEnd, fmt.Sprintf("No slice to bind the end of flow id %s at %v.", id, ev.Ts))
		delete(open, id)
		return
	}
	flow.Finish(slice, ms(ev.Ts))
	i.model.FlowEvents = append(i.model.FlowEvents, flow)
	delete(open, id)
}

func (i *Importer) processV2FlowEvent(open map[string]*v2FlowState, qe queuedEvent) {
	ev, slice := qe.ev, qe.slice
	id := slice.BindID
	switch slice.FlowPhase {
	case model.FlowProducer:
		if st, ok := open[id]; ok && !st.consumed {
			i.warn(WarnFlowSliceOrdering, fmt.Sprintf("Flow id %s reopened while still open.", id))
		}
		open[id] = &v2FlowState{producer: slice, ev: ev}
	case model.FlowConsumer:
		i.consumeV2Flow(open, id, ev, slice)
	case model.FlowStep:
		i.consumeV2Flow(open, id, ev, slice)
		open[id] = &v2FlowState{producer: slice, ev: ev}
	}
}

// consumeV2Flow links the open producer to the consuming slice. Every
// consumer past the first gets its own flow event synthesised from the same
// producer slice.
func (i *Importer) consumeV2Flow(open map[string]*v2FlowState, id string, ev *trace.Event, slice *model.Slice) {
	st, ok := open[id]
	if !ok {
		i.warn(WarnFlowSliceOrdering, fmt.Sprintf("Flow id %s consumed but never produced.", id))
		return
	}
	f := &model.FlowEvent{
		Category:   st.ev.Cat,
		Title:      st.ev.Name,
		ColorID:    eventColorID(st.ev, st.ev.Name),
		ID:         id,
		Start:      st.producer.Start,
		StartSlice: st.producer,
	}
	f.Finish(slice, ms(ev.Ts))
	i.model.FlowEvents = append(i.model.FlowEvents, f)
	st.consumed = true
}
