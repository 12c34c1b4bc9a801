package importer

import (
	"fmt"

	xslices "golang.org/x/exp/slices"

	"github.com/jillesme/bigrig/container"
	"github.com/jillesme/bigrig/mem"
	"github.com/jillesme/bigrig/trace"
	"github.com/jillesme/bigrig/trace/model"
)

// drainQueue flattens a deferred queue into (timestamp, input order). The
// sequence tiebreak keeps the result stable for identical timestamps, which
// the assemblers rely on for deterministic output.
func drainQueue(q *mem.BucketSlice[queuedEvent]) []queuedEvent {
	out := q.Flatten()
	xslices.SortFunc(out, func(a, b queuedEvent) int {
		if a.ev.Ts != b.ev.Ts {
			if a.ev.Ts < b.ev.Ts {
				return -1
			}
			return 1
		}
		return a.seq - b.seq
	})
	return out
}

// createAsyncSlices drains the async queue: nestable b/n/e records and the
// legacy S/T/p/F dialect are assembled separately.
func (i *Importer) createAsyncSlices() {
	queue := drainQueue(&i.asyncEvents)
	var nestable, legacy []queuedEvent
	for _, qe := range queue {
		switch qe.ev.Phase {
		case trace.PhaseNestableBegin, trace.PhaseNestableInstant, trace.PhaseNestableEnd:
			nestable = append(nestable, qe)
		default:
			legacy = append(legacy, qe)
		}
	}
	i.createNestableAsyncSlices(nestable)
	i.createLegacyAsyncSlices(legacy)
}

// nestableOpen is one begin event whose end has not been seen yet.
type nestableOpen struct {
	begin *trace.Event
	slice *model.AsyncSlice
}

func (i *Importer) createNestableAsyncSlices(queue []queuedEvent) {
	groups := make(map[string][]queuedEvent)
	var order []string
	for _, qe := range queue {
		key := qe.ev.Cat + ":" + string(qe.ev.ID)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], qe)
	}
	for _, key := range order {
		i.assembleNestableGroup(groups[key])
	}
}

// assembleNestableGroup walks one (category, id) group. Each end matches the
// nearest enclosing begin of the same name; leftovers are extended to the
// group's boundary and marked with an error.
func (i *Importer) assembleNestableGroup(entries []queuedEvent) {
	firstTs := ms(entries[0].ev.Ts)
	lastTs := ms(entries[len(entries)-1].ev.Ts)

	var stack []*nestableOpen
	var topLevel []*model.AsyncSlice

	attach := func(s *model.AsyncSlice) {
		if len(stack) > 0 {
			parent := stack[len(stack)-1].slice
			parent.SubSlices = append(parent.SubSlices, s)
		} else {
			s.IsTopLevel = true
			topLevel = append(topLevel, s)
		}
	}
	newSlice := func(ev *trace.Event) *model.AsyncSlice {
		s := &model.AsyncSlice{
			Category:        ev.Cat,
			Title:           ev.Name,
			ColorID:         eventColorID(ev, ev.Name),
			ID:              string(ev.ID),
			Args:            eventArgs(ev),
			StartThread:     i.thread(ev),
			EndThread:       i.thread(ev),
			StartStackFrame: i.stackFrameForEvent(ev, false),
		}
		if bool(ev.UseAsyncTTS) {
			s.ThreadStart = threadTime(ev.Tts)
		}
		return s
	}

	for _, qe := range entries {
		ev := qe.ev
		switch ev.Phase {
		case trace.PhaseNestableBegin:
			s := newSlice(ev)
			s.Start = ms(ev.Ts)
			attach(s)
			stack = append(stack, &nestableOpen{begin: ev, slice: s})
		case trace.PhaseNestableInstant:
			s := newSlice(ev)
			s.Start = ms(ev.Ts)
			attach(s)
		case trace.PhaseNestableEnd:
			matched := -1
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j].begin.Name == ev.Name {
					matched = j
					break
				}
			}
			if matched == -1 {
				s := newSlice(ev)
				s.Start = firstTs
				s.Duration = ms(ev.Ts) - firstTs
				s.EndThread = i.thread(ev)
				s.EndStackFrame = i.stackFrameForEvent(ev, true)
				s.Error = "Slice has no matching BEGIN. Start time has been adjusted."
				// No begin encloses it, so it sits at the root of the hierarchy.
				s.IsTopLevel = true
				topLevel = append(topLevel, s)
				continue
			}
			open := stack[matched]
			stack = append(stack[:matched], stack[matched+1:]...)
			s := open.slice
			s.Duration = ms(ev.Ts) - s.Start
			s.EndThread = i.thread(ev)
			s.EndStackFrame = i.stackFrameForEvent(ev, true)
			if start, ok := s.ThreadStart.Get(); ok && bool(ev.UseAsyncTTS) && ev.Tts != nil {
				s.ThreadDuration = container.Some(ms(*ev.Tts) - start)
			}
			mergeAsyncEndArgs(s, eventArgs(ev))
		}
	}

	for _, open := range stack {
		s := open.slice
		s.Duration = lastTs - s.Start
		s.Error = "Slice has no matching END. End time has been adjusted."
	}
	for _, s := range topLevel {
		s.StartThread.AsyncSliceGroup.Push(s)
	}
}

// mergeAsyncEndArgs folds the end event's args into the slice. The params
// bag is merged one level deep instead of being replaced wholesale.
func mergeAsyncEndArgs(s *model.AsyncSlice, end model.Args) {
	if len(end) == 0 {
		return
	}
	if s.Args == nil {
		s.Args = model.Args{}
	}
	for _, k := range sortedKeys(end) {
		if k == "params" {
			ep, eok := asMap(end[k])
			sp, sok := asMap(s.Args[k])
			if eok && sok {
				for _, pk := range sortedKeys(ep) {
					sp[pk] = ep[pk]
				}
				continue
			}
		}
		s.Args[k] = end[k]
	}
}

func (i *Importer) createLegacyAsyncSlices(queue []queuedEvent) {
	open := make(map[string][]*trace.Event)
	for _, qe := range queue {
		ev := qe.ev
		key := ev.Name + ":" + string(ev.ID)
		events, isOpen := open[key]
		switch ev.Phase {
		case trace.PhaseAsyncBegin:
			if isOpen {
				i.warn(WarnAsyncSliceParse, fmt.Sprintf(
					"At %v, a slice with id %s was already open.", ev.Ts, key))
				continue
			}
			open[key] = []*trace.Event{ev}
		case trace.PhaseAsyncStepInto, trace.PhaseAsyncStepPast:
			if !isOpen {
				i.warn(WarnAsyncSliceParse, fmt.Sprintf(
					"At %v, a step for id %s was seen without an open slice.", ev.Ts, key))
				continue
			}
			open[key] = append(events, ev)
		case trace.PhaseAsyncEnd:
			if !isOpen {
				i.warn(WarnAsyncSliceParse, fmt.Sprintf(
					"At %v, an end for id %s was seen without an open slice.", ev.Ts, key))
				continue
			}
			i.finishLegacyAsyncSlice(append(events, ev))
			delete(open, key)
		}
	}
	for _, key := range sortedKeys(open) {
		i.warn(WarnAsyncSliceParse, fmt.Sprintf("Async slice %s never finished.", key))
	}
}

// finishLegacyAsyncSlice builds one S..F slice. Steps between the start and
// finish events become sub-slices between consecutive records; which record
// names a sub-slice depends on the step dialect, T naming the interval it
// closes and p the one it opens.
func (i *Importer) finishLegacyAsyncSlice(events []*trace.Event) {
	start := events[0]
	end := events[len(events)-1]
	slice := &model.AsyncSlice{
		Category:        start.Cat,
		Title:           start.Name,
		ColorID:         eventColorID(start, start.Name),
		ID:              string(start.ID),
		Args:            eventArgs(start),
		Start:           ms(start.Ts),
		Duration:        ms(end.Ts) - ms(start.Ts),
		StartThread:     i.thread(start),
		EndThread:       i.thread(end),
		StartStackFrame: i.stackFrameForEvent(start, false),
		EndStackFrame:   i.stackFrameForEvent(end, true),
		IsTopLevel:      true,
	}
	if bool(start.UseAsyncTTS) {
		slice.ThreadStart = threadTime(start.Tts)
		if st, ok := slice.ThreadStart.Get(); ok && end.Tts != nil {
			slice.ThreadDuration = container.Some(ms(*end.Tts) - st)
		}
	}

	if len(events) > 2 {
		stepType := events[1].Phase
		valid := true
		for j := 1; j < len(events)-1; j++ {
			if events[j].Phase != stepType {
				i.warn(WarnAsyncSliceParse, fmt.Sprintf(
					"Slice %s has mixed step phases %s and %s.", slice.Title, stepType, events[j].Phase))
				valid = false
				break
			}
		}
		if valid {
			for j := 1; j <= len(events)-2; j++ {
				startIndex := j
				if stepType != trace.PhaseAsyncStepInto {
					startIndex = j - 1
				}
				nameEv := events[startIndex]
				subName := nameEv.Name
				if step, ok := asString(nameEv.Args.Map["step"]); ok {
					subName = nameEv.Name + ":" + step
				}
				sub := &model.AsyncSlice{
					Category:    nameEv.Cat,
					Title:       subName,
					ColorID:     eventColorID(nameEv, subName),
					ID:          slice.ID,
					Args:        eventArgs(nameEv),
					Start:       ms(events[j-1].Ts),
					Duration:    ms(events[j].Ts) - ms(events[j-1].Ts),
					StartThread: i.thread(events[j-1]),
					EndThread:   i.thread(events[j]),
				}
				slice.SubSlices = append(slice.SubSlices, sub)
			}
		}
	}

	slice.StartThread.AsyncSliceGroup.Push(slice)
}
