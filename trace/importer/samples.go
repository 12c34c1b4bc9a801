package importer

import (
	"fmt"

	"github.com/jillesme/bigrig/trace"
	"github.com/jillesme/bigrig/trace/model"
)

// processSampleEvent records one P phase sample on its own thread.
func (i *Importer) processSampleEvent(ev *trace.Event) {
	t := i.thread(ev)
	s := &model.Sample{
		Title:     ev.Name,
		Ts:        ms(ev.Ts),
		Weight:    1,
		CPU:       -1,
		Thread:    t,
		LeafFrame: i.eventStackFrame(ev, false, WarnSampleImport),
	}
	t.Samples = append(t.Samples, s)
	i.model.Samples = append(i.model.Samples, s)
}

// importSamples converts the container's OS-profiler samples. These carry
// only a tid, so the owning thread has to be found among the processes seen
// during event dispatch.
func (i *Importer) importSamples(samples []trace.Sample) {
	for idx := range samples {
		s := &samples[idx]
		t := i.findThreadByTid(s.Tid)
		if t == nil {
			i.warn(WarnSampleImport, fmt.Sprintf("Sample at %v names unknown tid %d.", s.Ts, s.Tid))
			continue
		}
		var leaf *model.StackFrame
		if !s.StackFrame.Empty() {
			f, ok := i.model.StackFrames["g"+string(s.StackFrame)]
			if !ok {
				i.warn(WarnSampleImport, fmt.Sprintf(
					"Sample at %v names unknown stack frame %s.", s.Ts, s.StackFrame))
				continue
			}
			leaf = f
		}
		weight := s.Weight
		if weight == 0 {
			weight = 1
		}
		cpu := int64(-1)
		if s.CPU != nil {
			cpu = *s.CPU
		}
		sample := &model.Sample{
			Title:     s.Name,
			Ts:        ms(s.Ts),
			Weight:    weight,
			CPU:       cpu,
			Thread:    t,
			LeafFrame: leaf,
		}
		t.Samples = append(t.Samples, sample)
		i.model.Samples = append(i.model.Samples, sample)
	}
}

func (i *Importer) findThreadByTid(tid int64) *model.Thread {
	for _, p := range i.model.SortedProcesses() {
		if t, ok := p.Threads[tid]; ok {
			return t
		}
	}
	if t, ok := i.model.Kernel.Threads[tid]; ok {
		return t
	}
	return nil
}
