package importer

import (
	"fmt"

	"github.com/jillesme/bigrig/trace"
	"github.com/jillesme/bigrig/trace/model"
)

// processCounterEvent adds one sample per series to the event's counter. The
// first event for a counter defines its series, one per argument key.
func (i *Importer) processCounterEvent(ev *trace.Event) {
	p := i.process(ev)
	name := ev.Name
	if !ev.ID.Empty() {
		name = ev.Name + "[" + string(ev.ID) + "]"
	}
	key := model.CounterKey(ev.Cat, name)
	ctr, ok := p.Counters[key]
	if !ok {
		if len(ev.Args.Map) == 0 {
			i.warn(WarnCounterParse, fmt.Sprintf("Counter %s has no series, dropping it.", name))
			return
		}
		ctr = &model.Counter{Category: ev.Cat, Name: name}
		for _, seriesName := range sortedKeys(ev.Args.Map) {
			ctr.Series = append(ctr.Series, &model.CounterSeries{
				Name:    seriesName,
				ColorID: eventColorID(ev, ctr.Name+"."+seriesName),
			})
		}
		p.Counters[key] = ctr
	}

	values := make([]float64, len(ctr.Series))
	for idx, series := range ctr.Series {
		v, ok := ev.Args.Map[series.Name]
		if !ok {
			continue
		}
		f, ok := asFloat(v)
		if !ok {
			i.warn(WarnCounterParse, fmt.Sprintf(
				"Counter %s series %s has a non-numeric value, using 0.", name, series.Name))
			continue
		}
		values[idx] = f
	}
	ctr.AppendSample(ms(ev.Ts), values)
}
