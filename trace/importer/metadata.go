package importer

import (
	"fmt"
	"strings"

	"github.com/jillesme/bigrig/container"
	"github.com/jillesme/bigrig/trace"
)

// processMetadataEvent applies a metadata record to its process or thread.
func (i *Importer) processMetadataEvent(ev *trace.Event) {
	switch ev.Name {
	case "process_name":
		name, ok := asString(ev.Args.Map["name"])
		if !ok {
			i.warn(WarnMetadataParse, "process_name metadata without a name argument.")
			return
		}
		i.process(ev).Name = name
	case "process_labels":
		labels, ok := asString(ev.Args.Map["labels"])
		if !ok {
			i.warn(WarnMetadataParse, "process_labels metadata without a labels argument.")
			return
		}
		p := i.process(ev)
		p.Labels = append(p.Labels, strings.Split(labels, ",")...)
	case "process_sort_index":
		idx, ok := asInt64(ev.Args.Map["sort_index"])
		if !ok {
			i.warn(WarnMetadataParse, "process_sort_index metadata without a sort_index argument.")
			return
		}
		i.process(ev).SortIndex = container.Some(idx)
	case "thread_name":
		name, ok := asString(ev.Args.Map["name"])
		if !ok {
			i.warn(WarnMetadataParse, "thread_name metadata without a name argument.")
			return
		}
		i.thread(ev).Name = name
	case "thread_sort_index":
		idx, ok := asInt64(ev.Args.Map["sort_index"])
		if !ok {
			i.warn(WarnMetadataParse, "thread_sort_index metadata without a sort_index argument.")
			return
		}
		i.thread(ev).SortIndex = container.Some(idx)
	case "num_cpus":
		n, ok := asInt64(ev.Args.Map["number"])
		if !ok {
			i.warn(WarnMetadataParse, "num_cpus metadata without a number argument.")
			return
		}
		// Several tracing agents may report; keep the largest count.
		if cur, set := i.model.Device.NumCPUs.Get(); !set || n > cur {
			i.model.Device.NumCPUs = container.Some(n)
		}
	case "trace_buffer_overflowed":
		i.process(ev).TraceBufferOverflowedAt = container.Some(ms(ev.Ts))
	default:
		i.warn(WarnMetadataParse, fmt.Sprintf("Unrecognized metadata name %q.", ev.Name))
	}
}
