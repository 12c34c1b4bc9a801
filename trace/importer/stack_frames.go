package importer

import (
	"fmt"

	"github.com/jillesme/bigrig/trace"
	"github.com/jillesme/bigrig/trace/model"
)

// importStackFrames registers a frame dictionary under a scope prefix in two
// passes: first every frame, then the parent links. With addRootFrame, a
// synthetic root carrying the bare prefix as its id is created and parentless
// frames attach to it.
func (i *Importer) importStackFrames(records map[string]trace.StackFrameRecord, prefix string, addRootFrame bool) error {
	if len(records) == 0 {
		return nil
	}
	var root *model.StackFrame
	if addRootFrame {
		root = &model.StackFrame{ID: prefix, ColorID: model.StringColorID(prefix)}
		if err := i.model.AddStackFrame(root); err != nil {
			return err
		}
	}

	ids := sortedKeys(records)
	for _, id := range ids {
		rec := records[id]
		title := rec.Name
		if rec.Category != "" {
			title = rec.Category + ":" + title
		}
		f := &model.StackFrame{
			ID:         prefix + id,
			Title:      title,
			ColorID:    model.StringColorID(title),
			SourceInfo: rec.SourceInfo,
		}
		if err := i.model.AddStackFrame(f); err != nil {
			return err
		}
	}
	for _, id := range ids {
		rec := records[id]
		f := i.model.StackFrames[prefix+id]
		if rec.Parent.Empty() {
			f.Parent = root
			continue
		}
		parent, ok := i.model.StackFrames[prefix+string(rec.Parent)]
		if !ok {
			i.warn(WarnParse, fmt.Sprintf(
				"Missing parent frame %s for stack frame %s.", rec.Parent, id))
			f.Parent = root
			continue
		}
		f.Parent = parent
	}
	return nil
}

// stackFrameForEvent resolves the frame an event points at, from its sf id or
// its end-of-slice counterpart. At most one of the id and the raw stack may
// be present.
func (i *Importer) stackFrameForEvent(ev *trace.Event, end bool) *model.StackFrame {
	return i.eventStackFrame(ev, end, WarnParse)
}

// eventStackFrame is stackFrameForEvent with the warning kind for a failed
// lookup chosen by the caller.
func (i *Importer) eventStackFrame(ev *trace.Event, end bool, warnKind string) *model.StackFrame {
	sf, stack := ev.StackFrame, ev.Stack
	if end {
		sf, stack = ev.EndStackFrame, ev.EndStack
	}
	if !sf.Empty() && len(stack) > 0 {
		i.warn(WarnStackFrameAndStack, fmt.Sprintf(
			"Event %s has both a stack frame id and a raw stack.", ev.Name))
		return nil
	}
	if len(stack) > 0 {
		return i.resolveStackToStackFrame(ev.Pid, stack)
	}
	if sf.Empty() {
		return nil
	}
	f, ok := i.model.StackFrames["g"+string(sf)]
	if !ok {
		i.warn(warnKind, fmt.Sprintf("Unknown stack frame id %s.", sf))
		return nil
	}
	return f
}

// resolveStackToStackFrame would intern a raw program-counter stack into the
// frame table. Raw stacks are accepted but not resolved; every consumer
// tolerates a nil frame.
func (i *Importer) resolveStackToStackFrame(pid int64, stack []string) *model.StackFrame {
	return nil
}
