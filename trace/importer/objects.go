package importer

import (
	"fmt"
	"strings"

	"github.com/jillesme/bigrig/trace"
	"github.com/jillesme/bigrig/trace/model"
)

// createObjects drains the object queue in timestamp order, materialises the
// explicit N/O/D lifecycle, then lifts implicitly nested snapshots out of the
// materialised args graphs.
func (i *Importer) createObjects() error {
	queue := drainQueue(&i.objectEvents)
	for _, qe := range queue {
		ev := qe.ev
		id := string(ev.ID)
		if id == "" {
			i.warn(WarnObjectParse, "Object event without an id.")
			continue
		}
		p := i.process(ev)
		switch ev.Phase {
		case trace.PhaseCreateObject:
			inst, err := p.Objects.IDWasCreated(id, ev.Cat, ev.Name, ms(ev.Ts))
			if err != nil {
				i.warn(WarnObjectParse, err.Error())
				continue
			}
			inst.ColorID = eventColorID(ev, ev.Name)
		case trace.PhaseSnapshotObject:
			i.processObjectSnapshot(p, ev, id)
		case trace.PhaseDeleteObject:
			if _, err := p.Objects.IDWasDeleted(id, ev.Cat, ev.Name, ms(ev.Ts)); err != nil {
				i.warn(WarnObjectParse, err.Error())
			}
		}
	}

	for _, p := range i.model.SortedProcesses() {
		if err := i.liftImplicitSnapshots(p); err != nil {
			return err
		}
	}
	return nil
}

func (i *Importer) processObjectSnapshot(p *model.Process, ev *trace.Event, id string) {
	snapAny, ok := ev.Args.Map["snapshot"]
	if !ok {
		i.warn(WarnObjectSnapshot, fmt.Sprintf("Snapshot of object %s has no snapshot argument.", id))
		return
	}

	category := ev.Cat
	baseType := ""
	var args model.Args
	if m, isMap := asMap(snapAny); isMap {
		args = model.Args(m).DeepCopy()
		if c, ok := asString(args["cat"]); ok {
			category = c
			delete(args, "cat")
		}
		if b, ok := asString(args["base_type"]); ok {
			baseType = b
			delete(args, "base_type")
		}
	} else {
		args = model.Args{"value": snapAny}.DeepCopy()
	}

	snap, err := p.Objects.AddSnapshot(id, category, ev.Name, ms(ev.Ts), args, baseType)
	if err != nil {
		i.warn(WarnObjectSnapshot, err.Error())
		return
	}
	if snap.Instance.Name != "" {
		snap.Instance.ColorID = eventColorID(ev, snap.Instance.Name)
	}
}

// liftImplicitSnapshots walks every snapshot's args tree. Nested objects
// carrying an id of the form "name/localId" become snapshots of their own
// instance, and the containing field is replaced by the snapshot reference.
func (i *Importer) liftImplicitSnapshots(p *model.Process) error {
	var worklist []*model.ObjectSnapshot
	for _, inst := range p.Objects.AllInstances() {
		worklist = append(worklist, inst.Snapshots...)
	}
	for len(worklist) > 0 {
		snap := worklist[0]
		worklist = worklist[1:]
		if _, ok := snap.Args["id"]; ok {
			// The whole bag describes a nested object. Lift it and keep the
			// reference as the snapshot's sole content.
			nv, created, err := i.liftValue(p, snap, map[string]any(snap.Args))
			if err != nil {
				return err
			}
			if ref, ok := nv.(*model.ObjectSnapshot); ok {
				snap.Args = model.Args{"snapshot": ref}
			}
			worklist = append(worklist, created...)
			continue
		}
		for _, k := range sortedKeys(snap.Args) {
			nv, created, err := i.liftValue(p, snap, snap.Args[k])
			if err != nil {
				return err
			}
			snap.Args[k] = nv
			worklist = append(worklist, created...)
		}
	}
	return nil
}

// liftValue rewrites one args value, returning the (possibly replaced) value
// and any snapshots created beneath it. Snapshot references are leaves.
func (i *Importer) liftValue(p *model.Process, parent *model.ObjectSnapshot, v any) (any, []*model.ObjectSnapshot, error) {
	switch v := v.(type) {
	case *model.ObjectSnapshot:
		return v, nil, nil
	case map[string]any:
		if idAny, ok := v["id"]; ok {
			return i.liftObjectField(p, parent, v, idAny)
		}
		var created []*model.ObjectSnapshot
		for _, k := range sortedKeys(v) {
			nv, c, err := i.liftValue(p, parent, v[k])
			if err != nil {
				return nil, nil, err
			}
			v[k] = nv
			created = append(created, c...)
		}
		return v, created, nil
	case []any:
		var created []*model.ObjectSnapshot
		for idx, e := range v {
			nv, c, err := i.liftValue(p, parent, e)
			if err != nil {
				return nil, nil, err
			}
			v[idx] = nv
			created = append(created, c...)
		}
		return v, created, nil
	default:
		return v, nil, nil
	}
}

func (i *Importer) liftObjectField(p *model.Process, parent *model.ObjectSnapshot, v map[string]any, idAny any) (any, []*model.ObjectSnapshot, error) {
	idStr, ok := asString(idAny)
	if !ok || !strings.Contains(idStr, "/") {
		return nil, nil, fmt.Errorf("implicit object id %v is not of the form name/id", idAny)
	}
	name := idStr[:strings.Index(idStr, "/")]

	category := parent.Instance.Category
	if c, ok := asString(v["cat"]); ok {
		category = c
	}
	baseType := ""
	if b, ok := asString(v["base_type"]); ok {
		baseType = b
	}
	residual := model.Args{}
	for _, k := range sortedKeys(v) {
		switch k {
		case "id", "cat", "base_type":
			continue
		}
		residual[k] = v[k]
	}

	snap, err := p.Objects.AddSnapshot(idStr, category, name, parent.Ts, residual, baseType)
	if err != nil {
		i.warn(WarnObjectSnapshot, err.Error())
		return v, nil, nil
	}
	snap.Instance.ColorID = model.StringColorID(name)
	return snap, []*model.ObjectSnapshot{snap}, nil
}
