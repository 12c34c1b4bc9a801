package model

import (
	"fmt"
	"math"

	"golang.org/x/exp/maps"
	xslices "golang.org/x/exp/slices"
)

// ObjectInstance is one live range of a tracked object, identified by
// (process, category, id). An id can be reused after deletion; each reuse
// is a separate instance.
type ObjectInstance struct {
	Process  *Process
	ID       string
	Category string
	// Name is the object's typename.
	Name     string
	BaseType string
	ColorID  uint32

	CreationTs float64
	// DeletionTs is +Inf while the instance is alive.
	DeletionTs        float64
	DeletionExplicit  bool
	ImplicitlyCreated bool

	Snapshots []*ObjectSnapshot
}

func (i *ObjectInstance) Alive() bool {
	return math.IsInf(i.DeletionTs, 1)
}

// AddSnapshot appends a dated snapshot, enforcing
// creation <= ts <= deletion and snapshot order.
func (i *ObjectInstance) AddSnapshot(ts float64, args Args) (*ObjectSnapshot, error) {
	if ts < i.CreationTs {
		return nil, fmt.Errorf("snapshot of %s at %v precedes creation at %v", i.ID, ts, i.CreationTs)
	}
	if ts > i.DeletionTs {
		return nil, fmt.Errorf("snapshot of %s at %v follows deletion at %v", i.ID, ts, i.DeletionTs)
	}
	if n := len(i.Snapshots); n > 0 && ts < i.Snapshots[n-1].Ts {
		return nil, fmt.Errorf("snapshot of %s at %v is out of order", i.ID, ts)
	}
	snap := &ObjectSnapshot{Instance: i, Ts: ts, Args: args}
	i.Snapshots = append(i.Snapshots, snap)
	return snap, nil
}

// ObjectSnapshot is a dated args bag belonging to exactly one instance.
type ObjectSnapshot struct {
	Instance *ObjectInstance
	Ts       float64
	Args     Args
}

type scopedObjectKey struct {
	category string
	id       string
}

// objectInstanceList holds the live ranges of one id, ordered by creation.
type objectInstanceList struct {
	instances []*ObjectInstance
}

func (l *objectInstanceList) latest() *ObjectInstance {
	if len(l.instances) == 0 {
		return nil
	}
	return l.instances[len(l.instances)-1]
}

// ObjectCollection owns every object instance of one process.
type ObjectCollection struct {
	process *Process
	byKey   map[scopedObjectKey]*objectInstanceList
}

func NewObjectCollection(p *Process) *ObjectCollection {
	return &ObjectCollection{
		process: p,
		byKey:   make(map[scopedObjectKey]*objectInstanceList),
	}
}

func (c *ObjectCollection) list(category, id string) *objectInstanceList {
	key := scopedObjectKey{category, id}
	l, ok := c.byKey[key]
	if !ok {
		l = &objectInstanceList{}
		c.byKey[key] = l
	}
	return l
}

func (c *ObjectCollection) newInstance(category, id, name string, ts float64) *ObjectInstance {
	return &ObjectInstance{
		Process:    c.process,
		ID:         id,
		Category:   category,
		Name:       name,
		CreationTs: ts,
		DeletionTs: math.Inf(1),
	}
}

// IDWasCreated starts a new live range for id. It fails if the id is still
// alive or if ts precedes the end of an earlier live range.
func (c *ObjectCollection) IDWasCreated(id, category, name string, ts float64) (*ObjectInstance, error) {
	l := c.list(category, id)
	if last := l.latest(); last != nil {
		if last.Alive() {
			return nil, fmt.Errorf("object %s/%s created at %v while still alive", category, id, ts)
		}
		if ts < last.DeletionTs {
			return nil, fmt.Errorf("object %s/%s created at %v, before the previous live range ended at %v", category, id, ts, last.DeletionTs)
		}
	}
	inst := c.newInstance(category, id, name, ts)
	l.instances = append(l.instances, inst)
	return inst, nil
}

// AddSnapshot records a snapshot on the current live range, implicitly
// creating an instance when none covers ts.
func (c *ObjectCollection) AddSnapshot(id, category, name string, ts float64, args Args, baseType string) (*ObjectSnapshot, error) {
	l := c.list(category, id)
	inst := l.latest()
	if inst == nil || (!inst.Alive() && ts > inst.DeletionTs) {
		inst = c.newInstance(category, id, name, ts)
		inst.ImplicitlyCreated = true
		l.instances = append(l.instances, inst)
	}
	if inst.Name == "" {
		inst.Name = name
	} else if name != "" && inst.Name != name {
		return nil, fmt.Errorf("snapshot of object %s/%s has type %q, instance has type %q", category, id, name, inst.Name)
	}
	if baseType != "" {
		if inst.BaseType != "" && inst.BaseType != baseType {
			return nil, fmt.Errorf("snapshot of object %s/%s has base type %q, instance has base type %q", category, id, baseType, inst.BaseType)
		}
		inst.BaseType = baseType
	}
	return inst.AddSnapshot(ts, args)
}

// IDWasDeleted ends the current live range at ts. References to the id are
// invalid afterwards, until a new creation.
func (c *ObjectCollection) IDWasDeleted(id, category, name string, ts float64) (*ObjectInstance, error) {
	l := c.list(category, id)
	inst := l.latest()
	if inst == nil {
		return nil, fmt.Errorf("object %s/%s deleted at %v but never existed", category, id, ts)
	}
	if !inst.Alive() {
		return nil, fmt.Errorf("object %s/%s deleted twice, at %v and %v", category, id, inst.DeletionTs, ts)
	}
	if ts < inst.CreationTs {
		return nil, fmt.Errorf("object %s/%s deleted at %v, before its creation at %v", category, id, ts, inst.CreationTs)
	}
	if name != "" && inst.Name != "" && inst.Name != name {
		return nil, fmt.Errorf("deletion of object %s/%s has type %q, instance has type %q", category, id, name, inst.Name)
	}
	inst.DeletionTs = ts
	inst.DeletionExplicit = true
	return inst, nil
}

// AllInstances returns every instance in deterministic (category, id,
// creation) order.
func (c *ObjectCollection) AllInstances() []*ObjectInstance {
	keys := maps.Keys(c.byKey)
	xslices.SortFunc(keys, func(a, b scopedObjectKey) int {
		if a.category != b.category {
			if a.category < b.category {
				return -1
			}
			return 1
		}
		if a.id != b.id {
			if a.id < b.id {
				return -1
			}
			return 1
		}
		return 0
	})
	var out []*ObjectInstance
	for _, k := range keys {
		out = append(out, c.byKey[k].instances...)
	}
	return out
}

func (c *ObjectCollection) IsEmpty() bool {
	return len(c.byKey) == 0
}

func (c *ObjectCollection) UpdateBounds(bounds *Bounds) {
	for _, inst := range c.AllInstances() {
		bounds.AddValue(inst.CreationTs)
		for _, snap := range inst.Snapshots {
			bounds.AddValue(snap.Ts)
		}
		if !inst.Alive() {
			bounds.AddValue(inst.DeletionTs)
		}
	}
}

func (c *ObjectCollection) ShiftTimestamps(amount float64) {
	for _, l := range c.byKey {
		for _, inst := range l.instances {
			inst.CreationTs += amount
			if !inst.Alive() {
				inst.DeletionTs += amount
			}
			for _, snap := range inst.Snapshots {
				snap.Ts += amount
			}
		}
	}
}

// CloseOpenInstances stamps still-alive instances as deleted at endTs,
// without marking the deletion explicit.
func (c *ObjectCollection) CloseOpenInstances(endTs float64) {
	for _, l := range c.byKey {
		for _, inst := range l.instances {
			if inst.Alive() {
				inst.DeletionTs = endTs
			}
		}
	}
}
