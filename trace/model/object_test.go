package model

import (
	"testing"
)

func TestObjectLifecycle(t *testing.T) {
	p := NewProcess(1)
	c := p.Objects

	inst, err := c.IDWasCreated("0x1", "cat", "Frame", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !inst.Alive() {
		t.Fatal("fresh instance not alive")
	}
	snap, err := c.AddSnapshot("0x1", "cat", "Frame", 5, Args{"x": 1.0}, "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Instance != inst || snap.Ts != 5 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := c.IDWasDeleted("0x1", "cat", "Frame", 10); err != nil {
		t.Fatal(err)
	}
	if inst.Alive() || inst.DeletionTs != 10 || !inst.DeletionExplicit {
		t.Fatalf("instance after delete = %+v", inst)
	}
}

func TestObjectCreateWhileAlive(t *testing.T) {
	p := NewProcess(1)
	c := p.Objects
	if _, err := c.IDWasCreated("0x1", "cat", "Frame", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.IDWasCreated("0x1", "cat", "Frame", 5); err == nil {
		t.Fatal("second creation of a live id should fail")
	}
}

func TestObjectIDReuse(t *testing.T) {
	p := NewProcess(1)
	c := p.Objects
	first, _ := c.IDWasCreated("0x1", "cat", "Frame", 0)
	c.IDWasDeleted("0x1", "cat", "Frame", 10)
	second, err := c.IDWasCreated("0x1", "cat", "Frame", 20)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("id reuse should create a distinct instance")
	}
	if got := len(c.AllInstances()); got != 2 {
		t.Fatalf("got %d instances, want 2", got)
	}
}

func TestObjectSnapshotImplicitCreation(t *testing.T) {
	p := NewProcess(1)
	c := p.Objects
	snap, err := c.AddSnapshot("0x2", "cat", "Layer", 3, Args{}, "cc::Layer")
	if err != nil {
		t.Fatal(err)
	}
	inst := snap.Instance
	if !inst.ImplicitlyCreated || inst.CreationTs != 3 || inst.BaseType != "cc::Layer" {
		t.Fatalf("instance = %+v", inst)
	}
}

func TestObjectSnapshotTypeMismatch(t *testing.T) {
	p := NewProcess(1)
	c := p.Objects
	c.IDWasCreated("0x1", "cat", "Frame", 0)
	if _, err := c.AddSnapshot("0x1", "cat", "Widget", 1, Args{}, ""); err == nil {
		t.Fatal("snapshot with conflicting typename should fail")
	}
	// An untyped snapshot takes the instance's type.
	if _, err := c.AddSnapshot("0x1", "cat", "", 2, Args{}, ""); err != nil {
		t.Fatal(err)
	}
}

func TestObjectSnapshotOrdering(t *testing.T) {
	p := NewProcess(1)
	c := p.Objects
	c.IDWasCreated("0x1", "cat", "Frame", 0)
	if _, err := c.AddSnapshot("0x1", "cat", "Frame", 5, Args{}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddSnapshot("0x1", "cat", "Frame", 4, Args{}, ""); err == nil {
		t.Fatal("out of order snapshot should fail")
	}
}

func TestObjectDeleteErrors(t *testing.T) {
	p := NewProcess(1)
	c := p.Objects
	if _, err := c.IDWasDeleted("0x9", "cat", "", 1); err == nil {
		t.Fatal("deleting an unknown id should fail")
	}
	c.IDWasCreated("0x1", "cat", "Frame", 5)
	if _, err := c.IDWasDeleted("0x1", "cat", "Frame", 2); err == nil {
		t.Fatal("deletion before creation should fail")
	}
	c.IDWasDeleted("0x1", "cat", "Frame", 10)
	if _, err := c.IDWasDeleted("0x1", "cat", "Frame", 11); err == nil {
		t.Fatal("double deletion should fail")
	}
}

func TestObjectCategoriesAreSeparateNamespaces(t *testing.T) {
	p := NewProcess(1)
	c := p.Objects
	if _, err := c.IDWasCreated("0x1", "a", "Frame", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.IDWasCreated("0x1", "b", "Frame", 0); err != nil {
		t.Fatal(err)
	}
	insts := c.AllInstances()
	if len(insts) != 2 || insts[0].Category != "a" || insts[1].Category != "b" {
		t.Fatalf("instances = %+v", insts)
	}
}

func TestCloseOpenInstances(t *testing.T) {
	p := NewProcess(1)
	c := p.Objects
	inst, _ := c.IDWasCreated("0x1", "cat", "Frame", 0)
	c.CloseOpenInstances(100)
	if inst.Alive() || inst.DeletionTs != 100 {
		t.Fatalf("instance = %+v", inst)
	}
	if inst.DeletionExplicit {
		t.Error("auto close should not be explicit")
	}
}
