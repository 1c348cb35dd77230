package api

import (
	"strings"
	"testing"
)

func TestValidate_RecursiveSchema(t *testing.T) {
	// A folder tree: the collection's item references its enclosing compound.
	folder := Compound(
		P("name", Scalar(TypeString)),
	)
	folders := Collection(folder, ByName)
	folder.Props = append(folder.Props, P("folders", folders))

	root := Compound(P("folders", folders))
	if err := Validate(root); err != nil {
		t.Fatalf("Validate on recursive schema: %v", err)
	}

	// The dispatch index must be usable through the cycle.
	n, ok := folder.PropNode("folders")
	if !ok {
		t.Fatal("folder should declare folders")
	}
	if n.Item != folder {
		t.Error("folders item should be the folder compound itself")
	}
}

func TestValidate_RejectsUnreachableCollection(t *testing.T) {
	c := Collection(Compound(), 0)
	c.Enumerable = false
	err := Validate(Compound(P("items", c)))
	if err == nil {
		t.Fatal("collection with no modes and no enumeration should be invalid")
	}
	if !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("error = %q, want mention of unreachability", err)
	}
}

func TestValidate_AllowsEnumerateOnlyCollection(t *testing.T) {
	c := Collection(Compound(), 0) // enumerable by construction
	if err := Validate(Compound(P("items", c))); err != nil {
		t.Fatalf("enumerate-only collection should be valid: %v", err)
	}
}

func TestValidate_RejectsDuplicateProps(t *testing.T) {
	root := Compound(
		P("name", Scalar(TypeString)),
		P("name", Scalar(TypeInt)),
	)
	if err := Validate(root); err == nil {
		t.Fatal("duplicate property names should be invalid")
	}
}

func TestValidate_RejectsCollectionWithoutItem(t *testing.T) {
	if err := Validate(Compound(P("items", Collection(nil, ByIndex)))); err == nil {
		t.Fatal("collection without an item schema should be invalid")
	}
}

func TestPropNames_DeclarationOrder(t *testing.T) {
	n := Compound(
		P("name", Scalar(TypeString)),
		P("mailboxes", Collection(Compound(), ByName)),
	)
	if err := Validate(n); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := n.PropNames()
	if len(got) != 2 || got[0] != "name" || got[1] != "mailboxes" {
		t.Errorf("PropNames = %v, want [name mailboxes]", got)
	}
}

func TestAddrModes_Names(t *testing.T) {
	m := ByIndex | ByID
	got := m.Names()
	if len(got) != 2 || got[0] != "index" || got[1] != "id" {
		t.Errorf("Names = %v, want [index id]", got)
	}
	if m.Has(ByName) {
		t.Error("ByName should not be declared")
	}
}
