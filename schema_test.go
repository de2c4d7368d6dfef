package ikv

import "testing"

func TestSchemaAssignsAndPersistsFieldIDs(t *testing.T) {
	dir := t.TempDir()
	s, err := openOrCreateSchema(dir, "id", testLogger())
	if err != nil {
		t.Fatalf("openOrCreateSchema: %v", err)
	}
	if id, ok := s.FieldIDFor("id"); !ok || id != 0 {
		t.Fatalf("primary key should be pre-registered at id 0, got (%d, %v)", id, ok)
	}

	nameID, err := s.EnsureFieldID("name")
	if err != nil {
		t.Fatalf("EnsureFieldID: %v", err)
	}
	if nameID != 1 {
		t.Fatalf("got id %d, want 1", nameID)
	}
	// re-requesting an existing name must not mint a new id.
	again, err := s.EnsureFieldID("name")
	if err != nil || again != nameID {
		t.Fatalf("EnsureFieldID not idempotent: got (%d, %v)", again, err)
	}

	reopened, err := openOrCreateSchema(dir, "id", testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if id, ok := reopened.FieldIDFor("name"); !ok || id != nameID {
		t.Fatalf("field id did not survive reopen: got (%d, %v)", id, ok)
	}
}

func TestSchemaCompactRenumbersDensely(t *testing.T) {
	dir := t.TempDir()
	s, err := openOrCreateSchema(dir, "id", testLogger())
	if err != nil {
		t.Fatalf("openOrCreateSchema: %v", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.EnsureFieldID(name); err != nil {
			t.Fatalf("EnsureFieldID(%s): %v", name, err)
		}
	}
	if err := s.SoftDeleteFields([]string{"b"}, nil); err != nil {
		t.Fatalf("SoftDeleteFields: %v", err)
	}

	newToOld, err := s.compact()
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if got := s.fieldCount(); got != 3 {
		t.Fatalf("expected 3 fields after dropping one of four, got %d", got)
	}
	for newID := FieldID(0); int(newID) < len(newToOld); newID++ {
		if _, ok := newToOld[newID]; !ok {
			t.Fatalf("newToOld is not dense: missing new id %d", newID)
		}
	}
}
