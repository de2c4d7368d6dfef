package ikv

import "testing"

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		MountDirectory:  t.TempDir(),
		StoreName:       "users",
		Partition:       0,
		PrimaryKeyField: "id",
	}
}

func TestFacadeUpsertAndGet(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("OpenFacade: %v", err)
	}
	defer f.Close()

	doc := Document{
		"id":   StringValue("u-1"),
		"name": StringValue("alice"),
		"age":  Int32Value(30),
	}
	if err := f.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	v, ok := f.GetFieldValue(doc["id"], "name")
	if !ok {
		t.Fatal("expected name to be present")
	}
	if s, _ := v.AsString(); s != "alice" {
		t.Fatalf("got %q, want alice", s)
	}

	if _, ok := f.GetFieldValue(doc["id"], "nonexistent"); ok {
		t.Fatal("unregistered field name should report absent")
	}
	if _, ok := f.GetFieldValue(StringValue("missing-doc"), "name"); ok {
		t.Fatal("missing document should report absent")
	}
}

func TestFacadeUpsertRejectsMissingPrimaryKey(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("OpenFacade: %v", err)
	}
	defer f.Close()

	err = f.Upsert(Document{"name": StringValue("no pk here")})
	if err == nil {
		t.Fatal("expected an error for a document missing its primary key field")
	}
}

func TestFacadeDeleteFieldsAndDocument(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("OpenFacade: %v", err)
	}
	defer f.Close()

	doc := Document{"id": StringValue("u-2"), "name": StringValue("bob"), "age": Int32Value(40)}
	if err := f.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := f.DeleteFields(doc, []string{"age"}); err != nil {
		t.Fatalf("DeleteFields: %v", err)
	}
	if _, ok := f.GetFieldValue(doc["id"], "age"); ok {
		t.Fatal("age should be absent after delete")
	}
	if _, ok := f.GetFieldValue(doc["id"], "name"); !ok {
		t.Fatal("name should still be present")
	}

	if err := f.DeleteDocument(doc); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, ok := f.GetFieldValue(doc["id"], "name"); ok {
		t.Fatal("no field should survive a document delete")
	}
}

func TestFacadeBatchGetFieldValues(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("OpenFacade: %v", err)
	}
	defer f.Close()

	docs := []Document{
		{"id": StringValue("k1"), "name": StringValue("one")},
		{"id": StringValue("k2"), "name": StringValue("two")},
	}
	for _, d := range docs {
		if err := f.Upsert(d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	pks := []FieldValue{StringValue("k1"), StringValue("k2"), StringValue("missing")}
	results := f.BatchGetFieldValues(pks, []string{"name"})
	if len(results) != 3 {
		t.Fatalf("got %d result rows, want 3", len(results))
	}
	if !results[0][0].Present || !results[1][0].Present {
		t.Fatalf("expected k1 and k2's name to be present: %+v", results)
	}
	if results[2][0].Present {
		t.Fatalf("missing document's field should be absent: %+v", results[2])
	}
	if s, _ := results[0][0].Value.AsString(); s != "one" {
		t.Fatalf("got %q, want one", s)
	}
}

func TestFacadeUpsertFiltersUnknownFieldValues(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("OpenFacade: %v", err)
	}
	defer f.Close()

	doc := Document{"id": StringValue("u-3"), "bad": {Type: FieldTypeUnknown}}
	if err := f.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, ok := f.GetFieldValue(doc["id"], "bad"); ok {
		t.Fatal("an UNKNOWN-typed field value should never reach the shard")
	}
}

func TestFacadeDropFieldsAndDropAllDocuments(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("OpenFacade: %v", err)
	}
	defer f.Close()

	docs := []Document{
		{"id": StringValue("id:0"), "name": StringValue("zero"), "embedding": BytesValue([]byte("e0"))},
		{"id": StringValue("id:1"), "name": StringValue("one"), "embedding": BytesValue([]byte("e1"))},
		{"id": StringValue("id:2"), "name": StringValue("two"), "embedding": BytesValue([]byte("e2"))},
	}
	for _, d := range docs {
		if err := f.Upsert(d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	if err := f.DropFields([]string{"embedding"}, nil); err != nil {
		t.Fatalf("DropFields: %v", err)
	}
	for _, d := range docs {
		if _, ok := f.GetFieldValue(d["id"], "embedding"); ok {
			t.Fatalf("embedding should be absent after drop_fields for %v", d["id"])
		}
		if _, ok := f.GetFieldValue(d["id"], "name"); !ok {
			t.Fatalf("name should survive drop_fields for %v", d["id"])
		}
	}

	if err := f.DropAllDocuments(); err != nil {
		t.Fatalf("DropAllDocuments: %v", err)
	}
	for _, d := range docs {
		if _, ok := f.GetFieldValue(d["id"], "name"); ok {
			t.Fatalf("no field should survive drop_all_documents for %v", d["id"])
		}
	}

	if err := f.Upsert(Document{"id": StringValue("id:0"), "name": StringValue("reborn")}); err != nil {
		t.Fatalf("re-upsert after drop_all_documents: %v", err)
	}
	v, ok := f.GetFieldValue(StringValue("id:0"), "name")
	if !ok {
		t.Fatal("expected re-upsert after drop_all_documents to be readable")
	}
	if s, _ := v.AsString(); s != "reborn" {
		t.Fatalf("got %q, want reborn", s)
	}
}

func TestFacadeValidityProbes(t *testing.T) {
	cfg := testConfig(t)
	if !IndexNotPresent(cfg) {
		t.Fatal("expected index_not_present before the partition is ever opened")
	}
	if IsValidIndex(cfg) {
		t.Fatal("expected is_valid_index false before the partition is ever opened")
	}

	f, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("OpenFacade: %v", err)
	}
	if err := f.Upsert(Document{"id": StringValue("id:0")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := f.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if IndexNotPresent(cfg) {
		t.Fatal("expected index_not_present false once the partition has been opened and written")
	}
	if !IsValidIndex(cfg) {
		t.Fatal("expected is_valid_index true once every required file exists")
	}

	if err := DeleteAll(cfg); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if !IndexNotPresent(cfg) {
		t.Fatal("expected index_not_present true after delete_all")
	}
	if IsValidIndex(cfg) {
		t.Fatal("expected is_valid_index false after delete_all")
	}
}

func TestFacadeBatchGetFieldValuesWireFormat(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("OpenFacade: %v", err)
	}
	defer f.Close()

	if err := f.Upsert(Document{"id": StringValue("k1"), "name": StringValue("ab")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	pks := []FieldValue{StringValue("k1"), StringValue("missing")}
	out := f.BatchGetFieldValuesWire(pks, []string{"name"})

	want := []byte{2, 0, 0, 0, 'a', 'b', 0xff, 0xff, 0xff, 0xff}
	if len(out) != len(want) {
		t.Fatalf("got %d bytes, want %d: %x", len(out), len(want), out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x (full: %x)", i, out[i], want[i], out)
		}
	}
}

func TestFacadeReopenPreservesData(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("OpenFacade: %v", err)
	}
	doc := Document{"id": StringValue("persist"), "name": StringValue("carol")}
	if err := f.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenFacade(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	v, ok := reopened.GetFieldValue(doc["id"], "name")
	if !ok {
		t.Fatal("expected data to survive facade reopen")
	}
	if s, _ := v.AsString(); s != "carol" {
		t.Fatalf("got %q, want carol", s)
	}
}
