package ikv

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestSegmentUpsertAndRead(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	pk := []byte("doc-1")
	fields := map[FieldID]FieldValue{
		0: StringValue("alice"),
		1: Int32Value(30),
	}
	if err := seg.Upsert(pk, fields); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if v, ok := seg.ReadField(pk, 0); !ok {
		t.Fatal("expected field 0 to be present")
	} else if s, _ := v.AsString(); s != "alice" {
		t.Fatalf("got %q, want alice", s)
	}
	if v, ok := seg.ReadField(pk, 1); !ok {
		t.Fatal("expected field 1 to be present")
	} else if n, _ := v.AsInt32(); n != 30 {
		t.Fatalf("got %d, want 30", n)
	}
	if _, ok := seg.ReadField(pk, 2); ok {
		t.Fatal("field 2 was never written, should be absent")
	}
	if _, ok := seg.ReadField([]byte("unknown-doc"), 0); ok {
		t.Fatal("unknown document should report absent, not found")
	}
}

func TestSegmentDeleteFieldsAndDocument(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	pk := []byte("doc-2")
	if err := seg.Upsert(pk, map[FieldID]FieldValue{0: StringValue("x"), 1: StringValue("y")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := seg.DeleteFields(pk, []FieldID{0}); err != nil {
		t.Fatalf("DeleteFields: %v", err)
	}
	if _, ok := seg.ReadField(pk, 0); ok {
		t.Fatal("field 0 should be absent after delete")
	}
	if _, ok := seg.ReadField(pk, 1); !ok {
		t.Fatal("field 1 should still be present")
	}

	if err := seg.DeleteDocument(pk); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, ok := seg.ReadField(pk, 1); ok {
		t.Fatal("no field should survive a document delete")
	}
}

func TestSegmentReopenReplaysLog(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	pk := []byte("persisted")
	if err := seg.Upsert(pk, map[FieldID]FieldValue{0: Int64Value(12345)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	v, ok := reopened.ReadField(pk, 0)
	if !ok {
		t.Fatal("expected field to survive reopen")
	}
	if n, _ := v.AsInt64(); n != 12345 {
		t.Fatalf("got %d, want 12345", n)
	}
}

func TestSegmentGrowsArenaAcrossChunkBoundary(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	big := make([]byte, chunkSize+1024)
	for i := range big {
		big[i] = byte(i)
	}
	pk := []byte("big-doc")
	if err := seg.Upsert(pk, map[FieldID]FieldValue{0: BytesValue(big)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	v, ok := seg.ReadField(pk, 0)
	if !ok {
		t.Fatal("expected large field to be present")
	}
	if len(v.Bytes) != len(big) {
		t.Fatalf("got %d bytes, want %d", len(v.Bytes), len(big))
	}
	for i := range big {
		if v.Bytes[i] != big[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, v.Bytes[i], big[i])
		}
	}
}

// TestSegmentReopenPreservesWriteCursor guards against the write cursor
// resetting to zero on reopen: a second round of writes after a reopen must
// land past the first round's bytes, not overwrite them.
func TestSegmentReopenPreservesWriteCursor(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	if err := seg.Upsert([]byte("first"), map[FieldID]FieldValue{0: StringValue("alice")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.Upsert([]byte("second"), map[FieldID]FieldValue{0: StringValue("bob")}); err != nil {
		t.Fatalf("Upsert after reopen: %v", err)
	}
	if err := reopened.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	final, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("final reopen: %v", err)
	}
	defer final.Close()

	v, ok := final.ReadField([]byte("first"), 0)
	if !ok {
		t.Fatal("expected first doc to survive a second round of writes after reopen")
	}
	if s, _ := v.AsString(); s != "alice" {
		t.Fatalf("first doc corrupted: got %q, want alice", s)
	}
	v, ok = final.ReadField([]byte("second"), 0)
	if !ok {
		t.Fatal("expected second doc, written after reopen, to be readable")
	}
	if s, _ := v.AsString(); s != "bob" {
		t.Fatalf("second doc: got %q, want bob", s)
	}
}

func TestSegmentDeleteAllDocuments(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	if err := seg.Upsert([]byte("doc"), map[FieldID]FieldValue{0: StringValue("x")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := seg.DeleteAllDocuments(); err != nil {
		t.Fatalf("DeleteAllDocuments: %v", err)
	}
	if _, ok := seg.ReadField([]byte("doc"), 0); ok {
		t.Fatal("expected no documents to survive delete_all_documents")
	}
	if err := seg.Upsert([]byte("fresh"), map[FieldID]FieldValue{0: StringValue("y")}); err != nil {
		t.Fatalf("re-upsert after delete_all_documents: %v", err)
	}
	v, ok := seg.ReadField([]byte("fresh"), 0)
	if !ok || func() string { s, _ := v.AsString(); return s }() != "y" {
		t.Fatalf("expected re-upsert after delete_all_documents to be readable, got (%+v, %v)", v, ok)
	}
}

// TestSegmentUnknownStoredValueReadsAsAbsent guards a stored UNKNOWN-typed
// sentinel reading as present, which would surface dropped-field garbage
// through the normal read path.
func TestSegmentUnknownStoredValueReadsAsAbsent(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	if err := seg.Upsert([]byte("doc"), map[FieldID]FieldValue{0: {Type: FieldTypeUnknown}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, ok := seg.ReadField([]byte("doc"), 0); ok {
		t.Fatal("a stored UNKNOWN value should read as absent")
	}
	vals := seg.ReadFields([]byte("doc"), []FieldID{0})
	if vals[0].Present {
		t.Fatal("a stored UNKNOWN value should be absent from ReadFields too")
	}
}

func TestSegmentReadFieldsBatches(t *testing.T) {
	dir := t.TempDir()
	seg, err := openSegment(dir, testLogger())
	if err != nil {
		t.Fatalf("openSegment: %v", err)
	}
	defer seg.Close()

	pk := []byte("batch-doc")
	if err := seg.Upsert(pk, map[FieldID]FieldValue{0: StringValue("a"), 2: StringValue("c")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	vals := seg.ReadFields(pk, []FieldID{0, 1, 2})
	if !vals[0].Present || !vals[2].Present {
		t.Fatalf("expected fields 0 and 2 present: %+v", vals)
	}
	if vals[1].Present {
		t.Fatalf("field 1 was never written, should be absent: %+v", vals[1])
	}
}
