package changelog

import (
	"testing"
)

func TestParseLine_DeleteHasNilData(t *testing.T) {
	line := []byte(`{"timestamp":"2026-08-25T10:00:00Z","entity_type":"task","entity_id":"TASK-001","change_type":"delete","data":null}`)
	rec, err := ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}
	if rec.Data != nil {
		t.Errorf("delete record data = %q, want nil", rec.Data)
	}
	if rec.ChangeType != ChangeDelete {
		t.Errorf("change_type = %q, want delete", rec.ChangeType)
	}
}

func TestParseLine_KeepsSnapshotData(t *testing.T) {
	line := []byte(`{"timestamp":"2026-08-25T10:00:00Z","entity_type":"spec","entity_id":"spec-1","change_type":"create","data":{"id":"spec-1"}}`)
	rec, err := ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}
	if string(rec.Data) != `{"id":"spec-1"}` {
		t.Errorf("data = %q", rec.Data)
	}
}

func TestParseLine_RejectsUnknownTypes(t *testing.T) {
	cases := []string{
		`{"timestamp":"2026-08-25T10:00:00Z","entity_type":"widget","entity_id":"w","change_type":"create","data":null}`,
		`{"timestamp":"2026-08-25T10:00:00Z","entity_type":"task","entity_id":"t","change_type":"upsert","data":null}`,
	}
	for _, line := range cases {
		if _, err := ParseLine([]byte(line)); err == nil {
			t.Errorf("ParseLine(%s) succeeded, want error", line)
		}
	}
}
