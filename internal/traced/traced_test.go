package traced

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAppendChainsHistory(t *testing.T) {
	now := time.Date(2020, 2, 23, 19, 0, 0, 0, time.UTC)
	record := NewRecord("survey-uid-1", "fetch-raw", map[string]string{
		"rqa_s01e01_raw": "my response",
		"sent_on":        "2020-02-23T19:00:00Z",
	}, now)

	record.Append("fetch-coded", map[string]string{"rqa_s01e01_coded": "theme_a"}, now.Add(time.Hour))

	if len(record.History) != 2 {
		t.Fatalf("expected 2 history events, got %d", len(record.History))
	}
	if record.History[1].PrevSHA != record.History[0].SHA {
		t.Fatalf("expected history to chain")
	}
	if err := record.Verify(); err != nil {
		t.Fatalf("expected a valid chain: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	now := time.Date(2020, 2, 23, 19, 0, 0, 0, time.UTC)
	record := NewRecord("survey-uid-1", "fetch-raw", map[string]string{"age_raw": "24"}, now)

	record.Fields["age_raw"] = "99"
	if err := record.Verify(); err == nil {
		t.Fatalf("expected modified content to fail verification")
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	now := time.Date(2020, 2, 23, 19, 0, 0, 0, time.UTC)
	records := []Record{
		NewRecord("survey-uid-1", "fetch-raw", map[string]string{"age_raw": "24"}, now),
		NewRecord("survey-uid-2", "fetch-raw", map[string]string{"age_raw": "31"}, now),
	}
	records[1].Append("fetch-coded", map[string]string{"age_coded": "25_to_35"}, now.Add(time.Minute))

	path := filepath.Join(t.TempDir(), "individuals_traced_data.jsonl")
	if err := WriteFile(path, records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].UID != "survey-uid-1" || got[1].UID != "survey-uid-2" {
		t.Fatalf("unexpected uids: %q %q", got[0].UID, got[1].UID)
	}
	for i, record := range got {
		if err := record.Verify(); err != nil {
			t.Fatalf("record %d failed verification after round trip: %v", i, err)
		}
	}
	if value, ok := got[1].Get("age_coded"); !ok || value != "25_to_35" {
		t.Fatalf("expected appended field to survive, got %q ok=%v", value, ok)
	}
}
