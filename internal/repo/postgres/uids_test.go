package postgres

import (
	"strings"
	"testing"
)

func TestAllocateQueryIsAtomic(t *testing.T) {
	if !strings.Contains(insertUIDQuery, "ON CONFLICT (table_name, raw_contact_id) DO NOTHING") {
		t.Fatalf("expected allocation insert to be conflict-safe")
	}
	if !strings.Contains(insertUIDQuery, "RETURNING uid") {
		t.Fatalf("expected allocation insert to return the persisted uid")
	}
}

func TestLookupQueriesAreTableScoped(t *testing.T) {
	if !strings.Contains(selectUIDQuery, "table_name = $1") {
		t.Fatalf("expected uid lookup to be scoped by table name")
	}
	if !strings.Contains(selectEntriesQuery, "table_name = $1") {
		t.Fatalf("expected entry listing to be scoped by table name")
	}
}
