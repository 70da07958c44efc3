package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestArchiveRoundTrip(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Outputs"), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "Outputs", "messages.csv"), []byte("uid,text\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "production.csv"), []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(root, "Backups"), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "Backups", "old.tar.sz"), []byte("old"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "2020-03-02T09:15:30Z-3f6c2a1.tar.sz")
	if err := CreateFile(archivePath, root, "Backups"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	dest := t.TempDir()
	if err := Extract(f, dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "Outputs", "messages.csv"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "uid,text\n" {
		t.Fatalf("unexpected content after round trip: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "production.csv")); err != nil {
		t.Fatalf("expected top-level file to survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "Backups")); !os.IsNotExist(err) {
		t.Fatalf("expected excluded directory to be skipped")
	}
}
