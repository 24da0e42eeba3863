package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migration files")
	}
	if files[0] != "001_board.sql" {
		t.Fatalf("expected 001_board.sql first, got %s", files[0])
	}

	for _, file := range files {
		data, err := fs.ReadFile(FS, file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if !strings.Contains(string(data), "-- +migrate Up") {
			t.Fatalf("expected %s to carry an up marker", file)
		}
	}
}
