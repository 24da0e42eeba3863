package integrity

import (
	"testing"
	"time"

	"github.com/louisbranch/podium.live/internal/services/board/storage"
)

func baseEntry() storage.HistoryEntry {
	return storage.HistoryEntry{
		UserID:        "u1",
		Seq:           1,
		PreviousScore: 1200,
		NewScore:      1250,
		Increment:     50,
		ActionType:    "puzzle.solved",
		RequestID:     "req-1",
		CreatedAt:     time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}
}

func TestEntryHashDeterministic(t *testing.T) {
	entry := baseEntry()

	first, err := EntryHash(entry)
	if err != nil {
		t.Fatalf("entry hash: %v", err)
	}
	second, err := EntryHash(entry)
	if err != nil {
		t.Fatalf("entry hash: %v", err)
	}
	if first != second {
		t.Fatalf("expected deterministic hash, got %s and %s", first, second)
	}
}

func TestEntryHashChangesWithFields(t *testing.T) {
	entry := baseEntry()
	baseline, err := EntryHash(entry)
	if err != nil {
		t.Fatalf("entry hash: %v", err)
	}

	bumped := entry
	bumped.NewScore = 1251
	changed, err := EntryHash(bumped)
	if err != nil {
		t.Fatalf("entry hash: %v", err)
	}
	if baseline == changed {
		t.Fatal("expected hash to change when the committed score changes")
	}

	withMetadata := entry
	withMetadata.MetadataJSON = `{"difficulty":"hard"}`
	metadataHash, err := EntryHash(withMetadata)
	if err != nil {
		t.Fatalf("entry hash: %v", err)
	}
	if baseline == metadataHash {
		t.Fatal("expected hash to change when metadata changes")
	}
}

func TestEntryHashValidation(t *testing.T) {
	missingUser := baseEntry()
	missingUser.UserID = " "
	if _, err := EntryHash(missingUser); err == nil {
		t.Fatal("expected error for missing user id")
	}

	missingSeq := baseEntry()
	missingSeq.Seq = 0
	if _, err := EntryHash(missingSeq); err == nil {
		t.Fatal("expected error for missing seq")
	}

	missingTime := baseEntry()
	missingTime.CreatedAt = time.Time{}
	if _, err := EntryHash(missingTime); err == nil {
		t.Fatal("expected error for missing created_at")
	}

	badMetadata := baseEntry()
	badMetadata.MetadataJSON = "{not json"
	if _, err := EntryHash(badMetadata); err == nil {
		t.Fatal("expected error for invalid metadata json")
	}
}

func TestChainHashLinksPrev(t *testing.T) {
	entryHash, err := EntryHash(baseEntry())
	if err != nil {
		t.Fatalf("entry hash: %v", err)
	}

	genesis, err := ChainHash(entryHash, "")
	if err != nil {
		t.Fatalf("chain hash: %v", err)
	}
	linked, err := ChainHash(entryHash, genesis)
	if err != nil {
		t.Fatalf("chain hash: %v", err)
	}
	if genesis == linked {
		t.Fatal("expected chain hash to depend on the previous link")
	}

	if _, err := ChainHash("", genesis); err == nil {
		t.Fatal("expected error for missing entry hash")
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	if string(out) != `{"a":2,"b":1}` {
		t.Fatalf("expected sorted canonical output, got %s", out)
	}
}
