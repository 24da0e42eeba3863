package standings

import (
	"testing"
	"time"
)

func at(offset int) time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(offset) * time.Second)
}

func rankOf(t *testing.T, delta Delta) int {
	t.Helper()
	if delta.NewRank == nil {
		t.Fatalf("expected a new rank for %s", delta.UserID)
	}
	return *delta.NewRank
}

func TestUpdateInsertsAndRanks(t *testing.T) {
	index := NewIndex(Config{})

	first := index.Update("user-1", 0, 100, 1, at(0))
	if first.PreviousRank != nil {
		t.Fatalf("expected nil previous rank for new user, got %d", *first.PreviousRank)
	}
	if rankOf(t, first) != 1 {
		t.Fatalf("expected rank 1, got %d", *first.NewRank)
	}

	second := index.Update("user-2", 0, 150, 1, at(1))
	if rankOf(t, second) != 1 {
		t.Fatalf("expected rank 1 for higher score, got %d", *second.NewRank)
	}
	third := index.Update("user-3", 0, 50, 1, at(2))
	if rankOf(t, third) != 3 {
		t.Fatalf("expected rank 3, got %d", *third.NewRank)
	}

	top := index.TopK(10)
	if len(top) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(top))
	}
	wantOrder := []string{"user-2", "user-1", "user-3"}
	for i, entry := range top {
		if entry.UserID != wantOrder[i] {
			t.Fatalf("expected %s at position %d, got %s", wantOrder[i], i, entry.UserID)
		}
		if entry.Rank != i+1 {
			t.Fatalf("expected contiguous rank %d, got %d", i+1, entry.Rank)
		}
	}
}

func TestUpdateMovesUserAcrossSpan(t *testing.T) {
	index := NewIndex(Config{})
	index.Update("user-1", 0, 100, 1, at(0))
	index.Update("user-2", 0, 80, 1, at(1))
	index.Update("user-3", 0, 60, 1, at(2))

	delta := index.Update("user-3", 60, 120, 2, at(3))
	if delta.PreviousRank == nil || *delta.PreviousRank != 3 {
		t.Fatalf("expected previous rank 3, got %v", delta.PreviousRank)
	}
	if rankOf(t, delta) != 1 {
		t.Fatalf("expected new rank 1, got %d", *delta.NewRank)
	}

	if rank, ok := index.Position("user-1"); !ok || rank != 2 {
		t.Fatalf("expected user-1 displaced to rank 2, got %d ok=%v", rank, ok)
	}
	if rank, ok := index.Position("user-2"); !ok || rank != 3 {
		t.Fatalf("expected user-2 displaced to rank 3, got %d ok=%v", rank, ok)
	}
}

func TestTieBreakPrefersEarlierAchiever(t *testing.T) {
	index := NewIndex(Config{})
	index.Update("late", 0, 100, 1, at(5))
	index.Update("early", 0, 100, 1, at(1))

	top := index.TopK(2)
	if top[0].UserID != "early" || top[1].UserID != "late" {
		t.Fatalf("expected earlier achiever ranked higher, got %s then %s", top[0].UserID, top[1].UserID)
	}

	// The later achiever reaching the same score again must not displace the
	// earlier one.
	index.Update("late", 100, 100, 2, at(9))
	top = index.TopK(2)
	if top[0].UserID != "early" {
		t.Fatalf("expected early to keep rank 1, got %s", top[0].UserID)
	}
}

func TestEnterAtCutoffPublishesNullPreviousRank(t *testing.T) {
	index := NewIndex(Config{K: 10, WorkingSet: 10})
	scores := []int64{130, 125, 120, 115, 110, 105, 100, 97, 96, 92}
	for i, score := range scores {
		index.Update(userN(i), 0, score, 1, at(i))
	}
	if rank, ok := index.Position(userN(9)); !ok || rank != 10 {
		t.Fatalf("expected cutoff holder at rank 10, got %d ok=%v", rank, ok)
	}

	delta := index.Update("user-u", 90, 95, 3, at(20))
	if delta.PreviousRank != nil {
		t.Fatalf("expected nil previous rank for untracked user, got %d", *delta.PreviousRank)
	}
	if rankOf(t, delta) != 10 {
		t.Fatalf("expected entry at rank 10, got %d", *delta.NewRank)
	}
	if _, ok := index.Position(userN(9)); ok {
		t.Fatal("expected the displaced cutoff holder to leave the working set")
	}
	if index.Size() != 10 {
		t.Fatalf("expected working set capped at 10, got %d", index.Size())
	}
}

func TestUpdateBelowWorkingSetDropsUser(t *testing.T) {
	index := NewIndex(Config{K: 2, WorkingSet: 3})
	index.Update("user-1", 0, 100, 1, at(0))
	index.Update("user-2", 0, 90, 1, at(1))
	index.Update("user-3", 0, 80, 1, at(2))

	delta := index.Update("user-4", 0, 10, 1, at(3))
	if delta.PreviousRank != nil || delta.NewRank != nil {
		t.Fatalf("expected user below the working set untracked, got %+v", delta)
	}
	if _, ok := index.Position("user-4"); ok {
		t.Fatal("expected user-4 untracked")
	}
	if index.Size() != 3 {
		t.Fatalf("expected size 3, got %d", index.Size())
	}
}

func TestTopKSnapshotIsACopy(t *testing.T) {
	index := NewIndex(Config{})
	index.Update("user-1", 0, 100, 1, at(0))

	top := index.TopK(1)
	index.Update("user-2", 0, 200, 1, at(1))

	if top[0].UserID != "user-1" || top[0].Rank != 1 {
		t.Fatalf("expected snapshot unaffected by later updates, got %+v", top[0])
	}
}

func TestTopKClampsSize(t *testing.T) {
	index := NewIndex(Config{K: 2})
	for i := 0; i < 4; i++ {
		index.Update(userN(i), 0, int64(100-i), 1, at(i))
	}

	if got := len(index.TopK(0)); got != 2 {
		t.Fatalf("expected default display size 2, got %d", got)
	}
	if got := len(index.TopK(100)); got != 4 {
		t.Fatalf("expected clamp at tracked size 4, got %d", got)
	}
}

func TestRanksStayContiguousUnderChurn(t *testing.T) {
	index := NewIndex(Config{K: 5, WorkingSet: 8})
	users := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	scores := make(map[string]int64)

	seq := uint64(0)
	for round := 0; round < 6; round++ {
		for i, user := range users {
			seq++
			increment := int64((i*7+round*13)%50 + 1)
			prev := scores[user]
			scores[user] = prev + increment
			index.Update(user, prev, scores[user], seq, at(int(seq)))
		}
	}

	top := index.TopK(8)
	if len(top) != 8 {
		t.Fatalf("expected full working set, got %d", len(top))
	}
	for i, entry := range top {
		if entry.Rank != i+1 {
			t.Fatalf("expected contiguous rank %d, got %d", i+1, entry.Rank)
		}
		if i > 0 {
			prev := top[i-1]
			if entry.Score > prev.Score {
				t.Fatalf("expected descending scores, got %d above %d", prev.Score, entry.Score)
			}
			if entry.Score == prev.Score && entry.AchievedAt.Before(prev.AchievedAt) {
				t.Fatalf("expected earlier achiever first on ties at rank %d", entry.Rank)
			}
		}
		if rank, ok := index.Position(entry.UserID); !ok || rank != entry.Rank {
			t.Fatalf("expected position %d for %s, got %d ok=%v", entry.Rank, entry.UserID, rank, ok)
		}
	}
}

func userN(i int) string {
	return "user-" + string(rune('a'+i))
}
