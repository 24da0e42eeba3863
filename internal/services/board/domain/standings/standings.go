// Package standings keeps the in-memory leaderboard: an ordered working set
// of the best scores, sized beyond the displayed top K to absorb churn near
// the cutoff. It is derived state, rebuildable from the ledger's history.
package standings

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTopK is how many entries reads return when no size is given.
	DefaultTopK = 10
	// DefaultWorkingSet is how many entries the index tracks beyond the
	// displayed top K.
	DefaultWorkingSet = 100
)

// Entry is one ranked leaderboard row.
type Entry struct {
	UserID string
	Score  int64
	// AchievedAt is when the score was reached. Ties rank the earlier
	// achiever higher.
	AchievedAt time.Time
	Rank       int
}

// Delta reports how one update moved a user. Nil ranks mean the user was not
// tracked on that side of the update.
type Delta struct {
	UserID        string
	PreviousRank  *int
	NewRank       *int
	PreviousScore int64
	NewScore      int64
	// Seq is the user's ledger commit sequence, for subscriber idempotency.
	Seq       uint64
	Timestamp time.Time
}

// Config sizes the index. Zero values fall back to defaults.
type Config struct {
	K          int
	WorkingSet int
}

type indexEntry struct {
	userID     string
	score      int64
	achievedAt time.Time
}

// Index is the ordered working set. Writers take the lock for one bounded
// splice; readers copy snapshots under the read lock and never block on a
// full re-sort.
type Index struct {
	k          int
	workingSet int

	mu        sync.RWMutex
	entries   []indexEntry
	positions map[string]int
}

// NewIndex creates an empty leaderboard index.
func NewIndex(cfg Config) *Index {
	if cfg.K <= 0 {
		cfg.K = DefaultTopK
	}
	if cfg.WorkingSet <= 0 {
		cfg.WorkingSet = DefaultWorkingSet
	}
	if cfg.WorkingSet < cfg.K {
		cfg.WorkingSet = cfg.K
	}
	return &Index{
		k:          cfg.K,
		workingSet: cfg.WorkingSet,
		positions:  make(map[string]int),
	}
}

// Update moves the user to their new score and returns the rank delta.
// Ranks are recomputed only across the displaced span. A score that does not
// reach the working set drops the user from the index without error.
func (x *Index) Update(userID string, previousScore, newScore int64, seq uint64, achievedAt time.Time) Delta {
	x.mu.Lock()
	defer x.mu.Unlock()

	delta := Delta{
		UserID:        userID,
		PreviousScore: previousScore,
		NewScore:      newScore,
		Seq:           seq,
		Timestamp:     achievedAt,
	}

	lo := len(x.entries)
	hi := -1
	oldPos, existed := x.positions[userID]
	if existed {
		rank := oldPos + 1
		delta.PreviousRank = &rank
		x.entries = append(x.entries[:oldPos], x.entries[oldPos+1:]...)
		delete(x.positions, userID)
		lo = oldPos
		hi = len(x.entries) - 1
	}

	candidate := indexEntry{userID: userID, score: newScore, achievedAt: achievedAt}
	insertPos := sort.Search(len(x.entries), func(i int) bool {
		return ranksBefore(candidate, x.entries[i])
	})
	if insertPos < x.workingSet {
		x.entries = append(x.entries, indexEntry{})
		copy(x.entries[insertPos+1:], x.entries[insertPos:])
		x.entries[insertPos] = candidate
		if insertPos < lo {
			lo = insertPos
		}
		if existed {
			// Removal and reinsertion rotate only the span between the two
			// positions; everything outside it kept its index.
			hi = oldPos
			if insertPos > hi {
				hi = insertPos
			}
		} else {
			hi = len(x.entries) - 1
		}
		if len(x.entries) > x.workingSet {
			for _, evicted := range x.entries[x.workingSet:] {
				delete(x.positions, evicted.userID)
			}
			x.entries = x.entries[:x.workingSet]
		}
	}

	for i := lo; i <= hi && i < len(x.entries); i++ {
		x.positions[x.entries[i].userID] = i
	}

	if pos, ok := x.positions[userID]; ok {
		rank := pos + 1
		delta.NewRank = &rank
	}
	return delta
}

// TopK returns a snapshot of the best k entries with contiguous ranks from 1.
// A non-positive k falls back to the configured display size.
func (x *Index) TopK(k int) []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if k <= 0 {
		k = x.k
	}
	if k > len(x.entries) {
		k = len(x.entries)
	}
	out := make([]Entry, k)
	for i := 0; i < k; i++ {
		out[i] = Entry{
			UserID:     x.entries[i].userID,
			Score:      x.entries[i].score,
			AchievedAt: x.entries[i].achievedAt,
			Rank:       i + 1,
		}
	}
	return out
}

// Position returns the user's current rank, or false when untracked.
func (x *Index) Position(userID string) (int, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	pos, ok := x.positions[userID]
	if !ok {
		return 0, false
	}
	return pos + 1, true
}

// Size reports how many users the index currently tracks.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// ranksBefore is the index's total order: score descending, earlier achiever
// on ties, user id as the final arbiter so ordering is deterministic.
func ranksBefore(a, b indexEntry) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.achievedAt.Equal(b.achievedAt) {
		return a.achievedAt.Before(b.achievedAt)
	}
	return a.userID < b.userID
}
