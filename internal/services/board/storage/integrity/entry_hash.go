package integrity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/podium.live/internal/services/board/storage"
)

// EntryHash computes the content hash for a single history entry.
//
// The envelope carries every field a tamper attempt could rewrite. Field
// ordering is defined once here so storage backends cannot drift.
func EntryHash(entry storage.HistoryEntry) (string, error) {
	envelope, err := entryEnvelope(entry)
	if err != nil {
		return "", err
	}
	return ContentHash(envelope)
}

// ChainHash computes the hash that links an entry to the whole prior history
// of its user. The first entry of a user links to an empty chain.
func ChainHash(entryHash, prevChainHash string) (string, error) {
	entryHash = strings.TrimSpace(entryHash)
	if entryHash == "" {
		return "", fmt.Errorf("entry hash is required")
	}
	return ContentHash(map[string]any{
		"entry_hash":      entryHash,
		"prev_chain_hash": prevChainHash,
	})
}

func entryEnvelope(entry storage.HistoryEntry) (map[string]any, error) {
	if strings.TrimSpace(entry.UserID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if entry.Seq == 0 {
		return nil, fmt.Errorf("entry seq is required")
	}
	if entry.CreatedAt.IsZero() {
		return nil, fmt.Errorf("entry created_at is required")
	}

	envelope := map[string]any{
		"user_id":        entry.UserID,
		"seq":            entry.Seq,
		"previous_score": entry.PreviousScore,
		"new_score":      entry.NewScore,
		"increment":      entry.Increment,
		"action_type":    entry.ActionType,
		"request_id":     entry.RequestID,
		"created_at":     entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if metadata := strings.TrimSpace(entry.MetadataJSON); metadata != "" {
		if !json.Valid([]byte(metadata)) {
			return nil, fmt.Errorf("entry metadata is not valid json")
		}
		envelope["metadata"] = json.RawMessage(metadata)
	}
	return envelope, nil
}
