// Package events defines canonical board audit event names.
//
// The names intentionally remain stable (`telemetry.*`) because operational
// consumers already rely on these values.
package events

const (
	// ClaimAccepted captures score claims that passed every admission gate.
	ClaimAccepted = "telemetry.claim.accepted"
	// ClaimRejected captures score claims refused by an admission gate.
	ClaimRejected = "telemetry.claim.rejected"
	// SuspicionFlagged captures users crossing the hourly rejection threshold.
	SuspicionFlagged = "telemetry.ratelimit.suspicion"
	// FeedDropped captures rank delta notifications discarded by a slow subscriber.
	FeedDropped = "telemetry.feed.dropped"
	// SweepCompleted captures maintenance passes over expired admission records.
	SweepCompleted = "telemetry.admissions.sweep"
	// HistoryTampered captures verification failures in a user's score history chain.
	HistoryTampered = "telemetry.history.tampered"
	// StandingsRebuilt captures full leaderboard rebuilds from the history log.
	StandingsRebuilt = "telemetry.standings.rebuilt"
)
