package models

import (
	"time"
)

// ScanOutcome summarises how a scan ended.
type ScanOutcome string

const (
	OutcomeSuccess   ScanOutcome = "success"
	OutcomeEmpty     ScanOutcome = "empty"
	OutcomeDegraded  ScanOutcome = "persist_failed"
	OutcomeCancelled ScanOutcome = "cancelled"
)

// ScanRun is the history row written after every scan.
type ScanRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    ScanOutcome
	Reason     string
	Candidates int
	Persisted  int
}

// TierReport records what one tier contributed to a scan.
type TierReport struct {
	Tier     SourceTier
	Produced int
	Err      error
	Duration time.Duration
}
