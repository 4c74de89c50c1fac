package rules

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Severity is the alert urgency tier (spec §6 alert schema).
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// TargetKind distinguishes the two alert target shapes a rule can cite.
type TargetKind string

const (
	TargetPid    TargetKind = "pid"
	TargetCgroup TargetKind = "cgroup"
)

// Target identifies what an alert is about.
type Target struct {
	Kind TargetKind
	ID   string
}

// Alert is one detector trip (spec §6 alert schema, §3 "Alert").
type Alert struct {
	ID          string
	RuleID      string
	Severity    Severity
	Target      Target
	FirstSeenNs uint64
	Evidence    map[string]any
	GeneratedAt time.Time
}

// alertIDEntropy is shared across alert construction so concurrently
// generated ULIDs stay monotonic within a millisecond the way the ULID
// spec intends; the rules engine runs on a single goroutine so no
// locking is required around it.
var alertIDEntropy = ulid.Monotonic(rand.Reader, 0)

func newAlert(ruleID string, sev Severity, target Target, firstSeenNs uint64, evidence map[string]any) Alert {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), alertIDEntropy)
	return Alert{
		ID:          id.String(),
		RuleID:      ruleID,
		Severity:    sev,
		Target:      target,
		FirstSeenNs: firstSeenNs,
		Evidence:    evidence,
		GeneratedAt: time.Now(),
	}
}
