package rules

import "time"

// Rule IDs, stable across releases (spec §6 alert schema "rule_id").
const (
	RuleForkStorm          = "fork_storm"
	RuleForkBurst          = "fork_burst"
	RuleExecChurn          = "exec_churn"
	RuleShortLivedJob      = "short_lived_job"
	RuleZombieAccumulation = "zombie_accumulation"
)

// ruleDef is a detector's fixed shape: which window it keeps and what
// severity it reports at. Thresholds and cooldowns are the two knobs
// spec.md's enumerated options table exposes as configuration
// (rule_thresholds, rule_cooldowns_secs); window span and severity are
// not independently configurable, by that same table.
type ruleDef struct {
	id              string
	window          time.Duration
	defaultThresh   uint64
	defaultCooldown time.Duration
	severity        Severity
}

var ruleDefs = map[string]ruleDef{
	RuleForkStorm: {
		id: RuleForkStorm, window: 2 * time.Second,
		defaultThresh: 20, defaultCooldown: 30 * time.Second, severity: SeverityHigh,
	},
	RuleForkBurst: {
		id: RuleForkBurst, window: 5 * time.Second,
		defaultThresh: 30, defaultCooldown: 30 * time.Second, severity: SeverityMedium,
	},
	RuleExecChurn: {
		id: RuleExecChurn, window: 10 * time.Second,
		defaultThresh: 20, defaultCooldown: 60 * time.Second, severity: SeverityMedium,
	},
	RuleShortLivedJob: {
		id: RuleShortLivedJob, window: 10 * time.Second,
		defaultThresh: 20, defaultCooldown: 60 * time.Second, severity: SeverityMedium,
	},
	RuleZombieAccumulation: {
		id: RuleZombieAccumulation, window: 60 * time.Second,
		defaultThresh: 50, defaultCooldown: 60 * time.Second, severity: SeverityLow,
	},
}

// shortLivedJobMaxDt is the EXEC-to-EXIT gap under which an exit counts
// toward the short-lived-job detector (spec §4.5 table: "Δt<1s").
const shortLivedJobMaxDt = time.Second
