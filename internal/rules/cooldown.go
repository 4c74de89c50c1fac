package rules

import "time"

// cooldownKey identifies a (rule, target) pair for suppression (spec
// §8 invariant "Cooldown").
type cooldownKey struct {
	rule   string
	target Target
}

// cooldownTracker suppresses repeated alerts for the same rule/target
// within a configured interval, enforced against wall time.
type cooldownTracker struct {
	lastFired map[cooldownKey]time.Time
}

func newCooldownTracker() *cooldownTracker {
	return &cooldownTracker{lastFired: make(map[cooldownKey]time.Time)}
}

// allow reports whether a new alert for (rule, target) may fire at now,
// and if so records now as the new suppression anchor.
func (c *cooldownTracker) allow(rule string, target Target, cooldown time.Duration, now time.Time) bool {
	key := cooldownKey{rule, target}
	if last, ok := c.lastFired[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	c.lastFired[key] = now
	return true
}
