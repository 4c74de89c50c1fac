package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAlertGeneratesUniqueSortableIDs(t *testing.T) {
	a := newAlert(RuleForkStorm, SeverityHigh, Target{TargetPid, "1"}, 1000, nil)
	b := newAlert(RuleForkStorm, SeverityHigh, Target{TargetPid, "1"}, 1000, nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, RuleForkStorm, a.RuleID)
	assert.Equal(t, SeverityHigh, a.Severity)
}
