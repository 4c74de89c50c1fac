package procstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRecordStartsAlive(t *testing.T) {
	rec := newRecord(1, 1, 0, "init", OriginObserved, 1000)
	assert.Equal(t, StatusAlive, rec.Status())
}

func TestRecordTransitionsToReapedOnExit(t *testing.T) {
	rec := newRecord(1, 1, 0, "init", OriginObserved, 1000)
	assert.NoError(t, rec.sm.TriggerEvent(eventExit))
	assert.Equal(t, StatusReaped, rec.Status())
}

func TestRecordExecIsSelfLoop(t *testing.T) {
	rec := newRecord(1, 1, 0, "sh", OriginObserved, 1000)
	assert.NoError(t, rec.sm.TriggerEvent(eventExec))
	assert.Equal(t, StatusAlive, rec.Status())
}

func TestRecordExitAfterExitIsRejected(t *testing.T) {
	rec := newRecord(1, 1, 0, "sh", OriginObserved, 1000)
	assert.NoError(t, rec.sm.TriggerEvent(eventExit))
	assert.Error(t, rec.sm.TriggerEvent(eventExit))
}

func TestSnapshotDropsStateMachinePointer(t *testing.T) {
	rec := newRecord(1, 1, 0, "sh", OriginObserved, 1000)
	cp := rec.snapshot()
	assert.Nil(t, cp.sm)
	assert.Equal(t, rec.Pid, cp.Pid)
}

func TestSnapshotStatusSurvivesDroppedStateMachine(t *testing.T) {
	rec := newRecord(1, 1, 0, "sh", OriginObserved, 1000)
	assert.NoError(t, rec.sm.TriggerEvent(eventExit))
	cp := rec.snapshot()
	assert.Equal(t, StatusReaped, cp.Status())
}
