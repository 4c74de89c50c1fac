package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sentryd/sentryd/internal/procstate"
	"github.com/sentryd/sentryd/internal/rules"
	"github.com/sentryd/sentryd/internal/sequencer"
)

type fakeEventPublisher struct {
	mu   sync.Mutex
	seen []sequencer.Event
}

func (f *fakeEventPublisher) Publish(ev sequencer.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, ev)
}

type noopSink struct{}

func (noopSink) Emit(rules.Alert) {}

func newTestPipeline() (*Pipeline, *procstate.Store, *fakeEventPublisher) {
	store := procstate.New(procstate.Config{}, nil)
	engine := rules.New(rules.Config{}, noopSink{}, store)
	pub := &fakeEventPublisher{}
	return New(store, engine, pub, zap.NewNop()), store, pub
}

func TestDispatchAppliesEventToStore(t *testing.T) {
	p, store, _ := newTestPipeline()

	p.Dispatch(sequencer.Event{Seq: 0, Pid: 100, Ppid: 1, Comm: "sh", Kind: sequencer.KindFork}, 0)

	rec, ok := store.GetByPid(100)
	assert.True(t, ok)
	assert.Equal(t, procstate.StatusAlive, rec.Status())
}

func TestDispatchForwardsEventToPublisher(t *testing.T) {
	p, _, pub := newTestPipeline()

	p.Dispatch(sequencer.Event{Seq: 0, Pid: 100, Kind: sequencer.KindFork}, 0)

	assert.Len(t, pub.seen, 1)
	assert.EqualValues(t, 100, pub.seen[0].Pid)
}

func TestDispatchExitTransitionsStoreToReaped(t *testing.T) {
	p, store, _ := newTestPipeline()

	p.Dispatch(sequencer.Event{Seq: 0, Pid: 100, Kind: sequencer.KindFork}, 0)
	p.Dispatch(sequencer.Event{Seq: 1, Pid: 100, Kind: sequencer.KindExit}, 0)

	rec, ok := store.GetByPid(100)
	assert.True(t, ok)
	assert.Equal(t, procstate.StatusReaped, rec.Status())
}

func TestDispatchSurvivesOverrunMarker(t *testing.T) {
	p, _, pub := newTestPipeline()

	assert.NotPanics(t, func() {
		p.Dispatch(sequencer.Event{Seq: 5, Pid: 1, Kind: sequencer.KindFork}, 4)
	})
	assert.Len(t, pub.seen, 1)
}
