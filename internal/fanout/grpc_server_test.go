package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/sentryd/sentryd/internal/fanout/rpc"
	"github.com/sentryd/sentryd/internal/procstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessLookup struct {
	byPid map[uint32]procstate.Record
	live  []procstate.Record
}

func (f fakeProcessLookup) GetByPid(pid uint32) (procstate.Record, bool) {
	rec, ok := f.byPid[pid]
	return rec, ok
}

func (f fakeProcessLookup) Live() []procstate.Record { return f.live }

type fakeEventStream struct {
	ctx context.Context
	got []*rpc.EventMsg
}

func (s *fakeEventStream) Send(m *rpc.EventMsg) error {
	s.got = append(s.got, m)
	return nil
}
func (s *fakeEventStream) Context() context.Context { return s.ctx }

type fakeProcessStream struct {
	ctx context.Context
	got []*rpc.ProcessRecord
}

func (s *fakeProcessStream) Send(m *rpc.ProcessRecord) error {
	s.got = append(s.got, m)
	return nil
}
func (s *fakeProcessStream) Context() context.Context { return s.ctx }

func TestGRPCServerGetProcessFound(t *testing.T) {
	lookup := fakeProcessLookup{byPid: map[uint32]procstate.Record{
		100: {Pid: 100, Tgid: 100, Ppid: 1, Comm: "bash"},
	}}
	srv := NewGRPCServer(NewBus[EventView](), NewBus[AlertView](), lookup, 0)

	rec, err := srv.GetProcess(context.Background(), &rpc.ProcessQuery{Pid: 100})
	require.NoError(t, err)
	assert.Equal(t, "bash", rec.Comm)
}

func TestGRPCServerGetProcessNotFound(t *testing.T) {
	srv := NewGRPCServer(NewBus[EventView](), NewBus[AlertView](), fakeProcessLookup{}, 0)
	_, err := srv.GetProcess(context.Background(), &rpc.ProcessQuery{Pid: 999})
	assert.Error(t, err)
}

func TestGRPCServerListLiveSendsSnapshot(t *testing.T) {
	lookup := fakeProcessLookup{live: []procstate.Record{
		{Pid: 1, Comm: "init"},
		{Pid: 2, Comm: "bash"},
	}}
	srv := NewGRPCServer(NewBus[EventView](), NewBus[AlertView](), lookup, 0)

	stream := &fakeProcessStream{ctx: context.Background()}
	require.NoError(t, srv.ListLive(&rpc.Empty{}, stream))
	assert.Len(t, stream.got, 2)
}

func TestGRPCServerStreamEventsForwardsUntilCancel(t *testing.T) {
	events := NewBus[EventView]()
	srv := NewGRPCServer(events, NewBus[AlertView](), fakeProcessLookup{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeEventStream{ctx: ctx}

	done := make(chan error, 1)
	go func() { done <- srv.StreamEvents(&rpc.Empty{}, stream) }()

	// Give the subscriber a moment to register before publishing.
	time.Sleep(10 * time.Millisecond)
	events.Publish(EventView{Seq: 1, Comm: "sh"})
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	assert.Error(t, err)
	require.NotEmpty(t, stream.got)
	assert.EqualValues(t, 1, stream.got[0].Seq)
}
