package procstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperSweepsExpiredRecords(t *testing.T) {
	store := New(Config{ReapWindow: 5 * time.Millisecond}, nil)
	store.Apply(forkEvent(1, 0, "init"))
	store.Apply(exitEvent(1, 0))

	reaper, err := NewReaper(store, "@every 10ms")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	reaper.Run(ctx)

	_, reaped := store.Counts()
	assert.Equal(t, 0, reaped)
}

func TestNewReaperRejectsBadSchedule(t *testing.T) {
	store := New(Config{}, nil)
	_, err := NewReaper(store, "not a cron spec")
	assert.Error(t, err)
}
