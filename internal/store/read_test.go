package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/proctor/internal/native"
)

func TestReadRun_EmptyRunReturnsEmptySlice(t *testing.T) {
	s := openTestStore(t)

	records, err := s.ReadRun(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestReadRun_OrderedBySeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Insert out of order; reads are ordered by seq regardless.
	require.NoError(t, s.WriteEvent(ctx, "run-a", 2, native.StepWait{ID: 1}))
	require.NoError(t, s.WriteEvent(ctx, "run-a", 1, native.RunStart{Tests: 1}))

	records, err := s.ReadRun(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, EventRunStart, records[0].Type)
	assert.Equal(t, EventStepWait, records[1].Type)
}

func TestRunIDs_OrderedByFirstAppearance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteEvent(ctx, "second", 1, native.RunStart{Tests: 1}))
	require.NoError(t, s.WriteEvent(ctx, "first", 1, native.RunStart{Tests: 1}))
	require.NoError(t, s.WriteEvent(ctx, "second", 2, native.StepWait{ID: 1}))

	ids, err := s.RunIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, ids)
}

func TestClock_MonotonicSequence(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}
