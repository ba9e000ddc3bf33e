package checkpoint

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimShardTransitionsNotStartedToStarted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertShard(ctx, 1, 0, "", "100"))

	require.NoError(t, s.ClaimShard(ctx, 1, 0))
	status, ok := s.ShardStatusFor(1, 0)
	require.True(t, ok)
	assert.Equal(t, ShardStarted, status)
}

func TestClaimShardSecondClaimantLosesRace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertShard(ctx, 1, 0, "", "100"))

	require.NoError(t, s.ClaimShard(ctx, 1, 0))
	err := s.ClaimShard(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

// TestClaimShardConcurrentRaceHasExactlyOneWinner exercises the same
// invariant PostgresStore's conditional UPDATE relies on: with N
// goroutines racing ClaimShard on the same shard, exactly one sees a
// nil error.
func TestClaimShardConcurrentRaceHasExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertShard(ctx, 1, 0, "", "100"))

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ClaimShard(ctx, 1, 0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCompleteShardRejectsNonTerminalStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertShard(ctx, 1, 0, "", "100"))
	require.NoError(t, s.ClaimShard(ctx, 1, 0))

	err := s.CompleteShard(ctx, 1, 0, ShardStarted, "not a terminal status")
	assert.Error(t, err)
}

func TestBeginRunResumeCopiesOnlyNonPassShards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.BeginRun(ctx, 1, 0)
	require.NoError(t, err)
	require.NoError(t, s.InsertShard(ctx, 1, 0, "", "100"))
	require.NoError(t, s.InsertShard(ctx, 1, 1, "100", "200"))
	require.NoError(t, s.InsertShard(ctx, 1, 2, "200", ""))
	require.NoError(t, s.ClaimShard(ctx, 1, 0))
	require.NoError(t, s.CompleteShard(ctx, 1, 0, ShardPass, "ok"))
	require.NoError(t, s.ClaimShard(ctx, 1, 1))
	require.NoError(t, s.CompleteShard(ctx, 1, 1, ShardFail, "boom"))
	// shard 2 stays NOT_STARTED

	run, err := s.BeginRun(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, RunTypeResume, run.RunType)

	pending, err := s.ListPending(ctx, 2)
	require.NoError(t, err)
	ids := map[int64]bool{}
	for _, p := range pending {
		ids[p.ShardID] = true
		assert.Equal(t, ShardNotStarted, p.Status)
	}
	assert.False(t, ids[0], "PASS shard from prev run must not be copied forward")
	assert.True(t, ids[1], "FAIL shard from prev run must be copied forward")
	assert.True(t, ids[2], "NOT_STARTED shard from prev run must be copied forward")
}

func TestEndRunPassRequiresEveryShardPass(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.BeginRun(ctx, 1, 0)
	require.NoError(t, err)
	require.NoError(t, s.InsertShard(ctx, 1, 0, "", "100"))
	require.NoError(t, s.ClaimShard(ctx, 1, 0))
	require.NoError(t, s.CompleteShard(ctx, 1, 0, ShardPass, "ok"))

	status, err := s.EndRun(ctx, 1, "summary")
	require.NoError(t, err)
	assert.Equal(t, RunPass, status)
}

func TestEndRunFailsWhenAnyShardNotPass(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.BeginRun(ctx, 1, 0)
	require.NoError(t, err)
	require.NoError(t, s.InsertShard(ctx, 1, 0, "", "100"))
	require.NoError(t, s.ClaimShard(ctx, 1, 0))
	require.NoError(t, s.CompleteShard(ctx, 1, 0, ShardFail, "boom"))

	status, err := s.EndRun(ctx, 1, "summary")
	require.NoError(t, err)
	assert.Equal(t, RunFail, status)
}
