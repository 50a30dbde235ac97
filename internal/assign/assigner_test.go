package assign

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/headline-goat/article-goat/internal/store"
)

func variantsWithTraffic(traffic ...float64) []*store.Variant {
	vs := make([]*store.Variant, len(traffic))
	for i, pct := range traffic {
		vs[i] = &store.Variant{
			ID:             fmt.Sprintf("v%d", i),
			TestID:         "t1",
			IsControl:      i == 0,
			TrafficPercent: pct,
			Position:       i,
		}
	}
	return vs
}

func newTestAssigner(t *testing.T) (*Assigner, *MemorySessionStore) {
	t.Helper()
	sessions, err := NewMemorySessionStore(1000)
	require.NoError(t, err)
	return NewAssigner(sessions), sessions
}

func TestHash_KnownValues(t *testing.T) {
	assert.Equal(t, uint32(0), Hash(""))
	assert.Equal(t, uint32(97), Hash("a"))
	assert.Equal(t, uint32(97*31+98), Hash("ab"))
}

func TestHash_NonNegativeOnOverflow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")
		d := Draw(s, "test")
		if d < 0 || d >= 100 {
			rt.Fatalf("draw %v out of range for %q", d, s)
		}
	})
}

func TestPick_SingleVariantAlwaysWins(t *testing.T) {
	vs := variantsWithTraffic(0)
	for _, d := range []float64{0, 42.5, 99.99} {
		assert.Equal(t, "v0", Pick(vs, d).ID)
	}
}

func TestPick_CumulativeBounds(t *testing.T) {
	vs := variantsWithTraffic(50, 30, 20)
	assert.Equal(t, "v0", Pick(vs, 0).ID)
	assert.Equal(t, "v0", Pick(vs, 49.99).ID)
	assert.Equal(t, "v1", Pick(vs, 50).ID)
	assert.Equal(t, "v2", Pick(vs, 80).ID)
	assert.Equal(t, "v2", Pick(vs, 99.99).ID)
}

func TestPick_ShortSumFallsBackToLast(t *testing.T) {
	vs := variantsWithTraffic(33.33, 33.33, 33.33)
	assert.Equal(t, "v2", Pick(vs, 99.995).ID)
}

func TestPick_ControlFirstRegardlessOfInputOrder(t *testing.T) {
	vs := variantsWithTraffic(50, 50)
	reversed := []*store.Variant{vs[1], vs[0]}
	assert.Equal(t, "v0", Pick(reversed, 10).ID)
	assert.Equal(t, "v1", reversed[0].ID, "input slice must not be reordered")
}

func TestAssign_ZeroVariants(t *testing.T) {
	a, _ := newTestAssigner(t)
	_, err := a.Assign(context.Background(), "s1", "t1", nil)
	assert.ErrorIs(t, err, ErrNoVariants)
}

func TestAssign_StableAcrossCalls(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a, _ := newTestAssigner(t)
		n := rapid.IntRange(2, 5).Draw(rt, "numVariants")
		traffic := make([]float64, n)
		for i := range traffic {
			traffic[i] = 100 / float64(n)
		}
		vs := variantsWithTraffic(traffic...)
		session := rapid.StringMatching(`[a-f0-9]{8}-[a-f0-9]{4}`).Draw(rt, "session")

		first, err := a.Assign(context.Background(), session, "t1", vs)
		if err != nil {
			rt.Fatal(err)
		}
		for i := 0; i < 5; i++ {
			again, err := a.Assign(context.Background(), session, "t1", vs)
			if err != nil {
				rt.Fatal(err)
			}
			if again.VariantID != first.VariantID {
				rt.Fatalf("assignment changed: %s -> %s", first.VariantID, again.VariantID)
			}
		}
	})
}

func TestAssign_StickyAfterTrafficChange(t *testing.T) {
	a, _ := newTestAssigner(t)
	ctx := context.Background()
	vs := variantsWithTraffic(50, 50)

	first, err := a.Assign(ctx, "session-1", "t1", vs)
	require.NoError(t, err)
	assert.Equal(t, SourceHashed, first.Source)

	// Move all traffic away from the assigned variant.
	for _, v := range vs {
		v.TrafficPercent = 0
		if v.ID != first.VariantID {
			v.TrafficPercent = 100
		}
	}

	again, err := a.Assign(ctx, "session-1", "t1", vs)
	require.NoError(t, err)
	assert.Equal(t, first.VariantID, again.VariantID)
	assert.Equal(t, SourceStored, again.Source)
}

func TestAssign_RemovedVariantFallsBackToControlWithoutOverwrite(t *testing.T) {
	a, sessions := newTestAssigner(t)
	ctx := context.Background()
	vs := variantsWithTraffic(50, 50)

	require.NoError(t, sessions.Set(ctx, "session-1", SessionKey("t1"), "deleted-variant"))

	got, err := a.Assign(ctx, "session-1", "t1", vs)
	require.NoError(t, err)
	assert.Equal(t, "v0", got.VariantID)
	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, ExperimentContext{TestID: "t1", VariantID: "v0", SessionID: "session-1"}, got.ExperimentContext)

	stored, ok, err := sessions.Get(ctx, "session-1", SessionKey("t1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "deleted-variant", stored)
}

type failingSessions struct{}

func (failingSessions) Get(context.Context, string, string) (string, bool, error) {
	return "", false, errors.New("storage unavailable")
}

func (failingSessions) Set(context.Context, string, string, string) error {
	return errors.New("storage unavailable")
}

func TestAssign_SessionStoreFailureStillAssigns(t *testing.T) {
	a := NewAssigner(failingSessions{})
	vs := variantsWithTraffic(50, 50)

	got, err := a.Assign(context.Background(), "session-1", "t1", vs)
	require.NoError(t, err)
	assert.Equal(t, Pick(vs, Draw("session-1", "t1")).ID, got.VariantID)
}

func TestAssign_DistributionConverges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 100k-session distribution check in short mode")
	}

	cases := [][]float64{
		{50, 50},
		{70, 20, 10},
		{90, 5, 5},
	}
	const sessions = 100_000

	for _, traffic := range cases {
		t.Run(fmt.Sprint(traffic), func(t *testing.T) {
			vs := variantsWithTraffic(traffic...)
			rng := rand.New(rand.NewSource(1))
			counts := make(map[string]int)
			for i := 0; i < sessions; i++ {
				id, err := uuid.NewRandomFromReader(rng)
				require.NoError(t, err)
				counts[Pick(vs, Draw(id.String(), "test-123")).ID]++
			}
			for i, v := range vs {
				share := float64(counts[v.ID]) / sessions * 100
				assert.InDelta(t, traffic[i], share, 2.0, "variant %s share", v.ID)
			}
		})
	}
}

func TestMemorySessionStore_Evicts(t *testing.T) {
	sessions, err := NewMemorySessionStore(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sessions.Set(ctx, "a", "k", "1"))
	require.NoError(t, sessions.Set(ctx, "b", "k", "2"))
	require.NoError(t, sessions.Set(ctx, "c", "k", "3"))

	_, ok, _ := sessions.Get(ctx, "a", "k")
	assert.False(t, ok, "oldest session should be evicted")
	v, ok, _ := sessions.Get(ctx, "c", "k")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestMemorySessionStore_ConcurrentTestsShareSession(t *testing.T) {
	const tests, sessions = 8, 200
	m, err := NewMemorySessionStore(sessions)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < tests; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := SessionKey(fmt.Sprintf("t%d", w))
			for i := 0; i < sessions; i++ {
				assert.NoError(t, m.Set(ctx, fmt.Sprintf("s-%d", i), key, fmt.Sprintf("v%d", w)))
			}
		}(w)
	}
	wg.Wait()

	missing := 0
	for i := 0; i < sessions; i++ {
		for w := 0; w < tests; w++ {
			v, ok, err := m.Get(ctx, fmt.Sprintf("s-%d", i), SessionKey(fmt.Sprintf("t%d", w)))
			require.NoError(t, err)
			if !ok || v != fmt.Sprintf("v%d", w) {
				missing++
			}
		}
	}
	assert.Zero(t, missing, "lost %d of %d assignments", missing, tests*sessions)
}
