package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/sidekick/internal/advisor"
	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/pacing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "sidekick.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	m := pacing.NewMachine(func() time.Time { return base })
	m.StartSession()
	m.AdvanceAct(2, 60)
	m.AdvanceScene("Smuggler Docks", 20)
	m.SetSpotlightDebt("Rin", 2)
	m.PlantSeed("black lantern")
	first := m.Snapshot()
	require.NoError(t, s.SaveSnapshot(ctx, first, base))

	m.AdvanceScene("Warehouse", 15)
	second := m.Snapshot()
	require.NoError(t, s.SaveSnapshot(ctx, second, base.Add(time.Minute)))

	got, err = s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(second, *got, cmpopts.EquateEmpty(), cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
		t.Errorf("LatestSnapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestPruneSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		st := pacing.NewMachine(func() time.Time { return base }).Snapshot()
		st.Act = i
		require.NoError(t, s.SaveSnapshot(ctx, st, base.Add(time.Duration(i)*time.Minute)))
	}

	removed, err := s.PruneSnapshots(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	got, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Act)
}

func TestBatchLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := domain.TriggerBatch{ID: "b1", FlushedAt: base, Events: []domain.TriggerEvent{
		domain.NewTriggerEvent(domain.TriggerGMSilence, domain.P4, domain.SourceTimer, map[string]any{"silence_seconds": 95.0}, base),
	}}
	newer := domain.TriggerBatch{ID: "b2", FlushedAt: base.Add(time.Minute), Events: []domain.TriggerEvent{
		domain.NewTriggerEvent(domain.TriggerQuestion, domain.P1, domain.SourceTranscript, map[string]any{"text": "who runs the docks?"}, base),
	}}
	require.NoError(t, s.RecordBatch(ctx, older))
	require.NoError(t, s.RecordBatch(ctx, newer))
	require.NoError(t, s.RecordBatch(ctx, newer))

	got, err := s.ListBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b2", got[0].ID)
	assert.Equal(t, "who runs the docks?", got[0].Events[0].Data["text"])
	assert.True(t, got[1].FlushedAt.Equal(base))

	got, err = s.ListBatches(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAdviceLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordAdvice(ctx, &advisor.Advice{
		BatchID: "b1", Kind: advisor.AdviceLookup, Content: "Daokresh owes the guild",
		Priority: domain.P2, Sources: []string{"npc:Daokresh"}, CreatedAt: base,
	}))
	require.NoError(t, s.RecordAdvice(ctx, &advisor.Advice{
		BatchID: "b1", Kind: advisor.AdviceSuggestion, Content: "Cut to the warehouse", Priority: domain.P2,
	}))
	require.NoError(t, s.RecordAdvice(ctx, &advisor.Advice{BatchID: "b2", Kind: advisor.AdviceSummary, Content: "other"}))

	got, err := s.ListAdvice(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"npc:Daokresh"}, got[0].Sources)
	assert.True(t, got[0].CreatedAt.Equal(base))
	assert.Equal(t, advisor.AdviceSuggestion, got[1].Kind)
	assert.Nil(t, got[1].Sources)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
