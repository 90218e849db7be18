package lexicon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/sidekick/internal/classifier"
	"github.com/ashureev/sidekick/internal/clock"
	"github.com/ashureev/sidekick/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleCampaign = `
name: Ashes of Veltin
garbled_terms:
  Daokresh: [dow chris, dao crash]
  Veltin: [velton]
npcs:
  - name: Daokresh
    aliases: [kresh]
  - name: Veltin
scenes:
  - name: Smuggler Docks
    keywords: [pier, lantern, crates]
hesitation_keywords: [uh, um]
`

func writeCampaign(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCampaign(t *testing.T) {
	path := writeCampaign(t, t.TempDir(), sampleCampaign)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Ashes of Veltin", c.Name)
	assert.Equal(t, map[string]string{
		"daokresh":  "Daokresh",
		"dow chris": "Daokresh",
		"dao crash": "Daokresh",
		"veltin":    "Veltin",
		"velton":    "Veltin",
	}, c.Dictionary())
	assert.Equal(t, []string{"uh", "um"}, c.HesitationKeywords)

	npcs := c.NPCEntries()
	require.Len(t, npcs, 2)
	assert.Equal(t, []string{"Daokresh", "kresh"}, npcs[0].Terms())
	assert.False(t, npcs[0].Served)

	scenes := c.SceneEntries()
	require.Len(t, scenes, 1)
	assert.Equal(t, "Smuggler Docks", scenes[0].Name)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("npcs:\n  - aliases: [x]\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = Parse([]byte("npcs: [\n"))
	assert.ErrorContains(t, err, "parse yaml")
}

func TestCarryServed(t *testing.T) {
	at := time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)
	fresh := []*domain.NPCCacheEntry{{Name: "Daokresh"}, {Name: "Veltin"}}
	prior := []domain.NPCCacheEntry{{Name: "daokresh", Served: true, ServedAt: at}, {Name: "Veltin"}}

	CarryServed(fresh, prior)

	assert.True(t, fresh[0].Served)
	assert.Equal(t, at, fresh[0].ServedAt)
	assert.False(t, fresh[1].Served)
}

func TestCarrySceneServed(t *testing.T) {
	at := time.Date(2026, 3, 14, 19, 45, 0, 0, time.UTC)
	fresh := []*domain.SceneIndexEntry{{Name: "Smuggler Docks"}, {Name: "Ash Market"}}
	prior := []domain.SceneIndexEntry{{Name: "smuggler docks", Served: true, ServedAt: at}, {Name: "Ash Market"}}

	CarrySceneServed(fresh, prior)

	assert.True(t, fresh[0].Served)
	assert.Equal(t, at, fresh[0].ServedAt)
	assert.False(t, fresh[1].Served)
}

type fakeTarget struct {
	dict       map[string]string
	npcs       []*domain.NPCCacheEntry
	scenes     []*domain.SceneIndexEntry
	hesitation []string
	status     []domain.CacheStatus
	fresh      int
}

func (f *fakeTarget) SetGarbledTerms(d map[string]string)       { f.dict = d }
func (f *fakeTarget) SetNPCCache(e []*domain.NPCCacheEntry)     { f.npcs = e }
func (f *fakeTarget) SetSceneIndex(e []*domain.SceneIndexEntry) { f.scenes = e }
func (f *fakeTarget) SetNPCCacheStatus(s domain.CacheStatus)    { f.status = append(f.status, s) }
func (f *fakeTarget) SetHesitationKeywords(k []string)          { f.hesitation = k }
func (f *fakeTarget) MarkWikiFresh()                            { f.fresh++ }
func (f *fakeTarget) NPCCache() []domain.NPCCacheEntry {
	out := make([]domain.NPCCacheEntry, 0, len(f.npcs))
	for _, e := range f.npcs {
		out = append(out, *e)
	}
	return out
}
func (f *fakeTarget) SceneIndex() []domain.SceneIndexEntry {
	out := make([]domain.SceneIndexEntry, 0, len(f.scenes))
	for _, e := range f.scenes {
		out = append(out, *e)
	}
	return out
}

func TestControllerBuildPreservesServed(t *testing.T) {
	path := writeCampaign(t, t.TempDir(), sampleCampaign)
	target := &fakeTarget{}
	ctrl := NewController(path, nil)
	ctrl.Bind(target)

	require.NoError(t, ctrl.Build())
	require.Len(t, target.npcs, 2)
	target.npcs[0].MarkServed(time.Now())

	ctrl.RefreshNPCCache()
	assert.True(t, target.npcs[0].Served)
	assert.Equal(t, "Daokresh", target.dict["dow chris"])
	assert.Len(t, target.scenes, 1)
	assert.Equal(t, 2, target.fresh)
}

func TestControllerApplyPreservesSceneServed(t *testing.T) {
	path := writeCampaign(t, t.TempDir(), sampleCampaign)
	target := &fakeTarget{}
	ctrl := NewController(path, nil)
	ctrl.Bind(target)

	require.NoError(t, ctrl.Build())
	require.Len(t, target.scenes, 1)
	at := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	target.scenes[0].MarkServed(at)

	camp, err := Load(path)
	require.NoError(t, err)
	ctrl.Apply(camp)

	require.Len(t, target.scenes, 1)
	assert.True(t, target.scenes[0].Served)
	assert.Equal(t, at, target.scenes[0].ServedAt)
}

func TestControllerInstallsHesitationKeywords(t *testing.T) {
	path := writeCampaign(t, t.TempDir(), sampleCampaign)
	target := &fakeTarget{}
	ctrl := NewController(path, nil)
	ctrl.Bind(target)

	require.NoError(t, ctrl.Build())
	assert.Equal(t, []string{"uh", "um"}, target.hesitation)

	camp, err := Parse([]byte("name: Bare\n"))
	require.NoError(t, err)
	ctrl.Apply(camp)
	assert.Empty(t, target.hesitation)
}

type sceneSink struct {
	mu       sync.Mutex
	detected []string
}

func (s *sceneSink) DeliverBatch(b domain.TriggerBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range b.Events {
		if ev.Type == domain.TriggerSceneDetected {
			name, _ := ev.Data["scene"].(string)
			s.detected = append(s.detected, name)
		}
	}
}

func (s *sceneSink) Activated(domain.ActivationSource) {}

func (s *sceneSink) scenes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.detected...)
}

func TestReloadDoesNotRedetectScene(t *testing.T) {
	path := writeCampaign(t, t.TempDir(), sampleCampaign)
	clk := clock.NewManual(time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC))
	sink := &sceneSink{}
	clf := classifier.New(classifier.DefaultConfig(), nil, clk, sink)
	defer clf.Close()

	ctrl := NewController(path, nil)
	ctrl.Bind(clf)
	require.NoError(t, ctrl.Build())
	require.True(t, clf.HandleCommand(domain.GMCommand{Type: "wake"}).OK)

	clf.ProcessSegments([]domain.TranscriptSegment{
		{ID: "1", Text: "the pier is stacked with crates", Final: true},
	})
	clk.Advance(10 * time.Second)
	require.Equal(t, []string{"Smuggler Docks"}, sink.scenes())

	camp, err := Load(path)
	require.NoError(t, err)
	ctrl.Apply(camp)

	clf.ProcessSegments([]domain.TranscriptSegment{
		{ID: "2", Text: "another pier and more crates", Final: true},
	})
	clk.Advance(time.Minute)
	assert.Equal(t, []string{"Smuggler Docks"}, sink.scenes())
	require.Len(t, clf.SceneIndex(), 1)
	assert.True(t, clf.SceneIndex()[0].Served)
}

func TestControllerBuildFailureMarksStatus(t *testing.T) {
	target := &fakeTarget{}
	ctrl := NewController(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	ctrl.Bind(target)

	assert.Error(t, ctrl.Build())
	assert.Equal(t, []domain.CacheStatus{domain.CacheBuilding, domain.CacheFailed}, target.status)
}

func TestControllerUnbound(t *testing.T) {
	path := writeCampaign(t, t.TempDir(), sampleCampaign)
	ctrl := NewController(path, nil)

	assert.ErrorIs(t, ctrl.Build(), errUnbound)
	camp, err := Load(path)
	require.NoError(t, err)
	ctrl.Apply(camp)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeCampaign(t, dir, sampleCampaign)

	reloaded := make(chan *Campaign, 4)
	w, err := NewWatcher(path, func(c *Campaign) { reloaded <- c }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("name: Second Draft\n"), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, "Second Draft", c.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the campaign")
	}
}
