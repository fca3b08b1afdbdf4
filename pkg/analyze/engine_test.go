package analyze

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlasov/teamradar/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedItem(t *testing.T, s store.Store, sourceID, title string) int64 {
	t.Helper()
	id, err := s.UpsertItem(context.Background(), &store.Item{
		Source:   "tracker",
		SourceID: sourceID,
		Title:    title,
	})
	require.NoError(t, err)
	return id
}

func TestLinkKindBoundaries(t *testing.T) {
	e := NewEngine(nil, Config{})

	kind, ok := e.linkKind(0.9)
	assert.True(t, ok)
	assert.Equal(t, store.LinkDuplicate, kind)

	// Both thresholds are inclusive.
	kind, ok = e.linkKind(0.78)
	assert.True(t, ok)
	assert.Equal(t, store.LinkDuplicate, kind)

	kind, ok = e.linkKind(0.52)
	assert.True(t, ok)
	assert.Equal(t, store.LinkRelated, kind)

	kind, ok = e.linkKind(0.6)
	assert.True(t, ok)
	assert.Equal(t, store.LinkRelated, kind)

	_, ok = e.linkKind(0.5199)
	assert.False(t, ok)
}

func TestEngineEmptyStoreIsNoop(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, Config{})
	require.NoError(t, e.Run(context.Background()))

	links, err := s.ListLinks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestEngineLinksAndClusters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1 := seedItem(t, s, "t-1", "server crashed on deploy")
	id2 := seedItem(t, s, "t-2", "deploy caused server crash")
	id3 := seedItem(t, s, "t-3", "invoice pdf export broken")

	// Short pseudo-paraphrases share little vocabulary, so the similarity
	// of the first two sits near 0.19. Thresholds are lowered accordingly.
	e := NewEngine(s, Config{
		DuplicateThreshold: 0.5,
		RelatedThreshold:   0.15,
	})
	require.NoError(t, e.Run(ctx))

	links, err := s.ListLinks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, id1, links[0].ItemA)
	assert.Equal(t, id2, links[0].ItemB)
	assert.Equal(t, store.LinkRelated, links[0].Kind)
	require.NotNil(t, links[0].Score)
	assert.InDelta(t, 0.188, *links[0].Score, 0.01)

	members, err := s.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, members, 3)

	labels := make(map[int64]int64)
	for _, m := range members {
		labels[m.ItemID] = m.ClusterID
	}
	assert.Equal(t, labels[id1], labels[id2], "paraphrased pair must share a cluster")
	assert.NotEqual(t, labels[id1], labels[id3], "unrelated item must stay alone")
}

func TestEngineDuplicateTakesPrecedence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1 := seedItem(t, s, "t-1", "payment webhook retries forever")
	id2 := seedItem(t, s, "t-2", "payment webhook retries forever")
	seedItem(t, s, "t-3", "unrelated topic entirely here")

	// Identical texts score 1.0, which clears both thresholds; only the
	// duplicate link is recorded.
	e := NewEngine(s, Config{})
	require.NoError(t, e.Run(ctx))

	links, err := s.ListLinks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, id1, links[0].ItemA)
	assert.Equal(t, id2, links[0].ItemB)
	assert.Equal(t, store.LinkDuplicate, links[0].Kind)
}

func TestEngineSkipsClusteringBelowThreeItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedItem(t, s, "t-1", "payment webhook retries forever")
	seedItem(t, s, "t-2", "payment webhook retries forever")

	e := NewEngine(s, Config{})
	require.NoError(t, e.Run(ctx))

	links, err := s.ListLinks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, links, 1, "links are still recorded for small windows")

	members, err := s.ListClusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, members, "clustering needs at least three items")
}

func TestEngineRefreshesStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := seedItem(t, s, "t-1", "short note")

	e := NewEngine(s, Config{})
	require.NoError(t, e.Run(ctx))

	rows, err := s.ListStatusSnapshot(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
	require.NotNil(t, rows[0].Priority)
	assert.Equal(t, 999, *rows[0].Priority)
	require.NotNil(t, rows[0].LastSeen)
	assert.Greater(t, *rows[0].LastSeen, int64(0))
}

func TestBuildCorpus(t *testing.T) {
	ids, corpus := buildCorpus([]store.AnalysisRow{
		{ID: 1, Title: "  Title  ", Body: "  body text  "},
		{ID: 2, Title: "only title", Body: ""},
		{ID: 3, Title: "", Body: ""},
	})
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, "Title\n\nbody text", corpus[0])
	assert.Equal(t, "only title", corpus[1])
	assert.Equal(t, "", corpus[2])
}

func TestDropShortTokens(t *testing.T) {
	assert.Equal(t, "is an test", dropShortTokens("a is an x test", 2))
	assert.Equal(t, "test", dropShortTokens("a is an x test", 3))
	assert.Equal(t, "", dropShortTokens("", 2))
}

func TestTextPriority(t *testing.T) {
	assert.Equal(t, 999, textPriority(""))
	assert.Equal(t, 999, textPriority("short"))
	assert.Equal(t, 998, textPriority(strings.Repeat("x", 500)))
	assert.Equal(t, 997, textPriority(strings.Repeat("x", 1000)))
	// Very long text bottoms out at priority 1.
	assert.Equal(t, 1, textPriority(strings.Repeat("x", 600000)))
}
