package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) *BleveStore {
	t.Helper()
	s, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBleveStore_SearchByCorpus(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	require.NoError(t, s.Index(ctx, "", Document{ID: "chan", Title: "Channels", Content: "Go channels let goroutines communicate"}))
	require.NoError(t, s.Index(ctx, "", Document{ID: "pasta", Content: "Cooking pasta needs boiling water"}))
	require.NoError(t, s.Index(ctx, "faq", Document{ID: "typed", Content: "Channels in Go are typed conduits"}))

	hits, err := s.Search(ctx, "channels", nil, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "chan", hits[0].ID)
	assert.Equal(t, DefaultCorpus, hits[0].Corpus)
	assert.Equal(t, "Channels", hits[0].Title)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	hits, err = s.Search(ctx, "channels", []string{"default", "faq"}, 5, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	for _, h := range hits {
		assert.LessOrEqual(t, h.Score, 1.0)
	}

	hits, err = s.Search(ctx, "channels", []string{"faq"}, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "typed", hits[0].ID)
}

func TestBleveStore_Chinese(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	require.NoError(t, s.Index(ctx, "", Document{ID: "vdb", Content: "向量数据库用于语义检索"}))
	require.NoError(t, s.Index(ctx, "", Document{ID: "weather", Content: "今天北京天气晴朗"}))

	hits, err := s.Search(ctx, "向量数据库", nil, 5, 0.7)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "vdb", hits[0].ID)
}

func TestBleveStore_EmptyQuery(t *testing.T) {
	s := newMemStore(t)
	hits, err := s.Search(context.Background(), "   ", nil, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, body string) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	write("intro.md", "# Kotoba\nKotoba routes messages to handlers.")
	write("ops/runbook.txt", "Restart the service with systemctl.")
	write("ops/notes.json", `{"ignored": true}`)
	write("empty.md", "   ")

	ctx := context.Background()
	s := newMemStore(t)
	n, err := LoadDir(ctx, s, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	hits, err := s.Search(ctx, "systemctl", []string{"ops"}, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ops/runbook", hits[0].ID)
	assert.Equal(t, "ops/runbook.txt", hits[0].Source)

	hits, err = s.Search(ctx, "routes", nil, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Kotoba", hits[0].Title)
}
