package index_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minaevmike/greylock/index"
	"github.com/minaevmike/greylock/indextesting"
)

// testPageSize keeps the trees a few levels deep without needing tens of
// thousands of keys.
const testPageSize = 512

func newTestContext(t *testing.T, label string, groups ...int) *indextesting.TestContext {
	return indextesting.NewTestContext(t, indextesting.TestConfig{
		Seed:            int64(len(label)),
		TestLabelPrefix: label,
		Bucket:          "bucket",
		Groups:          groups,
	})
}

func mustOpen(t *testing.T, tc *indextesting.TestContext, sk index.EUrl, opts ...index.Option) *index.Index {
	t.Helper()
	opts = append([]index.Option{
		index.WithLogger(tc.Log),
		index.WithMaxPageSize(testPageSize),
	}, opts...)
	idx, err := index.Open(context.Background(), tc.Store, sk, opts...)
	require.NoError(t, err)
	return idx
}

func insertAll(t *testing.T, idx *index.Index, keys []index.Key) {
	t.Helper()
	ctx := context.Background()
	for _, k := range keys {
		require.NoError(t, idx.Insert(ctx, k), "insert %s", k.ID)
	}
}

func TestOpenEmptyIndex(t *testing.T) {
	tc := newTestContext(t, "open-empty")
	sk := tc.NewIndexURL("idx1")

	idx := mustOpen(t, tc, sk)

	meta := idx.Meta()
	assert.Equal(t, uint64(0), meta.PageIndex)
	assert.Equal(t, uint64(1), meta.NumPages)
	assert.Equal(t, uint64(0), meta.NumLeafPages)
	assert.Equal(t, uint64(0), meta.Generation)

	// the fresh root is an empty internal page; the first insert turns it
	// into a router over the first materialized leaf
	ctx := context.Background()
	end := idx.PageEnd()
	it := idx.PageBegin(ctx)
	assert.True(t, it.Equal(end), "an empty root iterates as no pages at all")

	found, err := idx.Search(ctx, index.Key{ID: "anything"})
	require.NoError(t, err)
	assert.True(t, found.Empty())
}

func TestOpenIdempotent(t *testing.T) {
	tc := newTestContext(t, "open-idempotent")
	sk := tc.NewIndexURL("idx")

	idx := mustOpen(t, tc, sk)
	insertAll(t, idx, tc.GenerateKeys(100, "keys"))
	meta := idx.Meta()

	// reopening without a writer in between must not move the generation
	for i := 0; i < 2; i++ {
		reopened := mustOpen(t, tc, sk)
		assert.True(t, meta.Equal(reopened.Meta()),
			"meta drifted across reopen: %s vs %s", meta.String(), reopened.Meta().String())
	}
}

func TestInsertSearchMany(t *testing.T) {
	tc := newTestContext(t, "insert-search")
	sk := tc.NewIndexURL("idx")
	keys := tc.GenerateKeys(2000, "bulk")

	idx := mustOpen(t, tc, sk)
	insertAll(t, idx, keys)

	meta := idx.Meta()
	assert.GreaterOrEqual(t, meta.NumPages, uint64(2))
	assert.GreaterOrEqual(t, meta.NumLeafPages, uint64(1))
	assert.Equal(t, uint64(len(keys)), meta.Generation)

	ctx := context.Background()
	for _, k := range keys {
		found, err := idx.Search(ctx, index.Key{ID: k.ID, Timestamp: k.Timestamp})
		require.NoError(t, err)
		require.False(t, found.Empty(), "missing key %s", k.ID)
		assert.Equal(t, k.ID, found.ID)
		assert.True(t, k.URL.Equal(found.URL), "url mismatch for %s", k.ID)
	}
}

func TestIterateSorted(t *testing.T) {
	tc := newTestContext(t, "iterate")
	sk := tc.NewIndexURL("idx")
	keys := tc.GenerateKeys(1500, "iter")

	idx := mustOpen(t, tc, sk)
	insertAll(t, idx, keys)

	ctx := context.Background()
	var got []index.Key
	end := idx.End()
	for it := idx.Begin(ctx); !it.Equal(end); it.Next(ctx) {
		got = append(got, it.Key())
	}

	require.Len(t, got, len(keys))
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Less(got[i]),
			"iteration out of order at %d: %s >= %s", i, got[i-1].ID, got[i].ID)
	}

	inserted := make(map[string]bool, len(keys))
	for _, k := range keys {
		inserted[k.ID] = true
	}
	for _, k := range got {
		assert.True(t, inserted[k.ID], "iterated a key that was never inserted: %s", k.ID)
	}
}

func TestIterateFromStart(t *testing.T) {
	tc := newTestContext(t, "iterate-start")
	sk := tc.NewIndexURL("idx")
	keys := tc.GenerateKeys(400, "mid")

	idx := mustOpen(t, tc, sk)
	insertAll(t, idx, keys)

	ctx := context.Background()
	all, err := idx.Keys(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, len(keys))

	// resuming from an id that exists lands exactly on it
	mid := all[len(all)/2]
	rest, err := idx.Keys(ctx, mid.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rest)
	assert.Equal(t, mid.ID, rest[0].ID)
	assert.Len(t, rest, len(all)-len(all)/2)
}

func TestInsertReplacesEqualKey(t *testing.T) {
	tc := newTestContext(t, "replace")
	sk := tc.NewIndexURL("idx")

	idx := mustOpen(t, tc, sk)
	ctx := context.Background()

	k := index.Key{ID: "the-key", URL: index.EUrl{Bucket: "bucket", Key: "v1"}}
	require.NoError(t, idx.Insert(ctx, k))

	k.URL.Key = "v2"
	require.NoError(t, idx.Insert(ctx, k))

	found, err := idx.Search(ctx, index.Key{ID: k.ID})
	require.NoError(t, err)
	assert.Equal(t, "v2", found.URL.Key)

	all, err := idx.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRemoveHalf(t *testing.T) {
	tc := newTestContext(t, "remove-half")
	sk := tc.NewIndexURL("idx")
	keys := tc.GenerateKeys(1000, "rm")

	idx := mustOpen(t, tc, sk)
	insertAll(t, idx, keys)

	ctx := context.Background()
	removed := keys[:len(keys)/2]
	retained := keys[len(keys)/2:]

	for _, k := range removed {
		require.NoError(t, idx.Remove(ctx, k), "remove %s", k.ID)
	}

	for _, k := range removed {
		found, err := idx.Search(ctx, index.Key{ID: k.ID})
		require.NoError(t, err)
		assert.True(t, found.Empty(), "removed key still present: %s", k.ID)
	}
	for _, k := range retained {
		found, err := idx.Search(ctx, index.Key{ID: k.ID})
		require.NoError(t, err)
		require.False(t, found.Empty(), "retained key lost: %s", k.ID)
		assert.True(t, k.URL.Equal(found.URL))
	}

	assert.Equal(t, uint64(len(keys)+len(removed)), idx.Meta().Generation)
}

func TestRemoveMissingKey(t *testing.T) {
	tc := newTestContext(t, "remove-missing")
	sk := tc.NewIndexURL("idx")

	idx := mustOpen(t, tc, sk)
	ctx := context.Background()

	insertAll(t, idx, tc.GenerateKeys(10, "present"))
	gen := idx.Meta().Generation

	err := idx.Remove(ctx, index.Key{ID: "never-inserted"})
	assert.ErrorIs(t, err, index.ErrNotFound)
	assert.Equal(t, gen, idx.Meta().Generation, "a failed remove must not commit a generation")
}

func TestPageIteratorMatchesCounters(t *testing.T) {
	tc := newTestContext(t, "page-counters")
	sk := tc.NewIndexURL("idx")
	keys := tc.GenerateKeys(1200, "pages")

	idx := mustOpen(t, tc, sk)
	insertAll(t, idx, keys)

	// counters are write-side; recount physical truth along the page chain
	ctx := context.Background()
	var pages, leaves uint64
	end := idx.PageEnd()
	for it := idx.PageBegin(ctx); !it.Equal(end); it.Next(ctx) {
		pages++
		if it.Page().IsLeaf() {
			leaves++
		}
	}

	meta := idx.Meta()
	assert.Equal(t, meta.NumPages, pages)
	assert.Equal(t, meta.NumLeafPages, leaves)
	assert.LessOrEqual(t, meta.NumLeafPages, meta.NumPages)
}

func TestPageInvariants(t *testing.T) {
	tc := newTestContext(t, "invariants")
	sk := tc.NewIndexURL("idx")
	keys := tc.GenerateKeys(900, "inv")

	idx := mustOpen(t, tc, sk)
	insertAll(t, idx, keys)
	for _, k := range keys[:200] {
		require.NoError(t, idx.Remove(context.Background(), k))
	}

	ctx := context.Background()
	end := idx.PageEnd()
	var prevLeafLast index.Key
	for it := idx.PageBegin(ctx); !it.Equal(end); it.Next(ctx) {
		p := it.Page()

		var total uint64
		for _, e := range p.Entries {
			total += e.Size()
		}
		require.Equal(t, total, p.TotalSize, "size drift on page %s", it.URL().String())

		if !p.IsLeaf() {
			continue
		}
		require.NotEmpty(t, p.Entries)
		if !prevLeafLast.Empty() {
			assert.True(t, prevLeafLast.Less(p.Entries[0]),
				"leaf chain out of order at %s", it.URL().String())
		}
		prevLeafLast = p.Entries[len(p.Entries)-1]
	}
}

func TestReplicaRecovery(t *testing.T) {
	tc := newTestContext(t, "recovery", 1, 2, 3)
	sk := tc.NewIndexURL("idx")

	phase1 := tc.GenerateKeys(300, "phase1")
	phase2 := tc.GenerateKeys(300, "phase2")

	idx := mustOpen(t, tc, sk)
	insertAll(t, idx, phase1)

	// group 3 drops out; the writer keeps going against 1 and 2
	tc.Store.SetGroups([]int{1, 2})
	insertAll(t, idx, phase2)

	// group 3 comes back; opening the index heals it
	tc.Store.SetGroups([]int{1, 2, 3})
	healed := mustOpen(t, tc, sk)
	assert.ElementsMatch(t, []int{1, 2, 3}, tc.Store.Groups())
	assert.Equal(t, uint64(len(phase1)+len(phase2)), healed.Meta().Generation)

	// every key must now be servable by group 3 alone
	tc.Store.SetGroups([]int{3})
	ctx := context.Background()
	for _, k := range append(append([]index.Key(nil), phase1...), phase2...) {
		found, err := healed.Search(ctx, index.Key{ID: k.ID})
		require.NoError(t, err, "search %s from healed group", k.ID)
		require.False(t, found.Empty(), "key %s not healed into group 3", k.ID)
		assert.True(t, k.URL.Equal(found.URL))
	}
}

func TestOpenSkipsGoneGroups(t *testing.T) {
	tc := newTestContext(t, "gone-group", 1, 2)
	sk := tc.NewIndexURL("idx")

	tc.Store.DropGroup(2)

	idx := mustOpen(t, tc, sk)
	assert.Equal(t, []int{1}, tc.Store.Groups(), "gone group must be dropped from the session")

	insertAll(t, idx, tc.GenerateKeys(50, "solo"))

	ctx := context.Background()
	all, err := idx.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 50)
}

func TestInsertFailsWhenNoGroupAcceptsWrites(t *testing.T) {
	tc := newTestContext(t, "all-writes-fail", 1, 2)
	sk := tc.NewIndexURL("idx")

	idx := mustOpen(t, tc, sk)

	bang := errors.New("disk on fire")
	tc.Store.SetWriteErr(1, bang)
	tc.Store.SetWriteErr(2, bang)

	err := idx.Insert(context.Background(), index.Key{ID: "doomed", URL: index.EUrl{Bucket: "bucket", Key: "d"}})
	assert.ErrorIs(t, err, index.ErrIO)
}

func TestSnappyCompressedIndex(t *testing.T) {
	tc := newTestContext(t, "snappy")
	sk := tc.NewIndexURL("idx")
	keys := tc.GenerateKeys(500, "compressed")

	idx := mustOpen(t, tc, sk, index.WithSnappyCompression())
	insertAll(t, idx, keys)

	ctx := context.Background()
	for _, k := range keys[:50] {
		found, err := idx.Search(ctx, index.Key{ID: k.ID})
		require.NoError(t, err)
		require.False(t, found.Empty())
	}

	// a compressed index reopens with the same option
	reopened := mustOpen(t, tc, sk, index.WithSnappyCompression())
	all, err := reopened.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, len(keys))
}

func TestCloseWritesMeta(t *testing.T) {
	tc := newTestContext(t, "close")
	sk := tc.NewIndexURL("idx")

	idx := mustOpen(t, tc, sk)
	insertAll(t, idx, tc.GenerateKeys(25, "close"))
	require.NoError(t, idx.Close(context.Background()))

	reopened := mustOpen(t, tc, sk)
	assert.True(t, idx.Meta().Equal(reopened.Meta()))
}
