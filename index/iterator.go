package index

import "context"

// PageIterator walks the pages of an index starting at the root and then
// following Next from page to page: through each internal level in turn and
// then along the leaf chain. It holds a copy of the current page; the end
// sentinel is an empty zero-flag page, which is also what any failed read
// turns the iterator into.
type PageIterator struct {
	idx  *Index
	page Page
	url  EUrl
}

// PageBegin returns an iterator positioned on the root page. The root is
// where recovery and recount walks start: its Next points at the leftmost
// leaf while the root is the only internal page, and after a root promotion
// at the leftmost page of the level below, whose level chains on down to
// the leaves.
func (idx *Index) PageBegin(ctx context.Context) *PageIterator {
	it := &PageIterator{idx: idx, url: idx.sk}
	p, err := idx.readPage(ctx, idx.sk)
	if err != nil {
		return it
	}
	it.page = p
	return it
}

// PageEnd returns the end sentinel.
func (idx *Index) PageEnd() *PageIterator {
	return &PageIterator{idx: idx}
}

// Next advances to the page at Next, or to the end sentinel when the chain
// terminates or the read fails.
func (it *PageIterator) Next(ctx context.Context) *PageIterator {
	if it.page.Next.Empty() {
		it.page = Page{}
		it.url = EUrl{}
		return it
	}
	it.url = it.page.Next
	p, err := it.idx.readPage(ctx, it.url)
	if err != nil {
		it.page = Page{}
		return it
	}
	it.page = p
	return it
}

func (it *PageIterator) Page() Page {
	return it.page
}

func (it *PageIterator) URL() EUrl {
	return it.url
}

// Equal compares by page value, so any two end sentinels match.
func (it *PageIterator) Equal(other *PageIterator) bool {
	return it.page.Equal(other.page)
}

// Iterator yields keys in order along the leaf chain. Like PageIterator it
// holds the current page by value and degrades to the end sentinel on a
// failed read.
type Iterator struct {
	idx  *Index
	page Page
	pos  int
}

// BeginAt positions an iterator at the first entry with id >= start within
// the leaf covering start, moving on to the next leaf when that one holds no
// such entry. The probe key carries a zero timestamp, so with mixed
// timestamps the chosen leaf is a best-effort starting point; callers
// wanting exact resumption pass an id that exists in the index.
func (idx *Index) BeginAt(ctx context.Context, start string) *Iterator {
	probe := Key{ID: start}
	p, pos, err := idx.searchPage(ctx, probe)
	if err != nil {
		return &Iterator{idx: idx}
	}
	if pos < 0 {
		pos = p.lowerBound(probe)
	}
	it := &Iterator{idx: idx, page: p, pos: pos}
	if pos > 0 && pos == len(p.Entries) {
		// everything in the covering leaf sorts before start
		it.pos--
		it.Next(ctx)
	}
	return it
}

// Begin positions at the leftmost leaf entry.
func (idx *Index) Begin(ctx context.Context) *Iterator {
	return idx.BeginAt(ctx, "")
}

// End returns the end sentinel.
func (idx *Index) End() *Iterator {
	return &Iterator{idx: idx}
}

// Key returns the current entry. Only valid when the iterator does not
// equal End.
func (it *Iterator) Key() Key {
	return it.page.Entries[it.pos]
}

// Next advances by one entry, crossing to the next leaf when the current one
// is exhausted.
func (it *Iterator) Next(ctx context.Context) *Iterator {
	it.pos++
	if it.pos < len(it.page.Entries) {
		return it
	}
	it.pos = 0
	if it.page.Next.Empty() {
		it.page = Page{}
		return it
	}
	p, err := it.idx.readPage(ctx, it.page.Next)
	if err != nil {
		it.page = Page{}
		return it
	}
	it.page = p
	return it
}

func (it *Iterator) Equal(other *Iterator) bool {
	return it.page.Equal(other.page) && it.pos == other.pos
}
