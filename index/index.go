package index

import (
	"context"
	"errors"
	"strconv"

	"github.com/datatrails/go-datatrails-common/cbor"
	"github.com/datatrails/go-datatrails-common/logger"
)

const metaSuffix = ".meta"

// Index is a B+-tree over a replicated blob store, rooted at a caller-chosen
// start url. The root page lives at the start url itself, the meta record
// next to it under ".meta", and every other page under "<start key>.<n>"
// with n drawn from the meta page allocator.
//
// A single writer per index is assumed. Opening reconciles diverged replica
// groups by generation before anything else runs, so readers tolerate a
// crashed writer but concurrent writers are not serialized.
type Index struct {
	t     Transport
	log   logger.Logger
	codec cbor.CBORCodec
	sk    EUrl
	meta  IndexMeta

	maxPageSize uint64
	reserveSize uint64
	compression bool
}

// recursion is the insert unwind frame. pageStart carries the child's first
// entry after its mutation so the parent can re-key its routing entry;
// splitKey carries the routing entry for a freshly written split sibling.
type recursion struct {
	pageStart Key
	splitKey  Key
}

type removeRecursion struct {
	pageStart Key
	removed   bool
}

// Open loads or creates the index rooted at sk and heals lagging replica
// groups (see the package doc for the generation protocol). The transport's
// active group set is narrowed to the groups that are known good when Open
// returns.
func Open(ctx context.Context, t Transport, sk EUrl, opts ...Option) (*Index, error) {
	options := Options{
		maxPageSize: DefaultMaxPageSize,
		reserveSize: DefaultReserveSize,
	}
	for _, o := range opts {
		o(&options)
	}

	idx := &Index{
		t:           t,
		log:         options.log,
		sk:          sk,
		maxPageSize: options.maxPageSize,
		reserveSize: options.reserveSize,
		compression: options.compression,
	}
	if options.codec != nil {
		idx.codec = *options.codec
	} else {
		codec, err := NewCodec()
		if err != nil {
			return nil, err
		}
		idx.codec = codec
	}

	if err := idx.open(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Close persists the meta record once. The index must not be used after.
func (idx *Index) Close(ctx context.Context) error {
	return idx.metaWrite(ctx)
}

// Meta returns a copy of the current accounting record.
func (idx *Index) Meta() IndexMeta {
	return idx.meta
}

// StartKey returns the url the index is rooted at.
func (idx *Index) StartKey() EUrl {
	return idx.sk
}

func (idx *Index) metaKey() EUrl {
	return EUrl{Bucket: idx.sk.Bucket, Key: idx.sk.Key + metaSuffix}
}

// open reads the meta record from every replica group, adopts the highest
// generation and replays the winner's pages into any lagging groups.
func (idx *Index) open(ctx context.Context) error {
	type groupMeta struct {
		group int
		meta  IndexMeta
	}

	var mg []groupMeta
	for _, st := range idx.t.ReadAll(ctx, idx.metaKey()) {
		gm := groupMeta{group: st.Group}
		switch {
		case st.Err == nil:
			if err := idx.decodeBlob(st.Data, &gm.meta); err != nil {
				// an unreadable meta counts as generation 0, recovery
				// rewrites it from the winner
				idx.debugf("open: %s: group %d meta undecodable: %v", idx.sk.String(), st.Group, err)
				gm.meta = IndexMeta{}
			}
		case errors.Is(st.Err, ErrGroupGone):
			// do not even try to work with groups that are gone for good,
			// they are healed on reconnect if they ever come back
			continue
		default:
			// missing meta, the group joins recovery at generation 0
		}
		mg = append(mg, gm)
	}

	if len(mg) == 0 {
		if err := idx.startPageInit(ctx); err != nil {
			return err
		}
		return idx.metaWrite(ctx)
	}

	var highest uint64
	for _, gm := range mg {
		if gm.meta.Generation >= highest {
			highest = gm.meta.Generation
			idx.meta = gm.meta
		}
	}

	var good, lagging []int
	for _, gm := range mg {
		if gm.meta.Generation == highest {
			good = append(good, gm.group)
		} else {
			lagging = append(lagging, gm.group)
		}
	}
	idx.t.SetGroups(good)

	if highest == 0 {
		if err := idx.startPageInit(ctx); err != nil {
			return err
		}
		return idx.metaWrite(ctx)
	}

	if len(lagging) == 0 {
		return nil
	}

	// Eager full recovery: walk every reachable page of the winner and copy
	// it into the lagging groups. Pages deleted by the winner are left
	// behind as unreachable blobs in the healed groups.
	recovered := 0
	end := idx.PageEnd()
	for it := idx.PageBegin(ctx); !it.Equal(end); it.Next(ctx) {
		data, err := idx.encodePage(it.Page())
		if err != nil {
			return err
		}
		statuses := idx.t.WriteGroups(ctx, lagging, it.URL(), data, idx.reserveSize, false)
		lagging = lagging[:0]
		for _, st := range statuses {
			if st.Err == nil {
				lagging = append(lagging, st.Group)
			}
		}
		if len(lagging) == 0 {
			break
		}
		recovered++
	}

	good = append(good, lagging...)
	idx.t.SetGroups(good)
	if err := idx.metaWrite(ctx); err != nil {
		return err
	}

	idx.infof("opened: %s: page_index: %d, groups: %s, pages recovered: %d",
		idx.sk.String(), idx.meta.PageIndex, FormatGroups(idx.t.Groups()), recovered)
	return nil
}

// startPageInit writes the empty start page. The fresh root is an internal
// page with no entries; the first insert detects that and materializes the
// first leaf.
func (idx *Index) startPageInit(ctx context.Context) error {
	data, err := idx.encodePage(Page{})
	if err != nil {
		return err
	}
	if err := idx.check(idx.t.Write(ctx, idx.sk, data, false)); err != nil {
		return err
	}
	idx.meta.NumPages++
	return nil
}

func (idx *Index) metaWrite(ctx context.Context) error {
	data, err := idx.encodeBlob(&idx.meta)
	if err != nil {
		return err
	}
	idx.t.Write(ctx, idx.metaKey(), data, true)
	return nil
}

// Search descends from the root to the covering leaf and returns the entry
// matching obj by (Timestamp, ID). A missing key is not an error: the zero
// Key comes back with a nil error. Transport failures surface unchanged.
func (idx *Index) Search(ctx context.Context, obj Key) (Key, error) {
	p, pos, err := idx.searchPage(ctx, obj)
	if err != nil {
		return Key{}, err
	}
	if pos < 0 {
		return Key{}, nil
	}
	return p.Entries[pos], nil
}

func (idx *Index) searchPage(ctx context.Context, obj Key) (Page, int, error) {
	url := idx.sk
	for {
		p, err := idx.readPage(ctx, url)
		if err != nil {
			return Page{}, -1, err
		}
		pos := p.SearchNode(obj)
		if pos < 0 {
			return p, -1, nil
		}
		if p.IsLeaf() {
			return p, pos, nil
		}
		url = p.Entries[pos].URL
	}
}

// Insert adds obj to the index, replacing an entry equal by (Timestamp, ID).
// On success the meta generation is bumped and persisted; a failed insert
// leaves whatever pages it already wrote in place, the next successful
// mutation or open reconciles them.
func (idx *Index) Insert(ctx context.Context, obj Key) error {
	var rec recursion
	if err := idx.insert(ctx, idx.sk, obj, &rec); err != nil {
		return err
	}
	idx.meta.Generation++
	return idx.metaWrite(ctx)
}

func (idx *Index) insert(ctx context.Context, pageKey EUrl, obj Key, rec *recursion) error {
	p, err := idx.readPage(ctx, pageKey)
	if err != nil {
		return err
	}

	idx.debugf("insert: %s: page: %s -> %s", obj.String(), pageKey.String(), p.String())

	var split Page
	if !p.IsLeaf() {
		foundPos := p.SearchNode(obj)
		if foundPos < 0 {
			// Not a leaf, but nothing to descend into: the only way here is
			// the empty start page of a new index. Materialize the first
			// leaf and hook it up; no unwind is needed since the parent had
			// no entry for it.
			leafKey := Key{ID: obj.ID, URL: idx.generatePageURL()}

			leaf := NewPage(true)
			var unused Page
			leaf.InsertAndSplit(obj, &unused, idx.maxPageSize)
			if err := idx.writePage(ctx, leafKey.URL, leaf, false); err != nil {
				return err
			}

			p.InsertAndSplit(leafKey, &unused, idx.maxPageSize)
			p.Next = leafKey.URL
			if err := idx.writePage(ctx, pageKey, p, false); err != nil {
				return err
			}

			idx.meta.NumPages++
			idx.meta.NumLeafPages++
			return nil
		}

		if err := idx.insert(ctx, p.Entries[foundPos].URL, obj, rec); err != nil {
			return err
		}

		// wantReturn stays true only when neither the child's first key nor
		// its shape changed, in which case this page is untouched and must
		// not be rewritten.
		wantReturn := true

		if !p.Entries[foundPos].Equal(rec.pageStart) {
			p.Entries[foundPos].ID = rec.pageStart.ID
			wantReturn = false
		}

		if !rec.splitKey.Empty() {
			// the split sibling is already on disk, route to it from here
			p.InsertAndSplit(rec.splitKey, &split, idx.maxPageSize)
			wantReturn = false
		}

		if wantReturn {
			rec.pageStart = p.Entries[0]
			rec.splitKey = Key{}
			return nil
		}
	} else {
		p.InsertAndSplit(obj, &split, idx.maxPageSize)
	}

	rec.pageStart = p.Entries[0]
	rec.splitKey = Key{}

	if !split.IsEmpty() {
		rec.splitKey.URL = idx.generatePageURL()
		rec.splitKey.ID = split.Entries[0].ID

		split.Next = p.Next
		p.Next = rec.splitKey.URL

		idx.debugf("insert: %s: write split page: %s -> %s, split: %s -> %s",
			obj.String(), pageKey.String(), p.String(), rec.splitKey.String(), split.String())

		if err := idx.writePage(ctx, rec.splitKey.URL, split, false); err != nil {
			return err
		}

		idx.meta.NumPages++
		if p.IsLeaf() {
			idx.meta.NumLeafPages++
		}
	}

	if !split.IsEmpty() && pageKey.Equal(idx.sk) {
		// Root promotion: the root must stay reachable at the start url, so
		// the old root moves to a fresh url and a new root routing to the
		// two halves takes its place.
		oldRootKey := Key{ID: p.Entries[0].ID, URL: idx.generatePageURL()}
		if err := idx.writePage(ctx, oldRootKey.URL, p, false); err != nil {
			return err
		}

		var newRoot, unused Page
		newRoot.InsertAndSplit(oldRootKey, &unused, idx.maxPageSize)
		newRoot.InsertAndSplit(rec.splitKey, &unused, idx.maxPageSize)
		newRoot.Next = newRoot.Entries[0].URL

		if err := idx.writePage(ctx, idx.sk, newRoot, false); err != nil {
			return err
		}
		idx.meta.NumPages++
		return nil
	}

	return idx.writePage(ctx, pageKey, p, true)
}

// Remove deletes the entry equal to obj by (Timestamp, ID). ErrNotFound
// comes back when the index holds no such entry. Pages that drain to empty
// are reclaimed and unrouted from their parents; underflowed but non-empty
// pages are left alone.
func (idx *Index) Remove(ctx context.Context, obj Key) error {
	var rec removeRecursion
	if err := idx.remove(ctx, idx.sk, obj, &rec); err != nil {
		return err
	}
	idx.meta.Generation++
	return idx.metaWrite(ctx)
}

func (idx *Index) remove(ctx context.Context, pageKey EUrl, obj Key, rec *removeRecursion) error {
	p, err := idx.readPage(ctx, pageKey)
	if err != nil {
		return err
	}

	idx.debugf("remove: %s: page: %s -> %s", obj.String(), pageKey.String(), p.String())

	foundPos := p.SearchNode(obj)
	if foundPos < 0 {
		return ErrNotFound
	}

	if p.IsLeaf() {
		if underflow := p.Remove(foundPos, idx.maxPageSize); underflow {
			idx.debugf("remove: %s: page: %s underflow: %s", obj.String(), pageKey.String(), p.String())
		}
	} else {
		if err := idx.remove(ctx, p.Entries[foundPos].URL, obj, rec); err != nil {
			return err
		}

		switch {
		case rec.removed:
			// the child drained and removed itself, drop its routing entry
			p.Remove(foundPos, idx.maxPageSize)
		case !rec.pageStart.Empty():
			// the child's first key changed, re-key the routing entry
			p.Entries[foundPos].ID = rec.pageStart.ID
		default:
			// child rewritten in place with the same first key
			return nil
		}
	}

	rec.pageStart = Key{}
	rec.removed = false

	if len(p.Entries) != 0 {
		// the parent needs re-keying only when our own first entry moved
		if foundPos == 0 {
			rec.pageStart = p.Entries[0]
		}
		return idx.writePage(ctx, pageKey, p, false)
	}

	rec.removed = true
	if err := idx.check(idx.t.Remove(ctx, pageKey)); err != nil {
		return err
	}
	idx.meta.NumPages--
	if p.IsLeaf() {
		idx.meta.NumLeafPages--
	}
	return nil
}

// Keys collects every entry from the first id at or after start to the end
// of the leaf chain.
func (idx *Index) Keys(ctx context.Context, start string) ([]Key, error) {
	var ret []Key
	end := idx.End()
	for it := idx.BeginAt(ctx, start); !it.Equal(end); it.Next(ctx) {
		ret = append(ret, it.Key())
	}
	return ret, nil
}

func (idx *Index) generatePageURL() EUrl {
	url := EUrl{
		Bucket: idx.sk.Bucket,
		Key:    idx.sk.Key + "." + strconv.FormatUint(idx.meta.PageIndex, 10),
	}
	idx.meta.PageIndex++
	return url
}

func (idx *Index) readPage(ctx context.Context, url EUrl) (Page, error) {
	data, err := idx.t.Read(ctx, url)
	if err != nil {
		return Page{}, err
	}
	var p Page
	if err := idx.decodeBlob(data, &p); err != nil {
		return Page{}, err
	}
	return p, nil
}

func (idx *Index) writePage(ctx context.Context, url EUrl, p Page, cache bool) error {
	data, err := idx.encodePage(p)
	if err != nil {
		return err
	}
	return idx.check(idx.t.Write(ctx, url, data, cache))
}

// check harvests the groups a fan-out write actually reached and narrows the
// session's active set to them. A write that reached nobody fails with
// ErrIO.
func (idx *Index) check(statuses []Status) error {
	groups := make([]int, 0, len(statuses))
	for _, st := range statuses {
		if st.Err == nil {
			groups = append(groups, st.Group)
		}
	}
	idx.t.SetGroups(groups)
	if len(groups) == 0 {
		return ErrIO
	}
	return nil
}

func (idx *Index) encodePage(p Page) ([]byte, error) {
	return idx.encodeBlob(&p)
}

func (idx *Index) debugf(format string, args ...any) {
	if idx.log != nil {
		idx.log.Debugf(format, args...)
	}
}

func (idx *Index) infof(format string, args ...any) {
	if idx.log != nil {
		idx.log.Infof(format, args...)
	}
}
