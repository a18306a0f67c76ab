package index

import (
	"fmt"
	"sort"

	"github.com/datatrails/go-datatrails-common/cbor"
)

const (
	// PageLeaf marks a leaf page in Page.Flags.
	PageLeaf uint32 = 1 << 0

	// DefaultMaxPageSize is the split threshold on Page.TotalSize. A page is
	// split right after the insert that pushes it over this limit, and a page
	// below a third of it signals underflow on remove.
	DefaultMaxPageSize uint64 = 4096
)

// Page is the B+-tree node and the unit of blob storage. Entries are kept
// sorted ascending by Key ordering and are unique by (Timestamp, ID).
// TotalSize is always the sum of Key.Size over Entries. Next chains leaves
// left to right. Internal pages get Next on the first-leaf path, on splits
// and on root promotion, so each level chains into the level below it; the
// page iterator walks that chain, but searches never consult it.
type Page struct {
	_         struct{} `cbor:",toarray"`
	Flags     uint32
	Entries   []Key
	TotalSize uint64
	Next      EUrl
}

// NewPage returns an empty page, a leaf one if asked.
func NewPage(leaf bool) Page {
	var p Page
	if leaf {
		p.Flags = PageLeaf
	}
	return p
}

func (p Page) IsLeaf() bool {
	return p.Flags&PageLeaf != 0
}

func (p Page) IsEmpty() bool {
	return len(p.Entries) == 0
}

// Equal compares flags and entries. Two end-sentinel iterators compare equal
// through this: both hold an empty page with zero flags.
func (p Page) Equal(other Page) bool {
	if p.Flags != other.Flags || len(p.Entries) != len(other.Entries) {
		return false
	}
	for i := range p.Entries {
		if !p.Entries[i].Equal(other.Entries[i]) {
			return false
		}
	}
	return true
}

func (p Page) String() string {
	leaf := 0
	if p.IsLeaf() {
		leaf = 1
	}
	if len(p.Entries) == 0 {
		return fmt.Sprintf("[L%d, N0, T%d)", leaf, p.TotalSize)
	}
	return fmt.Sprintf("[%s, %s, L%d, N%d, T%d)",
		p.Entries[0].String(), p.Entries[len(p.Entries)-1].String(),
		leaf, len(p.Entries), p.TotalSize)
}

// Load decodes data into p, resetting any previous content first.
func (p *Page) Load(codec cbor.CBORCodec, data []byte) error {
	*p = Page{}
	if err := codec.UnmarshalInto(data, p); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// Save encodes p with the deterministic codec. The field order
// (flags, entries, total_size, next) is the on-disk contract.
func (p Page) Save(codec cbor.CBORCodec) ([]byte, error) {
	return codec.MarshalCBOR(&p)
}

// lowerBound returns the first position whose entry is >= obj.
func (p Page) lowerBound(obj Key) int {
	return sort.Search(len(p.Entries), func(i int) bool {
		return !p.Entries[i].Less(obj)
	})
}

// SearchLeaf returns the position of the entry equal to obj by
// (Timestamp, ID), or -1. Internal pages always answer -1.
func (p Page) SearchLeaf(obj Key) int {
	if !p.IsLeaf() {
		return -1
	}
	pos := p.lowerBound(obj)
	if pos == len(p.Entries) || !p.Entries[pos].Equal(obj) {
		return -1
	}
	return pos
}

// SearchNode returns the entry position used for descent or leaf lookup.
//
// An empty page answers -1 whether or not it is a leaf; the first insert
// into a fresh index depends on the empty internal root taking this path.
// On a leaf the answer is the exact-match position or -1. On an internal
// page the answer is 0 when obj sorts at or before the first routing entry,
// otherwise the largest position whose entry is <= obj: since a routing
// entry's id equals the smallest key of its child, that picks the subtree
// covering obj.
func (p Page) SearchNode(obj Key) int {
	if len(p.Entries) == 0 {
		return -1
	}
	if p.IsLeaf() {
		return p.SearchLeaf(obj)
	}
	if !p.Entries[0].Less(obj) {
		return 0
	}
	pos := p.lowerBound(obj)
	if pos == len(p.Entries) {
		return len(p.Entries) - 1
	}
	if p.Entries[pos].Equal(obj) {
		return pos
	}
	return pos - 1
}

// Remove drops the entry at pos and reports whether the page underflowed
// below maxSize/3. The signal is advisory: underflowed pages are tolerated
// and never merged, only pages that drain completely are reclaimed.
func (p *Page) Remove(pos int, maxSize uint64) bool {
	p.TotalSize -= p.Entries[pos].Size()
	p.Entries = append(p.Entries[:pos], p.Entries[pos+1:]...)
	return p.TotalSize < maxSize/3
}

// InsertAndSplit inserts obj keeping entry order, replacing an existing entry
// equal by (Timestamp, ID). If the insert pushes TotalSize over maxSize the
// page is split at the middle entry: p keeps the lower half, other receives
// the upper half and inherits p's flags. Reports whether a split happened;
// other is left untouched otherwise.
func (p *Page) InsertAndSplit(obj Key, other *Page, maxSize uint64) bool {
	pos := p.lowerBound(obj)
	if pos < len(p.Entries) && p.Entries[pos].Equal(obj) {
		p.TotalSize -= p.Entries[pos].Size()
		p.Entries[pos] = obj
	} else {
		p.Entries = append(p.Entries, Key{})
		copy(p.Entries[pos+1:], p.Entries[pos:])
		p.Entries[pos] = obj
	}
	p.TotalSize += obj.Size()

	if p.TotalSize <= maxSize {
		return false
	}

	split := len(p.Entries) / 2
	other.Flags = p.Flags
	other.Entries = append([]Key(nil), p.Entries[split:]...)
	other.RecalculateSize()

	p.Entries = p.Entries[:split:split]
	p.RecalculateSize()
	return true
}

// RecalculateSize rebuilds TotalSize from the entries.
func (p *Page) RecalculateSize() {
	p.TotalSize = 0
	for i := range p.Entries {
		p.TotalSize += p.Entries[i].Size()
	}
}
