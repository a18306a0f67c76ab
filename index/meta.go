package index

import "fmt"

// IndexMeta is the per-index accounting record stored next to the root page
// under "<start key>.meta". PageIndex allocates page urls and only ever
// grows. Generation counts committed top-level mutations and is the replica
// recovery predicate: on open the highest generation wins and lagging groups
// are healed from it.
type IndexMeta struct {
	_            struct{} `cbor:",toarray"`
	PageIndex    uint64
	NumPages     uint64
	NumLeafPages uint64
	Generation   uint64
}

func (m IndexMeta) Equal(other IndexMeta) bool {
	return m.PageIndex == other.PageIndex &&
		m.NumPages == other.NumPages &&
		m.NumLeafPages == other.NumLeafPages &&
		m.Generation == other.Generation
}

func (m IndexMeta) String() string {
	return fmt.Sprintf("page_index: %d, num_pages: %d, num_leaf_pages: %d, generation: %d",
		m.PageIndex, m.NumPages, m.NumLeafPages, m.Generation)
}
